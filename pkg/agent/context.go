// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/agentcore/pkg/observability"
)

// ExecutionContext is the per-call handle threaded through hooks and tools.
// It carries the call's identity, its deadline, the tracer, and a scratch
// map hooks use to pass data to each other within one call.
type ExecutionContext struct {
	// InvocationID correlates everything belonging to one call.
	InvocationID string

	// AgentName is the agent executing the call.
	AgentName string

	// Deadline is the whole-call deadline, zero when unbounded.
	Deadline time.Time

	// Tracer is never nil; it defaults to the process tracer.
	Tracer trace.Tracer

	mu      sync.Mutex
	scratch map[string]any
}

func newExecutionContext(agentName, invocationID string, deadline time.Time) *ExecutionContext {
	return &ExecutionContext{
		InvocationID: invocationID,
		AgentName:    agentName,
		Deadline:     deadline,
		Tracer:       observability.Tracer(),
		scratch:      make(map[string]any),
	}
}

// Put stores a scratch value for later hooks in the same call.
func (ec *ExecutionContext) Put(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.scratch[key] = value
}

// Get reads a scratch value.
func (ec *ExecutionContext) Get(key string) (any, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	v, ok := ec.scratch[key]
	return v, ok
}

type execContextKey struct{}

// withExecContext attaches the execution context to a context.Context.
func withExecContext(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, execContextKey{}, ec)
}

// FromContext extracts the execution context installed by the engine. Hooks
// and tools use this to reach the scratch map and tracer.
func FromContext(ctx context.Context) (*ExecutionContext, bool) {
	ec, ok := ctx.Value(execContextKey{}).(*ExecutionContext)
	return ec, ok
}
