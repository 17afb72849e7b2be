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

// Package observability provides the tracer handle the engine threads
// through each call. There is no process-wide mutable hook on every
// operation: the default is a no-op tracer, and an optional process tracer
// can be swapped atomically for ergonomics.
package observability

import (
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var processTracer atomic.Pointer[trace.Tracer]

func init() {
	tracer := trace.Tracer(noop.NewTracerProvider().Tracer("agentcore"))
	processTracer.Store(&tracer)
}

// Tracer returns the current process tracer. Never nil.
func Tracer() trace.Tracer {
	return *processTracer.Load()
}

// SetTracer atomically replaces the process tracer. A nil tracer restores
// the no-op default.
func SetTracer(t trace.Tracer) {
	if t == nil {
		t = noop.NewTracerProvider().Tracer("agentcore")
	}
	processTracer.Store(&t)
}
