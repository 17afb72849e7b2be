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

// Package tool defines the toolkit: registration of callable tools with
// JSON-Schema descriptors, argument validation, and an invocation entry
// point that returns a finite lazy sequence of chunks ending with exactly
// one terminal result.
//
// Tools come in three flavors:
//
//   - CallableTool: synchronous execution returning output blocks.
//   - StreamingTool: incremental output via iter.Seq2, for tools whose
//     progress is worth surfacing (command output, sub-agent responses).
//   - Schema-only: a descriptor with no body. Invoking one yields a
//     "suspended" terminal marker, signalling that the call must be
//     satisfied by an external executor.
package tool

import (
	"context"
	"iter"
	"time"

	"github.com/kadirpekel/agentcore/pkg/message"
)

// Tool is the base interface for anything the toolkit can register.
type Tool interface {
	// Name returns the unique logical name of the tool.
	Name() string

	// Description explains what the tool does. Shown to the model.
	Description() string

	// Schema returns the JSON-Schema parameter object, or nil for tools
	// without parameters.
	Schema() map[string]any
}

// CallableTool executes synchronously and returns its full output at once.
type CallableTool interface {
	Tool

	// Call executes the tool with validated arguments. The context carries
	// the per-invocation deadline and cancellation.
	Call(ctx context.Context, args map[string]any) ([]message.Block, error)
}

// StreamResult is one unit of streaming tool output. Intermediate results
// carry a Delta; the final result carries the complete Output (and an Err
// message on failure).
type StreamResult struct {
	// Delta is an incremental output block. Set on intermediate results.
	Delta message.Block

	// Streaming is true for intermediate results, false for the final one.
	Streaming bool

	// Output is the complete output, set on the final result.
	Output []message.Block

	// Err marks the final result as failed when non-empty.
	Err string
}

// StreamingTool produces incremental output while executing.
type StreamingTool interface {
	Tool

	// CallStreaming executes the tool and yields results as they are
	// produced. The sequence ends with exactly one final (non-streaming)
	// result, or with an error.
	CallStreaming(ctx context.Context, args map[string]any) iter.Seq2[*StreamResult, error]
}

// Definition is the descriptor advertised to the model for one tool.
// Identity is by Name.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Strict      bool           `json:"strict,omitempty"`
}

// Call is one requested tool invocation, as decoded from the model output.
type Call struct {
	// ID uniquely identifies the call within a turn.
	ID string

	// Name is the logical tool name.
	Name string

	// Args is the parsed JSON argument object.
	Args map[string]any
}

// Result kinds attached to terminal chunks. An empty kind means the tool ran
// to completion (possibly with IsError for tool-level failures).
const (
	KindError     = "error"
	KindTimeout   = "timeout"
	KindCancelled = "cancelled"
	KindSuspended = "suspended"
)

// Result is the terminal outcome of one invocation.
type Result struct {
	// Output holds the tool's output blocks. May be empty.
	Output []message.Block

	// IsError reports whether the invocation failed.
	IsError bool

	// Kind classifies failures: error, timeout, cancelled, or suspended.
	// Empty on success.
	Kind string

	// Duration is the wall time of the invocation.
	Duration time.Duration
}

// Chunk is one element of the invocation sequence: either a partial output
// block or the terminal result marker. Exactly one of Delta and Result is
// set; the sequence always ends with exactly one terminal chunk.
type Chunk struct {
	Delta  message.Block
	Result *Result
}

// Terminal reports whether this chunk is the terminal marker.
func (c *Chunk) Terminal() bool { return c.Result != nil }

// errorText wraps a diagnostic string into a single-text output.
func errorText(msg string) []message.Block {
	return []message.Block{message.TextBlock{Text: msg}}
}
