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

// Package hook defines the execution event stream and the hook pipeline
// through which observers and interceptors see it.
//
// Events form a tagged union over the phases of one agent call:
//
//	PreCall -> (PreReasoning, ReasoningChunk*, PostReasoning,
//	            [PreActing, ActingChunk*, PostActing]*)+ -> PostCall
//
// Error events may interleave anywhere. PreReasoning, PostReasoning,
// PreActing, PostActing and PostCall are modifiable: a hook may return a
// replacement of the same event type to alter what the engine acts on.
// PreCall and the chunk events are notifications, forwarded as-is.
package hook

import (
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/agentcore/pkg/message"
	"github.com/kadirpekel/agentcore/pkg/model"
	"github.com/kadirpekel/agentcore/pkg/tool"
)

// Type discriminates event variants.
type Type string

const (
	TypePreCall        Type = "pre_call"
	TypePostCall       Type = "post_call"
	TypePreReasoning   Type = "pre_reasoning"
	TypeReasoningChunk Type = "reasoning_chunk"
	TypePostReasoning  Type = "post_reasoning"
	TypePreActing      Type = "pre_acting"
	TypeActingChunk    Type = "acting_chunk"
	TypePostActing     Type = "post_acting"
	TypeError          Type = "error"
)

// Meta carries the identity shared by every event.
type Meta struct {
	// ID uniquely identifies this event.
	ID string

	// AgentName is the agent that produced the event.
	AgentName string

	// InvocationID links the event to one agent call.
	InvocationID string

	// Iteration is the reason/act cycle the event belongs to, starting at
	// 1. Zero for PreCall and PostCall.
	Iteration int

	// Timestamp is when the event was created.
	Timestamp time.Time
}

// NewMeta creates event metadata with a generated ID and current timestamp.
func NewMeta(agentName, invocationID string, iteration int) Meta {
	return Meta{
		ID:           uuid.NewString(),
		AgentName:    agentName,
		InvocationID: invocationID,
		Iteration:    iteration,
		Timestamp:    time.Now(),
	}
}

// Event is the union of all execution events.
type Event interface {
	// EventType returns the variant tag.
	EventType() Type

	// EventMeta returns the shared identity fields.
	EventMeta() Meta
}

// PreCall opens an agent call, carrying the input messages.
type PreCall struct {
	Meta  Meta
	Input []*message.Message
}

// PostCall closes an agent call, successful or not. Hooks may replace Reply
// before it is returned to the caller.
type PostCall struct {
	Meta Meta

	// Reply is the final assistant message. May be nil when the call
	// failed before producing one.
	Reply *message.Message

	// FinishReason is one of stop, error, tool_suspended, max_iters.
	FinishReason string

	// Interrupted reports the call was cut short by cancellation.
	Interrupted bool

	// Usage is the accumulated token usage across all reasoning passes.
	Usage *model.Usage
}

// PreReasoning precedes one model call. Hooks may replace Request.
type PreReasoning struct {
	Meta    Meta
	Request *model.Request
}

// ReasoningChunk is one model output fragment, observation only.
type ReasoningChunk struct {
	Meta     Meta
	Fragment *model.ChatResponse
}

// PostReasoning carries the aggregated assistant message of one reasoning
// pass. Hooks may replace Response before it enters memory.
type PostReasoning struct {
	Meta     Meta
	Response *message.Message
}

// PreActing precedes the tool dispatch of one step. Hooks may replace Calls
// to add, remove or rewrite invocations.
type PreActing struct {
	Meta  Meta
	Calls []tool.Call
}

// ActingChunk is one incremental tool output block, observation only. Chunks
// from concurrent calls interleave but are tagged with their call ID.
type ActingChunk struct {
	Meta   Meta
	CallID string
	Delta  message.Block
}

// PostActing carries the tool-result messages of one step, ordered by call
// ID. Hooks may replace Results before they enter memory.
type PostActing struct {
	Meta    Meta
	Results []*message.Message
}

// Error reports a failure that did not necessarily abort the call: hook
// failures, malformed tool arguments, stream overflow, model errors.
type Error struct {
	Meta Meta

	// Phase names where the failure occurred: reasoning, acting, hook,
	// stream.
	Phase string

	// Kind is a machine-readable classifier.
	Kind string

	// Err is the underlying error.
	Err error
}

func (e *PreCall) EventType() Type        { return TypePreCall }
func (e *PostCall) EventType() Type       { return TypePostCall }
func (e *PreReasoning) EventType() Type   { return TypePreReasoning }
func (e *ReasoningChunk) EventType() Type { return TypeReasoningChunk }
func (e *PostReasoning) EventType() Type  { return TypePostReasoning }
func (e *PreActing) EventType() Type      { return TypePreActing }
func (e *ActingChunk) EventType() Type    { return TypeActingChunk }
func (e *PostActing) EventType() Type     { return TypePostActing }
func (e *Error) EventType() Type          { return TypeError }

func (e *PreCall) EventMeta() Meta        { return e.Meta }
func (e *PostCall) EventMeta() Meta       { return e.Meta }
func (e *PreReasoning) EventMeta() Meta   { return e.Meta }
func (e *ReasoningChunk) EventMeta() Meta { return e.Meta }
func (e *PostReasoning) EventMeta() Meta  { return e.Meta }
func (e *PreActing) EventMeta() Meta      { return e.Meta }
func (e *ActingChunk) EventMeta() Meta    { return e.Meta }
func (e *PostActing) EventMeta() Meta     { return e.Meta }
func (e *Error) EventMeta() Meta          { return e.Meta }

// Modifiable reports whether hooks may replace this event variant.
func Modifiable(t Type) bool {
	switch t {
	case TypePreReasoning, TypePostReasoning, TypePreActing, TypePostActing, TypePostCall:
		return true
	default:
		return false
	}
}
