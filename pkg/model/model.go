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

// Package model defines the language model port.
//
// A model produces a lazy sequence of response fragments:
//   - Each fragment carries incremental content blocks and/or tool-call
//     argument deltas keyed by call ID.
//   - The final fragment carries the finish reason and cumulative usage.
//   - Non-streaming backends yield exactly one complete fragment.
//
// The engine owns aggregation: it concatenates text and thinking deltas and
// merges tool-call deltas per call ID, so backends stay thin.
package model

import (
	"context"
	"iter"

	"github.com/kadirpekel/agentcore/pkg/message"
	"github.com/kadirpekel/agentcore/pkg/tool"
)

// LLM is the interface language model backends implement.
type LLM interface {
	// Name returns the model identifier.
	Name() string

	// Stream produces response fragments for the given request. The
	// sequence yields fragments in arrival order and terminates after the
	// fragment carrying a finish reason, or with an error. Yielding an
	// error ends the sequence; no fragment accompanies it.
	Stream(ctx context.Context, req *Request) iter.Seq2[*ChatResponse, error]

	// Close releases any resources held by the backend.
	Close() error
}

// Request contains the input for one model call.
type Request struct {
	// Messages is the conversation history, oldest first.
	Messages []*message.Message

	// Tools available for the model to call.
	Tools []tool.Definition

	// Config contains generation configuration.
	Config *GenerateConfig

	// SystemInstruction is prepended to the conversation.
	SystemInstruction string
}

// GenerateConfig contains configuration for generation. Pointer fields
// distinguish "unset" from zero values.
type GenerateConfig struct {
	// Temperature controls randomness (0-2).
	Temperature *float64

	// MaxTokens limits the response length.
	MaxTokens *int

	// TopP controls nucleus sampling.
	TopP *float64

	// StopSequences terminates generation.
	StopSequences []string

	// EnableThinking enables extended reasoning (model-specific).
	EnableThinking bool

	// ThinkingBudget limits reasoning tokens (model-specific).
	ThinkingBudget int

	// Metadata carries provider-specific key-value pairs.
	Metadata map[string]string
}

// Clone creates a deep copy of the GenerateConfig so request pipelines never
// share mutable state.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}

	clone := *c

	if c.Temperature != nil {
		temp := *c.Temperature
		clone.Temperature = &temp
	}
	if c.MaxTokens != nil {
		maxTok := *c.MaxTokens
		clone.MaxTokens = &maxTok
	}
	if c.TopP != nil {
		topP := *c.TopP
		clone.TopP = &topP
	}
	if c.StopSequences != nil {
		clone.StopSequences = make([]string, len(c.StopSequences))
		copy(clone.StopSequences, c.StopSequences)
	}
	if c.Metadata != nil {
		clone.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			clone.Metadata[k] = v
		}
	}

	return &clone
}

// ChatResponse is one fragment of model output.
type ChatResponse struct {
	// ID identifies the reasoning pass this fragment belongs to. Constant
	// across all fragments of one call.
	ID string

	// Blocks carries incremental content: text deltas, thinking deltas.
	Blocks []message.Block

	// ToolCalls carries tool-call argument deltas, keyed by CallID.
	ToolCalls []ToolCallDelta

	// FinishReason is set on the final fragment, empty before it.
	FinishReason FinishReason

	// Usage is cumulative token usage, set on the final fragment.
	Usage *Usage
}

// ToolCallDelta is one incremental piece of a tool call. The first delta for
// a call ID carries the tool name; subsequent deltas append argument text.
type ToolCallDelta struct {
	// CallID identifies the tool call this delta belongs to.
	CallID string `json:"call_id"`

	// Name is the tool name. Set on the first delta for a call ID.
	Name string `json:"name,omitempty"`

	// ArgumentsDelta is an incremental piece of the JSON argument text.
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
}

// Usage contains token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	ThinkingTokens   int `json:"thinking_tokens,omitempty"`
}

// FinishReason indicates why generation stopped.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonLength    FinishReason = "length"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonError     FinishReason = "error"
)

// Final reports whether this fragment terminates the model call.
func (r *ChatResponse) Final() bool {
	return r != nil && r.FinishReason != ""
}

// TextContent extracts the concatenated text deltas of this fragment.
func (r *ChatResponse) TextContent() string {
	if r == nil {
		return ""
	}
	var text string
	for _, b := range r.Blocks {
		if tb, ok := b.(message.TextBlock); ok {
			text += tb.Text
		}
	}
	return text
}

// HasToolCalls returns whether the fragment carries tool-call deltas.
func (r *ChatResponse) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}
