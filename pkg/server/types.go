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

package server

import (
	"encoding/json"
	"fmt"

	"github.com/kadirpekel/agentcore/pkg/message"
	"github.com/kadirpekel/agentcore/pkg/model"
	"github.com/kadirpekel/agentcore/pkg/tool"
)

// ChatCompletionRequest is the Chat-Completions-compatible request body.
type ChatCompletionRequest struct {
	Model      string        `json:"model"`
	Messages   []ChatMessage `json:"messages"`
	Tools      []ToolSpec    `json:"tools,omitempty"`
	ToolChoice any           `json:"tool_choice,omitempty"`
	Stream     bool          `json:"stream,omitempty"`
	SessionID  string        `json:"session_id,omitempty"`

	// Agent optionally names the agent when neither the path nor the
	// X-Agent header does.
	Agent string `json:"agent,omitempty"`
}

// ChatMessage is one request message. Content is either a plain string or an
// array of typed content parts.
type ChatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// contentPart is one element of an array-shaped content field.
type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// ToolSpec advertises one request-scoped tool. Such tools have no in-process
// body; calls to them suspend the turn for external execution.
type ToolSpec struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec is the function payload of a ToolSpec.
type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Strict      bool           `json:"strict,omitempty"`
}

// Definition converts the spec to a toolkit descriptor.
func (t ToolSpec) Definition() tool.Definition {
	return tool.Definition{
		Name:        t.Function.Name,
		Description: t.Function.Description,
		Parameters:  t.Function.Parameters,
		Strict:      t.Function.Strict,
	}
}

// ChatCompletionResponse is the unary response envelope. Stream frames reuse
// the same shape with Delta set instead of Message.
type ChatCompletionResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []Choice     `json:"choices"`
	Usage   *model.Usage `json:"usage,omitempty"`
}

// Choice is one completion alternative; the engine produces exactly one.
type Choice struct {
	Index        int              `json:"index"`
	Message      *ResponseMessage `json:"message,omitempty"`
	Delta        *DeltaMessage    `json:"delta,omitempty"`
	FinishReason string           `json:"finish_reason,omitempty"`
}

// ResponseMessage is the assistant message of a unary response.
type ResponseMessage struct {
	Role      string             `json:"role"`
	Content   string             `json:"content"`
	ToolCalls []ResponseToolCall `json:"tool_calls,omitempty"`
}

// DeltaMessage is the incremental payload of one stream frame.
type DeltaMessage struct {
	Role        string                `json:"role,omitempty"`
	Content     string                `json:"content,omitempty"`
	ToolCalls   []model.ToolCallDelta `json:"tool_calls,omitempty"`
	ToolOutputs []ToolOutputDelta     `json:"tool_outputs,omitempty"`
}

// ToolOutputDelta is intermediate output of an executing tool call, keyed by
// the call it belongs to.
type ToolOutputDelta struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// ResponseToolCall is a pending tool call surfaced on suspension.
type ResponseToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the call payload with arguments re-encoded as JSON
// text.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// errorResponse is the JSON body of non-stream failures.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// toInputMessages converts request messages into the internal model. Tool
// role messages become tool-result messages keyed by tool_call_id, which is
// how a suspended turn is replayed.
func toInputMessages(msgs []ChatMessage) ([]*message.Message, error) {
	out := make([]*message.Message, 0, len(msgs))
	for i, cm := range msgs {
		role := message.Role(cm.Role)
		if !message.ValidRole(role) {
			return nil, fmt.Errorf("message %d: unknown role %q", i, cm.Role)
		}

		blocks, err := decodeContent(cm.Content)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}

		if role == message.RoleTool {
			if cm.ToolCallID == "" {
				return nil, fmt.Errorf("message %d: tool message requires tool_call_id", i)
			}
			blocks = []message.Block{message.ToolResultBlock{
				CallID: cm.ToolCallID,
				Output: blocks,
			}}
		}

		msg := message.New(role, blocks...)
		msg.Name = cm.Name
		out = append(out, msg)
	}
	return out, nil
}

// decodeContent accepts a JSON string or an array of typed parts.
func decodeContent(raw json.RawMessage) ([]message.Block, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []message.Block{message.TextBlock{Text: text}}, nil
	}

	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, fmt.Errorf("content must be a string or an array of parts")
	}

	blocks := make([]message.Block, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, message.TextBlock{Text: p.Text})
		case "image_url":
			if p.ImageURL == nil {
				return nil, fmt.Errorf("image_url part missing payload")
			}
			blocks = append(blocks, message.ImageBlock{Source: message.Source{URL: p.ImageURL.URL}})
		default:
			return nil, fmt.Errorf("unsupported content part type %q", p.Type)
		}
	}
	return blocks, nil
}

// pendingToolCalls extracts the reply's tool uses as wire-shaped calls,
// re-encoding arguments as JSON text.
func pendingToolCalls(reply *message.Message) []ResponseToolCall {
	if reply == nil {
		return nil
	}
	var calls []ResponseToolCall
	for _, tu := range reply.ToolUses() {
		args := tu.RawArguments
		if args == "" {
			encoded, err := json.Marshal(tu.Arguments)
			if err == nil {
				args = string(encoded)
			}
		}
		calls = append(calls, ResponseToolCall{
			ID:   tu.CallID,
			Type: "function",
			Function: FunctionCall{
				Name:      tu.Name,
				Arguments: args,
			},
		})
	}
	return calls
}
