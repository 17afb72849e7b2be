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

package message

import (
	"encoding/json"
	"fmt"
)

// MarshalBlock encodes a block as its canonical JSON form, discriminated by
// the "type" field. Unknown variants are an error, never an empty object.
func MarshalBlock(b Block) ([]byte, error) {
	switch v := b.(type) {
	case TextBlock:
		return json.Marshal(struct {
			Type string `json:"type"`
			TextBlock
		}{BlockTypeText, v})
	case ThinkingBlock:
		return json.Marshal(struct {
			Type string `json:"type"`
			ThinkingBlock
		}{BlockTypeThinking, v})
	case ImageBlock:
		return json.Marshal(struct {
			Type string `json:"type"`
			ImageBlock
		}{BlockTypeImage, v})
	case AudioBlock:
		return json.Marshal(struct {
			Type string `json:"type"`
			AudioBlock
		}{BlockTypeAudio, v})
	case VideoBlock:
		return json.Marshal(struct {
			Type string `json:"type"`
			VideoBlock
		}{BlockTypeVideo, v})
	case ToolUseBlock:
		return json.Marshal(struct {
			Type string `json:"type"`
			ToolUseBlock
		}{BlockTypeToolUse, v})
	case ToolResultBlock:
		output := make([]json.RawMessage, 0, len(v.Output))
		for _, ob := range v.Output {
			raw, err := MarshalBlock(ob)
			if err != nil {
				return nil, err
			}
			output = append(output, raw)
		}
		return json.Marshal(struct {
			Type    string            `json:"type"`
			CallID  string            `json:"call_id"`
			Output  []json.RawMessage `json:"output"`
			IsError bool              `json:"is_error"`
		}{BlockTypeToolResult, v.CallID, output, v.IsError})
	case nil:
		return nil, &ErrBadMessage{Reason: "nil content block"}
	default:
		return nil, &ErrBadMessage{Reason: fmt.Sprintf("unknown block variant %T", b)}
	}
}

// UnmarshalBlock decodes a block from its canonical JSON form.
func UnmarshalBlock(data []byte) (Block, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &ErrBadMessage{Reason: "undecodable block: " + err.Error()}
	}

	switch probe.Type {
	case BlockTypeText:
		var b TextBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, &ErrBadMessage{Reason: err.Error()}
		}
		return b, nil
	case BlockTypeThinking:
		var b ThinkingBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, &ErrBadMessage{Reason: err.Error()}
		}
		return b, nil
	case BlockTypeImage:
		var b ImageBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, &ErrBadMessage{Reason: err.Error()}
		}
		return b, nil
	case BlockTypeAudio:
		var b AudioBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, &ErrBadMessage{Reason: err.Error()}
		}
		return b, nil
	case BlockTypeVideo:
		var b VideoBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, &ErrBadMessage{Reason: err.Error()}
		}
		return b, nil
	case BlockTypeToolUse:
		var b ToolUseBlock
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, &ErrBadMessage{Reason: err.Error()}
		}
		return b, nil
	case BlockTypeToolResult:
		var envelope struct {
			CallID  string            `json:"call_id"`
			Output  []json.RawMessage `json:"output"`
			IsError bool              `json:"is_error"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, &ErrBadMessage{Reason: err.Error()}
		}
		b := ToolResultBlock{CallID: envelope.CallID, IsError: envelope.IsError}
		for _, raw := range envelope.Output {
			ob, err := UnmarshalBlock(raw)
			if err != nil {
				return nil, err
			}
			b.Output = append(b.Output, ob)
		}
		return b, nil
	case "":
		return nil, &ErrBadMessage{Reason: "block missing type field"}
	default:
		return nil, &ErrBadMessage{Reason: "unknown block type " + probe.Type}
	}
}

// messageEnvelope is the wire form of Message.
type messageEnvelope struct {
	ID       string            `json:"id"`
	Name     string            `json:"name,omitempty"`
	Role     Role              `json:"role"`
	Content  []json.RawMessage `json:"content"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// MarshalJSON encodes the message with its blocks in canonical form.
func (m *Message) MarshalJSON() ([]byte, error) {
	env := messageEnvelope{
		ID:       m.ID,
		Name:     m.Name,
		Role:     m.Role,
		Content:  make([]json.RawMessage, 0, len(m.Content)),
		Metadata: m.Metadata,
	}
	for _, b := range m.Content {
		raw, err := MarshalBlock(b)
		if err != nil {
			return nil, err
		}
		env.Content = append(env.Content, raw)
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes a message, failing with ErrBadMessage on unknown
// roles or block types.
func (m *Message) UnmarshalJSON(data []byte) error {
	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &ErrBadMessage{Reason: err.Error()}
	}
	if !ValidRole(env.Role) {
		return &ErrBadMessage{Reason: fmt.Sprintf("unknown role %q", env.Role)}
	}

	blocks := make([]Block, 0, len(env.Content))
	for _, raw := range env.Content {
		b, err := UnmarshalBlock(raw)
		if err != nil {
			return err
		}
		blocks = append(blocks, b)
	}

	m.ID = env.ID
	m.Name = env.Name
	m.Role = env.Role
	m.Content = blocks
	m.Metadata = env.Metadata
	return nil
}
