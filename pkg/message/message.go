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

// Package message defines the typed, immutable message model shared by the
// engine, the toolkit, the memory and the HTTP adapter.
//
// A Message is a stable ID, a role and an ordered list of content blocks.
// Blocks form a tagged union (text, thinking, media, tool_use, tool_result)
// with a canonical JSON encoding discriminated by a "type" field. Messages
// are never mutated after construction; producers build new messages and
// consumers share them by reference.
package message

import (
	"fmt"

	"github.com/google/uuid"
)

// Role identifies the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
	RoleControl   Role = "control"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleTool, RoleControl:
		return true
	}
	return false
}

// ErrBadMessage wraps decoding failures: unknown roles, unknown block types,
// malformed payloads.
type ErrBadMessage struct {
	Reason string
}

func (e *ErrBadMessage) Error() string {
	return "bad message: " + e.Reason
}

// Message is a single conversational message. Content may be empty for
// control messages. Messages are immutable after construction.
type Message struct {
	// ID is an opaque identifier, unique per process within a session.
	ID string `json:"id"`

	// Name optionally identifies the sender in multi-agent formatting.
	Name string `json:"name,omitempty"`

	// Role is fixed at construction.
	Role Role `json:"role"`

	// Content is the ordered list of content blocks. Never nil.
	Content []Block `json:"content"`

	// Metadata carries application-specific, JSON-shaped values.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// New creates a message with a generated ID.
func New(role Role, blocks ...Block) *Message {
	if blocks == nil {
		blocks = []Block{}
	}
	return &Message{
		ID:      uuid.NewString(),
		Role:    role,
		Content: blocks,
	}
}

// NewNamed creates a message carrying a sender name.
func NewNamed(role Role, name string, blocks ...Block) *Message {
	m := New(role, blocks...)
	m.Name = name
	return m
}

// NewText is shorthand for a single-text-block message.
func NewText(role Role, text string) *Message {
	return New(role, TextBlock{Text: text})
}

// WithMetadata returns a copy of the message with the given metadata entry
// set. The content slice is shared; blocks are immutable so aliasing is safe.
func (m *Message) WithMetadata(key string, value any) *Message {
	clone := *m
	clone.Metadata = make(map[string]any, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		clone.Metadata[k] = v
	}
	clone.Metadata[key] = value
	return &clone
}

// Text concatenates all text blocks in order, ignoring other block types.
func (m *Message) Text() string {
	var out string
	for _, b := range m.Content {
		if tb, ok := b.(TextBlock); ok {
			out += tb.Text
		}
	}
	return out
}

// ToolUses returns the tool_use blocks of the message in order.
func (m *Message) ToolUses() []ToolUseBlock {
	var uses []ToolUseBlock
	for _, b := range m.Content {
		if tu, ok := b.(ToolUseBlock); ok {
			uses = append(uses, tu)
		}
	}
	return uses
}

// ToolResults returns the tool_result blocks of the message in order.
func (m *Message) ToolResults() []ToolResultBlock {
	var results []ToolResultBlock
	for _, b := range m.Content {
		if tr, ok := b.(ToolResultBlock); ok {
			results = append(results, tr)
		}
	}
	return results
}

// String implements fmt.Stringer for debug logging.
func (m *Message) String() string {
	return fmt.Sprintf("Message{id=%s role=%s blocks=%d}", m.ID, m.Role, len(m.Content))
}
