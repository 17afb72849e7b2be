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

// Block type discriminators used by the canonical JSON encoding.
const (
	BlockTypeText       = "text"
	BlockTypeThinking   = "thinking"
	BlockTypeImage      = "image"
	BlockTypeAudio      = "audio"
	BlockTypeVideo      = "video"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
)

// Block is the tagged union over message content variants. Implementations
// are small value types; they are shared by reference inside messages and
// never mutated.
type Block interface {
	// BlockType returns the JSON discriminator for this variant.
	BlockType() string
}

// TextBlock carries plain text.
type TextBlock struct {
	Text string `json:"text"`
}

func (TextBlock) BlockType() string { return BlockTypeText }

// ThinkingBlock carries a reasoning trace. Thinking content is kept separate
// from text and is not sent to downstream users by default.
type ThinkingBlock struct {
	Thinking string `json:"thinking"`
}

func (ThinkingBlock) BlockType() string { return BlockTypeThinking }

// Source locates media content: either a URL or an inline base64 payload
// with its MIME type. Exactly one of URL or Data is set.
type Source struct {
	URL       string `json:"url,omitempty"`
	Data      string `json:"data,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// ImageBlock carries an image source.
type ImageBlock struct {
	Source Source `json:"source"`
}

func (ImageBlock) BlockType() string { return BlockTypeImage }

// AudioBlock carries an audio source.
type AudioBlock struct {
	Source Source `json:"source"`
}

func (AudioBlock) BlockType() string { return BlockTypeAudio }

// VideoBlock carries a video source.
type VideoBlock struct {
	Source Source `json:"source"`
}

func (VideoBlock) BlockType() string { return BlockTypeVideo }

// ToolUseBlock is the model's request to invoke a tool. CallID uniquely
// identifies the call within the turn.
type ToolUseBlock struct {
	CallID string `json:"call_id"`
	Name   string `json:"name"`

	// Arguments is the parsed JSON object. Nil when RawArguments failed to
	// parse; the raw text is preserved for diagnostics.
	Arguments map[string]any `json:"arguments"`

	// RawArguments is the argument text as delivered by the model. Set only
	// when parsing failed.
	RawArguments string `json:"raw_arguments,omitempty"`
}

func (ToolUseBlock) BlockType() string { return BlockTypeToolUse }

// ToolResultBlock is the outcome of a tool call, referencing the matching
// ToolUseBlock by CallID. A ToolResult always appears after its ToolUse in
// memory, within the same turn.
type ToolResultBlock struct {
	CallID  string  `json:"call_id"`
	Output  []Block `json:"output"`
	IsError bool    `json:"is_error"`
}

func (ToolResultBlock) BlockType() string { return BlockTypeToolResult }
