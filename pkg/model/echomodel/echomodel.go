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

// Package echomodel provides a deterministic model backend. It replays
// scripted turns in order and, once the script is exhausted, echoes the last
// user message. It backs tests and the out-of-the-box demo server.
package echomodel

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/agentcore/pkg/message"
	"github.com/kadirpekel/agentcore/pkg/model"
)

// Turn is one scripted model call: the ordered fragments Stream will yield.
type Turn struct {
	Fragments []*model.ChatResponse
}

// TextTurn builds a turn that streams the given chunks as text deltas and
// finishes with "stop".
func TextTurn(chunks ...string) Turn {
	var frags []*model.ChatResponse
	for _, c := range chunks {
		frags = append(frags, &model.ChatResponse{
			Blocks: []message.Block{message.TextBlock{Text: c}},
		})
	}
	frags = append(frags, &model.ChatResponse{
		FinishReason: model.FinishReasonStop,
		Usage:        &model.Usage{},
	})
	return Turn{Fragments: frags}
}

// ToolCallTurn builds a turn that requests one tool call, streaming the
// argument text in two deltas, and finishes with "tool_calls".
func ToolCallTurn(callID, name, args string) Turn {
	head, tail := args, ""
	if len(args) > 1 {
		head, tail = args[:len(args)/2], args[len(args)/2:]
	}
	frags := []*model.ChatResponse{
		{ToolCalls: []model.ToolCallDelta{{CallID: callID, Name: name, ArgumentsDelta: head}}},
	}
	if tail != "" {
		frags = append(frags, &model.ChatResponse{
			ToolCalls: []model.ToolCallDelta{{CallID: callID, ArgumentsDelta: tail}},
		})
	}
	frags = append(frags, &model.ChatResponse{
		FinishReason: model.FinishReasonToolCalls,
		Usage:        &model.Usage{},
	})
	return Turn{Fragments: frags}
}

// Echo is the scripted model backend.
type Echo struct {
	mu      sync.Mutex
	name    string
	turns   []Turn
	next    int
	latency time.Duration

	// Requests records every request seen, for assertions.
	Requests []*model.Request
}

// Option configures an Echo model.
type Option func(*Echo)

// WithLatency inserts a delay before each fragment, so cancellation and
// timeout behavior can be exercised.
func WithLatency(d time.Duration) Option {
	return func(e *Echo) { e.latency = d }
}

// New creates an echo model that replays the given turns in order.
func New(turns []Turn, opts ...Option) *Echo {
	e := &Echo{name: "echo", turns: turns}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Echo) Name() string { return e.name }

func (e *Echo) Close() error { return nil }

// Stream replays the next scripted turn, or echoes the last user message
// when the script is exhausted.
func (e *Echo) Stream(ctx context.Context, req *model.Request) iter.Seq2[*model.ChatResponse, error] {
	e.mu.Lock()
	e.Requests = append(e.Requests, req)
	var turn Turn
	if e.next < len(e.turns) {
		turn = e.turns[e.next]
		e.next++
	} else {
		turn = TextTurn(lastUserText(req))
	}
	latency := e.latency
	e.mu.Unlock()

	id := uuid.NewString()
	return func(yield func(*model.ChatResponse, error) bool) {
		for _, frag := range turn.Fragments {
			if latency > 0 {
				select {
				case <-time.After(latency):
				case <-ctx.Done():
					yield(nil, ctx.Err())
					return
				}
			}
			if ctx.Err() != nil {
				yield(nil, ctx.Err())
				return
			}
			out := *frag
			out.ID = id
			if !yield(&out, nil) {
				return
			}
		}
	}
}

func lastUserText(req *model.Request) string {
	if req == nil {
		return ""
	}
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i] != nil && req.Messages[i].Role == message.RoleUser {
			return req.Messages[i].Text()
		}
	}
	return ""
}

var _ model.LLM = (*Echo)(nil)
