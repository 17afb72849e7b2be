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

package tool

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/kadirpekel/agentcore/pkg/message"
)

// stubTool is a configurable CallableTool for registry tests.
type stubTool struct {
	name   string
	desc   string
	schema map[string]any
	call   func(ctx context.Context, args map[string]any) ([]message.Block, error)
}

func (s *stubTool) Name() string           { return s.name }
func (s *stubTool) Description() string    { return s.desc }
func (s *stubTool) Schema() map[string]any { return s.schema }
func (s *stubTool) Call(ctx context.Context, args map[string]any) ([]message.Block, error) {
	return s.call(ctx, args)
}

// stubStreamer is a StreamingTool yielding scripted results.
type stubStreamer struct {
	stubTool
	results []*StreamResult
}

func (s *stubStreamer) CallStreaming(ctx context.Context, args map[string]any) iter.Seq2[*StreamResult, error] {
	return func(yield func(*StreamResult, error) bool) {
		for _, r := range s.results {
			if !yield(r, nil) {
				return
			}
		}
	}
}

func echoTool(name string) *stubTool {
	return &stubTool{
		name: name,
		desc: "echoes its input",
		call: func(ctx context.Context, args map[string]any) ([]message.Block, error) {
			return []message.Block{message.TextBlock{Text: fmt.Sprint(args["text"])}}, nil
		},
	}
}

// drain collects the full chunk sequence of one invocation.
func drain(t *testing.T, seq iter.Seq[*Chunk]) (deltas []message.Block, res *Result) {
	t.Helper()
	for c := range seq {
		if c.Terminal() {
			if res != nil {
				t.Fatal("sequence yielded more than one terminal chunk")
			}
			res = c.Result
			continue
		}
		if res != nil {
			t.Fatal("delta after terminal chunk")
		}
		deltas = append(deltas, c.Delta)
	}
	if res == nil {
		t.Fatal("sequence ended without a terminal chunk")
	}
	return deltas, res
}

func TestRegisterAndDefinitions(t *testing.T) {
	tk := NewToolkit()
	if err := tk.Register(echoTool("bravo")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := tk.Register(echoTool("alpha")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := tk.RegisterSchemaOnly(Definition{Name: "charlie", Description: "external"}); err != nil {
		t.Fatalf("RegisterSchemaOnly() error = %v", err)
	}

	defs := tk.Definitions()
	if len(defs) != 3 {
		t.Fatalf("Definitions() = %d entries, want 3", len(defs))
	}
	for i, want := range []string{"alpha", "bravo", "charlie"} {
		if defs[i].Name != want {
			t.Errorf("defs[%d] = %q, want %q", i, defs[i].Name, want)
		}
	}

	if !tk.Has("alpha") || tk.Has("delta") {
		t.Error("Has() lookup incorrect")
	}
	if !tk.IsSchemaOnly("charlie") || tk.IsSchemaOnly("alpha") {
		t.Error("IsSchemaOnly() incorrect")
	}
}

func TestRegisterValidation(t *testing.T) {
	tk := NewToolkit()
	if err := tk.Register(nil); err == nil {
		t.Error("Register(nil) should fail")
	}
	if err := tk.Register(echoTool("")); err == nil {
		t.Error("Register with empty name should fail")
	}
	if err := tk.RegisterFunc(Definition{Name: "x"}, nil); err == nil {
		t.Error("RegisterFunc with nil invoker should fail")
	}

	bad := &stubTool{name: "bad", schema: map[string]any{"type": 42}}
	if err := tk.Register(bad); err == nil {
		t.Error("Register with malformed schema should fail")
	}
}

func TestRegisterReplacesByName(t *testing.T) {
	tk := NewToolkit()
	first := echoTool("dup")
	second := &stubTool{
		name: "dup",
		call: func(ctx context.Context, args map[string]any) ([]message.Block, error) {
			return []message.Block{message.TextBlock{Text: "second"}}, nil
		},
	}
	if err := tk.Register(first); err != nil {
		t.Fatal(err)
	}
	if err := tk.Register(second); err != nil {
		t.Fatal(err)
	}
	if len(tk.Definitions()) != 1 {
		t.Fatalf("replacement should not grow the registry")
	}

	_, res := drain(t, tk.Invoke(context.Background(), Call{ID: "c1", Name: "dup"}))
	if res.IsError || len(res.Output) != 1 {
		t.Fatalf("result = %+v", res)
	}
	if tb := res.Output[0].(message.TextBlock); tb.Text != "second" {
		t.Errorf("output = %q, want the replacement's", tb.Text)
	}
}

func TestRemove(t *testing.T) {
	tk := NewToolkit()
	if err := tk.Register(echoTool("gone")); err != nil {
		t.Fatal(err)
	}
	tk.Remove("gone")
	tk.Remove("never-existed")
	if tk.Has("gone") {
		t.Error("tool still registered after Remove")
	}
}

func TestCloneIsolation(t *testing.T) {
	base := NewToolkit()
	if err := base.Register(echoTool("shared")); err != nil {
		t.Fatal(err)
	}

	clone := base.Clone()
	if err := clone.RegisterSchemaOnly(Definition{Name: "overlay"}); err != nil {
		t.Fatal(err)
	}
	base.Remove("shared")

	if !clone.Has("shared") {
		t.Error("clone lost a registration present at clone time")
	}
	if base.Has("overlay") {
		t.Error("overlay leaked into the base toolkit")
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	tk := NewToolkit()
	_, res := drain(t, tk.Invoke(context.Background(), Call{ID: "c1", Name: "ghost"}))
	if !res.IsError || res.Kind != KindError {
		t.Fatalf("result = %+v", res)
	}
	if tb := res.Output[0].(message.TextBlock); !strings.Contains(tb.Text, "unknown tool") {
		t.Errorf("output = %q", tb.Text)
	}
}

func TestInvokeSchemaOnlySuspends(t *testing.T) {
	tk := NewToolkit()
	if err := tk.RegisterSchemaOnly(Definition{Name: "external"}); err != nil {
		t.Fatal(err)
	}
	_, res := drain(t, tk.Invoke(context.Background(), Call{ID: "c1", Name: "external"}))
	if res.Kind != KindSuspended || res.IsError {
		t.Fatalf("result = %+v, want suspended", res)
	}
}

func TestInvokeSchemaValidation(t *testing.T) {
	tk := NewToolkit()
	tl := echoTool("typed")
	tl.schema = map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []any{"text"},
	}
	if err := tk.Register(tl); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"valid", map[string]any{"text": "hi"}, false},
		{"missing required", map[string]any{}, true},
		{"wrong type", map[string]any{"text": 7}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, res := drain(t, tk.Invoke(context.Background(), Call{ID: "c1", Name: "typed", Args: tt.args}))
			if res.IsError != tt.wantErr {
				t.Errorf("IsError = %v, want %v (%+v)", res.IsError, tt.wantErr, res)
			}
			if tt.wantErr && res.Kind != KindError {
				t.Errorf("Kind = %q, want %q", res.Kind, KindError)
			}
		})
	}
}

func TestInvokeToolError(t *testing.T) {
	tk := NewToolkit()
	err := tk.RegisterFunc(Definition{Name: "failing"}, func(ctx context.Context, args map[string]any) ([]message.Block, error) {
		return nil, errors.New("disk on fire")
	})
	if err != nil {
		t.Fatal(err)
	}

	_, res := drain(t, tk.Invoke(context.Background(), Call{ID: "c1", Name: "failing"}))
	if !res.IsError || res.Kind != KindError {
		t.Fatalf("result = %+v", res)
	}
	if tb := res.Output[0].(message.TextBlock); !strings.Contains(tb.Text, "disk on fire") {
		t.Errorf("output = %q", tb.Text)
	}
}

func TestInvokeRecoversPanic(t *testing.T) {
	tk := NewToolkit()
	err := tk.RegisterFunc(Definition{Name: "panicky"}, func(ctx context.Context, args map[string]any) ([]message.Block, error) {
		panic("unexpected")
	})
	if err != nil {
		t.Fatal(err)
	}

	_, res := drain(t, tk.Invoke(context.Background(), Call{ID: "c1", Name: "panicky"}))
	if !res.IsError || res.Kind != KindError {
		t.Fatalf("result = %+v", res)
	}
	if tb := res.Output[0].(message.TextBlock); !strings.Contains(tb.Text, "panicked") {
		t.Errorf("output = %q", tb.Text)
	}
}

func TestInvokeTimeout(t *testing.T) {
	tk := NewToolkit(WithExecutionTimeout(30 * time.Millisecond))
	err := tk.RegisterFunc(Definition{Name: "slow"}, func(ctx context.Context, args map[string]any) ([]message.Block, error) {
		select {
		case <-time.After(2 * time.Second):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	_, res := drain(t, tk.Invoke(context.Background(), Call{ID: "c1", Name: "slow"}))
	if res.Kind != KindTimeout || !res.IsError {
		t.Fatalf("result = %+v, want timeout", res)
	}
}

func TestInvokeCancellation(t *testing.T) {
	tk := NewToolkit()
	started := make(chan struct{})
	err := tk.RegisterFunc(Definition{Name: "blocked"}, func(ctx context.Context, args map[string]any) ([]message.Block, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, res := drain(t, tk.Invoke(ctx, Call{ID: "c1", Name: "blocked"}))
	if res.Kind != KindCancelled || !res.IsError {
		t.Fatalf("result = %+v, want cancelled", res)
	}
}

func TestInvokeStreaming(t *testing.T) {
	tk := NewToolkit()
	streamer := &stubStreamer{
		stubTool: stubTool{name: "streamer", desc: "streams"},
		results: []*StreamResult{
			{Streaming: true, Delta: message.TextBlock{Text: "chunk-1"}},
			{Streaming: true, Delta: message.TextBlock{Text: "chunk-2"}},
			{Output: []message.Block{message.TextBlock{Text: "final"}}},
		},
	}
	if err := tk.Register(streamer); err != nil {
		t.Fatal(err)
	}

	deltas, res := drain(t, tk.Invoke(context.Background(), Call{ID: "c1", Name: "streamer"}))
	if len(deltas) != 2 {
		t.Fatalf("deltas = %d, want 2", len(deltas))
	}
	if res.IsError || len(res.Output) != 1 {
		t.Fatalf("result = %+v", res)
	}
}

func TestInvokeStreamingWithoutTerminalSynthesizesOne(t *testing.T) {
	tk := NewToolkit()
	streamer := &stubStreamer{
		stubTool: stubTool{name: "truncated"},
		results: []*StreamResult{
			{Streaming: true, Delta: message.TextBlock{Text: "only"}},
		},
	}
	if err := tk.Register(streamer); err != nil {
		t.Fatal(err)
	}

	deltas, res := drain(t, tk.Invoke(context.Background(), Call{ID: "c1", Name: "truncated"}))
	if len(deltas) != 1 || res.IsError {
		t.Fatalf("deltas = %d, result = %+v", len(deltas), res)
	}
}

func TestInvokeStreamingErrorResult(t *testing.T) {
	tk := NewToolkit()
	streamer := &stubStreamer{
		stubTool: stubTool{name: "brokenstream"},
		results: []*StreamResult{
			{Err: "stream blew up"},
		},
	}
	if err := tk.Register(streamer); err != nil {
		t.Fatal(err)
	}

	_, res := drain(t, tk.Invoke(context.Background(), Call{ID: "c1", Name: "brokenstream"}))
	if !res.IsError || res.Kind != KindError {
		t.Fatalf("result = %+v", res)
	}
}

func TestRegisterFuncRoundTrip(t *testing.T) {
	tk := NewToolkit()
	def := Definition{
		Name:        "upper",
		Description: "upper-cases text",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
		},
	}
	err := tk.RegisterFunc(def, func(ctx context.Context, args map[string]any) ([]message.Block, error) {
		s, _ := args["text"].(string)
		return []message.Block{message.TextBlock{Text: strings.ToUpper(s)}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	_, res := drain(t, tk.Invoke(context.Background(), Call{ID: "c1", Name: "upper", Args: map[string]any{"text": "hi"}}))
	if res.IsError {
		t.Fatalf("result = %+v", res)
	}
	if tb := res.Output[0].(message.TextBlock); tb.Text != "HI" {
		t.Errorf("output = %q, want HI", tb.Text)
	}
}
