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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentcore/pkg/agent"
	"github.com/kadirpekel/agentcore/pkg/config"
	"github.com/kadirpekel/agentcore/pkg/hook"
	"github.com/kadirpekel/agentcore/pkg/memory"
	"github.com/kadirpekel/agentcore/pkg/message"
	"github.com/kadirpekel/agentcore/pkg/model"
	"github.com/kadirpekel/agentcore/pkg/model/echomodel"
	"github.com/kadirpekel/agentcore/pkg/session"
	"github.com/kadirpekel/agentcore/pkg/tool"
)

func echoProvider(turns []echomodel.Turn) ModelProvider {
	llm := echomodel.New(turns)
	return func(string) model.LLM { return llm }
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Models == nil {
		opts.Models = echoProvider(nil)
	}
	s, err := New(opts)
	require.NoError(t, err)
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, headers map[string]string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func chatBody(sessionID string, texts ...string) map[string]any {
	msgs := make([]map[string]any, 0, len(texts))
	for _, text := range texts {
		msgs = append(msgs, map[string]any{"role": "user", "content": text})
	}
	body := map[string]any{"messages": msgs}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	return body
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{Models: echoProvider(nil)})
	assert.Error(t, err)

	_, err = New(Options{Config: config.Default()})
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := doJSON(t, s, http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAgentsList(t *testing.T) {
	cfg, err := config.Parse([]byte(`
agents:
  planner:
    system_prompt: "You plan."
  worker: {}
default_agent: planner
`))
	require.NoError(t, err)

	s := newTestServer(t, Options{Config: cfg})
	rec := doJSON(t, s, http.MethodGet, "/v1/agents", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Agents []struct {
			Name    string `json:"name"`
			Default bool   `json:"default"`
		} `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Agents, 2)

	defaults := map[string]bool{}
	for _, a := range body.Agents {
		defaults[a.Name] = a.Default
	}
	assert.True(t, defaults["planner"])
	assert.False(t, defaults["worker"])
}

func TestUnaryCompletion(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := doJSON(t, s, http.MethodPost, "/v1/chat/completions", nil, chatBody("", "hello there"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
	assert.Equal(t, "chat.completion", resp.Object)
	require.Len(t, resp.Choices, 1)

	choice := resp.Choices[0]
	assert.Equal(t, agent.FinishStop, choice.FinishReason)
	require.NotNil(t, choice.Message)
	assert.Equal(t, "assistant", choice.Message.Role)
	assert.Equal(t, "hello there", choice.Message.Content)
}

func TestUnknownAgent(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := doJSON(t, s, http.MethodPost, "/v1/agents/ghost/chat/completions", nil, chatBody("", "hi"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown agent")
}

func TestAgentResolution(t *testing.T) {
	cfg, err := config.Parse([]byte(`
agents:
  default: {}
  alt: {}
`))
	require.NoError(t, err)
	s := newTestServer(t, Options{Config: cfg})

	// Header wins over the body property.
	body := chatBody("", "hi")
	body["agent"] = "ghost"
	rec := doJSON(t, s, http.MethodPost, "/v1/chat/completions", map[string]string{"X-Agent": "alt"}, body)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Without the header the body property is honored.
	rec = doJSON(t, s, http.MethodPost, "/v1/chat/completions", nil, body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedBody(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := doJSON(t, s, http.MethodPost, "/v1/chat/completions", nil, "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed request body")
}

func TestInvalidRole(t *testing.T) {
	s := newTestServer(t, Options{})

	body := map[string]any{"messages": []map[string]any{{"role": "oracle", "content": "hi"}}}
	rec := doJSON(t, s, http.MethodPost, "/v1/chat/completions", nil, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown role")
}

func TestToolMessageRequiresCallID(t *testing.T) {
	s := newTestServer(t, Options{})

	body := map[string]any{"messages": []map[string]any{
		{"role": "user", "content": "hi"},
		{"role": "tool", "content": "42"},
	}}
	rec := doJSON(t, s, http.MethodPost, "/v1/chat/completions", nil, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "tool_call_id")
}

func TestBadSessionID(t *testing.T) {
	s := newTestServer(t, Options{})

	rec := doJSON(t, s, http.MethodPost, "/v1/chat/completions", nil, chatBody("a/b", "hi"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "path separator")
}

func TestNonFunctionToolRejected(t *testing.T) {
	s := newTestServer(t, Options{})

	body := chatBody("", "hi")
	body["tools"] = []map[string]any{{"type": "retrieval"}}
	rec := doJSON(t, s, http.MethodPost, "/v1/chat/completions", nil, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported tool type")
}

func TestRequestToolSuspension(t *testing.T) {
	provider := echoProvider([]echomodel.Turn{
		echomodel.ToolCallTurn("call_1", "lookup", `{"q":"golang"}`),
	})
	s := newTestServer(t, Options{Models: provider})

	body := chatBody("", "search for golang")
	body["tools"] = []map[string]any{{
		"type": "function",
		"function": map[string]any{
			"name":        "lookup",
			"description": "Searches the index.",
			"parameters": map[string]any{
				"type":       "object",
				"properties": map[string]any{"q": map[string]any{"type": "string"}},
				"required":   []string{"q"},
			},
		},
	}}

	rec := doJSON(t, s, http.MethodPost, "/v1/chat/completions", nil, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)

	choice := resp.Choices[0]
	assert.Equal(t, agent.FinishToolSuspended, choice.FinishReason)
	require.NotNil(t, choice.Message)
	require.Len(t, choice.Message.ToolCalls, 1)

	call := choice.Message.ToolCalls[0]
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, "function", call.Type)
	assert.Equal(t, "lookup", call.Function.Name)
	assert.Contains(t, call.Function.Arguments, "golang")
}

// parseSSE splits a recorded event-stream body into its data payloads.
func parseSSE(t *testing.T, body string) []string {
	t.Helper()
	var frames []string
	for _, chunk := range strings.Split(body, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		require.True(t, strings.HasPrefix(chunk, "data: "), "frame %q", chunk)
		frames = append(frames, strings.TrimPrefix(chunk, "data: "))
	}
	return frames
}

func TestStreamingCompletion(t *testing.T) {
	provider := echoProvider([]echomodel.Turn{echomodel.TextTurn("Hel", "lo")})
	s := newTestServer(t, Options{Models: provider})

	body := chatBody("", "say hello")
	body["stream"] = true
	rec := doJSON(t, s, http.MethodPost, "/v1/chat/completions", nil, body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := parseSSE(t, rec.Body.String())
	require.GreaterOrEqual(t, len(frames), 3)
	require.Equal(t, sseDone, frames[len(frames)-1])

	var (
		content strings.Builder
		ids     = map[string]bool{}
		finish  string
		first   ChatCompletionResponse
	)
	for i, frame := range frames[:len(frames)-1] {
		var chunk ChatCompletionResponse
		require.NoError(t, json.Unmarshal([]byte(frame), &chunk))
		require.Equal(t, "chat.completion.chunk", chunk.Object)
		require.Len(t, chunk.Choices, 1)

		ids[chunk.ID] = true
		if i == 0 {
			first = chunk
		}
		choice := chunk.Choices[0]
		require.NotNil(t, choice.Delta)
		content.WriteString(choice.Delta.Content)
		if choice.FinishReason != "" {
			finish = choice.FinishReason
		}
	}

	assert.Len(t, ids, 1, "all frames share one completion id")
	assert.Equal(t, "assistant", first.Choices[0].Delta.Role)
	assert.Equal(t, "Hello", content.String())
	assert.Equal(t, agent.FinishStop, finish)
}

func TestSessionPersistence(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc := session.NewService(store)
	ctx := context.Background()

	s := newTestServer(t, Options{Sessions: svc})
	rec := doJSON(t, s, http.MethodPost, "/v1/chat/completions", nil, chatBody("chat-1", "my name is Ada"))
	require.Equal(t, http.StatusOK, rec.Code)

	doc, err := store.Load(ctx, "chat-1")
	require.NoError(t, err)
	messages, ok := doc["memory"]["messages"].([]any)
	require.True(t, ok, "doc = %+v", doc)
	assert.Len(t, messages, 2)
	assert.Equal(t, "default", doc["agent"]["name"])

	// A fresh process hydrates the session before answering.
	s2 := newTestServer(t, Options{Sessions: svc})
	rec = doJSON(t, s2, http.MethodPost, "/v1/chat/completions", nil, chatBody("chat-1", "what is my name?"))
	require.Equal(t, http.StatusOK, rec.Code)

	doc, err = store.Load(ctx, "chat-1")
	require.NoError(t, err)
	messages, ok = doc["memory"]["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 4, "hydrated history plus the new exchange")
}

// slowStore delays loads so concurrent first-touch requests overlap with
// hydration.
type slowStore struct {
	session.Store
	delay time.Duration
}

func (s *slowStore) Load(ctx context.Context, id string) (session.Document, error) {
	time.Sleep(s.delay)
	return s.Store.Load(ctx, id)
}

func TestConcurrentFirstTouchHydration(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	// Two turns of prior history.
	prior := memory.NewInMemory()
	prior.Append(message.NewText(message.RoleUser, "earlier question"))
	prior.Append(message.NewText(message.RoleAssistant, "earlier answer"))
	require.NoError(t, session.NewService(store).Save(ctx, "chat-race", prior))

	svc := session.NewService(&slowStore{Store: store, delay: 50 * time.Millisecond})
	s := newTestServer(t, Options{Sessions: svc})

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var buf bytes.Buffer
			body := chatBody("chat-race", fmt.Sprintf("concurrent turn %d", i))
			if err := json.NewEncoder(&buf).Encode(body); err != nil {
				return
			}
			req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", &buf)
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			codes[i] = rec.Code
		}()
	}
	wg.Wait()

	assert.Equal(t, []int{http.StatusOK, http.StatusOK}, codes)

	doc, err := store.Load(ctx, "chat-race")
	require.NoError(t, err)
	messages, ok := doc["memory"]["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 6, "hydrated history plus both concurrent exchanges")
}

// progressTool streams two intermediate text deltas before finishing.
type progressTool struct{}

func (progressTool) Name() string           { return "progress" }
func (progressTool) Description() string    { return "Reports progress while working." }
func (progressTool) Schema() map[string]any { return map[string]any{"type": "object"} }

func (progressTool) CallStreaming(ctx context.Context, args map[string]any) iter.Seq2[*tool.StreamResult, error] {
	return func(yield func(*tool.StreamResult, error) bool) {
		for _, step := range []string{"step 1", "step 2"} {
			if !yield(&tool.StreamResult{Streaming: true, Delta: message.TextBlock{Text: step}}, nil) {
				return
			}
		}
		yield(&tool.StreamResult{Output: []message.Block{message.TextBlock{Text: "finished"}}}, nil)
	}
}

func TestStreamingToolOutput(t *testing.T) {
	tk := tool.NewToolkit()
	require.NoError(t, tk.Register(progressTool{}))

	provider := echoProvider([]echomodel.Turn{
		echomodel.ToolCallTurn("call_s", "progress", `{}`),
		echomodel.TextTurn("all done"),
	})
	s := newTestServer(t, Options{Models: provider, Toolkit: tk})

	body := chatBody("", "run the progress tool")
	body["stream"] = true
	rec := doJSON(t, s, http.MethodPost, "/v1/chat/completions", nil, body)
	require.Equal(t, http.StatusOK, rec.Code)

	frames := parseSSE(t, rec.Body.String())
	require.Equal(t, sseDone, frames[len(frames)-1])

	var outputs []ToolOutputDelta
	var content strings.Builder
	for _, frame := range frames[:len(frames)-1] {
		var chunk ChatCompletionResponse
		require.NoError(t, json.Unmarshal([]byte(frame), &chunk))
		require.Len(t, chunk.Choices, 1)
		delta := chunk.Choices[0].Delta
		require.NotNil(t, delta)
		outputs = append(outputs, delta.ToolOutputs...)
		content.WriteString(delta.Content)
	}

	require.Len(t, outputs, 2)
	assert.Equal(t, ToolOutputDelta{ID: "call_s", Content: "step 1"}, outputs[0])
	assert.Equal(t, ToolOutputDelta{ID: "call_s", Content: "step 2"}, outputs[1])
	assert.Equal(t, "all done", content.String())
}

func TestPersistenceSurvivesClientDisconnect(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc := session.NewService(store)

	// Simulate the client hanging up the moment the reply is final.
	reqCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hooks := hook.NewPipeline()
	hooks.Register(&hook.Func{
		HookName: "disconnect",
		Fn: func(ctx context.Context, ev hook.Event) (hook.Event, error) {
			if _, ok := ev.(*hook.PostCall); ok {
				cancel()
			}
			return nil, nil
		},
	})

	s := newTestServer(t, Options{Sessions: svc, Hooks: hooks})

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(chatBody("chat-drop", "hi")))
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", &buf).WithContext(reqCtx)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	doc, err := store.Load(context.Background(), "chat-drop")
	require.NoError(t, err)
	messages, ok := doc["memory"]["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2, "the completed turn is saved despite the disconnect")
}

func TestEphemeralSessionsAreNotPersisted(t *testing.T) {
	store, err := session.NewFileStore(t.TempDir())
	require.NoError(t, err)
	svc := session.NewService(store)

	s := newTestServer(t, Options{Sessions: svc})
	rec := doJSON(t, s, http.MethodPost, "/v1/chat/completions", nil, chatBody("", "hi"))
	require.Equal(t, http.StatusOK, rec.Code)

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}
