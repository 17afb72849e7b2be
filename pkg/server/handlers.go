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
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kadirpekel/agentcore/pkg/agent"
	"github.com/kadirpekel/agentcore/pkg/hook"
	"github.com/kadirpekel/agentcore/pkg/message"
	"github.com/kadirpekel/agentcore/pkg/session"
)

const sseDone = "[DONE]"

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAgents lists the configured agents.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	type agentInfo struct {
		Name         string `json:"name"`
		SystemPrompt string `json:"system_prompt,omitempty"`
		Default      bool   `json:"default,omitempty"`
	}
	agents := make([]agentInfo, 0, len(s.cfg.Agents))
	for name, ac := range s.cfg.Agents {
		agents = append(agents, agentInfo{
			Name:         name,
			SystemPrompt: ac.SystemPrompt,
			Default:      name == s.cfg.DefaultAgent,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

// resolveAgent picks the agent for a request: path parameter, then X-Agent
// header, then the body property, then the configured default, then the
// literal "default".
func (s *Server) resolveAgent(r *http.Request, req *ChatCompletionRequest) string {
	if name := chi.URLParam(r, "agent"); name != "" {
		return name
	}
	if name := r.Header.Get("X-Agent"); name != "" {
		return name
	}
	if req.Agent != "" {
		return req.Agent
	}
	if s.cfg.DefaultAgent != "" {
		return s.cfg.DefaultAgent
	}
	return "default"
}

// handleChatCompletions serves both the unary and the SSE variant.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))
		return
	}

	agentName := s.resolveAgent(r, &req)
	agentCfg, ok := s.cfg.Agents[agentName]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown agent %q", agentName))
		return
	}

	input, err := toInputMessages(req.Messages)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := req.SessionID
	persist := s.sessions != nil && sessionID != ""
	if sessionID == "" {
		// Ephemeral conversation; the engine is discarded by the TTL
		// janitor.
		sessionID = uuid.NewString()
	}
	if err := validateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := s.acquireSession(r.Context(), agentName, sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	tk := s.toolkit
	if len(req.Tools) > 0 {
		tk = s.toolkit.Clone()
		for _, spec := range req.Tools {
			if spec.Type != "function" {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported tool type %q", spec.Type))
				return
			}
			if err := tk.RegisterSchemaOnly(spec.Definition()); err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	ag, err := agent.New(*agentCfg, s.models(agentName), entry.memory, tk, s.hooks)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respModel := req.Model
	if respModel == "" {
		respModel = ag.Name()
	}

	if req.Stream {
		s.streamCompletion(w, r, ag, input, respModel)
	} else {
		s.unaryCompletion(w, r, ag, input, respModel)
	}

	if persist {
		// The turn is complete even if the client hung up right after the
		// final frame; the save must not inherit that cancellation.
		saveCtx := context.WithoutCancel(r.Context())
		if err := s.sessions.Save(saveCtx, sessionID, ag, entry.memory); err != nil {
			slog.Error("Failed to persist session", "session_id", sessionID, "error", err)
		}
	}
}

// unaryCompletion drains the call and writes one JSON document.
func (s *Server) unaryCompletion(w http.ResponseWriter, r *http.Request, ag *agent.Agent, input []*message.Message, respModel string) {
	res, err := ag.Call(r.Context(), input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg := &ResponseMessage{Role: string(message.RoleAssistant)}
	if res.Reply != nil {
		msg.Content = res.Reply.Text()
	}
	if res.FinishReason == agent.FinishToolSuspended {
		msg.ToolCalls = pendingToolCalls(res.Reply)
	}

	writeJSON(w, http.StatusOK, &ChatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   respModel,
		Choices: []Choice{{
			Index:        0,
			Message:      msg,
			FinishReason: res.FinishReason,
		}},
		Usage: res.Usage,
	})
}

// streamCompletion encodes the event sequence as SSE frames. All frames of
// one response share the same id; failures surface as a terminal frame with
// finish_reason "error" under HTTP 200 so clients can parse them.
func (s *Server) streamCompletion(w http.ResponseWriter, r *http.Request, ag *agent.Agent, input []*message.Message, respModel string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported by connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	enc := &sseEncoder{
		w:       w,
		flusher: flusher,
		id:      completionID(),
		model:   respModel,
		created: time.Now().Unix(),
	}

	var lastErr error
	sentRole := false

	for ev, err := range ag.Run(r.Context(), input) {
		if err != nil {
			enc.writeFrame(&DeltaMessage{Content: err.Error()}, agent.FinishError)
			enc.writeDone()
			return
		}

		switch e := ev.(type) {
		case *hook.ReasoningChunk:
			delta := &DeltaMessage{
				Content:   e.Fragment.TextContent(),
				ToolCalls: e.Fragment.ToolCalls,
			}
			if delta.Content == "" && len(delta.ToolCalls) == 0 {
				continue
			}
			if !sentRole {
				delta.Role = string(message.RoleAssistant)
				sentRole = true
			}
			if !enc.writeFrame(delta, "") {
				return
			}

		case *hook.ActingChunk:
			text := blockText(e.Delta)
			if text == "" {
				continue
			}
			delta := &DeltaMessage{
				ToolOutputs: []ToolOutputDelta{{ID: e.CallID, Content: text}},
			}
			if !enc.writeFrame(delta, "") {
				return
			}

		case *hook.Error:
			lastErr = e.Err

		case *hook.PostCall:
			if e.FinishReason == agent.FinishError && lastErr != nil {
				enc.writeFrame(&DeltaMessage{Content: lastErr.Error()}, agent.FinishError)
			} else {
				enc.writeFrame(&DeltaMessage{}, e.FinishReason)
			}
			enc.writeDone()
			return
		}
	}

	// The consumer context was cancelled before PostCall arrived.
	enc.writeDone()
}

// sseEncoder writes chat-completion chunks as SSE data frames.
type sseEncoder struct {
	w       http.ResponseWriter
	flusher http.Flusher
	id      string
	model   string
	created int64
}

func (enc *sseEncoder) writeFrame(delta *DeltaMessage, finishReason string) bool {
	frame := &ChatCompletionResponse{
		ID:      enc.id,
		Object:  "chat.completion.chunk",
		Created: enc.created,
		Model:   enc.model,
		Choices: []Choice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return false
	}
	if _, err := fmt.Fprintf(enc.w, "data: %s\n\n", data); err != nil {
		return false
	}
	enc.flusher.Flush()
	return true
}

func (enc *sseEncoder) writeDone() {
	fmt.Fprintf(enc.w, "data: %s\n\n", sseDone)
	enc.flusher.Flush()
}

// blockText extracts the streamable text of a tool output block.
func blockText(b message.Block) string {
	if tb, ok := b.(message.TextBlock); ok {
		return tb.Text
	}
	return ""
}

func completionID() string {
	return "chatcmpl-" + uuid.NewString()
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, &errorResponse{Error: errorBody{Message: msg, Type: "invalid_request_error"}})
}

// validateSessionID guards the HTTP surface with the session layer's rules
// even when persistence is disabled.
func validateSessionID(id string) error {
	return session.ValidateSessionID(id)
}
