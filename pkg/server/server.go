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

// Package server exposes the engine over a Chat-Completions-compatible HTTP
// API, unary and SSE. Sessions bind requests to durable memories; engines
// are built per request around the session's memory so request-scoped tools
// never leak between callers.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kadirpekel/agentcore/pkg/config"
	"github.com/kadirpekel/agentcore/pkg/hook"
	"github.com/kadirpekel/agentcore/pkg/memory"
	"github.com/kadirpekel/agentcore/pkg/model"
	"github.com/kadirpekel/agentcore/pkg/session"
	"github.com/kadirpekel/agentcore/pkg/tool"
)

// ModelProvider resolves the model backend for an agent name.
type ModelProvider func(agentName string) model.LLM

// Options configures a Server.
type Options struct {
	// Config is required.
	Config *config.Config

	// Models resolves model backends per agent. Required.
	Models ModelProvider

	// Toolkit is the shared base registry. Request-scoped tools overlay a
	// clone of it. Nil gets an empty toolkit.
	Toolkit *tool.Toolkit

	// Hooks is the shared pipeline. Nil gets an empty one.
	Hooks *hook.Pipeline

	// Sessions enables persistence when non-nil.
	Sessions *session.Service
}

// Server is the HTTP surface over the execution engine.
type Server struct {
	cfg      *config.Config
	models   ModelProvider
	toolkit  *tool.Toolkit
	hooks    *hook.Pipeline
	sessions *session.Service

	httpServer *http.Server

	mu      sync.Mutex
	entries map[string]*sessionEntry

	janitorStop chan struct{}
	janitorOnce sync.Once
}

// sessionEntry is one live session binding: its memory plus the lock that
// serializes calls against it.
type sessionEntry struct {
	mu       sync.Mutex
	memory   *memory.InMemory
	hydrated bool
	lastUsed time.Time
}

// New creates the server and its router.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Models == nil {
		return nil, fmt.Errorf("model provider is required")
	}
	if opts.Toolkit == nil {
		opts.Toolkit = tool.NewToolkit()
	}
	if opts.Hooks == nil {
		opts.Hooks = hook.NewPipeline()
	}

	s := &Server{
		cfg:         opts.Config,
		models:      opts.Models,
		toolkit:     opts.Toolkit,
		hooks:       opts.Hooks,
		sessions:    opts.Sessions,
		entries:     make(map[string]*sessionEntry),
		janitorStop: make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/v1/agents", s.handleAgents)
	r.Post("/v1/chat/completions", s.handleChatCompletions)
	r.Post("/v1/agents/{agent}/chat/completions", s.handleChatCompletions)

	s.httpServer = &http.Server{
		Addr:              opts.Config.ListenAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start runs the listener until Shutdown.
func (s *Server) Start() error {
	go s.janitor()
	slog.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains connections and stops the session janitor.
func (s *Server) Shutdown(ctx context.Context) error {
	s.janitorOnce.Do(func() { close(s.janitorStop) })
	return s.httpServer.Shutdown(ctx)
}

// acquireSession returns the entry for an agent/session pair, creating and
// (when persistence is on) hydrating it on first use. Hydration runs under
// the entry lock, so concurrent first-touch requests for the same session
// serialize behind one load and never see a half-restored memory.
func (s *Server) acquireSession(ctx context.Context, agentName, sessionID string) (*sessionEntry, error) {
	key := agentName + "/" + sessionID

	s.mu.Lock()
	entry, ok := s.entries[key]
	if !ok {
		entry = &sessionEntry{memory: memory.NewInMemory(), hydrated: s.sessions == nil}
		s.entries[key] = entry
	}
	entry.lastUsed = time.Now()
	s.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.hydrated {
		if err := s.sessions.Load(ctx, sessionID, true, entry.memory); err != nil {
			s.mu.Lock()
			delete(s.entries, key)
			s.mu.Unlock()
			return nil, fmt.Errorf("load session %q: %w", sessionID, err)
		}
		entry.hydrated = true
	}
	return entry, nil
}

// janitor evicts session entries idle past the TTL. Persistent state stays
// in the backend; eviction only drops the in-process memory.
func (s *Server) janitor() {
	ttl := s.cfg.Server.SessionTTL
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.janitorStop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for key, entry := range s.entries {
				if now.Sub(entry.lastUsed) > ttl {
					delete(s.entries, key)
					slog.Debug("Evicted idle session engine", "key", key)
				}
			}
			s.mu.Unlock()
		}
	}
}
