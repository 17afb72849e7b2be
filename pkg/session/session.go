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

// Package session persists aggregated component state across processes. A
// session maps an ID to one document: component name to state dict. Saves
// write the whole document atomically; the storage backend serializes
// concurrent saves for the same ID, last write wins.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/agentcore/pkg/state"
)

// Document is the aggregated session payload keyed by component name.
type Document = map[string]map[string]any

// Info describes a stored session.
type Info struct {
	ID           string    `json:"id"`
	Size         int64     `json:"size"`
	Components   int       `json:"components"`
	LastModified time.Time `json:"last_modified"`
}

// Storage layer errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionCorrupt  = errors.New("session corrupt")
)

// Store is the storage backend contract. Backends provide per-session
// atomicity; the service adds no global locking.
type Store interface {
	// Save writes the aggregated document in one atomic operation,
	// overwriting in place.
	Save(ctx context.Context, id string, doc Document) error

	// Load reads the aggregated document. Returns ErrSessionNotFound when
	// the session does not exist, ErrSessionCorrupt when it cannot be
	// decoded.
	Load(ctx context.Context, id string) (Document, error)

	// Exists reports whether the session is stored.
	Exists(ctx context.Context, id string) (bool, error)

	// List returns all stored session IDs.
	List(ctx context.Context) ([]string, error)

	// Delete removes the session. Deleting an unknown ID is a no-op.
	Delete(ctx context.Context, id string) error

	// Info returns size, component count and last-modified time.
	Info(ctx context.Context, id string) (*Info, error)
}

// maxSessionIDLength bounds session IDs so they stay usable as file names
// and storage keys.
const maxSessionIDLength = 255

// ValidateSessionID checks that an ID is non-empty, carries no path
// separators and fits the length bound.
func ValidateSessionID(id string) error {
	if id == "" {
		return errors.New("session id is empty")
	}
	if len(id) > maxSessionIDLength {
		return fmt.Errorf("session id exceeds %d characters", maxSessionIDLength)
	}
	if strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("session id %q contains a path separator", id)
	}
	return nil
}

// maxIdentifierLength bounds schema and table names.
const maxIdentifierLength = 64

// ValidIdentifier checks a schema or table name: letters, digits and
// underscore only, not starting with a digit, length bounded.
func ValidIdentifier(name string) error {
	if name == "" {
		return errors.New("identifier is empty")
	}
	if len(name) > maxIdentifierLength {
		return fmt.Errorf("identifier %q exceeds %d characters", name, maxIdentifierLength)
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return fmt.Errorf("identifier %q starts with a digit", name)
			}
		default:
			return fmt.Errorf("identifier %q contains %q", name, r)
		}
	}
	return nil
}

// Service aggregates state modules over a Store.
type Service struct {
	store Store
}

// NewService creates a session service over the given backend.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Save collects the modules' state dicts into one document and writes it
// atomically. Nothing is written if any module fails to serialize.
func (s *Service) Save(ctx context.Context, id string, modules ...state.Module) error {
	if err := ValidateSessionID(id); err != nil {
		return err
	}
	doc, err := state.Collect(modules...)
	if err != nil {
		return err
	}
	return s.store.Save(ctx, id, doc)
}

// Load reads the session document and restores each named component that is
// present, with strict=false. A missing session is an error unless
// allowMissing is set.
func (s *Service) Load(ctx context.Context, id string, allowMissing bool, modules ...state.Module) error {
	if err := ValidateSessionID(id); err != nil {
		return err
	}
	doc, err := s.store.Load(ctx, id)
	if err != nil {
		if allowMissing && errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	return state.Restore(doc, false, modules...)
}

// Exists reports whether the session is stored.
func (s *Service) Exists(ctx context.Context, id string) (bool, error) {
	if err := ValidateSessionID(id); err != nil {
		return false, err
	}
	return s.store.Exists(ctx, id)
}

// List returns all stored session IDs.
func (s *Service) List(ctx context.Context) ([]string, error) {
	return s.store.List(ctx)
}

// Delete removes the session.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := ValidateSessionID(id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// Info returns storage metadata for the session.
func (s *Service) Info(ctx context.Context, id string) (*Info, error) {
	if err := ValidateSessionID(id); err != nil {
		return nil, err
	}
	return s.store.Info(ctx, id)
}
