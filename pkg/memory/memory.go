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

// Package memory provides the ordered message store scoped to one agent
// instance. Insertion order is the conversational order the model sees.
package memory

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kadirpekel/agentcore/pkg/message"
	"github.com/kadirpekel/agentcore/pkg/state"
)

// Memory is an ordered, append-only (from the engine's perspective) log of
// messages. External callers may clear or replace it wholesale; all
// mutations hold the memory's internal mutex.
type Memory interface {
	state.Module

	// Append adds one message to the end of the log.
	Append(msg *message.Message)

	// AppendAll adds messages in order, atomically with respect to Snapshot.
	AppendAll(msgs []*message.Message)

	// Snapshot returns a consistent point-in-time copy of the log.
	Snapshot() []*message.Message

	// Clear removes all messages.
	Clear()

	// Size returns the number of stored messages.
	Size() int
}

// componentName identifies memory state inside a session document.
const componentName = "memory"

// stateKeyMessages is the single attribute InMemory serializes.
const stateKeyMessages = "messages"

// InMemory is the default Memory implementation.
type InMemory struct {
	mu   sync.RWMutex
	msgs []*message.Message
}

// NewInMemory creates an empty in-memory message log.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (m *InMemory) Append(msg *message.Message) {
	if msg == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
}

func (m *InMemory) AppendAll(msgs []*message.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		if msg != nil {
			m.msgs = append(m.msgs, msg)
		}
	}
}

func (m *InMemory) Snapshot() []*message.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*message.Message, len(m.msgs))
	copy(out, m.msgs)
	return out
}

func (m *InMemory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = nil
}

func (m *InMemory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.msgs)
}

// ComponentName implements state.Module.
func (m *InMemory) ComponentName() string { return componentName }

// StateDict serializes the full ordered message list.
func (m *InMemory) StateDict() (map[string]any, error) {
	snapshot := m.Snapshot()

	// Round-trip through the canonical JSON encoding so the dict is pure
	// JSON-shaped data, independent of the Block union types.
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode memory: %w", err)
	}
	var encoded []any
	if err := json.Unmarshal(data, &encoded); err != nil {
		return nil, fmt.Errorf("encode memory: %w", err)
	}
	if encoded == nil {
		encoded = []any{}
	}
	return map[string]any{stateKeyMessages: encoded}, nil
}

// LoadStateDict replaces the log wholesale. Nothing is mutated unless the
// entire dict decodes cleanly.
func (m *InMemory) LoadStateDict(dict map[string]any, strict bool) error {
	if strict {
		for key := range dict {
			if key != stateKeyMessages {
				return fmt.Errorf("memory state: unknown key %q", key)
			}
		}
	}

	raw, ok := dict[stateKeyMessages]
	if !ok {
		m.Clear()
		return nil
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("decode memory: %w", err)
	}
	var msgs []*message.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return fmt.Errorf("decode memory: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = msgs
	return nil
}

var (
	_ Memory       = (*InMemory)(nil)
	_ state.Module = (*InMemory)(nil)
)
