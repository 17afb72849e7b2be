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

package agent

import (
	"errors"
	"time"

	"github.com/kadirpekel/agentcore/pkg/model"
)

// Default configuration values.
const (
	DefaultMaxIters         = 10
	DefaultStreamBufferSize = 1024
	DefaultHookBudget       = 5 * time.Second
)

// Config holds the engine options for one agent.
type Config struct {
	// Name identifies the agent. Required.
	Name string `yaml:"name"`

	// SystemPrompt is prepended to every model request.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxIters bounds the reason/act loop. Must be positive.
	MaxIters int `yaml:"max_iters"`

	// CallTimeout bounds a whole call. Zero means unbounded.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// HookBudget bounds each hook invocation.
	HookBudget time.Duration `yaml:"hook_budget"`

	// StreamBufferSize bounds the model fragment queue. Exceeding it
	// aborts the call with an overflow error. Must be positive.
	StreamBufferSize int `yaml:"stream_buffer_size"`

	// Generate carries generation parameters forwarded to the model.
	Generate *model.GenerateConfig `yaml:"-"`
}

// SetDefaults fills unset fields with defaults.
func (c *Config) SetDefaults() {
	if c.MaxIters == 0 {
		c.MaxIters = DefaultMaxIters
	}
	if c.StreamBufferSize == 0 {
		c.StreamBufferSize = DefaultStreamBufferSize
	}
	if c.HookBudget == 0 {
		c.HookBudget = DefaultHookBudget
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("agent name is required")
	}
	if c.MaxIters <= 0 {
		return errors.New("max_iters must be positive")
	}
	if c.StreamBufferSize <= 0 {
		return errors.New("stream_buffer_size must be positive")
	}
	if c.CallTimeout < 0 || c.HookBudget < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}
