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

import "fmt"

// Error kinds. BadToolArguments, ToolError and ToolTimeout are local to one
// call ID and never terminate the call; every other kind does.
const (
	KindBadInput         = "bad_input"
	KindBadToolArguments = "bad_tool_arguments"
	KindToolError        = "tool_error"
	KindToolTimeout      = "tool_timeout"
	KindModelError       = "model_error"
	KindCancelled        = "cancelled"
	KindTimeout          = "timeout"
	KindHookError        = "hook_error"
	KindOverflow         = "overflow"
	KindViolation        = "invariant_violation"
)

// Phases name where within a call a failure occurred.
const (
	PhaseReasoning = "reasoning"
	PhaseActing    = "acting"
	PhaseHook      = "hook"
	PhaseStream    = "stream"
)

// Finish reasons carried by PostCall and the HTTP surface.
const (
	FinishStop          = "stop"
	FinishError         = "error"
	FinishToolSuspended = "tool_suspended"
	FinishMaxIters      = "max_iters"
)

// Error is the engine's error type, classified by kind and phase.
type Error struct {
	Kind  string
	Phase string
	Err   error
}

func (e *Error) Error() string {
	if e.Phase != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Phase, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds a classified engine error.
func newError(kind, phase string, err error) *Error {
	return &Error{Kind: kind, Phase: phase, Err: err}
}
