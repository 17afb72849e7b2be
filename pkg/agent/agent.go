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

// Package agent implements the reason/act execution engine. An agent owns a
// memory and a hook pipeline, shares a toolkit by reference, and drives a
// model port through up to MaxIters reasoning passes per call, dispatching
// requested tool calls concurrently between passes.
//
// A call's progress is exposed as a lazy event sequence (see package hook);
// the terminal PostCall event carries the reply and finish reason. Calls on
// one agent are serialized: a new call does not start until the previous one
// has emitted PostCall.
package agent

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/agentcore/pkg/hook"
	"github.com/kadirpekel/agentcore/pkg/memory"
	"github.com/kadirpekel/agentcore/pkg/message"
	"github.com/kadirpekel/agentcore/pkg/model"
	"github.com/kadirpekel/agentcore/pkg/state"
	"github.com/kadirpekel/agentcore/pkg/tool"
)

// Agent is the ReAct execution engine for one conversation.
type Agent struct {
	// callMu serializes calls on this agent.
	callMu sync.Mutex

	cfg     Config
	llm     model.LLM
	memory  memory.Memory
	toolkit *tool.Toolkit
	hooks   *hook.Pipeline
}

// New creates an agent. The memory is owned by the agent; the toolkit is
// shared by reference. A nil pipeline gets an empty one.
func New(cfg Config, llm model.LLM, mem memory.Memory, tk *tool.Toolkit, hooks *hook.Pipeline) (*Agent, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, newError(KindBadInput, "", err)
	}
	if llm == nil {
		return nil, newError(KindBadInput, "", fmt.Errorf("model is required"))
	}
	if mem == nil {
		mem = memory.NewInMemory()
	}
	if tk == nil {
		tk = tool.NewToolkit()
	}
	if hooks == nil {
		hooks = hook.NewPipeline(hook.WithBudget(cfg.HookBudget))
	}
	return &Agent{
		cfg:     cfg,
		llm:     llm,
		memory:  mem,
		toolkit: tk,
		hooks:   hooks,
	}, nil
}

// Name returns the agent's name.
func (a *Agent) Name() string { return a.cfg.Name }

// Memory returns the agent's message log.
func (a *Agent) Memory() memory.Memory { return a.memory }

// Toolkit returns the shared tool registry.
func (a *Agent) Toolkit() *tool.Toolkit { return a.toolkit }

// Hooks returns the agent's hook pipeline.
func (a *Agent) Hooks() *hook.Pipeline { return a.hooks }

// Result is the terminal outcome of one call.
type Result struct {
	// Reply is the final assistant message. Nil when the call failed
	// before producing one.
	Reply *message.Message

	// FinishReason is one of stop, error, tool_suspended, max_iters.
	FinishReason string

	// Usage is the accumulated token usage across reasoning passes.
	Usage *model.Usage

	// Interrupted reports the call was cut short by cancellation.
	Interrupted bool
}

// Run executes one call and returns its lazy event sequence. The sequence
// follows the order
//
//	PreCall (PreReasoning ReasoningChunk* PostReasoning
//	         (PreActing ActingChunk* PostActing)?)+ PostCall
//
// optionally interleaved with Error events. Input validation failures are
// returned through the error side before any event is emitted; memory is
// untouched in that case.
func (a *Agent) Run(ctx context.Context, input []*message.Message) iter.Seq2[hook.Event, error] {
	return func(yield func(hook.Event, error) bool) {
		if err := validateInput(input); err != nil {
			yield(nil, newError(KindBadInput, "", err))
			return
		}

		a.callMu.Lock()
		defer a.callMu.Unlock()

		callCtx := ctx
		var cancel context.CancelFunc
		var deadline time.Time
		if a.cfg.CallTimeout > 0 {
			deadline = time.Now().Add(a.cfg.CallTimeout)
			callCtx, cancel = context.WithDeadline(ctx, deadline)
			defer cancel()
		}

		ec := newExecutionContext(a.cfg.Name, uuid.NewString(), deadline)
		callCtx = withExecContext(callCtx, ec)

		run := &callRun{
			agent: a,
			ctx:   callCtx,
			ec:    ec,
			yield: yield,
		}
		run.execute(input)
	}
}

// Call executes one call to completion and returns its result, discarding
// intermediate events.
func (a *Agent) Call(ctx context.Context, input []*message.Message) (*Result, error) {
	var res *Result
	for ev, err := range a.Run(ctx, input) {
		if err != nil {
			return nil, err
		}
		if pc, ok := ev.(*hook.PostCall); ok {
			res = &Result{
				Reply:        pc.Reply,
				FinishReason: pc.FinishReason,
				Usage:        pc.Usage,
				Interrupted:  pc.Interrupted,
			}
		}
	}
	if res == nil {
		return nil, newError(KindCancelled, "", context.Canceled)
	}
	return res, nil
}

func validateInput(input []*message.Message) error {
	for i, msg := range input {
		if msg == nil {
			return fmt.Errorf("input message %d is nil", i)
		}
		if !message.ValidRole(msg.Role) {
			return fmt.Errorf("input message %d has unknown role %q", i, msg.Role)
		}
	}
	return nil
}

// State module integration. The agent serializes its identity so a session
// saved by one agent is not silently loaded into another.

const stateKeyName = "name"

// ComponentName implements state.Module.
func (a *Agent) ComponentName() string { return "agent" }

// StateDict implements state.Module.
func (a *Agent) StateDict() (map[string]any, error) {
	return map[string]any{stateKeyName: a.cfg.Name}, nil
}

// LoadStateDict implements state.Module. A name mismatch is always an error;
// strict additionally rejects unknown keys.
func (a *Agent) LoadStateDict(dict map[string]any, strict bool) error {
	if strict {
		for key := range dict {
			if key != stateKeyName {
				return fmt.Errorf("agent state: unknown key %q", key)
			}
		}
	}
	if name, ok := dict[stateKeyName].(string); ok && name != a.cfg.Name {
		return fmt.Errorf("agent state belongs to %q, not %q", name, a.cfg.Name)
	}
	return nil
}

var _ state.Module = (*Agent)(nil)
