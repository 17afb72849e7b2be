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
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kadirpekel/agentcore/pkg/message"
)

// entry is one registered tool. Schema compilation happens once at
// registration and is cached here.
type entry struct {
	tool     Tool // nil for schema-only registrations
	def      Definition
	validate func(args any) error
}

// Toolkit is the tool registry and invocation entry point. It is shared by
// reference across engines. Lookups are lock-free snapshots; registration
// mutations replace the snapshot under a mutex (copy-on-write).
type Toolkit struct {
	mu      sync.Mutex
	entries atomic.Pointer[map[string]*entry]

	// executionTimeout bounds each invocation. Zero disables the bound.
	executionTimeout time.Duration
}

// Option configures a Toolkit.
type Option func(*Toolkit)

// WithExecutionTimeout sets the per-invocation timeout.
func WithExecutionTimeout(d time.Duration) Option {
	return func(tk *Toolkit) {
		tk.executionTimeout = d
	}
}

// NewToolkit creates an empty toolkit.
func NewToolkit(opts ...Option) *Toolkit {
	tk := &Toolkit{}
	empty := make(map[string]*entry)
	tk.entries.Store(&empty)
	for _, opt := range opts {
		opt(tk)
	}
	return tk
}

// Register adds a tool, deriving its descriptor from the tool itself. The
// parameter schema is compiled once here and cached. Registering a name that
// already exists replaces the prior entry and logs a warning.
func (tk *Toolkit) Register(t Tool) error {
	if t == nil {
		return errors.New("cannot register nil tool")
	}
	if t.Name() == "" {
		return errors.New("tool name is required")
	}
	def := Definition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Schema(),
	}
	return tk.put(&entry{tool: t, def: def})
}

// RegisterFunc adds a tool from an explicit descriptor and invoker. This is
// the fully explicit registration form: nothing is derived by reflection.
func (tk *Toolkit) RegisterFunc(def Definition, fn func(ctx context.Context, args map[string]any) ([]message.Block, error)) error {
	if def.Name == "" {
		return errors.New("tool name is required")
	}
	if fn == nil {
		return errors.New("tool invoker is required")
	}
	return tk.put(&entry{tool: &funcTool{def: def, fn: fn}, def: def})
}

// funcTool adapts an explicit descriptor plus invoker into a CallableTool.
type funcTool struct {
	def Definition
	fn  func(ctx context.Context, args map[string]any) ([]message.Block, error)
}

func (t *funcTool) Name() string           { return t.def.Name }
func (t *funcTool) Description() string    { return t.def.Description }
func (t *funcTool) Schema() map[string]any { return t.def.Parameters }
func (t *funcTool) Call(ctx context.Context, args map[string]any) ([]message.Block, error) {
	return t.fn(ctx, args)
}

// RegisterSchemaOnly adds a tool that has a descriptor but no body. Invoking
// it yields a "suspended" terminal marker for an external executor.
func (tk *Toolkit) RegisterSchemaOnly(def Definition) error {
	if def.Name == "" {
		return errors.New("tool name is required")
	}
	return tk.put(&entry{tool: nil, def: def})
}

// Remove deletes a tool registration. Removing an unknown name is a no-op.
func (tk *Toolkit) Remove(name string) {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	current := *tk.entries.Load()
	if _, ok := current[name]; !ok {
		return
	}
	next := make(map[string]*entry, len(current))
	for k, v := range current {
		if k != name {
			next[k] = v
		}
	}
	tk.entries.Store(&next)
}

// Definitions returns the descriptors of all registered tools, sorted by
// name for deterministic prompts.
func (tk *Toolkit) Definitions() []Definition {
	current := *tk.entries.Load()
	defs := make([]Definition, 0, len(current))
	for _, e := range current {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Has reports whether a tool with the given name is registered.
func (tk *Toolkit) Has(name string) bool {
	current := *tk.entries.Load()
	_, ok := current[name]
	return ok
}

// IsSchemaOnly reports whether the named tool is registered by descriptor
// only.
func (tk *Toolkit) IsSchemaOnly(name string) bool {
	current := *tk.entries.Load()
	e, ok := current[name]
	return ok && e.tool == nil
}

// Clone returns a toolkit sharing this one's registrations at the time of
// the call. Later mutations on either side are invisible to the other; the
// HTTP adapter uses this for per-request tool overlays.
func (tk *Toolkit) Clone() *Toolkit {
	tk.mu.Lock()
	defer tk.mu.Unlock()

	current := *tk.entries.Load()
	next := make(map[string]*entry, len(current))
	for k, v := range current {
		next[k] = v
	}
	clone := &Toolkit{executionTimeout: tk.executionTimeout}
	clone.entries.Store(&next)
	return clone
}

// put installs an entry, compiling its schema validator.
func (tk *Toolkit) put(e *entry) error {
	validate, err := compileValidator(e.def.Parameters)
	if err != nil {
		return fmt.Errorf("invalid parameter schema for %q: %w", e.def.Name, err)
	}
	e.validate = validate

	tk.mu.Lock()
	defer tk.mu.Unlock()

	current := *tk.entries.Load()
	if _, exists := current[e.def.Name]; exists {
		slog.Warn("Replacing existing tool registration", "tool", e.def.Name)
	}
	next := make(map[string]*entry, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[e.def.Name] = e
	tk.entries.Store(&next)
	return nil
}

// Invoke executes one tool call and returns its chunk sequence. The sequence
// is finite and ends with exactly one terminal chunk; schema failures,
// unknown names, timeouts and cancellation all surface as terminal error
// chunks rather than Go errors, so the engine can treat them uniformly as
// failing tool results.
func (tk *Toolkit) Invoke(ctx context.Context, call Call) iter.Seq[*Chunk] {
	return func(yield func(*Chunk) bool) {
		start := time.Now()

		terminal := func(res *Result) {
			res.Duration = time.Since(start)
			yield(&Chunk{Result: res})
		}

		current := *tk.entries.Load()
		e, ok := current[call.Name]
		if !ok {
			terminal(&Result{
				Output:  errorText(fmt.Sprintf("unknown tool %q", call.Name)),
				IsError: true,
				Kind:    KindError,
			})
			return
		}

		// Schema-only tools are satisfied externally.
		if e.tool == nil {
			terminal(&Result{Kind: KindSuspended})
			return
		}

		// Validate before any user code runs.
		if err := e.validate(normalizeArgs(call.Args)); err != nil {
			terminal(&Result{
				Output:  errorText(fmt.Sprintf("invalid arguments for %q: %v", call.Name, err)),
				IsError: true,
				Kind:    KindError,
			})
			return
		}

		invCtx := ctx
		var cancel context.CancelFunc
		if tk.executionTimeout > 0 {
			invCtx, cancel = context.WithTimeout(ctx, tk.executionTimeout)
			defer cancel()
		}

		switch t := e.tool.(type) {
		case StreamingTool:
			tk.invokeStreaming(ctx, invCtx, t, call, start, yield)
		case CallableTool:
			tk.invokeCallable(ctx, invCtx, t, call, start, yield)
		default:
			terminal(&Result{
				Output:  errorText(fmt.Sprintf("tool %q is not callable", call.Name)),
				IsError: true,
				Kind:    KindError,
			})
		}
	}
}

// invokeCallable runs a synchronous tool under the invocation context. The
// call runs in its own goroutine so the timeout applies even to a tool that
// ignores its context.
func (tk *Toolkit) invokeCallable(
	parent, invCtx context.Context,
	t CallableTool,
	call Call,
	start time.Time,
	yield func(*Chunk) bool,
) {
	type outcome struct {
		blocks []message.Block
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool %q panicked: %v", call.Name, r)}
			}
		}()
		blocks, err := t.Call(invCtx, call.Args)
		done <- outcome{blocks: blocks, err: err}
	}()

	select {
	case out := <-done:
		res := &Result{Output: out.blocks, Duration: time.Since(start)}
		if out.err != nil {
			res.Output = errorText(out.err.Error())
			res.IsError = true
			res.Kind = KindError
		}
		yield(&Chunk{Result: res})
	case <-invCtx.Done():
		yield(&Chunk{Result: tk.interruptedResult(parent, invCtx, call, start)})
	}
}

// invokeStreaming drains a streaming tool, forwarding deltas and mapping the
// final result. If the tool's sequence ends without a final result, an empty
// successful terminal is synthesized so the chunk contract holds.
func (tk *Toolkit) invokeStreaming(
	parent, invCtx context.Context,
	t StreamingTool,
	call Call,
	start time.Time,
	yield func(*Chunk) bool,
) {
	var sawTerminal bool

	for sr, err := range t.CallStreaming(invCtx, call.Args) {
		if invCtx.Err() != nil {
			yield(&Chunk{Result: tk.interruptedResult(parent, invCtx, call, start)})
			return
		}
		if err != nil {
			yield(&Chunk{Result: &Result{
				Output:   errorText(err.Error()),
				IsError:  true,
				Kind:     KindError,
				Duration: time.Since(start),
			}})
			return
		}
		if sr == nil {
			continue
		}

		if sr.Streaming {
			if sr.Delta == nil {
				continue
			}
			if !yield(&Chunk{Delta: sr.Delta}) {
				return
			}
			continue
		}

		sawTerminal = true
		res := &Result{Output: sr.Output, Duration: time.Since(start)}
		if sr.Err != "" {
			res.IsError = true
			res.Kind = KindError
			res.Output = append(errorText(sr.Err), sr.Output...)
		}
		yield(&Chunk{Result: res})
		return
	}

	if !sawTerminal {
		if invCtx.Err() != nil {
			yield(&Chunk{Result: tk.interruptedResult(parent, invCtx, call, start)})
			return
		}
		yield(&Chunk{Result: &Result{Duration: time.Since(start)}})
	}
}

// interruptedResult classifies a context interruption as cancellation or
// timeout. A parent cancellation always wins over the invocation deadline.
func (tk *Toolkit) interruptedResult(parent, invCtx context.Context, call Call, start time.Time) *Result {
	kind := KindTimeout
	msg := fmt.Sprintf("tool %q timed out after %s", call.Name, tk.executionTimeout)
	if parent.Err() != nil && !errors.Is(invCtx.Err(), context.DeadlineExceeded) {
		kind = KindCancelled
		msg = fmt.Sprintf("tool %q cancelled", call.Name)
	} else if parent.Err() != nil && errors.Is(parent.Err(), context.Canceled) {
		kind = KindCancelled
		msg = fmt.Sprintf("tool %q cancelled", call.Name)
	}
	return &Result{
		Output:   errorText(msg),
		IsError:  true,
		Kind:     kind,
		Duration: time.Since(start),
	}
}
