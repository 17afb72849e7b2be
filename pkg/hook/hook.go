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

package hook

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultPriority is assigned when a hook does not specify one.
const DefaultPriority = 100

// Hook observes and optionally modifies execution events.
type Hook interface {
	// Name identifies the hook in diagnostics.
	Name() string

	// Priority orders execution within the pipeline: lower runs first.
	Priority() int

	// Handle processes one event. For modifiable event types, returning a
	// non-nil event of the same type replaces the original; returning nil
	// keeps it. For observation events the return value is ignored.
	Handle(ctx context.Context, ev Event) (Event, error)
}

// Func adapts a function into a Hook with a name and priority.
type Func struct {
	HookName     string
	HookPriority int
	Fn           func(ctx context.Context, ev Event) (Event, error)
}

func (f *Func) Name() string { return f.HookName }

func (f *Func) Priority() int {
	if f.HookPriority == 0 {
		return DefaultPriority
	}
	return f.HookPriority
}

func (f *Func) Handle(ctx context.Context, ev Event) (Event, error) {
	return f.Fn(ctx, ev)
}

// HookError reports the failure of one hook on one event. The pipeline
// collects these instead of failing, so a broken hook never aborts a call.
type HookError struct {
	Hook  string
	Event Type
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %q failed on %s: %v", e.Hook, e.Event, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Pipeline runs registered hooks over events in priority order. Registration
// order breaks priority ties. Safe for concurrent dispatch; mutation takes
// the write lock.
type Pipeline struct {
	mu     sync.RWMutex
	hooks  []Hook
	budget time.Duration
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithBudget bounds each hook invocation with a context deadline. Zero
// disables the bound.
func WithBudget(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.budget = d }
}

// NewPipeline creates an empty pipeline.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Register adds a hook. Hooks with equal priority run in registration order.
func (p *Pipeline) Register(h Hook) {
	if h == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, h)
	sort.SliceStable(p.hooks, func(i, j int) bool {
		return p.hooks[i].Priority() < p.hooks[j].Priority()
	})
}

// Remove deletes all hooks with the given name.
func (p *Pipeline) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.hooks[:0]
	for _, h := range p.hooks {
		if h.Name() != name {
			kept = append(kept, h)
		}
	}
	p.hooks = kept
}

// Len returns the number of registered hooks.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.hooks)
}

// Dispatch runs the event through every hook in order and returns the
// (possibly replaced) event plus the errors of hooks that failed. A failing
// hook is skipped; later hooks still see the latest accepted event. A
// replacement of the wrong type counts as a hook failure and is discarded.
func (p *Pipeline) Dispatch(ctx context.Context, ev Event) (Event, []*HookError) {
	p.mu.RLock()
	hooks := make([]Hook, len(p.hooks))
	copy(hooks, p.hooks)
	budget := p.budget
	p.mu.RUnlock()

	var errs []*HookError
	modifiable := Modifiable(ev.EventType())

	for _, h := range hooks {
		replacement, err := p.runOne(ctx, h, ev, budget)
		if err != nil {
			errs = append(errs, &HookError{Hook: h.Name(), Event: ev.EventType(), Err: err})
			continue
		}
		if !modifiable || replacement == nil {
			continue
		}
		if replacement.EventType() != ev.EventType() {
			errs = append(errs, &HookError{
				Hook:  h.Name(),
				Event: ev.EventType(),
				Err: fmt.Errorf("replacement event type %s does not match %s",
					replacement.EventType(), ev.EventType()),
			})
			continue
		}
		ev = replacement
	}

	return ev, errs
}

// runOne executes a single hook under the budget, converting panics into
// errors.
func (p *Pipeline) runOne(ctx context.Context, h Hook, ev Event, budget time.Duration) (out Event, err error) {
	if budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Handle(ctx, ev)
}

var _ Hook = (*Func)(nil)
