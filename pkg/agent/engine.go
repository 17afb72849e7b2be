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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/agentcore/pkg/hook"
	"github.com/kadirpekel/agentcore/pkg/message"
	"github.com/kadirpekel/agentcore/pkg/model"
	"github.com/kadirpekel/agentcore/pkg/tool"
)

// InterruptedText is the content of the interruption marker message returned
// when a call is cancelled or times out.
const InterruptedText = "[interrupted]"

// MetadataKeyInterrupted marks the interruption marker message.
const MetadataKeyInterrupted = "interrupted"

// callRun is the state of one in-flight call. It lives for the duration of
// one Run sequence and is never shared across calls.
type callRun struct {
	agent *Agent
	ctx   context.Context
	ec    *ExecutionContext
	yield func(hook.Event, error) bool

	// stopped is set when the consumer abandons the sequence; all further
	// emission becomes a no-op while cleanup proceeds.
	stopped bool

	usage model.Usage

	// seen tracks call IDs across the whole call; a reused ID is an
	// invariant violation that fails the turn.
	seen map[string]bool
}

func (r *callRun) meta(iteration int) hook.Meta {
	return hook.NewMeta(r.agent.cfg.Name, r.ec.InvocationID, iteration)
}

// emitError routes a failure through the pipeline as an Error event. Hook
// failures while observing an Error event are dropped to avoid recursion.
func (r *callRun) emitError(iteration int, phase, kind string, err error) {
	if r.stopped {
		return
	}
	ev := &hook.Error{Meta: r.meta(iteration), Phase: phase, Kind: kind, Err: err}
	out, _ := r.agent.hooks.Dispatch(r.ctx, ev)
	if !r.yield(out, nil) {
		r.stopped = true
	}
}

// emit dispatches an event through the pipeline and yields it, surfacing
// each failing hook as its own Error event first. Returns the event as
// (possibly) replaced by hooks.
func (r *callRun) emit(ev hook.Event) hook.Event {
	if r.stopped {
		return ev
	}
	out, herrs := r.agent.hooks.Dispatch(r.ctx, ev)
	for _, he := range herrs {
		r.emitError(ev.EventMeta().Iteration, PhaseHook, KindHookError, he)
		if r.stopped {
			return out
		}
	}
	if !r.yield(out, nil) {
		r.stopped = true
	}
	return out
}

func (r *callRun) addUsage(u *model.Usage) {
	if u == nil {
		return
	}
	r.usage.PromptTokens += u.PromptTokens
	r.usage.CompletionTokens += u.CompletionTokens
	r.usage.TotalTokens += u.TotalTokens
	r.usage.ThinkingTokens += u.ThinkingTokens
}

// execute drives the reason/act loop for one call.
func (r *callRun) execute(input []*message.Message) {
	r.seen = make(map[string]bool)

	r.emit(&hook.PreCall{Meta: r.meta(0), Input: input})
	if r.stopped {
		return
	}
	r.agent.memory.AppendAll(input)

	var reply *message.Message
	finish := FinishMaxIters

	for iteration := 1; iteration <= r.agent.cfg.MaxIters; iteration++ {
		msg, ok := r.reason(iteration)
		if !ok {
			return
		}
		reply = msg

		calls, bad, err := r.extractCalls(msg)
		if err != nil {
			r.emitError(iteration, PhaseActing, KindViolation, err)
			r.finish(nil, FinishError, false)
			return
		}
		if len(calls) == 0 && len(bad) == 0 {
			finish = FinishStop
			break
		}

		suspended, ok := r.act(iteration, calls, bad)
		if !ok {
			return
		}
		if suspended {
			r.finish(msg, FinishToolSuspended, false)
			return
		}
	}

	r.finish(reply, finish, false)
}

// finish emits the terminal PostCall event. Hooks may replace the reply.
func (r *callRun) finish(reply *message.Message, reason string, interrupted bool) {
	usage := r.usage
	r.emit(&hook.PostCall{
		Meta:         r.meta(0),
		Reply:        reply,
		FinishReason: reason,
		Interrupted:  interrupted,
		Usage:        &usage,
	})
}

// finishInterrupted terminates a cancelled or timed-out call: one Error
// event for the active phase, then PostCall with an interruption marker
// message. Memory keeps whatever was appended before the abort.
func (r *callRun) finishInterrupted(iteration int, phase string) {
	kind := KindCancelled
	err := r.ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	if err == nil {
		err = context.Canceled
	}
	r.emitError(iteration, phase, kind, err)

	marker := message.New(message.RoleAssistant, message.TextBlock{Text: InterruptedText}).
		WithMetadata(MetadataKeyInterrupted, true)
	r.finish(marker, FinishError, true)
}

// streamEnd is the producer's exit report for one model stream.
type streamEnd struct {
	err      error
	overflow bool
}

// reason runs one reasoning pass: PreReasoning, the model stream through the
// bounded fragment queue, PostReasoning, then memory append. Returns false
// when the pass terminated the call.
func (r *callRun) reason(iteration int) (*message.Message, bool) {
	if r.ctx.Err() != nil {
		r.finishInterrupted(iteration, PhaseReasoning)
		return nil, false
	}

	req := &model.Request{
		Messages:          r.agent.memory.Snapshot(),
		Tools:             r.agent.toolkit.Definitions(),
		Config:            r.agent.cfg.Generate.Clone(),
		SystemInstruction: r.agent.cfg.SystemPrompt,
	}
	ev := r.emit(&hook.PreReasoning{Meta: r.meta(iteration), Request: req})
	if r.stopped {
		return nil, false
	}
	if pr, ok := ev.(*hook.PreReasoning); ok && pr.Request != nil {
		req = pr.Request
	}

	// The producer never blocks on the consumer: fragments go through a
	// bounded queue and a full queue aborts the call with an overflow
	// error instead of backpressuring the model stream.
	fragCh := make(chan *model.ChatResponse, r.agent.cfg.StreamBufferSize)
	endCh := make(chan streamEnd, 1)
	go func() {
		defer close(fragCh)
		for frag, err := range r.agent.llm.Stream(r.ctx, req) {
			if err != nil {
				endCh <- streamEnd{err: err}
				return
			}
			select {
			case fragCh <- frag:
			default:
				endCh <- streamEnd{overflow: true}
				return
			}
		}
		endCh <- streamEnd{}
	}()

	agg := newAggregator()
	for frag := range fragCh {
		if r.ctx.Err() != nil {
			r.finishInterrupted(iteration, PhaseReasoning)
			return nil, false
		}
		agg.add(frag)
		r.emit(&hook.ReasoningChunk{Meta: r.meta(iteration), Fragment: frag})
		if r.stopped {
			return nil, false
		}
	}
	end := <-endCh

	switch {
	case end.overflow:
		r.emitError(iteration, PhaseStream, KindOverflow,
			fmt.Errorf("model fragment buffer exceeded %d", r.agent.cfg.StreamBufferSize))
		r.finish(nil, FinishError, false)
		return nil, false
	case end.err != nil:
		if errors.Is(end.err, context.Canceled) || errors.Is(end.err, context.DeadlineExceeded) {
			r.finishInterrupted(iteration, PhaseReasoning)
			return nil, false
		}
		r.emitError(iteration, PhaseReasoning, KindModelError, end.err)
		r.finish(nil, FinishError, false)
		return nil, false
	}
	if r.ctx.Err() != nil {
		r.finishInterrupted(iteration, PhaseReasoning)
		return nil, false
	}

	r.addUsage(agg.usage)
	msg := agg.message(r.agent.cfg.Name)
	ev = r.emit(&hook.PostReasoning{Meta: r.meta(iteration), Response: msg})
	if r.stopped {
		return nil, false
	}
	if pr, ok := ev.(*hook.PostReasoning); ok && pr.Response != nil {
		msg = pr.Response
	}
	r.agent.memory.Append(msg)
	return msg, true
}

// badCall is a tool call whose argument JSON failed to parse. Its body never
// runs; it is recorded as a failing tool result.
type badCall struct {
	id   string
	name string
	raw  string
}

// extractCalls partitions the assistant message's tool uses into dispatchable
// calls and malformed ones. A call ID seen earlier in this call fails the
// turn.
func (r *callRun) extractCalls(msg *message.Message) ([]tool.Call, []badCall, error) {
	var calls []tool.Call
	var bad []badCall
	for _, tu := range msg.ToolUses() {
		if r.seen[tu.CallID] {
			return nil, nil, fmt.Errorf("duplicate call_id %q", tu.CallID)
		}
		r.seen[tu.CallID] = true
		if tu.Arguments == nil {
			bad = append(bad, badCall{id: tu.CallID, name: tu.Name, raw: tu.RawArguments})
			continue
		}
		calls = append(calls, tool.Call{ID: tu.CallID, Name: tu.Name, Args: tu.Arguments})
	}
	return calls, bad, nil
}

// act runs one acting step: PreActing, concurrent tool dispatch, PostActing,
// memory append. Results are appended in lexicographic call-ID order even
// though execution interleaves. Returns suspended=true when any call hit a
// schema-only tool; ok=false when the step terminated the call.
func (r *callRun) act(iteration int, calls []tool.Call, bad []badCall) (suspended, ok bool) {
	ev := r.emit(&hook.PreActing{Meta: r.meta(iteration), Calls: calls})
	if r.stopped {
		return false, false
	}
	if pa, isPre := ev.(*hook.PreActing); isPre {
		calls = pa.Calls
	}

	type callOutcome struct {
		call tool.Call
		res  *tool.Result
	}
	outcomes := make([]*callOutcome, len(calls))

	chunkCh := make(chan *hook.ActingChunk, 16)
	g, gctx := errgroup.WithContext(r.ctx)
	for i, c := range calls {
		g.Go(func() error {
			for chunk := range r.agent.toolkit.Invoke(gctx, c) {
				if chunk.Terminal() {
					outcomes[i] = &callOutcome{call: c, res: chunk.Result}
					return nil
				}
				chunkCh <- &hook.ActingChunk{Meta: r.meta(iteration), CallID: c.ID, Delta: chunk.Delta}
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(chunkCh)
	}()

	for chunk := range chunkCh {
		if !r.stopped {
			r.emit(chunk)
		}
	}

	type resultEntry struct {
		callID string
		name   string
		kind   string
		block  message.ToolResultBlock
	}
	var entries []resultEntry
	var cancelled bool

	for _, oc := range outcomes {
		if oc == nil || oc.res == nil {
			continue
		}
		switch oc.res.Kind {
		case tool.KindSuspended:
			// Suspended calls are satisfied externally; no result is
			// recorded so the pending ToolUse can be replayed.
			suspended = true
			continue
		case tool.KindCancelled:
			cancelled = true
		}
		output := oc.res.Output
		if len(output) == 0 {
			output = []message.Block{message.TextBlock{}}
		}
		entries = append(entries, resultEntry{
			callID: oc.call.ID,
			name:   oc.call.Name,
			kind:   oc.res.Kind,
			block:  message.ToolResultBlock{CallID: oc.call.ID, Output: output, IsError: oc.res.IsError},
		})
	}
	for _, b := range bad {
		entries = append(entries, resultEntry{
			callID: b.id,
			name:   b.name,
			kind:   KindBadToolArguments,
			block: message.ToolResultBlock{
				CallID:  b.id,
				IsError: true,
				Output: []message.Block{message.TextBlock{
					Text: fmt.Sprintf("invalid arguments for %q: %s", b.name, b.raw),
				}},
			},
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].callID < entries[j].callID })

	for _, e := range entries {
		switch e.kind {
		case tool.KindTimeout:
			r.emitError(iteration, PhaseActing, KindToolTimeout,
				fmt.Errorf("tool %q timed out (call %s)", e.name, e.callID))
		case tool.KindError:
			r.emitError(iteration, PhaseActing, KindToolError,
				fmt.Errorf("tool %q failed (call %s)", e.name, e.callID))
		case KindBadToolArguments:
			r.emitError(iteration, PhaseActing, KindBadToolArguments,
				fmt.Errorf("unparseable arguments for tool %q (call %s)", e.name, e.callID))
		}
		if r.stopped {
			return false, false
		}
	}

	results := make([]*message.Message, len(entries))
	for i, e := range entries {
		results[i] = message.NewNamed(message.RoleTool, e.name, e.block)
	}
	ev = r.emit(&hook.PostActing{Meta: r.meta(iteration), Results: results})
	if r.stopped {
		return false, false
	}
	if pa, isPost := ev.(*hook.PostActing); isPost && pa.Results != nil {
		results = pa.Results
	}
	r.agent.memory.AppendAll(results)

	if cancelled || r.ctx.Err() != nil {
		r.finishInterrupted(iteration, PhaseActing)
		return false, false
	}
	return suspended, true
}

// aggregator merges the fragments of one reasoning pass: text and thinking
// deltas concatenate, tool-call deltas merge by call ID in arrival order,
// argument JSON parses once at stream end.
type aggregator struct {
	thinking strings.Builder
	text     strings.Builder
	extra    []message.Block

	order []string
	calls map[string]*callAgg

	finish model.FinishReason
	usage  *model.Usage
}

type callAgg struct {
	id   string
	name string
	args strings.Builder
}

func newAggregator() *aggregator {
	return &aggregator{calls: make(map[string]*callAgg)}
}

func (ag *aggregator) add(frag *model.ChatResponse) {
	if frag == nil {
		return
	}
	for _, b := range frag.Blocks {
		switch v := b.(type) {
		case message.TextBlock:
			ag.text.WriteString(v.Text)
		case message.ThinkingBlock:
			ag.thinking.WriteString(v.Thinking)
		default:
			ag.extra = append(ag.extra, b)
		}
	}
	for _, d := range frag.ToolCalls {
		c, ok := ag.calls[d.CallID]
		if !ok {
			c = &callAgg{id: d.CallID}
			ag.calls[d.CallID] = c
			ag.order = append(ag.order, d.CallID)
		}
		if d.Name != "" {
			c.name = d.Name
		}
		c.args.WriteString(d.ArgumentsDelta)
	}
	if frag.FinishReason != "" {
		ag.finish = frag.FinishReason
	}
	if frag.Usage != nil {
		ag.usage = frag.Usage
	}
}

// message builds the aggregated assistant message: thinking, then text, then
// any passthrough blocks, then the tool uses in arrival order. Argument
// parse failures keep the raw text and a nil Arguments map.
func (ag *aggregator) message(agentName string) *message.Message {
	var blocks []message.Block
	if ag.thinking.Len() > 0 {
		blocks = append(blocks, message.ThinkingBlock{Thinking: ag.thinking.String()})
	}
	if ag.text.Len() > 0 {
		blocks = append(blocks, message.TextBlock{Text: ag.text.String()})
	}
	blocks = append(blocks, ag.extra...)

	for _, id := range ag.order {
		c := ag.calls[id]
		tu := message.ToolUseBlock{CallID: id, Name: c.name}
		raw := c.args.String()
		if raw == "" {
			tu.Arguments = map[string]any{}
		} else {
			var parsed map[string]any
			if err := json.Unmarshal([]byte(raw), &parsed); err == nil && parsed != nil {
				tu.Arguments = parsed
			} else {
				tu.RawArguments = raw
			}
		}
		blocks = append(blocks, tu)
	}

	return message.NewNamed(message.RoleAssistant, agentName, blocks...)
}
