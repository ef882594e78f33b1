// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// ExecutorConfig tunes batch execution.
type ExecutorConfig struct {
	// CallTimeout bounds each live tool invocation.
	CallTimeout time.Duration

	// MaxParallel caps concurrent invocations within one batch.
	MaxParallel int
}

// DefaultExecutorConfig returns the standard execution limits.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		CallTimeout: 30 * time.Second,
		MaxParallel: 4,
	}
}

// Executor runs model-requested tool call batches against a Provider.
//
// # Description
//
// Execution happens in three phases. First the batch is planned
// sequentially against the run's progress tracker: calls answered by a
// cached success or a recent recorded failure are resolved without touching
// the provider, and duplicate calls within the batch collapse to a single
// invocation. Second, the remaining calls run concurrently, bounded by
// MaxParallel, each under its own timeout. Third, outcomes are written back
// to the tracker sequentially. The tracker is only ever touched from the
// calling goroutine, which is what allows it to stay unsynchronized.
//
// Tool failures never abort the batch; every requested call produces a
// correlated result. Cancellation abandons undispatched work and reports
// the affected calls as errors without recording them as tool failures, so
// a cancelled run does not poison the failure cache for a later attempt.
type Executor struct {
	provider Provider
	cfg      ExecutorConfig
}

// NewExecutor builds an Executor over provider. Zero config fields fall
// back to defaults.
func NewExecutor(provider Provider, cfg ExecutorConfig) *Executor {
	def := DefaultExecutorConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = def.MaxParallel
	}
	return &Executor{provider: provider, cfg: cfg}
}

// liveOutcome is one provider invocation's raw result, filled by a worker
// goroutine and consumed after the batch joins.
type liveOutcome struct {
	result   *Result
	err      error
	duration time.Duration
}

// Execute runs one batch of requested calls and returns a result for every
// call, in request order, correlated by tool call id.
func (e *Executor) Execute(ctx context.Context, tr *tracker.ProgressTracker, strategy tracker.ExecutionStrategy, calls []llm.ToolCall) []llm.ToolCallResult {
	if len(calls) == 0 {
		return nil
	}
	recordBatch(len(calls))

	results := make([]llm.ToolCallResult, len(calls))

	// Phase 1: plan against the cache. Runs on the calling goroutine.
	type pending struct {
		idx  int
		call llm.ToolCall
	}
	var toRun []pending
	firstByFingerprint := make(map[string]int)
	duplicateOf := make(map[int]int)

	for i, call := range calls {
		results[i] = llm.ToolCallResult{ToolCallID: call.ID, ToolName: call.Name}

		execute, cached, err := tr.ShouldExecute(call.Name, call.Arguments)
		switch {
		case !execute && err == nil:
			results[i].Content = cached
			results[i].Cached = true
			recordCacheServed(call.Name, false)
			slog.Debug("tool call served from cache", "tool", call.Name, "run_id", tr.RunID)
		case !execute:
			results[i].Content = err.Error()
			results[i].IsError = true
			results[i].Cached = true
			recordCacheServed(call.Name, true)
			slog.Debug("tool call suppressed by recent failure", "tool", call.Name, "run_id", tr.RunID)
		default:
			fp := tracker.Fingerprint(call.Name, call.Arguments)
			if prev, seen := firstByFingerprint[fp]; seen {
				duplicateOf[i] = prev
				continue
			}
			firstByFingerprint[fp] = i
			toRun = append(toRun, pending{idx: i, call: call})
		}
	}

	// Phase 2: dispatch live calls. Outcomes land in indexed slots; worker
	// errors never cancel siblings.
	outcomes := make(map[int]*liveOutcome, len(toRun))
	for _, p := range toRun {
		outcomes[p.idx] = &liveOutcome{}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallel)
	for _, p := range toRun {
		p := p
		out := outcomes[p.idx]
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gCtx, e.cfg.CallTimeout)
			defer cancel()

			start := time.Now()
			out.result, out.err = e.provider.CallTool(callCtx, p.call.Name, p.call.Arguments)
			out.duration = time.Since(start)
			return nil
		})
	}
	_ = g.Wait()

	// Phase 3: record outcomes, back on the calling goroutine.
	for _, p := range toRun {
		out := outcomes[p.idx]
		results[p.idx] = e.recordOutcome(tr, strategy, p.call, out)
	}

	for dup, first := range duplicateOf {
		copied := results[first]
		copied.ToolCallID = calls[dup].ID
		results[dup] = copied
	}

	return results
}

// recordOutcome folds one live invocation into the tracker and builds the
// correlated result. Cancelled calls are reported but not recorded: the
// run is ending and the failure cache must stay clean for the next attempt.
func (e *Executor) recordOutcome(tr *tracker.ProgressTracker, strategy tracker.ExecutionStrategy, call llm.ToolCall, out *liveOutcome) llm.ToolCallResult {
	result := llm.ToolCallResult{ToolCallID: call.ID, ToolName: call.Name}

	if out.err != nil && errors.Is(out.err, context.Canceled) {
		result.Content = out.err.Error()
		result.IsError = true
		return result
	}

	exec := tracker.ToolExecution{
		ToolName:  call.Name,
		Arguments: call.Arguments,
		Strategy:  strategy,
		Duration:  out.duration,
	}

	switch {
	case out.err != nil:
		status := "error"
		if errors.Is(out.err, context.DeadlineExceeded) {
			status = "timeout"
		}
		exec.Error = out.err.Error()
		result.Content = out.err.Error()
		result.IsError = true
		recordToolCall(call.Name, status, out.duration.Seconds())
		slog.Warn("tool call failed", "tool", call.Name, "run_id", tr.RunID, "error", out.err)
	case out.result.IsError:
		exec.Error = out.result.Content
		result.Content = out.result.Content
		result.IsError = true
		recordToolCall(call.Name, "error", out.duration.Seconds())
		slog.Warn("tool reported failure", "tool", call.Name, "run_id", tr.RunID, "error", out.result.Content)
	default:
		exec.Success = true
		exec.Result = out.result.Content
		result.Content = out.result.Content
		recordToolCall(call.Name, "success", out.duration.Seconds())
	}

	tr.LogExecution(exec)
	return result
}
