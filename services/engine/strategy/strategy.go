// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package strategy implements the three execution depths the engine can
// run a query at: direct (single pass), light planning (a short plan,
// each step executed once), and deep reasoning (iterative research with
// per-step evaluation and dynamically spawned follow-ups).
//
// All three share one contract: consume the tracker, drive tool calls
// through its cache, produce a response. An executor never decides
// whether its response is good enough — that is the orchestrator's job.
package strategy

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianQuery/services/engine/evaluate"
	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
	"github.com/AleutianAI/AleutianQuery/services/engine/tools"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// ErrStrategyExecution marks an unexpected failure inside a strategy. The
// orchestrator catches it, records the failed attempt, and falls back to
// the best prior response when one exists.
var ErrStrategyExecution = errors.New("strategy execution failed")

const (
	// maxToolRounds bounds how many times one generation exchange may
	// request tools before the strategy forces a composed answer.
	maxToolRounds = 3

	// maxToolResultLen caps tool output carried back into the
	// conversation. Full results stay in the tracker.
	maxToolResultLen = 4000

	// maxLightSteps is the plan size the light strategy asks for.
	maxLightSteps = 2

	// maxDeepSteps is the plan size the deep strategy asks for.
	maxDeepSteps = 5

	// deepMaxIterations caps step executions per deep attempt.
	deepMaxIterations = 3

	// maxSpawnedPerStep caps follow-up steps spawned from one step's
	// evaluation so a chatty evaluator cannot flood the plan.
	maxSpawnedPerStep = 3
)

// Executor runs one strategy attempt over the shared tracker.
type Executor interface {
	// Execute produces a response for query, reading and updating tr.
	// Implementations record plan and step state on the tracker but never
	// open or close attempts; the orchestrator owns the attempt lifecycle.
	Execute(ctx context.Context, query string, tr *tracker.ProgressTracker) (string, error)

	// Strategy identifies which depth this executor implements.
	Strategy() tracker.ExecutionStrategy
}

// Deps carries the collaborators a strategy needs for one run.
//
// A Deps value is built per run (OnChunk differs between runs) while the
// collaborators themselves are shared; the contained clients must be safe
// for concurrent use.
type Deps struct {
	// Client is the generation service.
	Client llm.Client

	// Provider lists and executes tools. Nil disables tool use.
	Provider tools.Provider

	// Tools fans tool calls out through the tracker's cache. Required
	// when Provider is set.
	Tools *tools.Executor

	// Evaluator judges per-step research completeness for deep reasoning.
	Evaluator evaluate.Evaluator

	// Synthesizer composes planned strategies' final responses.
	Synthesizer evaluate.Synthesizer

	// OnChunk, when non-nil, receives the final user-facing composition
	// incrementally. Helper calls (planning, step work, evaluation) never
	// stream.
	OnChunk func(string) error
}

// validate reports the first missing collaborator.
func (d *Deps) validate() error {
	if d == nil {
		return errors.New("deps must not be nil")
	}
	if d.Client == nil {
		return errors.New("deps.Client must not be nil")
	}
	if d.Provider != nil && d.Tools == nil {
		return errors.New("deps.Tools must be set when deps.Provider is set")
	}
	if d.Evaluator == nil {
		return errors.New("deps.Evaluator must not be nil")
	}
	if d.Synthesizer == nil {
		return errors.New("deps.Synthesizer must not be nil")
	}
	return nil
}

// Registry maps each strategy to its executor.
type Registry struct {
	executors map[tracker.ExecutionStrategy]Executor
}

// NewRegistry builds the three executors over one Deps value.
func NewRegistry(deps *Deps) (*Registry, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &Registry{
		executors: map[tracker.ExecutionStrategy]Executor{
			tracker.StrategyDirect:        &Direct{deps: deps},
			tracker.StrategyLightPlanning: &LightPlanning{deps: deps},
			tracker.StrategyDeepReasoning: &DeepReasoning{deps: deps},
		},
	}, nil
}

// For returns the executor for a strategy.
func (r *Registry) For(s tracker.ExecutionStrategy) (Executor, bool) {
	ex, ok := r.executors[s]
	return ex, ok
}

// listTools fetches tool definitions once per attempt. A nil provider or a
// listing failure yields no tools rather than a dead attempt; the listing
// error is surfaced so callers can log it.
func listTools(ctx context.Context, provider tools.Provider) ([]llm.ToolDefinition, error) {
	if provider == nil {
		return nil, nil
	}
	defs, err := provider.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	return defs, nil
}

// wrapErr records a strategy failure on the span and maps it to the
// package sentinel. Context errors pass through bare so the orchestrator
// can tell cancellation from failure.
func wrapErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStrategyExecution, err)
}
