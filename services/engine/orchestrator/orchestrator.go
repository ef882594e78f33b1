// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator runs one query through the escalation loop: analyze
// complexity, execute the chosen strategy, evaluate the answer, and
// escalate to a deeper strategy until the quality gate passes or the
// strategy ladder is exhausted.
//
// One run owns one ProgressTracker for its whole lifetime. Escalated
// attempts keep working on the same tracker, so later strategies see the
// plan, tool cache, and insights the earlier ones built up.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianQuery/services/engine/analyzer"
	"github.com/AleutianAI/AleutianQuery/services/engine/evaluate"
	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
	"github.com/AleutianAI/AleutianQuery/services/engine/strategy"
	"github.com/AleutianAI/AleutianQuery/services/engine/tools"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrEmptyQuery means the query was blank after trimming.
	ErrEmptyQuery = errors.New("query must not be empty")

	// ErrNoUsableResponse means every attempt ended without producing any
	// response text. A below-threshold answer is returned as a result, not
	// as this error; this is the total-failure case only.
	ErrNoUsableResponse = errors.New("no usable response produced")
)

// =============================================================================
// Runner
// =============================================================================

// Runner runs one query through the escalation loop.
type Runner interface {
	// Run processes query and returns the final response with the full
	// tracker snapshot. A below-threshold answer is a normal result with
	// BelowThreshold set; Run errors only on cancellation before any
	// response exists, invalid input, or total execution failure.
	Run(ctx context.Context, query string, opts ...RunOption) (*FinalResult, error)
}

// =============================================================================
// Dependencies
// =============================================================================

// Dependencies are the collaborators one orchestrator needs.
type Dependencies struct {
	// Analyzer classifies query complexity before the first attempt.
	Analyzer analyzer.Analyzer

	// Client is the generation service used by strategies and planning.
	Client llm.Client

	// Provider lists and executes tools. Nil disables tool use.
	Provider tools.Provider

	// Tools fans tool calls out through the tracker cache. Required when
	// Provider is set.
	Tools *tools.Executor

	// Evaluator judges response quality after every attempt.
	Evaluator evaluate.Evaluator

	// Synthesizer composes step findings into responses.
	Synthesizer evaluate.Synthesizer

	// Policy is the tool caching policy applied to every run's tracker.
	// Nil treats every tool as cacheable.
	Policy *tracker.CachePolicy
}

func (d Dependencies) validate() error {
	if d.Analyzer == nil {
		return errors.New("analyzer must not be nil")
	}
	if d.Client == nil {
		return errors.New("client must not be nil")
	}
	if d.Evaluator == nil {
		return errors.New("evaluator must not be nil")
	}
	if d.Synthesizer == nil {
		return errors.New("synthesizer must not be nil")
	}
	if d.Provider != nil && d.Tools == nil {
		return errors.New("tools executor required when a provider is set")
	}
	return nil
}

// =============================================================================
// Run Options
// =============================================================================

// RunOption adjusts a single run.
type RunOption func(*runOptions)

type runOptions struct {
	override *tracker.ExecutionStrategy
	onChunk  func(string) error
}

// WithStrategyOverride pins the first attempt to a strategy instead of the
// analyzer's recommendation. Escalation still proceeds from there.
func WithStrategyOverride(s tracker.ExecutionStrategy) RunOption {
	return func(o *runOptions) {
		o.override = &s
	}
}

// WithChunkCallback delivers the accepted final response through fn. The
// callback fires after the quality gate decides, so it never carries
// output from attempts that were discarded by an escalation.
func WithChunkCallback(fn func(string) error) RunOption {
	return func(o *runOptions) {
		o.onChunk = fn
	}
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator is the engine's top-level entry point for a query.
//
// Thread Safety: safe for concurrent use; every Run builds its own tracker
// and shares only the immutable collaborators.
type Orchestrator struct {
	deps     Dependencies
	config   Config
	registry *strategy.Registry
}

var _ Runner = (*Orchestrator)(nil)

// New creates an orchestrator over validated dependencies and config.
func New(deps Dependencies, config Config) (*Orchestrator, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	registry, err := strategy.NewRegistry(&strategy.Deps{
		Client:      deps.Client,
		Provider:    deps.Provider,
		Tools:       deps.Tools,
		Evaluator:   deps.Evaluator,
		Synthesizer: deps.Synthesizer,
	})
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		deps:     deps,
		config:   config,
		registry: registry,
	}, nil
}

// Run implements Runner.
//
// # Description
//
// Executes the escalation loop. Complexity is analyzed once; each attempt
// runs a strategy over the shared tracker, the evaluator scores the
// produced response, and a score at or above the quality threshold (or an
// explicit complete verdict) returns it. Otherwise the run escalates to
// the successor strategy until none remains, then returns the best
// response it saw flagged as below threshold.
//
// Cancellation takes effect between suspension points and still returns
// the best response obtained so far when one exists.
func (o *Orchestrator) Run(ctx context.Context, query string, opts ...RunOption) (*FinalResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	var options runOptions
	for _, opt := range opts {
		opt(&options)
	}
	if options.override != nil && !options.override.Valid() {
		return nil, fmt.Errorf("invalid strategy override: %d", int(*options.override))
	}

	start := time.Now()
	ctx, span := otel.Tracer("orchestrator").Start(ctx, "orchestrator.Orchestrator.Run",
		trace.WithAttributes(
			attribute.Int("query_length", len(query)),
		),
	)
	defer span.End()

	slog.Debug("run state", slog.String("state", string(StateAnalyzing)))
	analysis, err := o.analyze(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var trackerOpts []tracker.TrackerOption
	if o.deps.Policy != nil {
		trackerOpts = append(trackerOpts, tracker.WithCachePolicy(o.deps.Policy))
	}
	tr := tracker.NewProgressTracker(query, *analysis, trackerOpts...)
	span.SetAttributes(
		attribute.String("run_id", tr.RunID),
		attribute.String("complexity", analysis.Level.String()),
	)

	current := analysis.RecommendedStrategy
	if options.override != nil {
		current = *options.override
	}

	slog.Info("query run starting",
		slog.String("run_id", tr.RunID),
		slog.String("complexity", analysis.Level.String()),
		slog.String("analysis_source", analysis.Source),
		slog.String("strategy", current.String()),
	)

	// Main loop. Every attempt on the last rung of the budget or the
	// ladder ends in a terminal state, so the loop always returns.
	maxAttempts := o.config.MaxEscalations + 1
	for attemptNo := 1; ; attemptNo++ {
		if err := ctx.Err(); err != nil {
			return o.finishCancelled(span, tr, options.onChunk, start, err)
		}

		lastAttempt := attemptNo >= maxAttempts
		result, terminal, err := o.runAttempt(ctx, span, tr, query, current, attemptNo, lastAttempt, &options, start)
		if terminal || err != nil {
			return result, err
		}

		next := current.Next()
		slog.Info("escalating",
			slog.String("run_id", tr.RunID),
			slog.String("state", string(StateEscalating)),
			slog.String("from", current.String()),
			slog.String("to", next.String()),
		)
		recordEscalation(current.String(), next.String())
		current = next
	}
}

// runAttempt executes one strategy attempt and evaluates its response.
//
// # Outputs
//
//	*FinalResult - Non-nil when the run reached a terminal state.
//	bool - True when the run is over (result or hard failure). Always
//	true when lastAttempt is set.
//	error - The hard failure, nil otherwise.
func (o *Orchestrator) runAttempt(ctx context.Context, span trace.Span, tr *tracker.ProgressTracker, query string, current tracker.ExecutionStrategy, attemptNo int, lastAttempt bool, options *runOptions, start time.Time) (*FinalResult, bool, error) {
	if _, err := tr.StartAttempt(current); err != nil {
		return nil, true, err
	}
	exec, ok := o.registry.For(current)
	if !ok {
		return nil, true, fmt.Errorf("no executor registered for strategy %q", current.String())
	}

	slog.Info("attempt starting",
		slog.String("run_id", tr.RunID),
		slog.String("state", string(StateExecuting)),
		slog.Int("attempt", attemptNo),
		slog.String("strategy", current.String()),
	)

	response, execErr := exec.Execute(ctx, query, tr)
	if execErr != nil {
		return o.failAttempt(span, tr, options.onChunk, start, current, execErr)
	}

	slog.Debug("run state",
		slog.String("run_id", tr.RunID),
		slog.String("state", string(StateEvaluating)),
	)
	eval, evalErr := o.deps.Evaluator.Evaluate(ctx, query, response, tr.ToContext(current))
	if evalErr != nil {
		if isCancellation(evalErr) {
			if err := tr.EndAttempt(tracker.AttemptCompleted, "Run cancelled during evaluation", response, nil, 0); err != nil {
				return nil, true, err
			}
			recordAttempt(current.String(), "cancelled")
			result, err := o.finishCancelled(span, tr, options.onChunk, start, evalErr)
			return result, true, err
		}
		// Advisory by contract: a default verdict arrived with the error.
		slog.Warn("evaluation degraded",
			slog.String("run_id", tr.RunID),
			slog.String("error", evalErr.Error()),
		)
	}
	if eval == nil {
		eval = &tracker.EvaluationResult{Reasoning: "evaluation unavailable"}
	}
	score := eval.Confidence
	recordQuality(score)

	if eval.IsComplete || score >= o.config.QualityThreshold {
		outcome := "Quality threshold met"
		if eval.IsComplete {
			outcome = "Evaluation judged response complete"
		}
		if err := tr.EndAttempt(tracker.AttemptCompleted, outcome, response, eval, score); err != nil {
			return nil, true, err
		}
		recordAttempt(current.String(), "completed")
		slog.Info("returning response",
			slog.String("run_id", tr.RunID),
			slog.String("state", string(StateReturning)),
			slog.Int("attempts", tr.AttemptCount()),
			slog.Float64("quality_score", score),
		)
		result := o.finish(span, tr, options.onChunk, start, terminalOutcome{
			state:    StateReturning,
			label:    "returned",
			response: response,
			strategy: current,
			score:    score,
		})
		return result, true, nil
	}

	next := current.Next()
	if next == current || lastAttempt {
		if err := tr.EndAttempt(tracker.AttemptCompleted, "Quality below threshold, escalation exhausted", response, eval, score); err != nil {
			return nil, true, err
		}
		recordAttempt(current.String(), "completed")
		result, err := o.finishExhausted(span, tr, options.onChunk, start)
		return result, true, err
	}

	outcome := fmt.Sprintf("Quality below threshold, escalating to %s", next.String())
	if err := tr.EndAttempt(tracker.AttemptEscalated, outcome, response, eval, score); err != nil {
		return nil, true, err
	}
	recordAttempt(current.String(), "escalated")
	return nil, false, nil
}

// analyze classifies the query, defaulting to medium complexity when the
// analyzer fails for any reason other than cancellation.
func (o *Orchestrator) analyze(ctx context.Context, query string) (*tracker.ComplexityAnalysis, error) {
	analysis, err := o.deps.Analyzer.Analyze(ctx, query)
	if err != nil {
		if isCancellation(err) {
			return nil, err
		}
		slog.Warn("complexity analysis failed, defaulting to medium",
			slog.String("error", err.Error()),
		)
		return &tracker.ComplexityAnalysis{
			Level:               tracker.ComplexityMedium,
			Confidence:          0,
			Rationale:           "analysis unavailable: " + err.Error(),
			RecommendedStrategy: tracker.ComplexityMedium.DefaultStrategy(),
			Source:              "default",
		}, nil
	}
	return analysis, nil
}

// failAttempt closes a failed attempt and decides between falling back to
// a prior response and propagating the failure.
func (o *Orchestrator) failAttempt(span trace.Span, tr *tracker.ProgressTracker, onChunk func(string) error, start time.Time, current tracker.ExecutionStrategy, execErr error) (*FinalResult, bool, error) {
	if isCancellation(execErr) {
		if err := tr.EndAttempt(tracker.AttemptFailed, "Run cancelled", "", nil, 0); err != nil {
			return nil, true, err
		}
		recordAttempt(current.String(), "cancelled")
		result, err := o.finishCancelled(span, tr, onChunk, start, execErr)
		return result, true, err
	}

	if err := tr.EndAttempt(tracker.AttemptFailed, "Error occurred", "", nil, 0); err != nil {
		return nil, true, err
	}
	recordAttempt(current.String(), "failed")
	span.RecordError(execErr)
	slog.Error("strategy execution failed",
		slog.String("run_id", tr.RunID),
		slog.String("strategy", current.String()),
		slog.String("error", execErr.Error()),
	)

	// A partial answer beats a total failure: fall back to the best prior
	// response when one exists, otherwise the failure is the caller's.
	best, bestScore, ok := tr.BestResponse()
	if !ok {
		recordRun("error", time.Since(start))
		return nil, true, execErr
	}
	slog.Warn("falling back to best prior response",
		slog.String("run_id", tr.RunID),
		slog.Float64("quality_score", bestScore),
	)
	result := o.finish(span, tr, onChunk, start, terminalOutcome{
		state:          StateReturning,
		label:          "returned",
		response:       best,
		strategy:       strategyOf(tr, best),
		score:          bestScore,
		belowThreshold: true,
	})
	return result, true, nil
}

// finishExhausted returns the best response after the ladder ran out.
func (o *Orchestrator) finishExhausted(span trace.Span, tr *tracker.ProgressTracker, onChunk func(string) error, start time.Time) (*FinalResult, error) {
	best, bestScore, ok := tr.BestResponse()
	if !ok {
		recordRun("error", time.Since(start))
		return nil, ErrNoUsableResponse
	}
	slog.Info("escalation exhausted, returning best response",
		slog.String("run_id", tr.RunID),
		slog.String("state", string(StateExhausted)),
		slog.Int("attempts", tr.AttemptCount()),
		slog.Float64("quality_score", bestScore),
	)
	return o.finish(span, tr, onChunk, start, terminalOutcome{
		state:          StateExhausted,
		label:          "exhausted",
		response:       best,
		strategy:       strategyOf(tr, best),
		score:          bestScore,
		belowThreshold: true,
	}), nil
}

// finishCancelled salvages the best response from a cancelled run, or
// propagates the cancellation when no attempt produced anything.
func (o *Orchestrator) finishCancelled(span trace.Span, tr *tracker.ProgressTracker, onChunk func(string) error, start time.Time, cause error) (*FinalResult, error) {
	best, bestScore, ok := tr.BestResponse()
	if !ok {
		span.RecordError(cause)
		recordRun("cancelled", time.Since(start))
		return nil, cause
	}
	slog.Warn("run cancelled, returning best response so far",
		slog.String("run_id", tr.RunID),
		slog.Float64("quality_score", bestScore),
	)
	result := o.finish(span, tr, onChunk, start, terminalOutcome{
		state:          StateReturning,
		label:          "cancelled",
		response:       best,
		strategy:       strategyOf(tr, best),
		score:          bestScore,
		belowThreshold: true,
	})
	return result, nil
}

// terminalOutcome carries everything finish needs to build a FinalResult.
type terminalOutcome struct {
	state          State
	label          string
	response       string
	strategy       tracker.ExecutionStrategy
	score          float64
	belowThreshold bool
}

// finish records terminal metrics, delivers the response through the chunk
// callback, and snapshots the tracker.
func (o *Orchestrator) finish(span trace.Span, tr *tracker.ProgressTracker, onChunk func(string) error, start time.Time, out terminalOutcome) *FinalResult {
	duration := time.Since(start)
	recordRun(out.label, duration)
	span.SetAttributes(
		attribute.String("outcome", out.label),
		attribute.Float64("quality_score", out.score),
		attribute.Int("attempts", tr.AttemptCount()),
	)

	if onChunk != nil && out.response != "" {
		if err := onChunk(out.response); err != nil {
			slog.Warn("final response delivery failed",
				slog.String("run_id", tr.RunID),
				slog.String("error", err.Error()),
			)
		}
	}

	return &FinalResult{
		RunID:          tr.RunID,
		State:          out.state,
		Response:       out.response,
		Strategy:       out.strategy,
		QualityScore:   out.score,
		Attempts:       tr.AttemptCount(),
		BelowThreshold: out.belowThreshold,
		Duration:       duration,
		Snapshot:       tr.Snapshot(),
	}
}

// strategyOf finds the strategy of the latest attempt that produced this
// response text.
func strategyOf(tr *tracker.ProgressTracker, response string) tracker.ExecutionStrategy {
	strat := tracker.StrategyDirect
	for _, attempt := range tr.Attempts {
		if attempt.Response == response {
			strat = attempt.Strategy
		}
	}
	return strat
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
