// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tracker holds the progress state of one query run: the complexity
// analysis, every execution attempt, every tool execution with a
// fingerprint cache over them, the evolving research plan, and the insights
// accumulated along the way. The tracker is what makes escalation cheap —
// a more thorough strategy starts from everything the previous one learned
// instead of from scratch.
//
// One tracker serves exactly one top-level query run. It is created when
// the run starts, mutated throughout, and either discarded or persisted as
// a diagnostic snapshot when the run ends.
//
// Thread Safety: ProgressTracker is deliberately not synchronized. It is
// owned by the single run that created it; host applications processing
// queries concurrently must create one tracker per query. The only
// concurrency inside a run is the fan-out of simultaneous tool calls, and
// those callers consult and update the tracker strictly outside the
// fan-out (see the tools executor).
package tracker

import (
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for attempt lifecycle operations.
var (
	// ErrNoOpenAttempt indicates EndAttempt was called with no attempt in
	// progress.
	ErrNoOpenAttempt = errors.New("no attempt in progress")

	// ErrAttemptOpen indicates StartAttempt was called while a previous
	// attempt was still in progress.
	ErrAttemptOpen = errors.New("previous attempt still in progress")
)

// ProgressTracker is the aggregate root owning all per-run state.
type ProgressTracker struct {
	// RunID uniquely identifies the run this tracker belongs to.
	RunID string `json:"run_id"`

	// Query is the user query being executed.
	Query string `json:"query"`

	// CreatedAt is when the run started.
	CreatedAt time.Time `json:"created_at"`

	// Analysis is the one-time complexity classification.
	Analysis ComplexityAnalysis `json:"analysis"`

	// Attempts is the ordered, append-only attempt history.
	Attempts []*ExecutionAttempt `json:"attempts"`

	// ToolExecutions is the ordered, append-only tool call log.
	ToolExecutions []*ToolExecution `json:"tool_executions"`

	// Plan is the research plan skeleton, nil until a planning strategy
	// builds one.
	Plan *ResearchPlanSkeleton `json:"plan,omitempty"`

	// Insights is everything learned about the query so far.
	Insights *AccumulatedInsights `json:"insights"`

	cachePolicy          *CachePolicy
	successByFingerprint map[string]int
	failureByFingerprint map[string]int
}

// TrackerOption customizes tracker construction.
type TrackerOption func(*ProgressTracker)

// WithCachePolicy sets the tool caching policy. Without it every tool is
// cacheable.
func WithCachePolicy(policy *CachePolicy) TrackerOption {
	return func(t *ProgressTracker) {
		t.cachePolicy = policy
	}
}

// WithRunID overrides the generated run id, mainly for tests and for
// callers that allocate ids up front.
func WithRunID(id string) TrackerOption {
	return func(t *ProgressTracker) {
		if id != "" {
			t.RunID = id
		}
	}
}

// NewProgressTracker creates the tracker for one query run.
func NewProgressTracker(query string, analysis ComplexityAnalysis, opts ...TrackerOption) *ProgressTracker {
	t := &ProgressTracker{
		RunID:                uuid.NewString(),
		Query:                query,
		CreatedAt:            time.Now(),
		Analysis:             analysis,
		Insights:             NewAccumulatedInsights(),
		successByFingerprint: make(map[string]int),
		failureByFingerprint: make(map[string]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// =============================================================================
// Attempt lifecycle
// =============================================================================

// StartAttempt opens a new attempt for the given strategy.
//
// Outputs:
//
//	*ExecutionAttempt - The opened attempt, already appended to Attempts.
//	error - ErrAttemptOpen if the previous attempt was never closed.
func (t *ProgressTracker) StartAttempt(strategy ExecutionStrategy) (*ExecutionAttempt, error) {
	if current := t.CurrentAttempt(); current != nil {
		return nil, ErrAttemptOpen
	}
	attempt := &ExecutionAttempt{
		Strategy:  strategy,
		StartedAt: time.Now(),
		Status:    AttemptInProgress,
	}
	t.Attempts = append(t.Attempts, attempt)
	return attempt, nil
}

// EndAttempt closes the attempt in progress.
//
// # Inputs
//
//	status - Terminal status for the attempt.
//	outcome - One-line summary of how it ended.
//	response - The produced answer, empty on failure.
//	eval - The quality judgment, nil if evaluation never ran.
//	qualityScore - The evaluator confidence, 0 if evaluation never ran.
//
// # Outputs
//
//	error - ErrNoOpenAttempt if nothing is in progress.
func (t *ProgressTracker) EndAttempt(status AttemptStatus, outcome, response string, eval *EvaluationResult, qualityScore float64) error {
	attempt := t.CurrentAttempt()
	if attempt == nil {
		return ErrNoOpenAttempt
	}
	attempt.Status = status
	attempt.Outcome = outcome
	attempt.Response = response
	attempt.Evaluation = eval
	attempt.QualityScore = qualityScore
	attempt.CompletedAt = time.Now()

	if eval != nil {
		t.Insights.AddQualityFeedback(eval.Reasoning)
		t.Insights.AddGaps(eval.MissingAspects...)
		t.Insights.AddImprovements(eval.AdditionalQueries...)
	}
	return nil
}

// CurrentAttempt returns the attempt in progress, or nil between attempts.
func (t *ProgressTracker) CurrentAttempt() *ExecutionAttempt {
	if len(t.Attempts) == 0 {
		return nil
	}
	last := t.Attempts[len(t.Attempts)-1]
	if last.Status == AttemptInProgress {
		return last
	}
	return nil
}

// AttemptCount returns how many attempts have been started.
func (t *ProgressTracker) AttemptCount() int {
	return len(t.Attempts)
}

// IsRetry reports whether at least one attempt already ran, meaning the
// current execution is working after an escalation.
func (t *ProgressTracker) IsRetry() bool {
	return len(t.Attempts) > 1
}

// RecordStepResult appends an intermediate result to the attempt in
// progress. No-op between attempts.
func (t *ProgressTracker) RecordStepResult(result string) {
	if result == "" {
		return
	}
	if attempt := t.CurrentAttempt(); attempt != nil {
		attempt.AccumulatedResults = append(attempt.AccumulatedResults, result)
	}
}

// BestResponse returns the highest-scoring non-empty response recorded so
// far. Later attempts win ties, so after a full escalation sequence with
// equal scores the most thorough strategy's answer is preferred.
//
// Outputs:
//
//	response - The best response text.
//	score - Its quality score.
//	ok - False when no attempt has produced a response yet.
func (t *ProgressTracker) BestResponse() (response string, score float64, ok bool) {
	for _, attempt := range t.Attempts {
		if attempt.Response == "" {
			continue
		}
		if !ok || attempt.QualityScore >= score {
			response = attempt.Response
			score = attempt.QualityScore
			ok = true
		}
	}
	return response, score, ok
}

// =============================================================================
// Plan lifecycle
// =============================================================================

// EnsurePlan returns the existing skeleton after refining it with the
// proposed descriptions, or builds a fresh one when no plan exists yet.
// Completed steps in an existing plan are always preserved.
func (t *ProgressTracker) EnsurePlan(strategy ExecutionStrategy, descriptions []string) *ResearchPlanSkeleton {
	if t.Plan == nil {
		t.Plan = newPlanSkeleton(strategy, t.Query, t.Analysis.Level, descriptions)
		return t.Plan
	}
	t.Plan.refine(descriptions)
	return t.Plan
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is the serializable form of a full tracker, safe to persist or
// hand to callers after the run ends. All reference types are deep copies;
// mutating a snapshot never touches the live tracker.
type Snapshot struct {
	RunID          string                `json:"run_id"`
	Query          string                `json:"query"`
	CreatedAt      time.Time             `json:"created_at"`
	Analysis       ComplexityAnalysis    `json:"analysis"`
	Attempts       []ExecutionAttempt    `json:"attempts"`
	ToolExecutions []ToolExecution       `json:"tool_executions"`
	Plan           *ResearchPlanSkeleton `json:"plan,omitempty"`
	Insights       *AccumulatedInsights  `json:"insights"`
}

// Snapshot returns a deep copy of the tracker's externally observable
// state.
func (t *ProgressTracker) Snapshot() Snapshot {
	snap := Snapshot{
		RunID:     t.RunID,
		Query:     t.Query,
		CreatedAt: t.CreatedAt,
		Analysis:  t.Analysis,
		Plan:      t.Plan.clone(),
		Insights:  t.Insights.clone(),
	}
	snap.Attempts = make([]ExecutionAttempt, len(t.Attempts))
	for i, attempt := range t.Attempts {
		a := *attempt
		a.AccumulatedResults = slices.Clone(attempt.AccumulatedResults)
		if attempt.Evaluation != nil {
			eval := *attempt.Evaluation
			eval.MissingAspects = slices.Clone(attempt.Evaluation.MissingAspects)
			eval.AdditionalQueries = slices.Clone(attempt.Evaluation.AdditionalQueries)
			a.Evaluation = &eval
		}
		snap.Attempts[i] = a
	}
	snap.ToolExecutions = make([]ToolExecution, len(t.ToolExecutions))
	for i, exec := range t.ToolExecutions {
		e := *exec
		if exec.Arguments != nil {
			e.Arguments = make(map[string]any, len(exec.Arguments))
			for k, v := range exec.Arguments {
				e.Arguments[k] = v
			}
		}
		snap.ToolExecutions[i] = e
	}
	return snap
}
