// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracker

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// Execution Strategy
// =============================================================================

// ExecutionStrategy identifies one of the three execution depths the engine
// can run a query at. Strategies are totally ordered: Direct < LightPlanning
// < DeepReasoning. Escalation only ever moves forward in that order.
type ExecutionStrategy int

const (
	// StrategyDirect answers in a single pass with no plan.
	StrategyDirect ExecutionStrategy = iota

	// StrategyLightPlanning decomposes the query into a short plan
	// (at most two steps) and synthesizes the step outputs.
	StrategyLightPlanning

	// StrategyDeepReasoning builds a fuller plan, evaluates progress after
	// every step, and spawns follow-up steps from evaluator feedback.
	StrategyDeepReasoning
)

// String returns the wire name of the strategy.
func (s ExecutionStrategy) String() string {
	switch s {
	case StrategyDirect:
		return "direct"
	case StrategyLightPlanning:
		return "light_planning"
	case StrategyDeepReasoning:
		return "deep_reasoning"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the three defined strategies.
func (s ExecutionStrategy) Valid() bool {
	return s >= StrategyDirect && s <= StrategyDeepReasoning
}

// Next returns the successor strategy. DeepReasoning is the maximum and
// returns itself; callers detect exhaustion with next == current.
func (s ExecutionStrategy) Next() ExecutionStrategy {
	if s >= StrategyDeepReasoning {
		return StrategyDeepReasoning
	}
	return s + 1
}

// ParseStrategy converts a wire name back into an ExecutionStrategy.
//
// Accepted values: "direct", "light_planning", "deep_reasoning".
func ParseStrategy(name string) (ExecutionStrategy, error) {
	switch name {
	case "direct":
		return StrategyDirect, nil
	case "light_planning":
		return StrategyLightPlanning, nil
	case "deep_reasoning":
		return StrategyDeepReasoning, nil
	default:
		return StrategyDirect, fmt.Errorf("unknown execution strategy %q", name)
	}
}

// MarshalJSON encodes the strategy as its wire name.
func (s ExecutionStrategy) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a strategy from its wire name.
func (s *ExecutionStrategy) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseStrategy(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// =============================================================================
// Complexity
// =============================================================================

// ComplexityLevel classifies how much work a query is expected to need.
type ComplexityLevel int

const (
	// ComplexitySimple is a factual or single-step query.
	ComplexitySimple ComplexityLevel = iota

	// ComplexityMedium needs a handful of steps or one or two tool calls.
	ComplexityMedium

	// ComplexityComplex needs decomposition, research, and synthesis.
	ComplexityComplex
)

// String returns the wire name of the level.
func (c ComplexityLevel) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityMedium:
		return "medium"
	case ComplexityComplex:
		return "complex"
	default:
		return "unknown"
	}
}

// Valid reports whether c is one of the three defined levels.
func (c ComplexityLevel) Valid() bool {
	return c >= ComplexitySimple && c <= ComplexityComplex
}

// DefaultStrategy maps a complexity level to the strategy the engine starts
// with when the analyzer does not recommend one explicitly.
func (c ComplexityLevel) DefaultStrategy() ExecutionStrategy {
	switch c {
	case ComplexitySimple:
		return StrategyDirect
	case ComplexityComplex:
		return StrategyDeepReasoning
	default:
		return StrategyLightPlanning
	}
}

// ParseComplexity converts a wire name back into a ComplexityLevel.
func ParseComplexity(name string) (ComplexityLevel, error) {
	switch name {
	case "simple":
		return ComplexitySimple, nil
	case "medium":
		return ComplexityMedium, nil
	case "complex":
		return ComplexityComplex, nil
	default:
		return ComplexityMedium, fmt.Errorf("unknown complexity level %q", name)
	}
}

// MarshalJSON encodes the level as its wire name.
func (c ComplexityLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes a level from its wire name.
func (c *ComplexityLevel) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseComplexity(name)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ComplexityAnalysis is the one-time classification of a query, produced
// before the first attempt and immutable afterwards.
type ComplexityAnalysis struct {
	// Level is the classified complexity.
	Level ComplexityLevel `json:"level"`

	// Confidence is the classifier's confidence in Level (0.0-1.0).
	Confidence float64 `json:"confidence"`

	// Rationale is the classifier's short explanation.
	Rationale string `json:"rationale"`

	// RecommendedStrategy is the strategy the engine should start with.
	RecommendedStrategy ExecutionStrategy `json:"recommended_strategy"`

	// Source records who produced the analysis: "llm", "heuristic",
	// or "default" when analysis failed entirely.
	Source string `json:"source"`
}

// =============================================================================
// Evaluation
// =============================================================================

// EvaluationResult is the quality judgment of a produced response.
type EvaluationResult struct {
	// IsComplete reports whether the response fully answers the query.
	IsComplete bool `json:"is_complete"`

	// Confidence is the evaluator's quality score (0.0-1.0). The engine
	// uses it directly as the attempt's quality score.
	Confidence float64 `json:"confidence"`

	// MissingAspects lists parts of the query the response did not cover.
	MissingAspects []string `json:"missing_aspects,omitempty"`

	// Reasoning is the evaluator's explanation of the judgment.
	Reasoning string `json:"reasoning"`

	// AdditionalQueries are follow-up research questions the evaluator
	// suggests. Deep reasoning turns these into new plan steps.
	AdditionalQueries []string `json:"additional_queries,omitempty"`
}

// =============================================================================
// Execution Attempt
// =============================================================================

// AttemptStatus is the lifecycle state of one ExecutionAttempt.
type AttemptStatus string

const (
	// AttemptInProgress means the strategy is still running.
	AttemptInProgress AttemptStatus = "in_progress"

	// AttemptCompleted means the attempt produced a response that passed
	// the quality gate.
	AttemptCompleted AttemptStatus = "completed"

	// AttemptEscalated means the response failed the quality gate and the
	// engine moved on to a more thorough strategy.
	AttemptEscalated AttemptStatus = "escalated"

	// AttemptFailed means the strategy errored before producing a usable
	// response.
	AttemptFailed AttemptStatus = "failed"
)

// ExecutionAttempt records one pass through a strategy. Attempts are
// appended to the tracker in order and never removed.
type ExecutionAttempt struct {
	// Strategy that ran this attempt.
	Strategy ExecutionStrategy `json:"strategy"`

	// StartedAt is when the attempt began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the attempt ended. Zero while in progress.
	CompletedAt time.Time `json:"completed_at"`

	// Status is the attempt's lifecycle state.
	Status AttemptStatus `json:"status"`

	// Response is the answer text this attempt produced, if any.
	Response string `json:"response,omitempty"`

	// AccumulatedResults are the intermediate step outputs, in the order
	// they were produced.
	AccumulatedResults []string `json:"accumulated_results,omitempty"`

	// Evaluation is the quality judgment, nil if the attempt ended before
	// evaluation.
	Evaluation *EvaluationResult `json:"evaluation,omitempty"`

	// QualityScore is Evaluation.Confidence, kept separately so it
	// survives even when the full evaluation is discarded.
	QualityScore float64 `json:"quality_score"`

	// Outcome is a one-line summary of how the attempt ended.
	Outcome string `json:"outcome,omitempty"`
}

// Duration returns how long the attempt ran, or zero if still open.
func (a *ExecutionAttempt) Duration() time.Duration {
	if a.CompletedAt.IsZero() {
		return 0
	}
	return a.CompletedAt.Sub(a.StartedAt)
}

// =============================================================================
// Tool Execution
// =============================================================================

// ToolExecution records one tool invocation, successful or not. Cached
// reuses are served from the earlier record and are not re-appended.
type ToolExecution struct {
	// ToolName is the invoked tool.
	ToolName string `json:"tool_name"`

	// Arguments are the call arguments as passed by the strategy.
	Arguments map[string]any `json:"arguments,omitempty"`

	// ExecutedAt is when the call ran.
	ExecutedAt time.Time `json:"executed_at"`

	// Strategy that issued the call.
	Strategy ExecutionStrategy `json:"strategy"`

	// Success reports whether the call succeeded.
	Success bool `json:"success"`

	// Result is the tool output on success.
	Result string `json:"result,omitempty"`

	// Error is the failure message on failure.
	Error string `json:"error,omitempty"`

	// Duration is how long the call took.
	Duration time.Duration `json:"duration"`

	// Fingerprint is the deterministic hash of (ToolName, Arguments)
	// used as the cache key.
	Fingerprint string `json:"fingerprint"`
}
