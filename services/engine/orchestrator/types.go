// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// =============================================================================
// Run States
// =============================================================================

// State names a position in the run lifecycle. Transient states appear in
// logs and traces; terminal states appear in the FinalResult.
type State string

const (
	// StateAnalyzing classifies the query's complexity.
	StateAnalyzing State = "analyzing"

	// StateExecuting runs the current strategy.
	StateExecuting State = "executing"

	// StateEvaluating judges the produced response.
	StateEvaluating State = "evaluating"

	// StateEscalating moves to the successor strategy.
	StateEscalating State = "escalating"

	// StateReturning is terminal: a response is being returned.
	StateReturning State = "returning"

	// StateExhausted is terminal: the strategy ladder ran out before any
	// response passed the quality gate, so the best one is returned.
	StateExhausted State = "escalation_exhausted"
)

// =============================================================================
// Configuration
// =============================================================================

const (
	defaultQualityThreshold = 0.6
	defaultMaxEscalations   = 2
)

// Config tunes the escalation loop.
type Config struct {
	// QualityThreshold is the minimum evaluator confidence that counts as
	// a sufficient answer. Scores equal to the threshold pass.
	QualityThreshold float64

	// MaxEscalations bounds how many times the run may move to a deeper
	// strategy, so a run makes at most MaxEscalations+1 attempts.
	MaxEscalations int
}

// Validate checks configuration bounds.
func (c Config) Validate() error {
	var errs []string
	if c.QualityThreshold < 0 || c.QualityThreshold > 1 {
		errs = append(errs, fmt.Sprintf("quality threshold must be in [0.0, 1.0], got %v", c.QualityThreshold))
	}
	if c.MaxEscalations < 0 {
		errs = append(errs, fmt.Sprintf("max escalations must be >= 0, got %d", c.MaxEscalations))
	}
	if len(errs) > 0 {
		return errors.New("invalid orchestrator config: " + strings.Join(errs, "; "))
	}
	return nil
}

// DefaultConfig returns the standard escalation settings.
func DefaultConfig() Config {
	return Config{
		QualityThreshold: defaultQualityThreshold,
		MaxEscalations:   defaultMaxEscalations,
	}
}

// =============================================================================
// Final Result
// =============================================================================

// FinalResult is what one run hands back to the caller: the response text
// plus the full tracker snapshot for persistence or display.
type FinalResult struct {
	// RunID identifies the run across logs, traces, and stored snapshots.
	RunID string `json:"run_id"`

	// State is the terminal state the run ended in.
	State State `json:"state"`

	// Response is the answer text.
	Response string `json:"response"`

	// Strategy is the strategy whose attempt produced Response.
	Strategy tracker.ExecutionStrategy `json:"strategy"`

	// QualityScore is the evaluator confidence for Response.
	QualityScore float64 `json:"quality_score"`

	// Attempts is how many strategy attempts the run made.
	Attempts int `json:"attempts"`

	// BelowThreshold marks a response that never passed the quality gate
	// and is being returned as the best available.
	BelowThreshold bool `json:"below_threshold"`

	// Duration is the wall-clock time of the whole run.
	Duration time.Duration `json:"duration"`

	// Snapshot is the serialized tracker: attempts, tool executions, the
	// plan, and accumulated insights.
	Snapshot tracker.Snapshot `json:"snapshot"`
}
