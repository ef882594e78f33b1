// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	// evaluations counts verdicts by outcome.
	evaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "queryengine",
			Subsystem: "evaluate",
			Name:      "verdicts_total",
			Help:      "Evaluation verdicts by outcome (complete, incomplete, defaulted)",
		},
		[]string{"verdict"},
	)

	// evaluationConfidence tracks the confidence distribution of real
	// (non-defaulted) verdicts.
	evaluationConfidence = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "queryengine",
			Subsystem: "evaluate",
			Name:      "confidence",
			Help:      "Confidence scores from completed evaluations",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)

	// syntheses counts composition calls by strategy and outcome.
	syntheses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "queryengine",
			Subsystem: "evaluate",
			Name:      "syntheses_total",
			Help:      "Final response compositions by strategy and outcome (llm, fallback)",
		},
		[]string{"strategy", "outcome"},
	)
)

// recordEvaluation records one evaluation verdict.
//
// # Inputs
//   - isComplete: the verdict's completeness flag
//   - confidence: the verdict's confidence score
//   - defaulted: true when the verdict is the substitute for a failed evaluation
func recordEvaluation(isComplete bool, confidence float64, defaulted bool) {
	switch {
	case defaulted:
		evaluations.WithLabelValues("defaulted").Inc()
	case isComplete:
		evaluations.WithLabelValues("complete").Inc()
		evaluationConfidence.Observe(confidence)
	default:
		evaluations.WithLabelValues("incomplete").Inc()
		evaluationConfidence.Observe(confidence)
	}
}

// recordSynthesis records one composition call.
func recordSynthesis(strategy string, fallback bool) {
	outcome := "llm"
	if fallback {
		outcome = "fallback"
	}
	syntheses.WithLabelValues(strategy, outcome).Inc()
}
