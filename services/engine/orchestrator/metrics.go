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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "queryengine",
			Subsystem: "orchestrator",
			Name:      "runs_total",
			Help:      "Query runs by terminal outcome.",
		},
		[]string{"outcome"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "queryengine",
			Subsystem: "orchestrator",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of whole query runs.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	attempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "queryengine",
			Subsystem: "orchestrator",
			Name:      "attempts_total",
			Help:      "Strategy attempts by strategy and terminal status.",
		},
		[]string{"strategy", "status"},
	)

	escalations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "queryengine",
			Subsystem: "orchestrator",
			Name:      "escalations_total",
			Help:      "Escalations by source and destination strategy.",
		},
		[]string{"from", "to"},
	)

	qualityScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "queryengine",
			Subsystem: "orchestrator",
			Name:      "quality_score",
			Help:      "Evaluator confidence scores across all attempts.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
	)
)

func recordRun(outcome string, d time.Duration) {
	runs.WithLabelValues(outcome).Inc()
	runDuration.Observe(d.Seconds())
}

func recordAttempt(strategy, status string) {
	attempts.WithLabelValues(strategy, status).Inc()
}

func recordEscalation(from, to string) {
	escalations.WithLabelValues(from, to).Inc()
}

func recordQuality(score float64) {
	qualityScores.Observe(score)
}
