// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package strategy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	// stepsExecuted counts plan-step executions by strategy and outcome.
	stepsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "queryengine",
			Subsystem: "strategy",
			Name:      "steps_total",
			Help:      "Plan step executions by strategy and status (completed, failed)",
		},
		[]string{"strategy", "status"},
	)

	// planSizes tracks plan sizes after planning per strategy.
	planSizes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "queryengine",
			Subsystem: "strategy",
			Name:      "plan_steps",
			Help:      "Plan size after planning, by strategy",
			Buckets:   []float64{1, 2, 3, 4, 5, 7, 10},
		},
		[]string{"strategy"},
	)

	// toolRounds tracks tool rounds per generation exchange.
	toolRounds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "queryengine",
			Subsystem: "strategy",
			Name:      "tool_rounds",
			Help:      "Tool rounds per generation exchange, by strategy",
			Buckets:   []float64{0, 1, 2, 3},
		},
		[]string{"strategy"},
	)
)

// recordStep records one plan-step execution.
func recordStep(strategy, status string) {
	stepsExecuted.WithLabelValues(strategy, status).Inc()
}

// recordPlanSize records the plan size after planning.
func recordPlanSize(strategy string, steps int) {
	planSizes.WithLabelValues(strategy).Observe(float64(steps))
}

// recordToolRounds records how many tool rounds one exchange used.
func recordToolRounds(strategy string, rounds int) {
	toolRounds.WithLabelValues(strategy).Observe(float64(rounds))
}
