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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Tool Execution
// =============================================================================

var (
	// toolCallLatency measures wall time of live tool invocations.
	// Labels: tool, status (success, error, timeout)
	toolCallLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "queryengine",
		Subsystem: "tools",
		Name:      "call_latency_seconds",
		Help:      "Tool invocation latency in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"tool", "status"})

	// toolCalls counts tool call outcomes, including cache-served ones.
	// Labels: tool, outcome (success, error, cached, cached_failure)
	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "queryengine",
		Subsystem: "tools",
		Name:      "calls_total",
		Help:      "Total tool calls by outcome",
	}, []string{"tool", "outcome"})

	// batchSize tracks how many calls the model requests at once.
	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "queryengine",
		Subsystem: "tools",
		Name:      "batch_size",
		Help:      "Number of tool calls requested per model turn",
		Buckets:   []float64{1, 2, 3, 4, 5, 8, 12, 20},
	})
)

// recordToolCall records one live invocation outcome.
//
// Inputs:
//
//	tool - The tool name.
//	status - "success", "error", or "timeout".
//	durationSec - Invocation duration in seconds.
func recordToolCall(tool, status string, durationSec float64) {
	toolCallLatency.WithLabelValues(tool, status).Observe(durationSec)
	outcome := status
	if status == "timeout" {
		outcome = "error"
	}
	toolCalls.WithLabelValues(tool, outcome).Inc()
}

// recordCacheServed records a call answered from the run's tool cache.
//
// Inputs:
//
//	tool - The tool name.
//	failure - Whether the cached entry was a recorded failure.
func recordCacheServed(tool string, failure bool) {
	outcome := "cached"
	if failure {
		outcome = "cached_failure"
	}
	toolCalls.WithLabelValues(tool, outcome).Inc()
}

// recordBatch records the size of one requested call batch.
func recordBatch(n int) {
	batchSize.Observe(float64(n))
}
