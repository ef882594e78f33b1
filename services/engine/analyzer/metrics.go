// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Complexity Analysis
// =============================================================================

var (
	// analysisLatency measures time taken to classify a query.
	// Labels: source (llm, heuristic, cache, default), status (success, error)
	analysisLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "queryengine",
		Subsystem: "analyzer",
		Name:      "latency_seconds",
		Help:      "Query complexity analysis latency in seconds",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"source", "status"})

	// analysisResults counts classifications by level and source.
	// Labels: level (simple, medium, complex), source
	analysisResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "queryengine",
		Subsystem: "analyzer",
		Name:      "results_total",
		Help:      "Total complexity classifications by level and source",
	}, []string{"level", "source"})

	// analysisConfidence tracks the distribution of confidence scores.
	// Labels: source
	analysisConfidence = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "queryengine",
		Subsystem: "analyzer",
		Name:      "confidence",
		Help:      "Distribution of analysis confidence scores",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
	}, []string{"source"})

	// analysisFallbacks counts heuristic fallbacks by reason.
	// Labels: reason (error, low_confidence, parse_error)
	analysisFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "queryengine",
		Subsystem: "analyzer",
		Name:      "fallbacks_total",
		Help:      "Total heuristic fallbacks by reason",
	}, []string{"reason"})

	// analysisRetries counts retried LLM analysis attempts.
	analysisRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "queryengine",
		Subsystem: "analyzer",
		Name:      "retries_total",
		Help:      "Total retried analysis attempts",
	})

	// analysisCacheLookups counts cache lookups by result.
	// Labels: result (hit, miss)
	analysisCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "queryengine",
		Subsystem: "analyzer",
		Name:      "cache_lookups_total",
		Help:      "Analysis cache lookups by result",
	}, []string{"result"})
)

// recordAnalysis records one completed classification.
//
// Inputs:
//
//	analysis - The classification produced.
//	durationSec - Wall time in seconds.
func recordAnalysis(level, source string, confidence, durationSec float64) {
	analysisLatency.WithLabelValues(source, "success").Observe(durationSec)
	analysisResults.WithLabelValues(level, source).Inc()
	analysisConfidence.WithLabelValues(source).Observe(confidence)
}

// recordFallback records a heuristic fallback.
//
// Inputs:
//
//	reason - "error", "low_confidence", or "parse_error".
func recordFallback(reason string) {
	analysisFallbacks.WithLabelValues(reason).Inc()
}

// recordRetry records a retried analysis attempt.
func recordRetry() {
	analysisRetries.Inc()
}

// recordCacheLookup records a cache hit or miss.
func recordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	analysisCacheLookups.WithLabelValues(result).Inc()
}
