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
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// AnalyzerConfig configures the LLM complexity analyzer.
//
// Thread Safety: This type should not be modified after passing to NewLLMAnalyzer.
type AnalyzerConfig struct {
	// Temperature for analysis calls.
	// Must be >= 0.0 and <= 1.0.
	Temperature float64

	// MaxTokens limits analysis response length.
	// Must be > 0.
	MaxTokens int

	// Timeout for each analysis attempt.
	// Must be > 0.
	Timeout time.Duration

	// MaxRetries before falling back to the heuristic.
	// 0 = no retries, fall back immediately on first failure.
	MaxRetries int

	// RetryBackoff is the base duration for exponential backoff.
	// Retry N waits RetryBackoff * 2^N.
	RetryBackoff time.Duration

	// CacheTTL is how long to cache analysis results.
	// 0 = no caching.
	CacheTTL time.Duration

	// CacheMaxSize is maximum cache entries before LRU eviction.
	// Must be > 0 if CacheTTL > 0.
	CacheMaxSize int

	// ConfidenceThreshold below which the heuristic result is preferred.
	// Must be >= 0.0 and <= 1.0.
	ConfidenceThreshold float64

	// FallbackToHeuristic enables heuristic fallback on LLM errors.
	FallbackToHeuristic bool

	// MaxConcurrent limits simultaneous analysis calls.
	// 0 = unlimited.
	MaxConcurrent int
}

// Validate checks that config values are within valid ranges.
//
// Outputs:
//
//	error - Non-nil if any field is invalid, describing all issues.
//
// Thread Safety: This method is safe for concurrent use.
func (c AnalyzerConfig) Validate() error {
	var errs []string

	if c.Temperature < 0 || c.Temperature > 1 {
		errs = append(errs, "Temperature must be between 0.0 and 1.0")
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, "MaxTokens must be positive")
	}
	if c.Timeout <= 0 {
		errs = append(errs, "Timeout must be positive")
	}
	if c.MaxRetries < 0 {
		errs = append(errs, "MaxRetries must be non-negative")
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, "RetryBackoff must be non-negative")
	}
	if c.CacheTTL > 0 && c.CacheMaxSize <= 0 {
		errs = append(errs, "CacheMaxSize must be positive when CacheTTL > 0")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, "ConfidenceThreshold must be between 0.0 and 1.0")
	}
	if c.MaxConcurrent < 0 {
		errs = append(errs, "MaxConcurrent must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid analyzer config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DefaultAnalyzerConfig returns production defaults.
//
// Description:
//
//	Returns an AnalyzerConfig with sensible defaults:
//	- Temperature 0.1 (some models return empty output at exactly 0.0;
//	  a small non-zero value keeps analysis near-deterministic while
//	  guaranteeing generation)
//	- 5 second timeout with 2 retries (100ms exponential backoff)
//	- 10 minute cache TTL with 1000 max entries
//	- 0.7 confidence threshold for heuristic fallback
//
// Outputs:
//
//	AnalyzerConfig - Ready-to-use configuration.
//
// Thread Safety: This function is safe for concurrent use.
func DefaultAnalyzerConfig() AnalyzerConfig {
	return AnalyzerConfig{
		Temperature:         0.1,
		MaxTokens:           256,
		Timeout:             5 * time.Second,
		MaxRetries:          2,
		RetryBackoff:        100 * time.Millisecond,
		CacheTTL:            10 * time.Minute,
		CacheMaxSize:        1000,
		ConfidenceThreshold: 0.7,
		FallbackToHeuristic: true,
		MaxConcurrent:       10,
	}
}

// analysisWire is the JSON shape the model is asked to produce.
type analysisWire struct {
	Level      string  `json:"level"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// ParseAnalysisResponse parses model output into a ComplexityAnalysis.
//
// # Description
//
// Extracts the JSON payload from raw model output (tolerating fences and
// surrounding prose), validates the level, and clamps confidence to [0,1].
// The recommended strategy is derived from the level, not trusted from the
// model.
//
// # Inputs
//
//   - content: raw model output.
//
// # Outputs
//
//   - *tracker.ComplexityAnalysis: parsed analysis with Source "llm".
//   - error: non-nil when no valid JSON or an unknown level was produced.
func ParseAnalysisResponse(content string) (*tracker.ComplexityAnalysis, error) {
	var wire analysisWire
	if err := llm.ExtractJSONInto(content, &wire); err != nil {
		return nil, fmt.Errorf("extract analysis JSON: %w", err)
	}

	level, err := tracker.ParseComplexity(strings.ToLower(strings.TrimSpace(wire.Level)))
	if err != nil {
		return nil, fmt.Errorf("analysis level: %w", err)
	}

	confidence := wire.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &tracker.ComplexityAnalysis{
		Level:               level,
		Confidence:          confidence,
		Rationale:           strings.TrimSpace(wire.Rationale),
		RecommendedStrategy: level.DefaultStrategy(),
		Source:              "llm",
	}, nil
}
