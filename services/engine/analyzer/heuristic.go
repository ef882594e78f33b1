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
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// complexPatterns flag queries that need comparison, synthesis, or open
// ended research. Grouped by category for maintainability.
var complexPatterns = []string{
	// Comparison and evaluation
	`\bcompare\b`,
	`\bcontrast\b`,
	`\bversus\b`,
	`\bvs\.?\b`,
	`\btrade-?offs?\b`,
	`\bpros and cons\b`,
	`\bevaluate\b`,
	`\bweigh\b`,

	// Design and synthesis
	`\bdesign\b`,
	`\barchitect`,
	`\bpropose\b`,
	`\bsynthesi[sz]e\b`,
	`\bstrategy\b`,
	`\broadmap\b`,

	// Depth signals
	`\bin depth\b`,
	`\bcomprehensive\b`,
	`\bthorough`,
	`\bstep[- ]by[- ]step\b`,
	`\broot cause\b`,
	`\bimplications?\b`,
	`\bresearch\b`,
}

// simplePatterns flag single-fact lookups and trivial computations. Anchored
// patterns match question openers; the arithmetic pattern matches bare math.
var simplePatterns = []string{
	`^what is\b`,
	`^what's\b`,
	`^what are\b`,
	`^who is\b`,
	`^who was\b`,
	`^when did\b`,
	`^when is\b`,
	`^where is\b`,
	`^how many\b`,
	`^how much\b`,
	`^define\b`,
	`^convert\b`,
	`^[0-9\s+*/%^().=-]+\??$`,
}

const (
	// complexWordThreshold: queries longer than this lean complex even
	// without a pattern match.
	complexWordThreshold = 40

	// simpleWordLimit: a simple-pattern match only holds for short
	// queries. "What is the best architecture for..." is not a lookup.
	simpleWordLimit = 12
)

// HeuristicAnalyzer classifies complexity from surface features alone. It
// backs the LLM analyzer when the model is unavailable or unconvincing and
// never fails.
//
// Thread Safety: This type is safe for concurrent use after initialization.
type HeuristicAnalyzer struct {
	complexPattern *regexp.Regexp
	simplePattern  *regexp.Regexp
}

// NewHeuristicAnalyzer compiles the pattern tables once.
//
// Thread Safety: The returned analyzer is safe for concurrent use.
func NewHeuristicAnalyzer() *HeuristicAnalyzer {
	return &HeuristicAnalyzer{
		complexPattern: regexp.MustCompile("(?i)(" + strings.Join(complexPatterns, "|") + ")"),
		simplePattern:  regexp.MustCompile("(?i)(" + strings.Join(simplePatterns, "|") + ")"),
	}
}

// Analyze classifies query without calling a model.
//
// # Description
//
// Signals, in priority order: complexity vocabulary or great length or
// multiple questions mark the query complex; a short anchored lookup
// opener marks it simple; everything else is medium. Confidence reflects
// how decisive the matched signal is, always below the LLM path's typical
// confidence so cached LLM results win.
//
// # Inputs
//
//   - ctx: used for the trace span only.
//   - query: the user's question, already trimmed by the caller.
//
// # Outputs
//
//   - *tracker.ComplexityAnalysis: never nil, Source "heuristic".
//
// Thread Safety: This method is safe for concurrent use.
func (h *HeuristicAnalyzer) Analyze(ctx context.Context, query string) *tracker.ComplexityAnalysis {
	if ctx == nil {
		ctx = context.Background()
	}
	_, span := otel.Tracer("analyzer").Start(ctx, "analyzer.HeuristicAnalyzer.Analyze")
	defer span.End()

	trimmed := strings.TrimSpace(query)
	words := len(strings.Fields(trimmed))
	questions := strings.Count(trimmed, "?")
	conjunctions := strings.Count(strings.ToLower(trimmed), " and ")

	var analysis *tracker.ComplexityAnalysis
	switch {
	case h.complexPattern.MatchString(trimmed):
		analysis = heuristicResult(tracker.ComplexityComplex, 0.7,
			fmt.Sprintf("matched complexity vocabulary: %q", h.complexPattern.FindString(trimmed)))
	case words > complexWordThreshold:
		analysis = heuristicResult(tracker.ComplexityComplex, 0.6,
			fmt.Sprintf("long query (%d words)", words))
	case questions >= 2 || conjunctions >= 2:
		analysis = heuristicResult(tracker.ComplexityComplex, 0.6,
			"multiple questions or clauses in one query")
	case h.simplePattern.MatchString(strings.ToLower(trimmed)) && words <= simpleWordLimit && conjunctions == 0:
		analysis = heuristicResult(tracker.ComplexitySimple, 0.75,
			"short single-fact lookup")
	default:
		analysis = heuristicResult(tracker.ComplexityMedium, 0.5,
			"no strong signal; defaulting to medium")
	}

	span.SetAttributes(
		attribute.String("level", analysis.Level.String()),
		attribute.Float64("confidence", analysis.Confidence),
	)
	return analysis
}

func heuristicResult(level tracker.ComplexityLevel, confidence float64, rationale string) *tracker.ComplexityAnalysis {
	return &tracker.ComplexityAnalysis{
		Level:               level,
		Confidence:          confidence,
		Rationale:           rationale,
		RecommendedStrategy: level.DefaultStrategy(),
		Source:              "heuristic",
	}
}
