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
	"maps"
	"slices"
	"strings"
)

// AccumulatedInsights collects everything the engine learned about a query
// across attempts. The list fields are append-only; the two tool maps are
// last-write-wins per tool name.
type AccumulatedInsights struct {
	// ConfirmedFacts are statements verified during execution.
	ConfirmedFacts []string `json:"confirmed_facts,omitempty"`

	// PartialFindings are useful but incomplete results.
	PartialFindings []string `json:"partial_findings,omitempty"`

	// KnowledgeGaps are questions still unanswered.
	KnowledgeGaps []string `json:"knowledge_gaps,omitempty"`

	// QualityFeedback is the evaluator reasoning from each evaluation,
	// oldest first.
	QualityFeedback []string `json:"quality_feedback,omitempty"`

	// RecommendedImprovements are evaluator suggestions for the next
	// attempt.
	RecommendedImprovements []string `json:"recommended_improvements,omitempty"`

	// SuccessfulToolResults maps tool name to its latest successful result.
	SuccessfulToolResults map[string]string `json:"successful_tool_results,omitempty"`

	// FailedToolAttempts maps tool name to its latest failure message.
	FailedToolAttempts map[string]string `json:"failed_tool_attempts,omitempty"`
}

// NewAccumulatedInsights returns an empty insights container.
func NewAccumulatedInsights() *AccumulatedInsights {
	return &AccumulatedInsights{
		SuccessfulToolResults: make(map[string]string),
		FailedToolAttempts:    make(map[string]string),
	}
}

// AddFacts appends non-empty confirmed facts.
func (in *AccumulatedInsights) AddFacts(facts ...string) {
	in.ConfirmedFacts = appendNonEmpty(in.ConfirmedFacts, facts)
}

// AddFindings appends non-empty partial findings.
func (in *AccumulatedInsights) AddFindings(findings ...string) {
	in.PartialFindings = appendNonEmpty(in.PartialFindings, findings)
}

// AddGaps appends non-empty knowledge gaps.
func (in *AccumulatedInsights) AddGaps(gaps ...string) {
	in.KnowledgeGaps = appendNonEmpty(in.KnowledgeGaps, gaps)
}

// AddQualityFeedback appends evaluator reasoning.
func (in *AccumulatedInsights) AddQualityFeedback(feedback ...string) {
	in.QualityFeedback = appendNonEmpty(in.QualityFeedback, feedback)
}

// AddImprovements appends evaluator improvement suggestions.
func (in *AccumulatedInsights) AddImprovements(improvements ...string) {
	in.RecommendedImprovements = appendNonEmpty(in.RecommendedImprovements, improvements)
}

// RecordToolSuccess stores the latest successful result for a tool.
func (in *AccumulatedInsights) RecordToolSuccess(tool, result string) {
	if tool == "" {
		return
	}
	if in.SuccessfulToolResults == nil {
		in.SuccessfulToolResults = make(map[string]string)
	}
	in.SuccessfulToolResults[tool] = result
}

// RecordToolFailure stores the latest failure message for a tool.
func (in *AccumulatedInsights) RecordToolFailure(tool, errMsg string) {
	if tool == "" {
		return
	}
	if in.FailedToolAttempts == nil {
		in.FailedToolAttempts = make(map[string]string)
	}
	in.FailedToolAttempts[tool] = errMsg
}

// RecentQualityFeedback returns up to the last n feedback entries, oldest
// first.
func (in *AccumulatedInsights) RecentQualityFeedback(n int) []string {
	if n <= 0 || len(in.QualityFeedback) == 0 {
		return nil
	}
	if len(in.QualityFeedback) <= n {
		return slices.Clone(in.QualityFeedback)
	}
	return slices.Clone(in.QualityFeedback[len(in.QualityFeedback)-n:])
}

// TopGaps returns up to the first n knowledge gaps.
func (in *AccumulatedInsights) TopGaps(n int) []string {
	if n <= 0 || len(in.KnowledgeGaps) == 0 {
		return nil
	}
	if len(in.KnowledgeGaps) <= n {
		return slices.Clone(in.KnowledgeGaps)
	}
	return slices.Clone(in.KnowledgeGaps[:n])
}

// clone returns a deep copy used for snapshots.
func (in *AccumulatedInsights) clone() *AccumulatedInsights {
	if in == nil {
		return nil
	}
	return &AccumulatedInsights{
		ConfirmedFacts:          slices.Clone(in.ConfirmedFacts),
		PartialFindings:         slices.Clone(in.PartialFindings),
		KnowledgeGaps:           slices.Clone(in.KnowledgeGaps),
		QualityFeedback:         slices.Clone(in.QualityFeedback),
		RecommendedImprovements: slices.Clone(in.RecommendedImprovements),
		SuccessfulToolResults:   maps.Clone(in.SuccessfulToolResults),
		FailedToolAttempts:      maps.Clone(in.FailedToolAttempts),
	}
}

func appendNonEmpty(dst []string, src []string) []string {
	for _, s := range src {
		if strings.TrimSpace(s) != "" {
			dst = append(dst, s)
		}
	}
	return dst
}
