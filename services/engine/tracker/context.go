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
	"fmt"
	"sort"
	"strings"
)

// resultPreviewLen caps tool result previews in serialized context. Full
// results stay in the tracker; prompts only need a taste.
const resultPreviewLen = 100

// topGapCount is how many knowledge gaps the compact summary carries.
const topGapCount = 3

// recentFeedbackCount is how many evaluator feedback entries the full
// context carries.
const recentFeedbackCount = 3

// Verbosity selects how much tracker state a serialized context includes.
type Verbosity int

const (
	// VerbosityMinimal is the query and its complexity, nothing else.
	VerbosityMinimal Verbosity = iota

	// VerbosityCompact is a one-line progress summary for direct retries.
	VerbosityCompact

	// VerbosityMedium adds plan state, grouped tool results, and gaps.
	VerbosityMedium

	// VerbosityFull adds attempt history, the complete tool log, and all
	// accumulated insights.
	VerbosityFull
)

// String returns the verbosity name.
func (v Verbosity) String() string {
	switch v {
	case VerbosityMinimal:
		return "minimal"
	case VerbosityCompact:
		return "compact"
	case VerbosityMedium:
		return "medium"
	case VerbosityFull:
		return "full"
	default:
		return "unknown"
	}
}

// VerbosityFor maps the executing strategy and escalation depth to the
// verbosity its context should use. The first direct pass needs almost
// nothing; a direct retry gets the compact summary; planning strategies get
// progressively more.
func (t *ProgressTracker) VerbosityFor(strategy ExecutionStrategy) Verbosity {
	switch strategy {
	case StrategyLightPlanning:
		return VerbosityMedium
	case StrategyDeepReasoning:
		return VerbosityFull
	default:
		if t.AttemptCount() > 1 {
			return VerbosityCompact
		}
		return VerbosityMinimal
	}
}

// ToContext serializes the tracker into natural-language context for the
// given strategy. The output is a pure function of tracker state: calling
// it twice on an unmodified tracker returns byte-identical text.
func (t *ProgressTracker) ToContext(strategy ExecutionStrategy) string {
	return t.Render(t.VerbosityFor(strategy))
}

// Render serializes the tracker at an explicit verbosity level.
func (t *ProgressTracker) Render(v Verbosity) string {
	switch v {
	case VerbosityCompact:
		return t.renderCompact()
	case VerbosityMedium:
		return t.renderMedium()
	case VerbosityFull:
		return t.renderFull()
	default:
		return t.renderMinimal()
	}
}

// -----------------------------------------------------------------------------
// Minimal
// -----------------------------------------------------------------------------

func (t *ProgressTracker) renderMinimal() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", t.Query)
	fmt.Fprintf(&b, "Complexity: %s\n", t.Analysis.Level)
	return b.String()
}

// -----------------------------------------------------------------------------
// Compact
// -----------------------------------------------------------------------------

func (t *ProgressTracker) renderCompact() string {
	completed, total := 0, 0
	if t.Plan != nil {
		total = len(t.Plan.Steps)
		completed = len(t.Plan.CompletedSteps())
	}

	parts := []string{
		fmt.Sprintf("attempt %d", t.AttemptCount()),
		fmt.Sprintf("%d tool calls", len(t.ToolExecutions)),
		fmt.Sprintf("plan %d/%d steps done", completed, total),
	}
	if gaps := t.Insights.TopGaps(topGapCount); len(gaps) > 0 {
		parts = append(parts, "gaps: "+strings.Join(gaps, "; "))
	}
	if cached := t.CachedToolNames(); len(cached) > 0 {
		parts = append(parts, "cached tools: "+strings.Join(cached, ", "))
	}
	return "Previous progress: " + strings.Join(parts, " | ") + "\n"
}

// -----------------------------------------------------------------------------
// Medium
// -----------------------------------------------------------------------------

func (t *ProgressTracker) renderMedium() string {
	var b strings.Builder
	b.WriteString(t.renderMinimal())

	if t.Plan != nil {
		if completed := t.Plan.CompletedSteps(); len(completed) > 0 {
			b.WriteString("\nCompleted steps:\n")
			for _, step := range completed {
				fmt.Fprintf(&b, "- %s\n", step.Description)
				for _, finding := range step.Findings {
					fmt.Fprintf(&b, "  finding: %s\n", finding)
				}
			}
		}
		pending := false
		for _, step := range t.Plan.Steps {
			if step.Status != StepPending {
				continue
			}
			if !pending {
				b.WriteString("\nPending steps:\n")
				pending = true
			}
			fmt.Fprintf(&b, "- %s\n", step.Description)
		}
	}

	t.renderToolSummary(&b)

	if len(t.Insights.KnowledgeGaps) > 0 {
		b.WriteString("\nKnowledge gaps:\n")
		for _, gap := range t.Insights.KnowledgeGaps {
			fmt.Fprintf(&b, "- %s\n", gap)
		}
	}
	return b.String()
}

// renderToolSummary writes tool executions grouped by tool name with the
// latest result previewed. Names are sorted for determinism.
func (t *ProgressTracker) renderToolSummary(b *strings.Builder) {
	if len(t.ToolExecutions) == 0 {
		return
	}
	byName := make(map[string][]*ToolExecution)
	for _, exec := range t.ToolExecutions {
		byName[exec.ToolName] = append(byName[exec.ToolName], exec)
	}

	b.WriteString("\nTool executions:\n")
	for _, name := range sortedKeys(byName) {
		execs := byName[name]
		latest := execs[len(execs)-1]
		if latest.Success {
			fmt.Fprintf(b, "- %s (%d calls): %s\n", name, len(execs), preview(latest.Result))
		} else {
			fmt.Fprintf(b, "- %s (%d calls): failed: %s\n", name, len(execs), preview(latest.Error))
		}
	}
}

// -----------------------------------------------------------------------------
// Full
// -----------------------------------------------------------------------------

func (t *ProgressTracker) renderFull() string {
	var b strings.Builder
	b.WriteString(t.renderMedium())

	if len(t.Attempts) > 0 {
		b.WriteString("\nAttempt history:\n")
		for i, attempt := range t.Attempts {
			fmt.Fprintf(&b, "%d. %s: %s (quality %.2f)\n", i+1, attempt.Strategy, attempt.Status, attempt.QualityScore)
			if attempt.Evaluation != nil && attempt.Evaluation.Reasoning != "" {
				fmt.Fprintf(&b, "   evaluator: %s\n", attempt.Evaluation.Reasoning)
			}
		}
	}

	var successes, failures []*ToolExecution
	for _, exec := range t.ToolExecutions {
		if exec.Success {
			successes = append(successes, exec)
		} else {
			failures = append(failures, exec)
		}
	}
	if len(successes) > 0 {
		b.WriteString("\nSuccessful tool calls:\n")
		for _, exec := range successes {
			fmt.Fprintf(&b, "- %s: %s\n", exec.ToolName, preview(exec.Result))
		}
	}
	if len(failures) > 0 {
		b.WriteString("\nFailed tool calls:\n")
		for _, exec := range failures {
			fmt.Fprintf(&b, "- %s: %s\n", exec.ToolName, preview(exec.Error))
		}
	}

	t.renderInsights(&b)
	return b.String()
}

func (t *ProgressTracker) renderInsights(b *strings.Builder) {
	in := t.Insights
	if len(in.ConfirmedFacts) > 0 {
		b.WriteString("\nConfirmed facts:\n")
		for _, fact := range in.ConfirmedFacts {
			fmt.Fprintf(b, "- %s\n", fact)
		}
	}
	if len(in.PartialFindings) > 0 {
		b.WriteString("\nPartial findings:\n")
		for _, finding := range in.PartialFindings {
			fmt.Fprintf(b, "- %s\n", finding)
		}
	}
	if len(in.RecommendedImprovements) > 0 {
		b.WriteString("\nRecommended improvements:\n")
		for _, rec := range in.RecommendedImprovements {
			fmt.Fprintf(b, "- %s\n", rec)
		}
	}
	if feedback := in.RecentQualityFeedback(recentFeedbackCount); len(feedback) > 0 {
		b.WriteString("\nRecent quality feedback:\n")
		for _, fb := range feedback {
			fmt.Fprintf(b, "- %s\n", fb)
		}
	}
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// preview truncates long values for prompt context.
func preview(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > resultPreviewLen {
		return s[:resultPreviewLen] + "..."
	}
	return s
}

// sortedKeys returns the map's keys in sorted order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
