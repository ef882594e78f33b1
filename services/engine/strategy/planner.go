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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
)

// planningPrompt asks for a short JSON plan. The step budget is injected
// per strategy.
const planningPrompt = `You are planning research steps for a query engine.

Decompose the query into at most %d research steps. Each step is one
sentence describing a concrete subtask. Order them so later steps can
build on earlier ones. Prefer fewer steps; do not pad.

If prior progress is provided, propose only steps that cover what is
still missing — never repeat work that is already done.

Respond with ONLY a valid JSON array of strings:
["first step", "second step"]`

// planSteps asks the generation service to decompose the query.
//
// # Description
//
// Returns at most maxSteps trimmed, non-empty step descriptions. On any
// failure (call, parse, empty plan) it degrades to a single step covering
// the whole query, because a planned strategy without a plan is worse
// than a one-step plan. Context cancellation propagates instead.
func planSteps(ctx context.Context, client llm.Client, query, progress string, maxSteps int) ([]string, error) {
	var input strings.Builder
	input.WriteString("Query:\n")
	input.WriteString(query)
	if progress != "" {
		input.WriteString("\n\nPrior progress:\n")
		input.WriteString(progress)
	}

	request := &llm.Request{
		SystemPrompt: fmt.Sprintf(planningPrompt, maxSteps),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: input.String()},
		},
		MaxTokens:   512,
		Temperature: 0.2,
	}

	resp, err := client.Complete(ctx, request)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		slog.Warn("planning call failed, using single-step fallback plan",
			slog.String("error", err.Error()),
		)
		return fallbackPlan(query), nil
	}

	steps, err := parsePlan(resp.Content, maxSteps)
	if err != nil {
		slog.Warn("plan output unparseable, using single-step fallback plan",
			slog.String("error", err.Error()),
		)
		return fallbackPlan(query), nil
	}
	return steps, nil
}

// parsePlan extracts the step array, trimming blanks and enforcing the cap.
func parsePlan(content string, maxSteps int) ([]string, error) {
	var raw []string
	if err := llm.ExtractJSONInto(content, &raw); err != nil {
		return nil, fmt.Errorf("extract plan JSON: %w", err)
	}

	steps := make([]string, 0, len(raw))
	for _, s := range raw {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			steps = append(steps, trimmed)
		}
	}
	if len(steps) == 0 {
		return nil, errors.New("plan contains no usable steps")
	}
	if len(steps) > maxSteps {
		steps = steps[:maxSteps]
	}
	return steps, nil
}

// fallbackPlan is the degenerate one-step plan used when planning fails.
func fallbackPlan(query string) []string {
	return []string{"Research and answer: " + query}
}
