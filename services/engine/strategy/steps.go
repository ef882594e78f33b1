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
	"log/slog"
	"slices"
	"strings"

	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// stepSystemPrompt frames one research-step exchange.
const stepSystemPrompt = `You are executing one research step for a query engine.

Work only on the step you are given. Use the available tools when they
help; stop calling tools once you can state what the step found. Your
final message must be the step's findings as plain text, concise and
factual.`

// composeNowPrompt is appended when the round budget runs out.
const composeNowPrompt = `Answer now using the tool results above. Do not request more tools.`

// converse drives one generation exchange, satisfying tool requests until
// the model answers in text or the round budget runs out.
//
// # Description
//
// Each round sends the conversation with the available tools attached.
// Requested calls go through the fan-out executor, which consults the
// tracker's cache, so repeated calls across rounds and attempts never hit
// the provider twice. When maxToolRounds rounds all requested tools, one
// final call without tools forces a composed answer.
//
// # Outputs
//
//	content - The model's final text.
//	toolsUsed - Distinct tool names invoked, in first-use order.
//	rounds - How many tool rounds ran.
//	err - Generation-service failure; tool failures are carried back into
//	the conversation as results, never as err.
func converse(ctx context.Context, deps *Deps, tr *tracker.ProgressTracker, strat tracker.ExecutionStrategy, systemPrompt, userContent string, defs []llm.ToolDefinition) (content string, toolsUsed []string, rounds int, err error) {
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: userContent},
	}

	for round := 0; round < maxToolRounds; round++ {
		resp, err := deps.Client.Complete(ctx, &llm.Request{
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Tools:        defs,
			MaxTokens:    2048,
			Temperature:  0.2,
		})
		if err != nil {
			return "", toolsUsed, round, err
		}
		if !resp.HasToolCalls() {
			recordToolRounds(strat.String(), round)
			return resp.Content, toolsUsed, round, nil
		}

		results := deps.Tools.Execute(ctx, tr, strat, resp.ToolCalls)
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, res := range results {
			if res.ToolName != "" && !slices.Contains(toolsUsed, res.ToolName) {
				toolsUsed = append(toolsUsed, res.ToolName)
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    truncateResult(res.Content),
				ToolCallID: res.ToolCallID,
			})
		}
	}

	// Round budget exhausted; compose from what came back.
	slog.Debug("tool round budget exhausted, forcing composition",
		slog.String("run_id", tr.RunID),
		slog.String("strategy", strat.String()),
	)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: composeNowPrompt})
	resp, err := deps.Client.Complete(ctx, &llm.Request{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		MaxTokens:    2048,
		Temperature:  0.2,
	})
	if err != nil {
		return "", toolsUsed, maxToolRounds, err
	}
	recordToolRounds(strat.String(), maxToolRounds)
	return resp.Content, toolsUsed, maxToolRounds, nil
}

// runStep executes a single plan step and returns its findings.
func runStep(ctx context.Context, deps *Deps, tr *tracker.ProgressTracker, strat tracker.ExecutionStrategy, step *tracker.PlanStep, contextBlock string, defs []llm.ToolDefinition) (findings []string, toolsUsed []string, err error) {
	var input strings.Builder
	input.WriteString("Step: ")
	input.WriteString(step.Description)
	input.WriteString("\n\nOverall query: ")
	input.WriteString(tr.Query)
	if contextBlock != "" {
		input.WriteString("\n\nProgress so far:\n")
		input.WriteString(contextBlock)
	}

	content, toolsUsed, _, err := converse(ctx, deps, tr, strat, stepSystemPrompt, input.String(), defs)
	if err != nil {
		return nil, toolsUsed, err
	}
	if trimmed := strings.TrimSpace(content); trimmed != "" {
		findings = []string{trimmed}
	}
	return findings, toolsUsed, nil
}

// deliver pushes a fully composed response through the chunk callback.
// Used where the response was produced without streaming; the whole text
// arrives as one chunk.
func deliver(deps *Deps, content string) error {
	if deps.OnChunk == nil {
		return nil
	}
	return deps.OnChunk(content)
}

// truncateResult caps tool output carried into the conversation. The
// tracker keeps the full result.
func truncateResult(s string) string {
	if len(s) <= maxToolResultLen {
		return s
	}
	return s[:maxToolResultLen-3] + "..."
}
