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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// directSystemPrompt frames the single-pass answer.
const directSystemPrompt = `You are a capable assistant answering a user query directly.

Use the available tools when the answer needs current or external facts;
answer from knowledge otherwise. Be accurate and complete. Respond with
the answer only.`

// Direct is the cheapest strategy: no plan, one pass through the query.
//
// On a retry after escalation bookkeeping put earlier attempts on the
// tracker, the tracker's compact context is prepended so the model sees
// what was already tried. Tool rounds are allowed within the pass; there
// is no step iteration.
type Direct struct {
	deps *Deps
}

var _ Executor = (*Direct)(nil)

// Strategy implements Executor.
func (d *Direct) Strategy() tracker.ExecutionStrategy { return tracker.StrategyDirect }

// Execute implements Executor.
func (d *Direct) Execute(ctx context.Context, query string, tr *tracker.ProgressTracker) (string, error) {
	ctx, span := otel.Tracer("strategy").Start(ctx, "strategy.Direct.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", tr.RunID),
		attribute.Bool("retry", tr.IsRetry()),
	)

	userContent := query
	if tr.IsRetry() {
		userContent = tr.ToContext(tracker.StrategyDirect) + "\n\n" + query
	}

	defs, err := listTools(ctx, d.deps.Provider)
	if err != nil {
		slog.Warn("tool listing failed, continuing without tools",
			slog.String("run_id", tr.RunID),
			slog.String("error", err.Error()),
		)
	}

	// Without tools the single call is the final composition, so it can
	// stream for real.
	if len(defs) == 0 {
		response, err := d.compose(ctx, userContent)
		if err != nil {
			return "", wrapErr(span, err)
		}
		recordStep(tracker.StrategyDirect.String(), "completed")
		return response, nil
	}

	content, toolsUsed, rounds, err := converse(ctx, d.deps, tr, tracker.StrategyDirect, directSystemPrompt, userContent, defs)
	if err != nil {
		return "", wrapErr(span, err)
	}
	span.SetAttributes(
		attribute.Int("tool_rounds", rounds),
		attribute.Int("tools_used", len(toolsUsed)),
	)
	if err := deliver(d.deps, content); err != nil {
		return "", wrapErr(span, err)
	}
	recordStep(tracker.StrategyDirect.String(), "completed")
	return content, nil
}

// compose issues the tool-less final call, streaming when supported.
func (d *Direct) compose(ctx context.Context, userContent string) (string, error) {
	request := &llm.Request{
		SystemPrompt: directSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: userContent},
		},
		MaxTokens:   2048,
		Temperature: 0.2,
	}

	if d.deps.OnChunk != nil {
		if streamer, ok := d.deps.Client.(llm.StreamingClient); ok {
			resp, err := streamer.CompleteStream(ctx, request, d.deps.OnChunk)
			if err != nil {
				return "", err
			}
			return resp.Content, nil
		}
	}

	resp, err := d.deps.Client.Complete(ctx, request)
	if err != nil {
		return "", err
	}
	if err := deliver(d.deps, resp.Content); err != nil {
		return "", err
	}
	return resp.Content, nil
}
