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
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianQuery/services/engine/evaluate"
	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// LightPlanning decomposes the query into a short plan and executes each
// pending step once, then synthesizes the step findings into a response.
//
// Steps completed by earlier attempts keep their findings and are never
// re-executed; their findings flow straight into synthesis.
type LightPlanning struct {
	deps *Deps
}

var _ Executor = (*LightPlanning)(nil)

// Strategy implements Executor.
func (l *LightPlanning) Strategy() tracker.ExecutionStrategy {
	return tracker.StrategyLightPlanning
}

// Execute implements Executor.
func (l *LightPlanning) Execute(ctx context.Context, query string, tr *tracker.ProgressTracker) (string, error) {
	ctx, span := otel.Tracer("strategy").Start(ctx, "strategy.LightPlanning.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", tr.RunID))

	progress := tr.ToContext(tracker.StrategyLightPlanning)

	proposed, err := planSteps(ctx, l.deps.Client, query, progress, maxLightSteps)
	if err != nil {
		return "", wrapErr(span, err)
	}
	plan := tr.EnsurePlan(tracker.StrategyLightPlanning, proposed)
	recordPlanSize(tracker.StrategyLightPlanning.String(), len(plan.Steps))
	span.SetAttributes(
		attribute.Int("plan_steps", len(plan.Steps)),
		attribute.Int("pending_steps", plan.PendingCount()),
	)

	defs, err := listTools(ctx, l.deps.Provider)
	if err != nil {
		slog.Warn("tool listing failed, continuing without tools",
			slog.String("run_id", tr.RunID),
			slog.String("error", err.Error()),
		)
	}

	executed := 0
	for executed < maxLightSteps {
		step := plan.NextPending()
		if step == nil {
			break
		}
		if err := l.executeStep(ctx, tr, plan, step, defs); err != nil {
			return "", wrapErr(span, err)
		}
		executed++
	}

	response, err := l.deps.Synthesizer.Synthesize(ctx, tracker.StrategyLightPlanning, query, plan.Steps, l.deps.OnChunk)
	if err != nil {
		if !errors.Is(err, evaluate.ErrSynthesis) {
			return "", wrapErr(span, err)
		}
		// Advisory: the concatenation fallback came back usable.
		slog.Warn("synthesis degraded to concatenated findings",
			slog.String("run_id", tr.RunID),
			slog.String("error", err.Error()),
		)
	}
	return response, nil
}

// executeStep runs one step and records its outcome on the plan and
// tracker. Generation-service failures fail the step; only context errors
// abort the attempt.
func (l *LightPlanning) executeStep(ctx context.Context, tr *tracker.ProgressTracker, plan *tracker.ResearchPlanSkeleton, step *tracker.PlanStep, defs []llm.ToolDefinition) error {
	if err := plan.StartStep(step.ID); err != nil {
		return err
	}
	slog.Debug("executing plan step",
		slog.String("run_id", tr.RunID),
		slog.String("step_id", step.ID),
		slog.String("description", step.Description),
	)

	findings, toolsUsed, err := runStep(ctx, l.deps, tr, tracker.StrategyLightPlanning, step, tr.ToContext(tracker.StrategyLightPlanning), defs)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		if failErr := plan.FailStep(step.ID, err.Error()); failErr != nil {
			return failErr
		}
		recordStep(tracker.StrategyLightPlanning.String(), "failed")
		slog.Warn("plan step failed",
			slog.String("run_id", tr.RunID),
			slog.String("step_id", step.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if err := plan.CompleteStep(step.ID, findings, toolsUsed); err != nil {
		return err
	}
	for _, f := range findings {
		tr.RecordStepResult(f)
	}
	tr.Insights.AddFindings(findings...)
	recordStep(tracker.StrategyLightPlanning.String(), "completed")
	return nil
}
