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
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianQuery/services/engine/evaluate"
	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// DeepReasoning is the most thorough strategy: it refines the plan,
// iterates over pending steps with the tracker's full context injected,
// checks research completeness after every step, and turns evaluator
// follow-up queries into freshly spawned steps instead of giving up.
//
// Iteration stops early when the evaluator judges the research complete;
// otherwise after deepMaxIterations steps. Spawned steps that don't get
// executed remain pending in the plan for the snapshot to show.
type DeepReasoning struct {
	deps *Deps
}

var _ Executor = (*DeepReasoning)(nil)

// Strategy implements Executor.
func (d *DeepReasoning) Strategy() tracker.ExecutionStrategy {
	return tracker.StrategyDeepReasoning
}

// Execute implements Executor.
func (d *DeepReasoning) Execute(ctx context.Context, query string, tr *tracker.ProgressTracker) (string, error) {
	ctx, span := otel.Tracer("strategy").Start(ctx, "strategy.DeepReasoning.Execute")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", tr.RunID))

	progress := tr.ToContext(tracker.StrategyDeepReasoning)

	proposed, err := planSteps(ctx, d.deps.Client, query, progress, maxDeepSteps)
	if err != nil {
		return "", wrapErr(span, err)
	}
	plan := tr.EnsurePlan(tracker.StrategyDeepReasoning, proposed)
	recordPlanSize(tracker.StrategyDeepReasoning.String(), len(plan.Steps))
	span.SetAttributes(
		attribute.Int("plan_steps", len(plan.Steps)),
		attribute.Int("pending_steps", plan.PendingCount()),
	)

	defs, err := listTools(ctx, d.deps.Provider)
	if err != nil {
		slog.Warn("tool listing failed, continuing without tools",
			slog.String("run_id", tr.RunID),
			slog.String("error", err.Error()),
		)
	}

	iterations := 0
	for iterations < deepMaxIterations {
		step := plan.NextPending()
		if step == nil {
			break
		}
		iterations++

		complete, err := d.executeStep(ctx, query, tr, plan, step, defs)
		if err != nil {
			return "", wrapErr(span, err)
		}
		if complete {
			slog.Info("research judged complete, stopping iteration early",
				slog.String("run_id", tr.RunID),
				slog.Int("iterations", iterations),
			)
			break
		}
	}
	span.SetAttributes(attribute.Int("iterations", iterations))

	response, err := d.deps.Synthesizer.Synthesize(ctx, tracker.StrategyDeepReasoning, query, plan.Steps, d.deps.OnChunk)
	if err != nil {
		if !errors.Is(err, evaluate.ErrSynthesis) {
			return "", wrapErr(span, err)
		}
		slog.Warn("synthesis degraded to concatenated findings",
			slog.String("run_id", tr.RunID),
			slog.String("error", err.Error()),
		)
	}
	return response, nil
}

// executeStep runs one step with full context, then evaluates research
// completeness and spawns follow-up steps from evaluator feedback.
//
// # Outputs
//
//	complete - True when the evaluator judged the research sufficient.
//	err - Context errors and plan bookkeeping failures; a failed step is
//	recorded and returns (false, nil) so iteration continues.
func (d *DeepReasoning) executeStep(ctx context.Context, query string, tr *tracker.ProgressTracker, plan *tracker.ResearchPlanSkeleton, step *tracker.PlanStep, defs []llm.ToolDefinition) (bool, error) {
	if err := plan.StartStep(step.ID); err != nil {
		return false, err
	}
	slog.Debug("executing plan step",
		slog.String("run_id", tr.RunID),
		slog.String("step_id", step.ID),
		slog.String("description", step.Description),
	)

	findings, toolsUsed, err := runStep(ctx, d.deps, tr, tracker.StrategyDeepReasoning, step, tr.ToContext(tracker.StrategyDeepReasoning), defs)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		if failErr := plan.FailStep(step.ID, err.Error()); failErr != nil {
			return false, failErr
		}
		recordStep(tracker.StrategyDeepReasoning.String(), "failed")
		slog.Warn("plan step failed",
			slog.String("run_id", tr.RunID),
			slog.String("step_id", step.ID),
			slog.String("error", err.Error()),
		)
		return false, nil
	}

	if err := plan.CompleteStep(step.ID, findings, toolsUsed); err != nil {
		return false, err
	}
	for _, f := range findings {
		tr.RecordStepResult(f)
	}
	tr.Insights.AddFindings(findings...)
	recordStep(tracker.StrategyDeepReasoning.String(), "completed")

	return d.checkCompleteness(ctx, query, tr, plan, step)
}

// checkCompleteness asks the evaluator whether the research gathered so
// far already answers the query, and spawns follow-up steps from its
// additional queries. Evaluation failures are advisory here: the default
// incomplete verdict just keeps the iteration going.
func (d *DeepReasoning) checkCompleteness(ctx context.Context, query string, tr *tracker.ProgressTracker, plan *tracker.ResearchPlanSkeleton, step *tracker.PlanStep) (bool, error) {
	research := researchSoFar(plan)
	if research == "" {
		return false, nil
	}

	eval, err := d.deps.Evaluator.Evaluate(ctx, query, research, tr.ToContext(tracker.StrategyDeepReasoning))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		if !errors.Is(err, evaluate.ErrEvaluation) {
			return false, err
		}
		slog.Debug("step evaluation degraded to default verdict",
			slog.String("run_id", tr.RunID),
			slog.String("step_id", step.ID),
		)
	}
	if eval == nil {
		return false, nil
	}
	if eval.IsComplete {
		return true, nil
	}

	spawned := 0
	for _, followUp := range eval.AdditionalQueries {
		if spawned >= maxSpawnedPerStep {
			break
		}
		if hasStepDescribed(plan, followUp) {
			continue
		}
		plan.SpawnStep(followUp, step.ID)
		spawned++
	}
	if spawned > 0 {
		slog.Debug("spawned follow-up steps from evaluator feedback",
			slog.String("run_id", tr.RunID),
			slog.String("step_id", step.ID),
			slog.Int("spawned", spawned),
		)
	}
	return false, nil
}

// researchSoFar joins the findings of all terminal steps for evaluation.
func researchSoFar(plan *tracker.ResearchPlanSkeleton) string {
	var parts []string
	for _, step := range plan.Steps {
		if !step.Terminal() {
			continue
		}
		parts = append(parts, step.Findings...)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// hasStepDescribed reports whether the plan already carries a step with
// this description, ignoring case and surrounding whitespace.
func hasStepDescribed(plan *tracker.ResearchPlanSkeleton, description string) bool {
	want := strings.ToLower(strings.TrimSpace(description))
	if want == "" {
		return true
	}
	for _, step := range plan.Steps {
		if strings.ToLower(strings.TrimSpace(step.Description)) == want {
			return true
		}
	}
	return false
}
