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
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianQuery/services/engine/evaluate"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

func TestLightPlansAndExecutesSteps(t *testing.T) {
	client := &scriptClient{queue: []queuedResponse{
		{content: `["research the release notes", "check the migration guide"]`},
		{content: "finding one"},
		{content: "finding two"},
	}}
	synth := &recordingSynthesizer{response: "synthesized answer"}
	deps := newTestDeps(client, nil, &scriptEvaluator{}, synth)
	l := &LightPlanning{deps: deps}
	tr := newRunTracker(t, "What changed?", tracker.StrategyLightPlanning)

	response, err := l.Execute(context.Background(), "What changed?", tr)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if response != "synthesized answer" {
		t.Errorf("response = %q", response)
	}

	if tr.Plan == nil || len(tr.Plan.Steps) != 2 {
		t.Fatalf("plan steps = %v, want 2", tr.Plan)
	}
	for i, step := range tr.Plan.Steps {
		if step.Status != tracker.StepCompleted {
			t.Errorf("step %d status = %v, want completed", i, step.Status)
		}
	}
	if got := tr.Plan.Steps[0].Findings; len(got) != 1 || got[0] != "finding one" {
		t.Errorf("step 0 findings = %v", got)
	}

	if synth.calls != 1 {
		t.Fatalf("synthesizer calls = %d, want 1", synth.calls)
	}
	if synth.strategy != tracker.StrategyLightPlanning {
		t.Errorf("synthesizer strategy = %v", synth.strategy)
	}
	if len(synth.steps) != 2 {
		t.Errorf("synthesizer saw %d steps, want 2", len(synth.steps))
	}

	// Step findings accumulate on the open attempt.
	attempt := tr.CurrentAttempt()
	if attempt == nil || len(attempt.AccumulatedResults) != 2 {
		t.Errorf("accumulated results = %v, want 2 entries", attempt)
	}
}

func TestLightSkipsCompletedSteps(t *testing.T) {
	client := &scriptClient{queue: []queuedResponse{
		{content: `["research the release notes", "check the migration guide"]`},
		{content: "migration guide finding"},
	}}
	synth := &recordingSynthesizer{response: "combined"}
	deps := newTestDeps(client, nil, &scriptEvaluator{}, synth)
	l := &LightPlanning{deps: deps}

	tr := newRunTracker(t, "What changed?", tracker.StrategyLightPlanning)
	plan := tr.EnsurePlan(tracker.StrategyLightPlanning, []string{
		"research the release notes",
		"check the migration guide",
	})
	if err := plan.StartStep(plan.Steps[0].ID); err != nil {
		t.Fatalf("StartStep() error: %v", err)
	}
	if err := plan.CompleteStep(plan.Steps[0].ID, []string{"already researched"}, nil); err != nil {
		t.Fatalf("CompleteStep() error: %v", err)
	}

	if _, err := l.Execute(context.Background(), "What changed?", tr); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	// One planning call plus one step call: the completed step never
	// re-executes.
	if got := client.callCount(); got != 2 {
		t.Errorf("generation calls = %d, want 2", got)
	}
	if got := tr.Plan.Steps[0].Findings; len(got) != 1 || got[0] != "already researched" {
		t.Errorf("completed step findings changed: %v", got)
	}
	if tr.Plan.Steps[1].Status != tracker.StepCompleted {
		t.Errorf("second step status = %v, want completed", tr.Plan.Steps[1].Status)
	}
	// Refinement proposed the same descriptions, so nothing was appended.
	if len(tr.Plan.Steps) != 2 {
		t.Errorf("plan grew to %d steps, want 2", len(tr.Plan.Steps))
	}
	// Synthesis still sees the earlier findings.
	if len(synth.steps) != 2 {
		t.Errorf("synthesizer saw %d steps, want 2", len(synth.steps))
	}
}

func TestLightPlannerFallbackSingleStep(t *testing.T) {
	client := &scriptClient{queue: []queuedResponse{
		{content: "I cannot produce a plan right now, sorry."},
		{content: "researched anyway"},
	}}
	synth := &recordingSynthesizer{response: "answer"}
	deps := newTestDeps(client, nil, &scriptEvaluator{}, synth)
	l := &LightPlanning{deps: deps}
	tr := newRunTracker(t, "odd query", tracker.StrategyLightPlanning)

	if _, err := l.Execute(context.Background(), "odd query", tr); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if len(tr.Plan.Steps) != 1 {
		t.Fatalf("plan steps = %d, want 1 fallback step", len(tr.Plan.Steps))
	}
	if !strings.Contains(tr.Plan.Steps[0].Description, "odd query") {
		t.Errorf("fallback step description = %q", tr.Plan.Steps[0].Description)
	}
	if tr.Plan.Steps[0].Status != tracker.StepCompleted {
		t.Errorf("fallback step status = %v", tr.Plan.Steps[0].Status)
	}
}

func TestLightStepFailureContinues(t *testing.T) {
	client := &scriptClient{queue: []queuedResponse{
		{content: `["step one", "step two"]`},
		{err: errors.New("model hiccup")},
		{content: "second step finding"},
	}}
	synth := &recordingSynthesizer{response: "partial answer"}
	deps := newTestDeps(client, nil, &scriptEvaluator{}, synth)
	l := &LightPlanning{deps: deps}
	tr := newRunTracker(t, "q", tracker.StrategyLightPlanning)

	response, err := l.Execute(context.Background(), "q", tr)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if response != "partial answer" {
		t.Errorf("response = %q", response)
	}
	if tr.Plan.Steps[0].Status != tracker.StepFailed {
		t.Errorf("step 0 status = %v, want failed", tr.Plan.Steps[0].Status)
	}
	if len(tr.Plan.Steps[0].Findings) == 0 || !strings.Contains(tr.Plan.Steps[0].Findings[0], "failed:") {
		t.Errorf("failed step findings = %v, want failure note", tr.Plan.Steps[0].Findings)
	}
	if tr.Plan.Steps[1].Status != tracker.StepCompleted {
		t.Errorf("step 1 status = %v, want completed", tr.Plan.Steps[1].Status)
	}
}

func TestLightSynthesisFallbackStillAnswers(t *testing.T) {
	client := &scriptClient{queue: []queuedResponse{
		{content: `["only step"]`},
		{content: "the finding"},
	}}
	synth := &recordingSynthesizer{
		response: "Findings for: q\n\n- the finding",
		err:      fmt.Errorf("%w: model overloaded", evaluate.ErrSynthesis),
	}
	deps := newTestDeps(client, nil, &scriptEvaluator{}, synth)
	l := &LightPlanning{deps: deps}
	tr := newRunTracker(t, "q", tracker.StrategyLightPlanning)

	response, err := l.Execute(context.Background(), "q", tr)
	if err != nil {
		t.Fatalf("Execute() error: %v (advisory synthesis errors must not fail the attempt)", err)
	}
	if !strings.Contains(response, "the finding") {
		t.Errorf("response = %q, want concatenation fallback", response)
	}
}

func TestLightCancellationPropagates(t *testing.T) {
	client := &scriptClient{queue: []queuedResponse{{content: `["step"]`}}}
	deps := newTestDeps(client, nil, &scriptEvaluator{}, &recordingSynthesizer{})
	l := &LightPlanning{deps: deps}
	tr := newRunTracker(t, "q", tracker.StrategyLightPlanning)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Execute(ctx, "q", tr)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
}
