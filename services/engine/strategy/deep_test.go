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
	"testing"

	"github.com/AleutianAI/AleutianQuery/services/engine/evaluate"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

func TestDeepStopsWhenResearchJudgedComplete(t *testing.T) {
	client := &scriptClient{queue: []queuedResponse{
		{content: `["survey the landscape", "compare options", "check benchmarks"]`},
		{content: "the landscape has exactly one serious option"},
	}}
	evaluator := &scriptEvaluator{queue: []evalScript{
		{result: &tracker.EvaluationResult{IsComplete: true, Confidence: 0.9}},
	}}
	synth := &recordingSynthesizer{response: "done"}
	deps := newTestDeps(client, nil, evaluator, synth)
	d := &DeepReasoning{deps: deps}
	tr := newRunTracker(t, "which option?", tracker.StrategyDeepReasoning)

	response, err := d.Execute(context.Background(), "which option?", tr)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if response != "done" {
		t.Errorf("response = %q", response)
	}

	// One planning call plus one step call: the complete verdict stops
	// iteration before steps two and three run.
	if got := client.callCount(); got != 2 {
		t.Errorf("generation calls = %d, want 2", got)
	}
	if tr.Plan.Steps[0].Status != tracker.StepCompleted {
		t.Errorf("step 0 status = %v, want completed", tr.Plan.Steps[0].Status)
	}
	for i := 1; i < 3; i++ {
		if tr.Plan.Steps[i].Status != tracker.StepPending {
			t.Errorf("step %d status = %v, want pending", i, tr.Plan.Steps[i].Status)
		}
	}
	if evaluator.calls != 1 {
		t.Errorf("evaluator calls = %d, want 1", evaluator.calls)
	}
	// The synthesizer still sees the untouched pending steps; it ignores
	// them when collecting findings.
	if len(synth.steps) != 3 {
		t.Errorf("synthesizer saw %d steps, want 3", len(synth.steps))
	}
}

func TestDeepSpawnsFollowUpSteps(t *testing.T) {
	client := &scriptClient{queue: []queuedResponse{
		{content: `["initial research"]`},
		{content: "initial finding"},
		{content: "changelog finding"},
	}}
	evaluator := &scriptEvaluator{queue: []evalScript{
		{result: &tracker.EvaluationResult{
			IsComplete:        false,
			Confidence:        0.4,
			AdditionalQueries: []string{"dig into the changelog"},
		}},
		{result: &tracker.EvaluationResult{IsComplete: true, Confidence: 0.9}},
	}}
	deps := newTestDeps(client, nil, evaluator, &recordingSynthesizer{response: "r"})
	d := &DeepReasoning{deps: deps}
	tr := newRunTracker(t, "what changed?", tracker.StrategyDeepReasoning)

	if _, err := d.Execute(context.Background(), "what changed?", tr); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	if len(tr.Plan.Steps) != 2 {
		t.Fatalf("plan steps = %d, want 2 (one planned, one spawned)", len(tr.Plan.Steps))
	}
	spawned := tr.Plan.Steps[1]
	if spawned.Description != "dig into the changelog" {
		t.Errorf("spawned description = %q", spawned.Description)
	}
	if spawned.SpawnedFrom != tr.Plan.Steps[0].ID {
		t.Errorf("SpawnedFrom = %q, want %q", spawned.SpawnedFrom, tr.Plan.Steps[0].ID)
	}
	if spawned.Status != tracker.StepCompleted {
		t.Errorf("spawned step status = %v, want completed (picked up in iteration two)", spawned.Status)
	}
	if tr.Plan.RevisionCount == 0 {
		t.Errorf("RevisionCount = 0, want spawn to bump it")
	}
}

func TestDeepDoesNotSpawnDuplicateSteps(t *testing.T) {
	client := &scriptClient{queue: []queuedResponse{
		{content: `["compare options", "check benchmarks"]`},
		{content: "comparison finding"},
		{content: "benchmark finding"},
	}}
	// The follow-up restates an existing step with different casing, so
	// nothing new may enter the plan.
	evaluator := &scriptEvaluator{queue: []evalScript{
		{result: &tracker.EvaluationResult{
			IsComplete:        false,
			AdditionalQueries: []string{"Check Benchmarks", "  "},
		}},
		{result: &tracker.EvaluationResult{IsComplete: true, Confidence: 0.8}},
	}}
	deps := newTestDeps(client, nil, evaluator, &recordingSynthesizer{response: "r"})
	d := &DeepReasoning{deps: deps}
	tr := newRunTracker(t, "q", tracker.StrategyDeepReasoning)

	if _, err := d.Execute(context.Background(), "q", tr); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if len(tr.Plan.Steps) != 2 {
		t.Errorf("plan steps = %d, want 2 (duplicate follow-up dropped)", len(tr.Plan.Steps))
	}
}

func TestDeepIterationCapHolds(t *testing.T) {
	client := &scriptClient{queue: []queuedResponse{
		{content: `["a", "b", "c", "d", "e"]`},
		{content: "finding a"},
		{content: "finding b"},
		{content: "finding c"},
	}}
	// Never complete: the queue's only verdict repeats forever.
	evaluator := &scriptEvaluator{queue: []evalScript{
		{result: &tracker.EvaluationResult{IsComplete: false, Confidence: 0.3}},
	}}
	synth := &recordingSynthesizer{response: "capped"}
	deps := newTestDeps(client, nil, evaluator, synth)
	d := &DeepReasoning{deps: deps}
	tr := newRunTracker(t, "broad question", tracker.StrategyDeepReasoning)

	response, err := d.Execute(context.Background(), "broad question", tr)
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if response != "capped" {
		t.Errorf("response = %q", response)
	}

	completed, pending := 0, 0
	for _, step := range tr.Plan.Steps {
		switch step.Status {
		case tracker.StepCompleted:
			completed++
		case tracker.StepPending:
			pending++
		}
	}
	if completed != 3 {
		t.Errorf("completed steps = %d, want 3 (iteration cap)", completed)
	}
	if pending != 2 {
		t.Errorf("pending steps = %d, want 2 left for the snapshot", pending)
	}
	if evaluator.calls != 3 {
		t.Errorf("evaluator calls = %d, want 3", evaluator.calls)
	}
}

func TestDeepDegradedEvaluationKeepsIterating(t *testing.T) {
	client := &scriptClient{queue: []queuedResponse{
		{content: `["first", "second"]`},
		{content: "finding one"},
		{content: "finding two"},
	}}
	// Advisory failure: a default incomplete verdict arrives alongside
	// the error. Iteration must continue, not abort.
	evaluator := &scriptEvaluator{queue: []evalScript{
		{
			result: &tracker.EvaluationResult{IsComplete: false, Confidence: 0},
			err:    fmt.Errorf("%w: judge offline", evaluate.ErrEvaluation),
		},
	}}
	deps := newTestDeps(client, nil, evaluator, &recordingSynthesizer{response: "r"})
	d := &DeepReasoning{deps: deps}
	tr := newRunTracker(t, "q", tracker.StrategyDeepReasoning)

	if _, err := d.Execute(context.Background(), "q", tr); err != nil {
		t.Fatalf("Execute() error: %v (advisory evaluation errors must not fail the attempt)", err)
	}
	for i, step := range tr.Plan.Steps {
		if step.Status != tracker.StepCompleted {
			t.Errorf("step %d status = %v, want completed", i, step.Status)
		}
	}
}

func TestDeepStepFailureRecordsAndContinues(t *testing.T) {
	client := &scriptClient{queue: []queuedResponse{
		{content: `["first", "second"]`},
		{err: errors.New("model hiccup")},
		{content: "second finding"},
	}}
	evaluator := &scriptEvaluator{queue: []evalScript{
		{result: &tracker.EvaluationResult{IsComplete: true, Confidence: 0.9}},
	}}
	deps := newTestDeps(client, nil, evaluator, &recordingSynthesizer{response: "r"})
	d := &DeepReasoning{deps: deps}
	tr := newRunTracker(t, "q", tracker.StrategyDeepReasoning)

	if _, err := d.Execute(context.Background(), "q", tr); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if tr.Plan.Steps[0].Status != tracker.StepFailed {
		t.Errorf("step 0 status = %v, want failed", tr.Plan.Steps[0].Status)
	}
	if tr.Plan.Steps[1].Status != tracker.StepCompleted {
		t.Errorf("step 1 status = %v, want completed", tr.Plan.Steps[1].Status)
	}
	// Failed steps skip the completeness check, so only the second
	// step's success reached the evaluator.
	if evaluator.calls != 1 {
		t.Errorf("evaluator calls = %d, want 1", evaluator.calls)
	}
}

func TestDeepCancellationPropagates(t *testing.T) {
	client := &scriptClient{queue: []queuedResponse{{content: `["step"]`}}}
	deps := newTestDeps(client, nil, &scriptEvaluator{}, &recordingSynthesizer{})
	d := &DeepReasoning{deps: deps}
	tr := newRunTracker(t, "q", tracker.StrategyDeepReasoning)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Execute(ctx, "q", tr)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
}
