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
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for plan skeleton operations.
var (
	// ErrStepNotFound indicates the referenced step id does not exist.
	ErrStepNotFound = errors.New("plan step not found")

	// ErrStepImmutable indicates a mutation was attempted on a completed step.
	ErrStepImmutable = errors.New("completed plan step cannot be modified")
)

// =============================================================================
// Plan Step
// =============================================================================

// StepStatus is the lifecycle state of one PlanStep.
type StepStatus string

const (
	// StepPending means the step has not started yet.
	StepPending StepStatus = "pending"

	// StepInProgress means a strategy is currently executing the step.
	StepInProgress StepStatus = "in_progress"

	// StepCompleted means the step finished and its findings are final.
	StepCompleted StepStatus = "completed"

	// StepSkipped means a strategy decided the step was unnecessary.
	StepSkipped StepStatus = "skipped"

	// StepFailed means execution of the step errored.
	StepFailed StepStatus = "failed"
)

// PlanStep is one subtask in the research plan. Steps live in an append-only
// arena inside the skeleton: identity never changes, ordering never changes,
// and once a step is completed its findings and status are frozen.
type PlanStep struct {
	// ID is the stable identity of the step.
	ID string `json:"id"`

	// Description is what the step should accomplish.
	Description string `json:"description"`

	// Status is the step's lifecycle state.
	Status StepStatus `json:"status"`

	// StartedAt is when execution began. Zero if never started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the step reached a terminal status.
	CompletedAt time.Time `json:"completed_at"`

	// Findings are the step's outputs, in the order they were recorded.
	Findings []string `json:"findings,omitempty"`

	// ToolsUsed names the tools invoked while executing the step.
	ToolsUsed []string `json:"tools_used,omitempty"`

	// DependsOn lists ids of steps this one builds on.
	DependsOn []string `json:"depends_on,omitempty"`

	// SpawnedFrom is the id of the step whose evaluation produced this
	// one, empty for steps proposed by the planner.
	SpawnedFrom string `json:"spawned_from,omitempty"`
}

// Terminal reports whether the step reached a final status.
func (s *PlanStep) Terminal() bool {
	return s.Status == StepCompleted || s.Status == StepSkipped || s.Status == StepFailed
}

// =============================================================================
// Research Plan Skeleton
// =============================================================================

// ResearchPlanSkeleton is the evolving decomposition of a query into ordered
// subtasks. A query lifecycle holds at most one skeleton; later strategies
// refine it by appending novel steps, never by discarding completed work.
//
// Thread Safety: not safe for concurrent use. The skeleton is owned by the
// tracker and mutated only by the single run that owns the tracker.
type ResearchPlanSkeleton struct {
	// CreatedAt is when the skeleton was first built.
	CreatedAt time.Time `json:"created_at"`

	// CreatedBy is the strategy that built the skeleton.
	CreatedBy ExecutionStrategy `json:"created_by"`

	// Query is the user query the plan decomposes.
	Query string `json:"query"`

	// Complexity is the classified complexity the plan was built for.
	Complexity ComplexityLevel `json:"complexity"`

	// Steps is the append-only step arena, in creation order.
	Steps []*PlanStep `json:"steps"`

	// CurrentStepID is the step currently in progress, empty between steps.
	CurrentStepID string `json:"current_step_id,omitempty"`

	// RevisionCount counts how many times the plan was refined.
	RevisionCount int `json:"revision_count"`
}

// newPlanSkeleton builds a skeleton from planner-proposed descriptions.
func newPlanSkeleton(strategy ExecutionStrategy, query string, complexity ComplexityLevel, descriptions []string) *ResearchPlanSkeleton {
	plan := &ResearchPlanSkeleton{
		CreatedAt:  time.Now(),
		CreatedBy:  strategy,
		Query:      query,
		Complexity: complexity,
	}
	for _, desc := range descriptions {
		plan.appendStep(desc, "")
	}
	return plan
}

// appendStep adds a fresh step to the arena and returns it.
func (p *ResearchPlanSkeleton) appendStep(description, spawnedFrom string) *PlanStep {
	step := &PlanStep{
		ID:          uuid.NewString(),
		Description: description,
		Status:      StepPending,
		SpawnedFrom: spawnedFrom,
	}
	p.Steps = append(p.Steps, step)
	return step
}

// StepByID returns the step with the given id, or nil if absent.
func (p *ResearchPlanSkeleton) StepByID(id string) *PlanStep {
	for _, step := range p.Steps {
		if step.ID == id {
			return step
		}
	}
	return nil
}

// NextPending returns the first pending step in arena order, or nil when no
// pending steps remain.
func (p *ResearchPlanSkeleton) NextPending() *PlanStep {
	for _, step := range p.Steps {
		if step.Status == StepPending {
			return step
		}
	}
	return nil
}

// PendingCount returns the number of steps still pending.
func (p *ResearchPlanSkeleton) PendingCount() int {
	n := 0
	for _, step := range p.Steps {
		if step.Status == StepPending {
			n++
		}
	}
	return n
}

// CompletedSteps returns the completed steps in arena order.
func (p *ResearchPlanSkeleton) CompletedSteps() []*PlanStep {
	var out []*PlanStep
	for _, step := range p.Steps {
		if step.Status == StepCompleted {
			out = append(out, step)
		}
	}
	return out
}

// CompletionRatio returns completed steps over total steps, 0 for an empty
// plan.
func (p *ResearchPlanSkeleton) CompletionRatio() float64 {
	if len(p.Steps) == 0 {
		return 0
	}
	return float64(len(p.CompletedSteps())) / float64(len(p.Steps))
}

// refine appends the novel subset of proposed step descriptions.
//
// A description is novel when its normalized form does not match any
// existing step's normalized description. Existing steps, completed ones in
// particular, are never removed, re-ordered, or re-described. Returns the
// number of appended steps; bumps RevisionCount when anything changed.
func (p *ResearchPlanSkeleton) refine(descriptions []string) int {
	existing := make(map[string]bool, len(p.Steps))
	for _, step := range p.Steps {
		existing[normalizeDescription(step.Description)] = true
	}

	added := 0
	for _, desc := range descriptions {
		key := normalizeDescription(desc)
		if key == "" || existing[key] {
			continue
		}
		existing[key] = true
		p.appendStep(desc, "")
		added++
	}
	if added > 0 {
		p.RevisionCount++
	}
	return added
}

// normalizeDescription reduces a step description to a comparison key:
// lower-cased, trimmed, inner whitespace collapsed, trailing punctuation
// dropped.
func normalizeDescription(desc string) string {
	desc = strings.ToLower(strings.TrimSpace(desc))
	desc = strings.Join(strings.Fields(desc), " ")
	return strings.TrimRight(desc, ".!?")
}

// =============================================================================
// Step transitions (tracker API)
// =============================================================================

// StartStep marks a step in progress and records it as the current step.
//
// Outputs:
//
//	error - ErrStepNotFound if the id is unknown, ErrStepImmutable if the
//	step already completed.
func (p *ResearchPlanSkeleton) StartStep(id string) error {
	step := p.StepByID(id)
	if step == nil {
		return ErrStepNotFound
	}
	if step.Status == StepCompleted {
		return ErrStepImmutable
	}
	step.Status = StepInProgress
	if step.StartedAt.IsZero() {
		step.StartedAt = time.Now()
	}
	p.CurrentStepID = id
	return nil
}

// CompleteStep freezes a step with its findings and the tools it used.
// Completing an already-completed step is rejected so recorded findings can
// never be overwritten.
func (p *ResearchPlanSkeleton) CompleteStep(id string, findings []string, toolsUsed []string) error {
	step := p.StepByID(id)
	if step == nil {
		return ErrStepNotFound
	}
	if step.Status == StepCompleted {
		return ErrStepImmutable
	}
	for _, f := range findings {
		if strings.TrimSpace(f) != "" {
			step.Findings = append(step.Findings, f)
		}
	}
	for _, tool := range toolsUsed {
		if tool != "" && !slices.Contains(step.ToolsUsed, tool) {
			step.ToolsUsed = append(step.ToolsUsed, tool)
		}
	}
	step.Status = StepCompleted
	step.CompletedAt = time.Now()
	if p.CurrentStepID == id {
		p.CurrentStepID = ""
	}
	return nil
}

// SkipStep marks a step skipped with a short reason in its findings.
func (p *ResearchPlanSkeleton) SkipStep(id, reason string) error {
	step := p.StepByID(id)
	if step == nil {
		return ErrStepNotFound
	}
	if step.Status == StepCompleted {
		return ErrStepImmutable
	}
	if reason != "" {
		step.Findings = append(step.Findings, "skipped: "+reason)
	}
	step.Status = StepSkipped
	step.CompletedAt = time.Now()
	if p.CurrentStepID == id {
		p.CurrentStepID = ""
	}
	return nil
}

// FailStep marks a step failed, recording the error as a finding so later
// strategies can see what went wrong.
func (p *ResearchPlanSkeleton) FailStep(id, errMsg string) error {
	step := p.StepByID(id)
	if step == nil {
		return ErrStepNotFound
	}
	if step.Status == StepCompleted {
		return ErrStepImmutable
	}
	if errMsg != "" {
		step.Findings = append(step.Findings, "failed: "+errMsg)
	}
	step.Status = StepFailed
	step.CompletedAt = time.Now()
	if p.CurrentStepID == id {
		p.CurrentStepID = ""
	}
	return nil
}

// SpawnStep appends a follow-up step produced by evaluator feedback while
// executing the step identified by fromID.
func (p *ResearchPlanSkeleton) SpawnStep(description, fromID string) *PlanStep {
	step := p.appendStep(description, fromID)
	p.RevisionCount++
	return step
}

// clone returns a deep copy used for snapshots.
func (p *ResearchPlanSkeleton) clone() *ResearchPlanSkeleton {
	if p == nil {
		return nil
	}
	out := *p
	out.Steps = make([]*PlanStep, len(p.Steps))
	for i, step := range p.Steps {
		c := *step
		c.Findings = slices.Clone(step.Findings)
		c.ToolsUsed = slices.Clone(step.ToolsUsed)
		c.DependsOn = slices.Clone(step.DependsOn)
		out.Steps[i] = &c
	}
	return &out
}
