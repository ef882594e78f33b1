// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// mockStreamingClient delivers scripted chunks through CompleteStream.
type mockStreamingClient struct {
	mockLLMClient
	chunks []string
}

func (m *mockStreamingClient) CompleteStream(ctx context.Context, req *llm.Request, onChunk func(string) error) (*llm.Response, error) {
	m.calls.Add(1)
	m.lastReq = req
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	var full strings.Builder
	for _, chunk := range m.chunks {
		if err := onChunk(chunk); err != nil {
			return nil, err
		}
		full.WriteString(chunk)
	}
	return &llm.Response{Content: full.String(), StopReason: llm.StopReasonEnd}, nil
}

// completedStep builds a terminal plan step with findings.
func completedStep(id string, findings ...string) *tracker.PlanStep {
	return &tracker.PlanStep{
		ID:          id,
		Description: "step " + id,
		Status:      tracker.StepCompleted,
		Findings:    findings,
	}
}

func TestSynthesizeComposesFromFindings(t *testing.T) {
	client := &mockLLMClient{response: "Composed answer grounded in findings."}
	s, err := NewLLMSynthesizer(client, DefaultSynthesizerConfig())
	if err != nil {
		t.Fatalf("NewLLMSynthesizer() error: %v", err)
	}

	steps := []*tracker.PlanStep{
		completedStep("s1", "Go 1.25 was released in August 2025"),
		completedStep("s2", "The release added container-aware GOMAXPROCS"),
	}
	response, err := s.Synthesize(context.Background(), tracker.StrategyLightPlanning, "What changed in Go 1.25?", steps, nil)
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if response != "Composed answer grounded in findings." {
		t.Errorf("response = %q", response)
	}

	body := client.lastReq.Messages[0].Content
	if !strings.Contains(body, "1. Go 1.25 was released in August 2025") {
		t.Errorf("prompt missing first finding:\n%s", body)
	}
	if !strings.Contains(body, "2. The release added container-aware GOMAXPROCS") {
		t.Errorf("prompt missing second finding:\n%s", body)
	}
}

func TestSynthesizeDedupesAndSkipsPendingSteps(t *testing.T) {
	client := &mockLLMClient{response: "ok"}
	s, err := NewLLMSynthesizer(client, DefaultSynthesizerConfig())
	if err != nil {
		t.Fatalf("NewLLMSynthesizer() error: %v", err)
	}

	pending := &tracker.PlanStep{ID: "p1", Status: tracker.StepPending, Findings: []string{"never executed"}}
	steps := []*tracker.PlanStep{
		completedStep("s1", "shared finding"),
		completedStep("s2", "shared finding", "unique finding"),
		pending,
	}
	if _, err := s.Synthesize(context.Background(), tracker.StrategyDeepReasoning, "q", steps, nil); err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}

	body := client.lastReq.Messages[0].Content
	if got := strings.Count(body, "shared finding"); got != 1 {
		t.Errorf("duplicate finding appears %d times, want 1", got)
	}
	if !strings.Contains(body, "unique finding") {
		t.Error("prompt missing unique finding")
	}
	if strings.Contains(body, "never executed") {
		t.Error("prompt includes findings from a pending step")
	}
}

func TestSynthesizeFallbackOnLLMError(t *testing.T) {
	client := &mockLLMClient{err: errors.New("model overloaded")}
	s, err := NewLLMSynthesizer(client, DefaultSynthesizerConfig())
	if err != nil {
		t.Fatalf("NewLLMSynthesizer() error: %v", err)
	}

	steps := []*tracker.PlanStep{completedStep("s1", "finding one", "finding two")}
	response, err := s.Synthesize(context.Background(), tracker.StrategyLightPlanning, "the query", steps, nil)
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("Synthesize() error = %v, want ErrSynthesis", err)
	}
	if !strings.Contains(response, "- finding one") || !strings.Contains(response, "- finding two") {
		t.Errorf("fallback response missing findings:\n%s", response)
	}
	if !strings.Contains(response, "the query") {
		t.Errorf("fallback response missing query:\n%s", response)
	}
}

func TestSynthesizeStreamsWhenSupported(t *testing.T) {
	client := &mockStreamingClient{chunks: []string{"part one, ", "part two."}}
	s, err := NewLLMSynthesizer(client, DefaultSynthesizerConfig())
	if err != nil {
		t.Fatalf("NewLLMSynthesizer() error: %v", err)
	}

	var received []string
	onChunk := func(chunk string) error {
		received = append(received, chunk)
		return nil
	}
	response, err := s.Synthesize(context.Background(), tracker.StrategyDirect, "q", nil, onChunk)
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if response != "part one, part two." {
		t.Errorf("response = %q", response)
	}
	if len(received) != 2 {
		t.Errorf("chunks = %v, want 2 entries", received)
	}
}

func TestSynthesizeNonStreamingDeliversOneChunk(t *testing.T) {
	client := &mockLLMClient{response: "whole answer at once"}
	s, err := NewLLMSynthesizer(client, DefaultSynthesizerConfig())
	if err != nil {
		t.Fatalf("NewLLMSynthesizer() error: %v", err)
	}

	var received []string
	onChunk := func(chunk string) error {
		received = append(received, chunk)
		return nil
	}
	response, err := s.Synthesize(context.Background(), tracker.StrategyDirect, "q", nil, onChunk)
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if len(received) != 1 || received[0] != response {
		t.Errorf("chunks = %v, want single chunk equal to response %q", received, response)
	}
}

func TestSynthesizeCancellationPropagates(t *testing.T) {
	client := &mockLLMClient{response: "never used"}
	s, err := NewLLMSynthesizer(client, DefaultSynthesizerConfig())
	if err != nil {
		t.Fatalf("NewLLMSynthesizer() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	response, err := s.Synthesize(ctx, tracker.StrategyDirect, "q", nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Synthesize() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrSynthesis) {
		t.Error("cancellation must not be wrapped as ErrSynthesis")
	}
	if response != "" {
		t.Errorf("response = %q, want empty on cancellation", response)
	}
}

func TestSynthesizeNoFindingsAsksModelDirectly(t *testing.T) {
	client := &mockLLMClient{response: "answer from general knowledge"}
	s, err := NewLLMSynthesizer(client, DefaultSynthesizerConfig())
	if err != nil {
		t.Fatalf("NewLLMSynthesizer() error: %v", err)
	}

	response, err := s.Synthesize(context.Background(), tracker.StrategyLightPlanning, "q", nil, nil)
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if response != "answer from general knowledge" {
		t.Errorf("response = %q", response)
	}
	if !strings.Contains(client.lastReq.Messages[0].Content, "none were gathered") {
		t.Error("prompt does not flag the missing findings")
	}
}
