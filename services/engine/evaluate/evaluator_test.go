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
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
)

// mockLLMClient returns a fixed response or error, counts calls, and keeps
// the last request for prompt assertions.
type mockLLMClient struct {
	response string
	err      error
	calls    atomic.Int64
	lastReq  *llm.Request
}

func (m *mockLLMClient) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	m.calls.Add(1)
	m.lastReq = req
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Response{Content: m.response, StopReason: llm.StopReasonEnd}, nil
}

func (m *mockLLMClient) Name() string  { return "mock" }
func (m *mockLLMClient) Model() string { return "mock-model" }

// fastEvaluatorConfig keeps retries cheap in tests.
func fastEvaluatorConfig() EvaluatorConfig {
	cfg := DefaultEvaluatorConfig()
	cfg.RetryBackoff = time.Millisecond
	cfg.Timeout = time.Second
	return cfg
}

func TestEvaluateParsesVerdict(t *testing.T) {
	client := &mockLLMClient{response: `{
		"is_complete": true,
		"confidence": 0.85,
		"missing_aspects": [],
		"reasoning": "answers both halves of the question",
		"additional_queries": []
	}`}
	e, err := NewLLMEvaluator(client, fastEvaluatorConfig())
	if err != nil {
		t.Fatalf("NewLLMEvaluator() error: %v", err)
	}

	result, err := e.Evaluate(context.Background(), "What is the capital of France?", "Paris is the capital of France.", "")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if !result.IsComplete {
		t.Error("IsComplete = false, want true")
	}
	if result.Confidence != 0.85 {
		t.Errorf("Confidence = %v, want 0.85", result.Confidence)
	}
	if result.Reasoning == "" {
		t.Error("Reasoning is empty")
	}
}

func TestEvaluateIncompleteVerdictCarriesGaps(t *testing.T) {
	client := &mockLLMClient{response: `{
		"is_complete": false,
		"confidence": 0.4,
		"missing_aspects": ["performance comparison", "cost analysis"],
		"reasoning": "only covers features",
		"additional_queries": ["benchmark results for both systems"]
	}`}
	e, err := NewLLMEvaluator(client, fastEvaluatorConfig())
	if err != nil {
		t.Fatalf("NewLLMEvaluator() error: %v", err)
	}

	result, err := e.Evaluate(context.Background(), "Compare systems A and B", "A has more features.", "")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.IsComplete {
		t.Error("IsComplete = true, want false")
	}
	if len(result.MissingAspects) != 2 {
		t.Errorf("MissingAspects = %v, want 2 entries", result.MissingAspects)
	}
	if len(result.AdditionalQueries) != 1 {
		t.Errorf("AdditionalQueries = %v, want 1 entry", result.AdditionalQueries)
	}
}

func TestEvaluateEmptyResponseShortCircuits(t *testing.T) {
	client := &mockLLMClient{response: `{"is_complete":true,"confidence":1.0}`}
	e, err := NewLLMEvaluator(client, fastEvaluatorConfig())
	if err != nil {
		t.Fatalf("NewLLMEvaluator() error: %v", err)
	}

	result, err := e.Evaluate(context.Background(), "anything", "   \n\t  ", "")
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.IsComplete {
		t.Error("IsComplete = true for empty response")
	}
	if result.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", result.Confidence)
	}
	if got := client.calls.Load(); got != 0 {
		t.Errorf("LLM calls = %d, want 0", got)
	}
}

func TestEvaluateMalformedOutputDefaultsIncomplete(t *testing.T) {
	client := &mockLLMClient{response: "I think the response looks pretty good overall!"}
	cfg := fastEvaluatorConfig()
	e, err := NewLLMEvaluator(client, cfg)
	if err != nil {
		t.Fatalf("NewLLMEvaluator() error: %v", err)
	}

	result, err := e.Evaluate(context.Background(), "query", "some response", "")
	if !errors.Is(err, ErrEvaluation) {
		t.Fatalf("Evaluate() error = %v, want ErrEvaluation", err)
	}
	if result == nil {
		t.Fatal("result is nil despite advisory error")
	}
	if result.IsComplete {
		t.Error("IsComplete = true, want false default")
	}
	if result.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", result.Confidence)
	}
	if got, want := client.calls.Load(), int64(cfg.MaxRetries+1); got != want {
		t.Errorf("LLM calls = %d, want %d", got, want)
	}
}

func TestEvaluateTransportErrorDefaultsIncomplete(t *testing.T) {
	client := &mockLLMClient{err: errors.New("upstream unavailable")}
	e, err := NewLLMEvaluator(client, fastEvaluatorConfig())
	if err != nil {
		t.Fatalf("NewLLMEvaluator() error: %v", err)
	}

	result, err := e.Evaluate(context.Background(), "query", "some response", "progress context")
	if !errors.Is(err, ErrEvaluation) {
		t.Fatalf("Evaluate() error = %v, want ErrEvaluation", err)
	}
	if result == nil || result.IsComplete || result.Confidence != 0 {
		t.Errorf("default verdict = %+v, want incomplete with zero confidence", result)
	}
}

func TestEvaluateCancellationPropagates(t *testing.T) {
	client := &mockLLMClient{response: `{"is_complete":true,"confidence":0.9}`}
	e, err := NewLLMEvaluator(client, fastEvaluatorConfig())
	if err != nil {
		t.Fatalf("NewLLMEvaluator() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := e.Evaluate(ctx, "query", "some response", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Evaluate() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrEvaluation) {
		t.Error("cancellation must not be wrapped as ErrEvaluation")
	}
	if result != nil {
		t.Errorf("result = %+v, want nil on cancellation", result)
	}
}

func TestEvaluateSendsProgressContext(t *testing.T) {
	client := &mockLLMClient{response: `{"is_complete":true,"confidence":0.9,"reasoning":"ok"}`}
	e, err := NewLLMEvaluator(client, fastEvaluatorConfig())
	if err != nil {
		t.Fatalf("NewLLMEvaluator() error: %v", err)
	}

	if _, err := e.Evaluate(context.Background(), "q", "r", "Research progress marker"); err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if client.lastReq == nil || len(client.lastReq.Messages) != 1 {
		t.Fatal("expected one user message")
	}
	body := client.lastReq.Messages[0].Content
	if !strings.Contains(body, "Research progress marker") {
		t.Errorf("user message missing progress context:\n%s", body)
	}
	if client.lastReq.ResponseFormat != llm.FormatJSON {
		t.Errorf("ResponseFormat = %q, want json", client.lastReq.ResponseFormat)
	}
}

func TestParseEvaluationResponse(t *testing.T) {
	tests := []struct {
		name           string
		content        string
		wantComplete   bool
		wantConfidence float64
		wantErr        bool
	}{
		{
			name:           "clean verdict",
			content:        `{"is_complete":true,"confidence":0.7,"reasoning":"fine"}`,
			wantComplete:   true,
			wantConfidence: 0.7,
		},
		{
			name:           "fenced with preamble",
			content:        "Here is my assessment:\n```json\n{\"is_complete\":false,\"confidence\":0.3}\n```",
			wantComplete:   false,
			wantConfidence: 0.3,
		},
		{
			name:           "confidence clamped high",
			content:        `{"is_complete":true,"confidence":1.4}`,
			wantComplete:   true,
			wantConfidence: 1.0,
		},
		{
			name:           "confidence clamped low",
			content:        `{"is_complete":false,"confidence":-0.2}`,
			wantComplete:   false,
			wantConfidence: 0,
		},
		{
			name:    "no json at all",
			content: "the response seems complete to me",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseEvaluationResponse(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEvaluationResponse() error: %v", err)
			}
			if result.IsComplete != tt.wantComplete {
				t.Errorf("IsComplete = %v, want %v", result.IsComplete, tt.wantComplete)
			}
			if result.Confidence != tt.wantConfidence {
				t.Errorf("Confidence = %v, want %v", result.Confidence, tt.wantConfidence)
			}
		})
	}
}

func TestParseEvaluationResponseDropsBlankEntries(t *testing.T) {
	result, err := ParseEvaluationResponse(`{
		"is_complete": false,
		"confidence": 0.5,
		"missing_aspects": ["real gap", "", "  "],
		"additional_queries": ["", "follow up"]
	}`)
	if err != nil {
		t.Fatalf("ParseEvaluationResponse() error: %v", err)
	}
	if len(result.MissingAspects) != 1 || result.MissingAspects[0] != "real gap" {
		t.Errorf("MissingAspects = %v, want [real gap]", result.MissingAspects)
	}
	if len(result.AdditionalQueries) != 1 || result.AdditionalQueries[0] != "follow up" {
		t.Errorf("AdditionalQueries = %v, want [follow up]", result.AdditionalQueries)
	}
}
