// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evaluate judges response quality and composes final answers.
//
// The evaluator scores a candidate response against the original query and
// decides whether the engine should escalate. It is built to degrade, not
// fail: a broken evaluation yields a conservative "incomplete" verdict so
// the run continues, because a crashed run helps nobody. The synthesizer
// composes step findings into a final response with the same philosophy.
package evaluate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// ErrEvaluation marks an evaluation that had to fall back to the default
// verdict. The error is advisory: Evaluate always returns a usable result
// alongside it, and callers log rather than abort.
var ErrEvaluation = errors.New("response evaluation failed")

// evaluationPromptTemplate asks for a structured quality verdict.
const evaluationPromptTemplate = `You are a response quality evaluator for a research engine.

Judge whether the candidate response fully answers the user's query.

Scoring guidance:
- confidence 0.9-1.0: complete, accurate, directly answers every part.
- confidence 0.6-0.8: answers the core question with minor gaps.
- confidence 0.3-0.5: partial answer, significant aspects missing.
- confidence 0.0-0.2: off-target, empty, or hand-waving.

List concrete missing aspects and, when more research would help, the
specific follow-up queries that would close the gaps.

Respond with ONLY valid JSON (no markdown, no preamble):
{"is_complete":bool,"confidence":0.0-1.0,"missing_aspects":[],"reasoning":"brief","additional_queries":[]}`

// evaluationInputTemplate renders the user message for one evaluation.
const evaluationInputTemplate = `Query:
{{.Query}}

Candidate response:
{{.Response}}
{{if .Progress}}
Research progress so far:
{{.Progress}}{{end}}`

// EvaluatorConfig configures the LLM evaluator.
type EvaluatorConfig struct {
	// Temperature for evaluation calls. Must be >= 0.0 and <= 1.0.
	Temperature float64

	// MaxTokens limits the verdict length. Must be > 0.
	MaxTokens int

	// Timeout for each evaluation attempt. Must be > 0.
	Timeout time.Duration

	// MaxRetries before accepting the default verdict.
	MaxRetries int

	// RetryBackoff is the base duration for exponential backoff.
	RetryBackoff time.Duration
}

// Validate checks that config values are within valid ranges.
func (c EvaluatorConfig) Validate() error {
	var errs []string
	if c.Temperature < 0 || c.Temperature > 1 {
		errs = append(errs, "Temperature must be between 0.0 and 1.0")
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, "MaxTokens must be positive")
	}
	if c.Timeout <= 0 {
		errs = append(errs, "Timeout must be positive")
	}
	if c.MaxRetries < 0 {
		errs = append(errs, "MaxRetries must be non-negative")
	}
	if c.RetryBackoff < 0 {
		errs = append(errs, "RetryBackoff must be non-negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid evaluator config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DefaultEvaluatorConfig returns production defaults.
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		Temperature:  0.1,
		MaxTokens:    512,
		Timeout:      10 * time.Second,
		MaxRetries:   1,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// Evaluator judges candidate responses.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Evaluator interface {
	// Evaluate scores response against query. progress carries the run's
	// serialized context so the evaluator can tell researched claims from
	// invented ones; it may be empty.
	//
	// The returned result is always usable. A non-nil error wrapping
	// ErrEvaluation means the default verdict was substituted and is
	// advisory; context cancellation is returned bare with a nil result.
	Evaluate(ctx context.Context, query, response, progress string) (*tracker.EvaluationResult, error)
}

// LLMEvaluator implements Evaluator with an LLM call.
//
// Thread Safety: This type is safe for concurrent use after initialization.
type LLMEvaluator struct {
	client        llm.Client
	config        EvaluatorConfig
	inputTemplate *template.Template
}

var _ Evaluator = (*LLMEvaluator)(nil)

// NewLLMEvaluator creates an evaluator using the provided LLM client.
func NewLLMEvaluator(client llm.Client, config EvaluatorConfig) (*LLMEvaluator, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	tmpl, err := template.New("evaluate_input").Parse(evaluationInputTemplate)
	if err != nil {
		return nil, fmt.Errorf("compile input template: %w", err)
	}
	return &LLMEvaluator{client: client, config: config, inputTemplate: tmpl}, nil
}

// Evaluate implements Evaluator.
//
// # Description
//
// Calls the model for a structured verdict, retrying transient failures.
// Malformed output and exhausted retries produce the default incomplete
// verdict with an advisory error; only context cancellation aborts.
//
// Thread Safety: This method is safe for concurrent use.
func (e *LLMEvaluator) Evaluate(ctx context.Context, query, response, progress string) (*tracker.EvaluationResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer("evaluate").Start(ctx, "evaluate.LLMEvaluator.Evaluate")
	defer span.End()

	if strings.TrimSpace(response) == "" {
		span.SetAttributes(attribute.String("verdict", "empty_response"))
		return &tracker.EvaluationResult{
			IsComplete: false,
			Confidence: 0,
			Reasoning:  "response is empty",
		}, nil
	}

	result, err := e.evaluateWithRetry(ctx, query, response, progress)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "context cancelled")
			return nil, err
		}

		slog.Warn("evaluation failed, treating response as incomplete",
			slog.String("error", err.Error()),
		)
		span.SetAttributes(attribute.Bool("default_verdict", true))
		recordEvaluation(false, 0, true)
		return &tracker.EvaluationResult{
			IsComplete: false,
			Confidence: 0,
			Reasoning:  "evaluation unavailable: " + err.Error(),
		}, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	span.SetAttributes(
		attribute.Bool("is_complete", result.IsComplete),
		attribute.Float64("confidence", result.Confidence),
		attribute.Int("missing_aspects", len(result.MissingAspects)),
	)
	recordEvaluation(result.IsComplete, result.Confidence, false)
	return result, nil
}

// evaluateWithRetry performs evaluation with retry logic.
func (e *LLMEvaluator) evaluateWithRetry(ctx context.Context, query, response, progress string) (*tracker.EvaluationResult, error) {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := e.config.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, err := e.doEvaluate(ctx, query, response, progress)
		if err == nil {
			return result, nil
		}

		lastErr = err

		// Don't retry on context cancellation
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		slog.Debug("evaluation attempt failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}

	return nil, fmt.Errorf("evaluation failed after %d attempts: %w", e.config.MaxRetries+1, lastErr)
}

// doEvaluate performs a single evaluation attempt.
func (e *LLMEvaluator) doEvaluate(ctx context.Context, query, response, progress string) (*tracker.EvaluationResult, error) {
	var input bytes.Buffer
	err := e.inputTemplate.Execute(&input, struct {
		Query    string
		Response string
		Progress string
	}{Query: query, Response: response, Progress: progress})
	if err != nil {
		return nil, fmt.Errorf("build input: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	request := &llm.Request{
		SystemPrompt: evaluationPromptTemplate,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: input.String()},
		},
		ResponseFormat: llm.FormatJSON,
		MaxTokens:      e.config.MaxTokens,
		Temperature:    e.config.Temperature,
	}

	resp, err := e.client.Complete(reqCtx, request)
	if err != nil {
		return nil, fmt.Errorf("llm call: %w", err)
	}

	result, err := ParseEvaluationResponse(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("parse verdict: %w", err)
	}
	return result, nil
}

// evaluationWire is the JSON shape the model is asked to produce.
type evaluationWire struct {
	IsComplete        bool     `json:"is_complete"`
	Confidence        float64  `json:"confidence"`
	MissingAspects    []string `json:"missing_aspects"`
	Reasoning         string   `json:"reasoning"`
	AdditionalQueries []string `json:"additional_queries"`
}

// ParseEvaluationResponse parses model output into an EvaluationResult,
// clamping confidence to [0,1] and dropping blank list entries.
func ParseEvaluationResponse(content string) (*tracker.EvaluationResult, error) {
	var wire evaluationWire
	if err := llm.ExtractJSONInto(content, &wire); err != nil {
		return nil, fmt.Errorf("extract verdict JSON: %w", err)
	}

	confidence := wire.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &tracker.EvaluationResult{
		IsComplete:        wire.IsComplete,
		Confidence:        confidence,
		MissingAspects:    trimBlank(wire.MissingAspects),
		Reasoning:         strings.TrimSpace(wire.Reasoning),
		AdditionalQueries: trimBlank(wire.AdditionalQueries),
	}, nil
}

// trimBlank removes empty and whitespace-only entries.
func trimBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
