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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// ErrSynthesis marks a synthesis that had to fall back to plain
// concatenation. Like ErrEvaluation it is advisory: the returned response
// is always usable.
var ErrSynthesis = errors.New("response synthesis failed")

// synthesisSystemPrompt frames the composition call. The engine has already
// done the research; the model's job is to write it up.
const synthesisSystemPrompt = `You are composing the final answer for a research engine.

You will receive the user's query and the findings gathered by research
steps, in the order they were produced. Write a single coherent response
that answers the query using those findings.

Rules:
- Ground every claim in the findings. Do not invent facts.
- If the findings conflict, say so and present both.
- If the findings are insufficient, answer what they support and name
  what remains open.
- Respond with the answer only, no meta-commentary about the research.`

// SynthesizerConfig configures final-response composition.
type SynthesizerConfig struct {
	// Temperature for composition calls. Slightly higher than evaluation
	// because prose benefits from it. Must be >= 0.0 and <= 1.0.
	Temperature float64

	// MaxTokens limits the composed response. Must be > 0.
	MaxTokens int

	// Timeout for the composition call. Must be > 0.
	Timeout time.Duration
}

// Validate checks that config values are within valid ranges.
func (c SynthesizerConfig) Validate() error {
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
	if len(errs) > 0 {
		return fmt.Errorf("invalid synthesizer config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DefaultSynthesizerConfig returns production defaults.
func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{
		Temperature: 0.3,
		MaxTokens:   2048,
		Timeout:     60 * time.Second,
	}
}

// Synthesizer composes step findings into a final response.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Synthesizer interface {
	// Synthesize writes the final answer for query from the findings in
	// steps. onChunk, when non-nil, receives response text incrementally;
	// backends that cannot stream deliver the whole response as one chunk.
	//
	// A non-nil error wrapping ErrSynthesis means the LLM composition
	// failed and the returned string is the concatenation fallback.
	// Context cancellation is returned bare with an empty string.
	Synthesize(ctx context.Context, strategy tracker.ExecutionStrategy, query string, steps []*tracker.PlanStep, onChunk func(string) error) (string, error)
}

// LLMSynthesizer implements Synthesizer with an LLM composition call.
//
// Thread Safety: This type is safe for concurrent use after initialization.
type LLMSynthesizer struct {
	client llm.Client
	config SynthesizerConfig
}

var _ Synthesizer = (*LLMSynthesizer)(nil)

// NewLLMSynthesizer creates a synthesizer using the provided LLM client.
func NewLLMSynthesizer(client llm.Client, config SynthesizerConfig) (*LLMSynthesizer, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &LLMSynthesizer{client: client, config: config}, nil
}

// Synthesize implements Synthesizer.
//
// # Description
//
// Collects findings from completed steps in plan order, deduplicates exact
// repeats, and asks the model for a composed answer. If the model call
// fails the findings are joined mechanically instead, so a run that did
// real research never loses it to a flaky final call.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, strategy tracker.ExecutionStrategy, query string, steps []*tracker.PlanStep, onChunk func(string) error) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer("evaluate").Start(ctx, "evaluate.LLMSynthesizer.Synthesize")
	defer span.End()

	findings := collectFindings(steps)
	span.SetAttributes(
		attribute.String("strategy", strategy.String()),
		attribute.Int("finding_count", len(findings)),
	)

	response, err := s.compose(ctx, query, findings, onChunk)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			span.RecordError(err)
			return "", err
		}

		slog.Warn("synthesis failed, falling back to concatenated findings",
			slog.String("strategy", strategy.String()),
			slog.String("error", err.Error()),
		)
		recordSynthesis(strategy.String(), true)
		fallback := fallbackResponse(query, findings)
		if onChunk != nil {
			if cbErr := onChunk(fallback); cbErr != nil {
				return "", fmt.Errorf("chunk callback: %w", cbErr)
			}
		}
		return fallback, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}

	recordSynthesis(strategy.String(), false)
	return response, nil
}

// compose performs the LLM composition call, streaming when possible.
func (s *LLMSynthesizer) compose(ctx context.Context, query string, findings []string, onChunk func(string) error) (string, error) {
	var input strings.Builder
	input.WriteString("Query:\n")
	input.WriteString(query)
	if len(findings) > 0 {
		input.WriteString("\n\nFindings:\n")
		for i, f := range findings {
			fmt.Fprintf(&input, "%d. %s\n", i+1, f)
		}
	} else {
		input.WriteString("\n\nFindings: none were gathered. Answer from general knowledge and say so.\n")
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	request := &llm.Request{
		SystemPrompt: synthesisSystemPrompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: input.String()},
		},
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
	}

	if onChunk != nil {
		if streamer, ok := s.client.(llm.StreamingClient); ok {
			resp, err := streamer.CompleteStream(reqCtx, request, onChunk)
			if err != nil {
				return "", fmt.Errorf("llm stream: %w", err)
			}
			return resp.Content, nil
		}
	}

	resp, err := s.client.Complete(reqCtx, request)
	if err != nil {
		return "", fmt.Errorf("llm call: %w", err)
	}
	if onChunk != nil {
		// Non-streaming backend: the whole response is one chunk.
		if cbErr := onChunk(resp.Content); cbErr != nil {
			return "", fmt.Errorf("chunk callback: %w", cbErr)
		}
	}
	return resp.Content, nil
}

// collectFindings gathers findings from terminal steps in plan order,
// dropping exact duplicates. Order within a step is preserved.
func collectFindings(steps []*tracker.PlanStep) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, step := range steps {
		if step == nil || !step.Terminal() {
			continue
		}
		for _, f := range step.Findings {
			trimmed := strings.TrimSpace(f)
			if trimmed == "" {
				continue
			}
			if _, dup := seen[trimmed]; dup {
				continue
			}
			seen[trimmed] = struct{}{}
			out = append(out, trimmed)
		}
	}
	return out
}

// fallbackResponse joins findings mechanically when composition fails.
func fallbackResponse(query string, findings []string) string {
	if len(findings) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Findings for: ")
	b.WriteString(query)
	b.WriteString("\n")
	for _, f := range findings {
		b.WriteString("\n- ")
		b.WriteString(f)
	}
	return b.String()
}
