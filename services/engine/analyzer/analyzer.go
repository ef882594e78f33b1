// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer classifies query complexity before execution.
//
// The analyzer decides which execution strategy a query starts on: a
// simple lookup goes straight to direct execution, a complex research
// question starts with deep reasoning. Classification runs once per query;
// escalation afterwards is driven by evaluation results, never by
// re-analysis.
package analyzer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// ErrAnalysis is the root of the analysis failure taxonomy. It is returned
// only when the LLM path fails and heuristic fallback is disabled.
var ErrAnalysis = errors.New("complexity analysis failed")

// analysisPromptTemplate asks for a single JSON classification. Tool briefs
// are included when available so the model can judge whether the query is
// answerable with the tools at hand.
const analysisPromptTemplate = `You are a query complexity analyzer for a research engine.

Classify the user's query into exactly one complexity level:
- simple: a single factual lookup or trivial computation, answerable in one step.
- medium: needs a few lookups or light synthesis across a handful of sources.
- complex: multi-part analysis, comparison, or open-ended research requiring deep reasoning.
{{if .Tools}}
Available tools:
{{range .Tools}}- {{.Name}}: {{.Brief}}
{{end}}{{end}}
Respond with ONLY valid JSON (no markdown, no preamble):
{"level":"simple|medium|complex","confidence":0.0-1.0,"rationale":"brief"}`

// toolBrief holds a tool name and brief description for the prompt template.
type toolBrief struct {
	Name  string
	Brief string
}

// Analyzer classifies queries into complexity levels.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Analyzer interface {
	// Analyze classifies query. Implementations must return an error only
	// for context cancellation or when no fallback path exists; a usable
	// analysis with a lower-confidence source is always preferred over an
	// error.
	Analyze(ctx context.Context, query string) (*tracker.ComplexityAnalysis, error)
}

// LLMAnalyzer classifies queries with an LLM, backed by a result cache,
// request coalescing, retry with exponential backoff, and a heuristic
// fallback.
//
// Thread Safety: This type is safe for concurrent use after initialization.
type LLMAnalyzer struct {
	client         llm.Client
	config         AnalyzerConfig
	cache          *AnalysisCache
	heuristic      *HeuristicAnalyzer
	promptTemplate *template.Template
	toolBriefs     []toolBrief
	inflight       singleflight.Group
	semaphore      chan struct{}
}

var _ Analyzer = (*LLMAnalyzer)(nil)

// NewLLMAnalyzer creates an analyzer using the provided LLM client.
//
// Inputs:
//
//	client - LLM client for analysis calls. Must not be nil.
//	toolDefs - Available tool definitions for prompt context. May be empty.
//	config - Analyzer configuration. Will be validated.
//
// Outputs:
//
//	*LLMAnalyzer - Ready-to-use analyzer.
//	error - If client is nil or config invalid.
//
// Thread Safety: The returned analyzer is safe for concurrent use.
func NewLLMAnalyzer(client llm.Client, toolDefs []llm.ToolDefinition, config AnalyzerConfig) (*LLMAnalyzer, error) {
	if client == nil {
		return nil, errors.New("client must not be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	tmpl, err := template.New("analyze").Parse(analysisPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("compile prompt template: %w", err)
	}

	briefs := make([]toolBrief, 0, len(toolDefs))
	for _, td := range toolDefs {
		briefs = append(briefs, toolBrief{
			Name:  td.Name,
			Brief: truncateDescription(td.Description, 80),
		})
	}

	var cache *AnalysisCache
	if config.CacheTTL > 0 {
		cache = NewAnalysisCache(config.CacheTTL, config.CacheMaxSize)
	}

	var semaphore chan struct{}
	if config.MaxConcurrent > 0 {
		semaphore = make(chan struct{}, config.MaxConcurrent)
	}

	return &LLMAnalyzer{
		client:         client,
		config:         config,
		cache:          cache,
		heuristic:      NewHeuristicAnalyzer(),
		promptTemplate: tmpl,
		toolBriefs:     briefs,
		semaphore:      semaphore,
	}, nil
}

// Analyze implements Analyzer.
//
// # Description
//
// Performs LLM-based classification with caching, request coalescing, and
// retry. On LLM failure or low confidence the heuristic result is used
// instead; analysis therefore only fails on context cancellation or when
// fallback is disabled.
//
// Thread Safety: This method is safe for concurrent use.
func (a *LLMAnalyzer) Analyze(ctx context.Context, query string) (*tracker.ComplexityAnalysis, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	startTime := time.Now()

	ctx, span := otel.Tracer("analyzer").Start(ctx, "analyzer.LLMAnalyzer.Analyze",
		trace.WithAttributes(
			attribute.Int("query_length", len(query)),
		),
	)
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		span.SetAttributes(attribute.String("reason", "empty_query"))
		analysis := &tracker.ComplexityAnalysis{
			Level:               tracker.ComplexitySimple,
			Confidence:          1.0,
			Rationale:           "empty query",
			RecommendedStrategy: tracker.StrategyDirect,
			Source:              "default",
		}
		recordAnalysis(analysis.Level.String(), analysis.Source, analysis.Confidence, time.Since(startTime).Seconds())
		return analysis, nil
	}

	// Check cache
	if a.cache != nil {
		if cached, ok := a.cache.Get(query); ok {
			span.SetAttributes(
				attribute.Bool("cached", true),
				attribute.String("level", cached.Level.String()),
			)
			recordCacheLookup(true)
			recordAnalysis(cached.Level.String(), "cache", cached.Confidence, time.Since(startTime).Seconds())
			return cached, nil
		}
		recordCacheLookup(false)
	}

	// Coalesce concurrent identical queries into one LLM call.
	key := coalesceKey(query)
	resultInterface, err, _ := a.inflight.Do(key, func() (interface{}, error) {
		return a.analyzeWithRetry(ctx, query)
	})

	if err != nil {
		// Context cancelled - don't fall back, don't cache
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "context cancelled")
			return nil, err
		}

		if !a.config.FallbackToHeuristic {
			span.RecordError(err)
			span.SetStatus(codes.Error, "analysis failed")
			return nil, fmt.Errorf("%w: %v", ErrAnalysis, err)
		}

		span.SetAttributes(
			attribute.Bool("fallback_used", true),
			attribute.String("fallback_reason", err.Error()),
		)
		return a.useFallback(ctx, query, startTime, err.Error()), nil
	}

	analysis := resultInterface.(*tracker.ComplexityAnalysis)

	// Cache LLM results only; heuristic results are cheap to recompute.
	if a.cache != nil && analysis.Source == "llm" {
		a.cache.Set(query, analysis)
	}

	span.SetAttributes(
		attribute.String("level", analysis.Level.String()),
		attribute.Float64("confidence", analysis.Confidence),
		attribute.String("source", analysis.Source),
	)
	recordAnalysis(analysis.Level.String(), analysis.Source, analysis.Confidence, time.Since(startTime).Seconds())
	return analysis, nil
}

// analyzeWithRetry performs analysis with retry logic.
func (a *LLMAnalyzer) analyzeWithRetry(ctx context.Context, query string) (*tracker.ComplexityAnalysis, error) {
	var lastErr error

	for attempt := 0; attempt <= a.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff
			backoff := a.config.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		analysis, err := a.doAnalyze(ctx, query)
		if err == nil {
			return analysis, nil
		}

		lastErr = err

		// Don't retry on context cancellation
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		slog.Debug("analysis attempt failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", a.config.MaxRetries),
			slog.String("error", err.Error()),
		)
		recordRetry()
	}

	return nil, fmt.Errorf("analysis failed after %d attempts: %w", a.config.MaxRetries+1, lastErr)
}

// doAnalyze performs a single analysis attempt.
func (a *LLMAnalyzer) doAnalyze(ctx context.Context, query string) (*tracker.ComplexityAnalysis, error) {
	// Acquire semaphore if configured
	if a.semaphore != nil {
		select {
		case a.semaphore <- struct{}{}:
			defer func() { <-a.semaphore }()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	prompt, err := a.buildPrompt()
	if err != nil {
		return nil, fmt.Errorf("build prompt: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.config.Timeout)
	defer cancel()

	request := &llm.Request{
		SystemPrompt: prompt,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: query},
		},
		ResponseFormat: llm.FormatJSON,
		MaxTokens:      a.config.MaxTokens,
		Temperature:    a.config.Temperature,
	}

	response, err := a.client.Complete(reqCtx, request)
	if err != nil {
		return nil, fmt.Errorf("llm call: %w", err)
	}

	analysis, err := ParseAnalysisResponse(response.Content)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	// Check confidence threshold
	if analysis.Confidence < a.config.ConfidenceThreshold && a.config.FallbackToHeuristic {
		slog.Debug("analysis confidence below threshold, using heuristic",
			slog.Float64("confidence", analysis.Confidence),
			slog.Float64("threshold", a.config.ConfidenceThreshold),
		)
		recordFallback("low_confidence")
		return a.heuristicWithReason(ctx, query, fmt.Sprintf("low confidence: %.2f", analysis.Confidence)), nil
	}

	return analysis, nil
}

// buildPrompt renders the analysis prompt from the template.
func (a *LLMAnalyzer) buildPrompt() (string, error) {
	data := struct {
		Tools []toolBrief
	}{
		Tools: a.toolBriefs,
	}

	var buf bytes.Buffer
	if err := a.promptTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// useFallback classifies with the heuristic after an LLM failure.
func (a *LLMAnalyzer) useFallback(ctx context.Context, query string, startTime time.Time, reason string) *tracker.ComplexityAnalysis {
	recordFallback("error")
	analysis := a.heuristicWithReason(ctx, query, reason)
	recordAnalysis(analysis.Level.String(), analysis.Source, analysis.Confidence, time.Since(startTime).Seconds())
	return analysis
}

func (a *LLMAnalyzer) heuristicWithReason(ctx context.Context, query, reason string) *tracker.ComplexityAnalysis {
	analysis := a.heuristic.Analyze(ctx, query)
	analysis.Rationale = "heuristic fallback (" + reason + "): " + analysis.Rationale
	return analysis
}

// coalesceKey creates a singleflight key for a query.
func coalesceKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// truncateDescription truncates a description to max characters.
func truncateDescription(desc string, maxLen int) string {
	if len(desc) <= maxLen {
		return desc
	}
	return desc[:maxLen-3] + "..."
}
