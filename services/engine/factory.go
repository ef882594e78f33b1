// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianQuery/config"
	"github.com/AleutianAI/AleutianQuery/services/engine/analyzer"
	"github.com/AleutianAI/AleutianQuery/services/engine/evaluate"
	"github.com/AleutianAI/AleutianQuery/services/engine/llm"
	"github.com/AleutianAI/AleutianQuery/services/engine/orchestrator"
	"github.com/AleutianAI/AleutianQuery/services/engine/tools"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// BuildRunner assembles the escalation pipeline from configuration.
//
// Description:
//
//	Builds the full dependency graph behind the Runner interface: the
//	generation backend wrapped in retry and rate-limit middleware, the
//	tool registry (builtins plus any configured MCP server), the
//	complexity analyzer, and the quality evaluator and synthesizer.
//	Both the HTTP service and the CLI run command call this, so pipeline
//	wiring lives in exactly one place.
//
// Inputs:
//
//	ctx - Context for MCP server startup. Must not be nil.
//	cfg - Validated engine configuration.
//
// Outputs:
//
//	orchestrator.Runner - The assembled escalation loop.
//	func() error - Closer for the MCP session. Never nil; safe to call
//	  when no MCP server is configured.
//	error - Non-nil if any pipeline component fails to construct.
func BuildRunner(ctx context.Context, cfg config.EngineConfig) (orchestrator.Runner, func() error, error) {
	base, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL: cfg.ModelBackend.BaseURL,
		Model:   cfg.ModelBackend.Model,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create the model backend: %w", err)
	}

	client := llm.NewResilientClient(base, llm.ResilienceConfig{
		MaxRetries:        cfg.Resilience.MaxRetries,
		RetryBackoff:      time.Duration(cfg.Resilience.RetryBackoffMS) * time.Millisecond,
		Timeout:           time.Duration(cfg.Resilience.TimeoutSeconds) * time.Second,
		RequestsPerSecond: cfg.Resilience.RequestsPerSecond,
		Burst:             cfg.Resilience.Burst,
	})

	registry := tools.NewBuiltinRegistry()
	closer := func() error { return nil }

	if cfg.Tools.MCPCommand != "" {
		mcpProvider, err := tools.NewStdioMCPProvider(ctx, cfg.Tools.MCPCommand, nil, cfg.Tools.MCPArgs...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start the MCP server: %w", err)
		}

		if err := registerMCPTools(ctx, registry, mcpProvider); err != nil {
			mcpProvider.Close()
			return nil, nil, err
		}

		slog.Info("Connected MCP tool server",
			"server", mcpProvider.ServerName(),
			"command", cfg.Tools.MCPCommand)
		closer = mcpProvider.Close
	}

	executor := tools.NewExecutor(registry, tools.ExecutorConfig{
		CallTimeout: time.Duration(cfg.Tools.CallTimeoutSeconds) * time.Second,
		MaxParallel: cfg.Tools.MaxParallel,
	})

	toolDefs, err := registry.ListTools(ctx)
	if err != nil {
		closer()
		return nil, nil, fmt.Errorf("failed to list tools: %w", err)
	}

	analyzerCfg := analyzer.DefaultAnalyzerConfig()
	analyzerCfg.ConfidenceThreshold = cfg.Analyzer.ConfidenceThreshold
	analyzerCfg.FallbackToHeuristic = cfg.Analyzer.FallbackToHeuristic
	analyzerCfg.CacheTTL = time.Duration(cfg.Analyzer.CacheTTLSeconds) * time.Second
	analyzerCfg.CacheMaxSize = cfg.Analyzer.CacheMaxSize

	queryAnalyzer, err := analyzer.NewLLMAnalyzer(client, toolDefs, analyzerCfg)
	if err != nil {
		closer()
		return nil, nil, fmt.Errorf("failed to create the analyzer: %w", err)
	}

	evaluator, err := evaluate.NewLLMEvaluator(client, evaluate.DefaultEvaluatorConfig())
	if err != nil {
		closer()
		return nil, nil, fmt.Errorf("failed to create the evaluator: %w", err)
	}

	synthesizer, err := evaluate.NewLLMSynthesizer(client, evaluate.DefaultSynthesizerConfig())
	if err != nil {
		closer()
		return nil, nil, fmt.Errorf("failed to create the synthesizer: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Dependencies{
		Analyzer:    queryAnalyzer,
		Client:      client,
		Provider:    registry,
		Tools:       executor,
		Evaluator:   evaluator,
		Synthesizer: synthesizer,
		Policy:      tracker.NewCachePolicy("current_time"),
	}, orchestrator.Config{
		QualityThreshold: cfg.Escalation.QualityThreshold,
		MaxEscalations:   cfg.Escalation.MaxEscalations,
	})
	if err != nil {
		closer()
		return nil, nil, fmt.Errorf("failed to create the orchestrator: %w", err)
	}

	return orch, closer, nil
}

// registerMCPTools merges the MCP server's tools into the registry so the
// analyzer and strategies see one flat tool list.
func registerMCPTools(ctx context.Context, registry *tools.Registry, provider *tools.MCPProvider) error {
	defs, err := provider.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list MCP tools: %w", err)
	}

	for _, def := range defs {
		def := def
		registry.Register(def, func(ctx context.Context, args map[string]any) (string, error) {
			result, err := provider.CallTool(ctx, def.Name, args)
			if err != nil {
				return "", err
			}
			if result.IsError {
				return "", fmt.Errorf("tool %s reported an error: %s", def.Name, result.Content)
			}
			return result.Content, nil
		})
	}

	slog.Debug("Registered MCP tools", "server", provider.ServerName(), "count", len(defs))
	return nil
}
