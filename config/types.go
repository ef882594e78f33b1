// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the query engine configuration from
// ~/.aleutian/queryengine.yaml, creating the file with defaults on first
// run. Environment variables still override the API key and model at the
// backend client level, so secrets never need to live in the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianQuery/pkg/logging"
)

// engineValidate is the shared validator instance for engine configuration.
// Initialized in init() with custom rules.
var engineValidate *validator.Validate

func init() {
	engineValidate = validator.New()

	// The accepted level names live in logging.ParseLevel; this rule just
	// defers to it so the two never drift apart.
	_ = engineValidate.RegisterValidation("loglevel", validateLogLevel)
}

func validateLogLevel(fl validator.FieldLevel) bool {
	_, err := logging.ParseLevel(fl.Field().String())
	return err == nil
}

// EngineConfig is the root configuration for the query engine.
//
// Durations are expressed as plain integers with the unit in the field
// name (seconds, minutes, hours) so the YAML stays hand-editable.
type EngineConfig struct {
	// Server: HTTP listener for `queryengine serve`
	Server ServerConfig `yaml:"server"`

	// ModelBackend: which generation service answers queries
	ModelBackend BackendConfig `yaml:"model_backend"`

	// Escalation: quality gate and strategy-ladder bounds
	Escalation EscalationConfig `yaml:"escalation"`

	// Analyzer: complexity classification tuning
	Analyzer AnalyzerConfig `yaml:"analyzer"`

	// Resilience: retry/timeout/rate-limit envelope for backend calls
	Resilience ResilienceConfig `yaml:"resilience"`

	// Tools: tool execution and optional MCP server wiring
	Tools ToolsConfig `yaml:"tools"`

	// Storage: run-snapshot persistence
	Storage StorageConfig `yaml:"storage"`

	// Logging: process log output
	Logging LoggingConfig `yaml:"logging"`

	// Telemetry: trace and metric exporters
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	// Host to bind, e.g. 0.0.0.0
	Host string `yaml:"host"`

	// Port to listen on, e.g. 8080
	Port int `yaml:"port" validate:"gte=1,lte=65535"`
}

type BackendConfig struct {
	// Type selects the generation backend. Currently "openai" (which also
	// covers any OpenAI-compatible server via BaseURL).
	Type string `yaml:"type" validate:"required,oneof=openai"`

	// BaseURL points at a local OpenAI-compatible server (vLLM, Ollama).
	// Empty uses api.openai.com.
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`

	// Model is the model identifier. Empty falls back to OPENAI_MODEL.
	Model string `yaml:"model,omitempty"`
}

type EscalationConfig struct {
	// QualityThreshold is the minimum evaluation score that counts as a
	// sufficient answer, e.g. 0.6
	QualityThreshold float64 `yaml:"quality_threshold" validate:"gte=0,lte=1"`

	// MaxEscalations bounds strategy escalations per run, e.g. 2
	MaxEscalations int `yaml:"max_escalations" validate:"gte=0,lte=10"`
}

type AnalyzerConfig struct {
	// ConfidenceThreshold below which classification falls back, e.g. 0.7
	ConfidenceThreshold float64 `yaml:"confidence_threshold" validate:"gte=0,lte=1"`

	// FallbackToHeuristic enables the regex classifier when the
	// generation service is unavailable
	FallbackToHeuristic bool `yaml:"fallback_to_heuristic"`

	// CacheTTLSeconds bounds how long analyses are reused, e.g. 600
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" validate:"gte=0"`

	// CacheMaxSize bounds the analysis cache entry count, e.g. 1000
	CacheMaxSize int `yaml:"cache_max_size" validate:"gte=0"`
}

type ResilienceConfig struct {
	// MaxRetries for transient backend failures, e.g. 2
	MaxRetries int `yaml:"max_retries" validate:"gte=0,lte=10"`

	// RetryBackoffMS is the base backoff in milliseconds, doubled per
	// attempt, e.g. 100
	RetryBackoffMS int `yaml:"retry_backoff_ms" validate:"gte=0"`

	// TimeoutSeconds caps a single backend call, e.g. 60
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gte=1"`

	// RequestsPerSecond rate-limits backend calls, e.g. 5
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`

	// Burst allows short spikes above the rate, e.g. 5
	Burst int `yaml:"burst" validate:"gte=1"`
}

type ToolsConfig struct {
	// MCPCommand launches an MCP server over stdio whose tools join the
	// builtin registry. Empty disables MCP.
	MCPCommand string   `yaml:"mcp_command,omitempty"`
	MCPArgs    []string `yaml:"mcp_args,omitempty"`

	// CallTimeoutSeconds caps a single tool call, e.g. 30
	CallTimeoutSeconds int `yaml:"call_timeout_seconds" validate:"gte=1"`

	// MaxParallel bounds concurrent tool calls in a batch, e.g. 4
	MaxParallel int `yaml:"max_parallel" validate:"gte=1,lte=64"`
}

type StorageConfig struct {
	// Path is the BadgerDB directory for run snapshots.
	Path string `yaml:"path"`

	// InMemory skips disk persistence entirely (snapshots vanish on exit).
	InMemory bool `yaml:"in_memory"`

	// SnapshotTTLHours is snapshot retention, e.g. 168 (7 days). 0 keeps
	// snapshots forever.
	SnapshotTTLHours int `yaml:"snapshot_ttl_hours" validate:"gte=0"`

	// GCIntervalMinutes is the value-log GC cadence, e.g. 5. 0 disables.
	GCIntervalMinutes int `yaml:"gc_interval_minutes" validate:"gte=0"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"loglevel"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir,omitempty"` // optional log-file directory
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=otlp jaeger stdout none"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" validate:"omitempty,hostname_port"`
}

// Validate checks the configuration against the struct tags, collecting
// every violation into a single error.
func (c *EngineConfig) Validate() error {
	err := engineValidate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		errs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			errs = append(errs, fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag()))
		}
		return errors.New("invalid engine config: " + strings.Join(errs, "; "))
	}
	return fmt.Errorf("invalid engine config: %w", err)
}

// DefaultConfig returns the configuration written on first run.
//
// The quality threshold and escalation cap default to 0.6 and 2: one
// gate strict enough to catch hollow answers without rejecting most
// first attempts, and at most three attempts per query.
func DefaultConfig() EngineConfig {
	snapshotPath := "snapshots"
	if home, err := os.UserHomeDir(); err == nil {
		snapshotPath = filepath.Join(home, ".aleutian", "queryengine", "snapshots")
	}
	return EngineConfig{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		ModelBackend: BackendConfig{
			Type: "openai",
		},
		Escalation: EscalationConfig{
			QualityThreshold: 0.6,
			MaxEscalations:   2,
		},
		Analyzer: AnalyzerConfig{
			ConfidenceThreshold: 0.7,
			FallbackToHeuristic: true,
			CacheTTLSeconds:     600,
			CacheMaxSize:        1000,
		},
		Resilience: ResilienceConfig{
			MaxRetries:        2,
			RetryBackoffMS:    100,
			TimeoutSeconds:    60,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Tools: ToolsConfig{
			CallTimeoutSeconds: 30,
			MaxParallel:        4,
		},
		Storage: StorageConfig{
			Path:              snapshotPath,
			SnapshotTTLHours:  168,
			GCIntervalMinutes: 5,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "otlp",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}
