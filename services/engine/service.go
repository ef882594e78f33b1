// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine provides the HTTP service for the self-correcting query
// engine.
//
// This package wires the full escalation pipeline behind a Gin HTTP
// surface: complexity analysis, strategy execution, quality evaluation,
// escalation, and snapshot persistence. The pipeline itself lives in the
// subpackages (analyzer, strategy, evaluate, orchestrator, tracker); this
// package only assembles them from configuration and exposes them over
// HTTP.
//
// # Usage
//
//	cfg := config.DefaultConfig()
//	svc, err := engine.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianQuery/config"
	"github.com/AleutianAI/AleutianQuery/services/engine/orchestrator"
	"github.com/AleutianAI/AleutianQuery/services/engine/storage/badger"
	"github.com/AleutianAI/AleutianQuery/services/engine/telemetry"
)

// Version is the query engine release version, reported by /healthz and
// the CLI version command.
const Version = "1.0.0"

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the query engine service.
//
// # Description
//
// Service abstracts the engine lifecycle, enabling testing and
// alternative implementations. Only essential lifecycle methods are
// exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and
// should only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service coordinates:
//   - HTTP routing via Gin
//   - The escalation runner built by BuildRunner
//   - Optional BadgerDB snapshot persistence (may be nil)
//   - OpenTelemetry tracing and Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config            config.EngineConfig
	router            *gin.Engine
	runner            orchestrator.Runner
	store             *badger.Store
	mcpClose          func() error
	telemetryShutdown func(context.Context) error
}

// Compile-time check that service implements Service.
var _ Service = (*service)(nil)

// =============================================================================
// Constructor
// =============================================================================

// New creates a query engine Service from validated configuration.
//
// # Description
//
// New initializes all engine components:
//  1. OpenTelemetry tracing and metrics
//  2. The escalation pipeline (BuildRunner)
//  3. The BadgerDB snapshot store, if storage is usable
//  4. HTTP routes
//
// A snapshot store failure is not fatal: the engine runs without
// persistence and the snapshot endpoints report 503.
//
// # Inputs
//
//   - cfg: Engine configuration. Should already have passed Validate().
//
// # Outputs
//
//   - Service: Ready-to-run engine service
//   - error: Non-nil if telemetry or the pipeline fails to initialize
func New(cfg config.EngineConfig) (Service, error) {
	s := &service{config: cfg}

	ctx := context.Background()

	// Initialize OpenTelemetry
	if err := s.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	// Build the escalation pipeline
	runner, mcpClose, err := BuildRunner(ctx, cfg)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build the query pipeline: %w", err)
	}
	s.runner = runner
	s.mcpClose = mcpClose

	// Open the snapshot store (optional)
	if err := s.initStore(); err != nil {
		slog.Warn("Snapshot store initialization failed, running without persistence",
			"error", err)
		// Not fatal - continue without snapshots
	}

	// Setup HTTP router
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error. Cleanup
// is automatic on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	slog.Info("Starting query engine server",
		"addr", addr,
		"snapshots_enabled", s.store != nil)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTelemetry starts tracing and metrics per the telemetry config
// section.
func (s *service) initTelemetry(ctx context.Context) error {
	tcfg := telemetry.DefaultConfig()
	tcfg.ServiceVersion = Version
	tcfg.TraceExporter = s.config.Telemetry.TraceExporter
	tcfg.MetricExporter = s.config.Telemetry.MetricExporter
	if s.config.Telemetry.OTLPEndpoint != "" {
		tcfg.OTLPEndpoint = s.config.Telemetry.OTLPEndpoint
	}

	shutdown, err := telemetry.Init(ctx, tcfg)
	if err != nil {
		return err
	}
	s.telemetryShutdown = shutdown
	return nil
}

// initStore opens the BadgerDB snapshot store per the storage config
// section.
func (s *service) initStore() error {
	scfg := badger.DefaultConfig()
	scfg.Path = s.config.Storage.Path
	scfg.InMemory = s.config.Storage.InMemory
	scfg.SnapshotTTL = time.Duration(s.config.Storage.SnapshotTTLHours) * time.Hour
	scfg.GCInterval = time.Duration(s.config.Storage.GCIntervalMinutes) * time.Minute

	store, err := badger.Open(scfg)
	if err != nil {
		return err
	}
	s.store = store

	slog.Info("Opened snapshot store",
		"path", store.Path(),
		"in_memory", store.InMemory())
	return nil
}

// initRouter builds the Gin engine and registers all routes.
func (s *service) initRouter() {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("queryengine-service"))

	handlers := NewHandlers(s.runner, s.store)

	s.router.GET("/healthz", handlers.HandleHealth)
	if mh := telemetry.MetricsHandler(); mh != nil {
		s.router.GET("/metrics", gin.WrapH(mh))
	}

	v1 := s.router.Group("/v1")
	RegisterRoutes(v1, handlers)
}

// cleanup releases everything New acquired, in reverse order.
func (s *service) cleanup() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Snapshot store close error", "error", err)
		}
	}

	if s.mcpClose != nil {
		if err := s.mcpClose(); err != nil {
			slog.Warn("MCP session close error", "error", err)
		}
	}

	if s.telemetryShutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetryShutdown(shutdownCtx); err != nil {
			slog.Warn("Telemetry shutdown error", "error", err)
		}
	}
}
