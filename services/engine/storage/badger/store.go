// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badger persists finished query runs in an embedded BadgerDB so
// operators can inspect how an answer was produced after the fact: which
// strategies ran, what every tool call returned, how the plan evolved, and
// what the evaluator said at each step.
//
// The store holds one record per run, keyed by run id, containing the full
// FinalResult including the tracker snapshot. Records can carry a TTL so a
// long-running server does not accumulate snapshots forever.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
// This package follows Apache 2.0 guidelines for attribution and usage.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianQuery/services/engine/orchestrator"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// Sentinel errors for snapshot operations.
var (
	// ErrSnapshotNotFound indicates no snapshot exists for the run id.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrEmptyRunID indicates a snapshot operation was attempted without
	// a run id.
	ErrEmptyRunID = errors.New("run id must not be empty")
)

// keyPrefix namespaces snapshot records so future record kinds can share
// the database.
const keyPrefix = "run/"

// Config holds configuration for a snapshot store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required for persistent databases.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// SnapshotTTL is how long saved snapshots stay readable.
	// Default: 7 days. Set to 0 to keep snapshots forever.
	SnapshotTTL time.Duration

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	// Default: 0.5 (GC when 50% of value log is garbage).
	GCDiscardRatio float64
}

// DefaultConfig returns sensible defaults for production use.
//
// Description:
//
//	Returns a Config with:
//	- SyncWrites enabled for durability
//	- 7-day snapshot retention
//	- 5-minute GC interval
//	- 50% discard ratio threshold
//
// Outputs:
//
//	Config - Ready-to-use production configuration
func DefaultConfig() Config {
	return Config{
		SyncWrites:     true,
		SnapshotTTL:    7 * 24 * time.Hour,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration optimized for testing.
//
// Description:
//
//	Returns a Config with:
//	- InMemory mode enabled (no disk I/O)
//	- SyncWrites disabled (faster tests)
//	- No TTL and no GC
//
// Outputs:
//
//	Config - Ready-to-use test configuration
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
		GCInterval: 0, // disabled
	}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Summary is the listing row for one stored run, small enough to render
// in a table without decoding the full tracker snapshot.
type Summary struct {
	// RunID identifies the stored run.
	RunID string `json:"run_id"`

	// Query is the user query the run answered.
	Query string `json:"query"`

	// State is the terminal state the run ended in.
	State orchestrator.State `json:"state"`

	// Strategy produced the returned response.
	Strategy tracker.ExecutionStrategy `json:"strategy"`

	// QualityScore is the evaluator confidence for the response.
	QualityScore float64 `json:"quality_score"`

	// Attempts is how many strategy attempts the run made.
	Attempts int `json:"attempts"`

	// BelowThreshold marks a response that never passed the quality gate.
	BelowThreshold bool `json:"below_threshold"`

	// CreatedAt is when the run started.
	CreatedAt time.Time `json:"created_at"`
}

// Store persists FinalResult records in BadgerDB.
//
// Thread Safety: Store is safe for concurrent use.
type Store struct {
	db       *badger.DB
	ttl      time.Duration
	gcRunner *GCRunner
	path     string
	inMemory bool
}

// Open creates a snapshot store with the given configuration.
//
// Description:
//
//	Opens a BadgerDB database at the configured path, or in memory if
//	InMemory is true. Creates the directory if it doesn't exist and
//	starts a GC runner when GCInterval is configured.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Store - The opened store. Caller must call Close() when done.
//	error - Non-nil if path is invalid or database cannot be opened.
//
// Thread Safety: The returned Store is safe for concurrent use.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil) // Disable BadgerDB's internal logging
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	store := &Store{
		db:       db,
		ttl:      cfg.SnapshotTTL,
		path:     cfg.Path,
		inMemory: cfg.InMemory,
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := NewGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		store.gcRunner = runner
		runner.Start()
	}

	return store, nil
}

// Close stops garbage collection and closes the database.
//
// Outputs:
//
//	error - Non-nil if database close fails.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Close() error {
	if s.gcRunner != nil {
		s.gcRunner.Stop()
	}
	return s.db.Close()
}

// Path returns the database path, or empty string for in-memory stores.
func (s *Store) Path() string {
	return s.path
}

// InMemory returns true if this is an in-memory store.
func (s *Store) InMemory() bool {
	return s.inMemory
}

// Save persists one finished run.
//
// Description:
//
//	Serializes the FinalResult, including the full tracker snapshot, and
//	writes it under the run id. Saving the same run id again replaces
//	the previous record. When the store has a SnapshotTTL, the record
//	expires after that duration.
//
// Inputs:
//
//	ctx - Context for cancellation (checked before the write).
//	result - The finished run. Must carry a run id.
//
// Outputs:
//
//	error - Non-nil on empty run id, serialization failure, or write
//	failure.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Save(ctx context.Context, result *orchestrator.FinalResult) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if result == nil || result.RunID == "" {
		return ErrEmptyRunID
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("serialize snapshot %s: %w", result.RunID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key(result.RunID), payload)
		if s.ttl > 0 {
			entry = entry.WithTTL(s.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s: %w", result.RunID, err)
	}

	slog.Debug("snapshot saved",
		slog.String("run_id", result.RunID),
		slog.Int("bytes", len(payload)),
	)
	return nil
}

// Get loads one stored run by id.
//
// Inputs:
//
//	ctx - Context for cancellation (checked before the read).
//	runID - The run id to load.
//
// Outputs:
//
//	*orchestrator.FinalResult - The stored run.
//	error - ErrSnapshotNotFound if no record exists (or it expired),
//	ErrEmptyRunID on blank input, otherwise the read/decode failure.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Get(ctx context.Context, runID string) (*orchestrator.FinalResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	if runID == "" {
		return nil, ErrEmptyRunID
	}

	var result orchestrator.FinalResult
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(runID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &result)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", runID, err)
	}
	return &result, nil
}

// List returns summaries of stored runs, newest first.
//
// Description:
//
//	Scans every stored run, decodes the listing fields, and returns the
//	summaries ordered by run start time descending. A limit of 0 returns
//	everything.
//
// Inputs:
//
//	ctx - Context for cancellation (checked before the scan).
//	limit - Maximum summaries to return. 0 means unlimited.
//
// Outputs:
//
//	[]Summary - Stored run summaries, newest first.
//	error - Non-nil on scan or decode failure.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	var summaries []Summary
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var result orchestrator.FinalResult
				if err := json.Unmarshal(val, &result); err != nil {
					return fmt.Errorf("decode snapshot %s: %w", it.Item().Key(), err)
				}
				summaries = append(summaries, summarize(&result))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries, nil
}

// Delete removes one stored run.
//
// Outputs:
//
//	error - ErrSnapshotNotFound if no record exists for the run id,
//	ErrEmptyRunID on blank input, otherwise the write failure.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) Delete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if runID == "" {
		return ErrEmptyRunID
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(runID)); err != nil {
			return err
		}
		return txn.Delete(key(runID))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, runID)
	}
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", runID, err)
	}
	return nil
}

func key(runID string) []byte {
	return []byte(keyPrefix + runID)
}

func summarize(result *orchestrator.FinalResult) Summary {
	return Summary{
		RunID:          result.RunID,
		Query:          result.Snapshot.Query,
		State:          result.State,
		Strategy:       result.Strategy,
		QualityScore:   result.QualityScore,
		Attempts:       result.Attempts,
		BelowThreshold: result.BelowThreshold,
		CreatedAt:      result.Snapshot.CreatedAt,
	}
}

// =============================================================================
// Garbage collection
// =============================================================================

// GCRunner runs periodic garbage collection on a BadgerDB instance.
type GCRunner struct {
	db       *badger.DB
	interval time.Duration
	ratio    float64
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *slog.Logger
}

// NewGCRunner creates a garbage collection runner.
//
// Description:
//
//	Creates a runner that periodically triggers BadgerDB value log GC.
//	Call Start() to begin GC and Stop() to halt it.
//
// Inputs:
//
//	db - The BadgerDB instance. Must not be nil.
//	interval - How often to run GC. Must be positive.
//	ratio - Minimum garbage ratio to trigger GC (0.0-1.0).
//	logger - Optional logger for GC events.
//
// Outputs:
//
//	*GCRunner - The runner. Not started until Start() is called.
//	error - Non-nil if inputs are invalid.
//
// Thread Safety: Safe for concurrent use after creation.
func NewGCRunner(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger) (*GCRunner, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if ratio < 0 || ratio > 1 {
		return nil, errors.New("ratio must be between 0 and 1")
	}

	return &GCRunner{
		db:       db,
		interval: interval,
		ratio:    ratio,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}, nil
}

// Start begins periodic garbage collection.
func (r *GCRunner) Start() {
	go r.run()
}

// Stop halts garbage collection and waits for the runner to finish.
func (r *GCRunner) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *GCRunner) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.runGC()
		}
	}
}

func (r *GCRunner) runGC() {
	// RunValueLogGC returns nil if GC was triggered, error if not needed
	err := r.db.RunValueLogGC(r.ratio)
	if err == nil {
		if r.logger != nil {
			r.logger.Debug("badger value log GC completed")
		}
	} else if !errors.Is(err, badger.ErrNoRewrite) {
		// ErrNoRewrite means no GC was needed, not an error
		if r.logger != nil {
			r.logger.Warn("badger value log GC error", slog.String("error", err.Error()))
		}
	}
}

// =============================================================================
// Test helpers
// =============================================================================

// TempDir creates a temporary directory for testing databases.
//
// Inputs:
//
//	prefix - Prefix for the directory name.
//
// Outputs:
//
//	string - Path to the temporary directory.
//	error - Non-nil if directory cannot be created.
func TempDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	return dir, nil
}

// CleanupDir removes a database directory and all its contents.
//
// Inputs:
//
//	path - Directory to remove. Empty string is a no-op.
//
// Outputs:
//
//	error - Non-nil if removal fails.
func CleanupDir(path string) error {
	if path == "" {
		return nil
	}
	// Resolve to absolute path to avoid accidental removal of important dirs
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	return os.RemoveAll(absPath)
}
