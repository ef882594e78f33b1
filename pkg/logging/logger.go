// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging configures structured logging for the query engine.
//
// The engine itself logs through the standard library slog package; this
// package builds the handler behind it. Output follows Unix conventions:
//
//   - Default: stderr in human-readable text (CLI usage)
//   - Server: stderr in JSON for log aggregation
//   - Optional: a daily log file alongside stderr
//
// # Basic Usage
//
// Configure the process-wide default logger once at startup:
//
//	logger := logging.New(logging.Config{
//	    Level:   logging.LevelInfo,
//	    Service: "queryengine",
//	    JSON:    true,
//	})
//	defer logger.Close()
//	logging.SetDefault(logger)
//
// After SetDefault, every slog.Info/Debug/... call in the engine flows
// through the configured handler.
//
// # File Logging
//
// Setting LogDir writes a `{service}_{date}.log` JSON file in addition to
// stderr. The directory is created with 0750 permissions; `~` expands to
// the user's home directory.
//
// # Log Levels
//
// Four levels matching slog conventions:
//
//   - Debug: cache hits, per-step progress, serialized context sizes
//   - Info: attempt lifecycle (started, evaluated, escalated, returned)
//   - Warn: fallbacks (heuristic analysis, quality-gate failures)
//   - Error: terminal failures
//
// # Security Considerations
//
// This package does NOT redact sensitive data. Callers must ensure API
// keys and secrets are never passed as log attributes:
//
//	// BAD: logs the key
//	logger.Info("auth", "api_key", key)
//
//	// GOOD: log presence only
//	logger.Info("auth", "api_key_present", key != "")
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity, ordered Debug < Info < Warn < Error.
// Setting a minimum level filters out everything below it.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	LevelInfo

	// LevelWarn is for recoverable issues (fallbacks, retries).
	LevelWarn

	// LevelError is for operation failures.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// toSlogLevel bridges Level to the standard library.
func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a config-file level name to a Level.
//
// Accepts "debug", "info", "warn", "error" case-insensitively
// ("warning" is accepted as an alias for "warn").
//
// Outputs:
//
//	Level - The parsed level.
//	error - Non-nil for unrecognized names.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the Logger. The zero value writes Info+ messages to
// stderr in text format.
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo.
	Level Level

	// LogDir enables file logging to the specified directory.
	//
	// When set, logs are written to both stderr and a file named
	// "{Service}_{YYYY-MM-DD}.log" in JSON format. Supports ~ expansion.
	// Default: "" (file logging disabled).
	LogDir string

	// Service identifies the component generating logs. Included in every
	// entry as the "service" attribute. Default: "" (no attribute).
	Service string

	// JSON enables JSON output on stderr. File logs are always JSON
	// regardless of this setting. Default: false (text).
	JSON bool

	// Quiet disables stderr output. Logs go only to the file (if LogDir
	// is set). Default: false.
	Quiet bool
}

// =============================================================================
// Logger
// =============================================================================

// Logger wraps slog.Logger with multi-destination output and cleanup.
//
// Safe for concurrent use. Call Close() when done if file logging is
// configured.
type Logger struct {
	slog   *slog.Logger
	config Config
	file   *os.File
	mu     sync.Mutex
}

// New creates a Logger with the given configuration.
//
// Description:
//
//	Builds the handler stack from config: a stderr handler (unless Quiet),
//	plus a JSON file handler when LogDir is set. File setup failures fall
//	back to stderr-only rather than erroring; logging must not prevent the
//	engine from starting.
//
// Inputs:
//
//	config - Logger configuration.
//
// Outputs:
//
//	*Logger - Configured logger. Close() it to flush the file handle.
func New(config Config) *Logger {
	var handlers []slog.Handler

	opts := &slog.HandlerOptions{
		Level: config.Level.toSlogLevel(),
	}

	if !config.Quiet {
		var stderrHandler slog.Handler
		if config.JSON {
			stderrHandler = slog.NewJSONHandler(os.Stderr, opts)
		} else {
			stderrHandler = slog.NewTextHandler(os.Stderr, opts)
		}
		handlers = append(handlers, stderrHandler)
	}

	logger := &Logger{config: config}

	if config.LogDir != "" {
		logDir := expandPath(config.LogDir)
		if err := os.MkdirAll(logDir, 0750); err == nil {
			serviceName := config.Service
			if serviceName == "" {
				serviceName = "queryengine"
			}
			filename := fmt.Sprintf("%s_%s.log", serviceName, time.Now().Format("2006-01-02"))
			logPath := filepath.Join(logDir, filename)

			file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
			if err == nil {
				logger.file = file
				// File logs are always JSON (machine-parseable)
				handlers = append(handlers, slog.NewJSONHandler(file, opts))
			}
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		// Quiet with no file still needs a sink
		handler = slog.NewTextHandler(os.Stderr, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", config.Service),
		})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Default returns a logger with Info level, stderr text output, and the
// "queryengine" service attribute.
func Default() *Logger {
	return New(Config{
		Level:   LevelInfo,
		Service: "queryengine",
	})
}

// SetDefault installs the logger as the process-wide slog default, so
// package-level slog calls throughout the engine use it.
func SetDefault(l *Logger) {
	slog.SetDefault(l.slog)
}

// Debug logs a message at Debug level.
func (l *Logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

// Info logs a message at Info level.
func (l *Logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

// Warn logs a message at Warn level.
func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
}

// Error logs a message at Error level.
func (l *Logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
}

// With returns a new Logger carrying additional attributes. The parent is
// not modified; the file handle is shared.
//
// Example:
//
//	runLogger := logger.With("run_id", runID)
//	runLogger.Info("attempt started", "strategy", strategy)
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:   l.slog.With(args...),
		config: l.config,
		file:   l.file,
	}
}

// Slog returns the underlying slog.Logger for direct use.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Close syncs and closes the log file, if one is open.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	var errs []error
	if err := l.file.Sync(); err != nil {
		errs = append(errs, fmt.Errorf("sync log file: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close log file: %w", err))
	}
	l.file = nil

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans out log records to multiple slog handlers, enabling
// simultaneous stderr and file output with different formats.
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled returns true if any handler is enabled for the level.
func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to all enabled handlers.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

// WithAttrs returns a new handler with additional attributes.
func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

// WithGroup returns a new handler with a group name.
func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// =============================================================================
// Helper Functions
// =============================================================================

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
