// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
		{Level(-1), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := tt.level.String()
			if got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel_toSlogLevel(t *testing.T) {
	tests := []struct {
		level Level
		want  slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{Level(99), slog.LevelInfo}, // Unknown defaults to Info
		{Level(-1), slog.LevelInfo}, // Unknown defaults to Info
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			got := tt.level.toSlogLevel()
			if got != tt.want {
				t.Errorf("Level.toSlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevel_Constants(t *testing.T) {
	// Verify ordering: Debug < Info < Warn < Error
	if LevelDebug >= LevelInfo {
		t.Error("LevelDebug should be < LevelInfo")
	}
	if LevelInfo >= LevelWarn {
		t.Error("LevelInfo should be < LevelWarn")
	}
	if LevelWarn >= LevelError {
		t.Error("LevelWarn should be < LevelError")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"DEBUG", LevelDebug, false},
		{"info", LevelInfo, false},
		{"", LevelInfo, false},
		{"warn", LevelWarn, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{" Error ", LevelError, false},
		{"trace", LevelInfo, true},
		{"verbose", LevelInfo, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Logger Constructor Tests
// =============================================================================

func TestNew_DefaultConfig(t *testing.T) {
	logger := New(Config{})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	if logger.slog == nil {
		t.Error("logger.slog is nil")
	}
	defer logger.Close()
}

func TestNew_AllLevels(t *testing.T) {
	levels := []Level{LevelDebug, LevelInfo, LevelWarn, LevelError}
	for _, level := range levels {
		t.Run(level.String(), func(t *testing.T) {
			logger := New(Config{Level: level, Quiet: true})
			if logger == nil {
				t.Fatal("New() returned nil")
			}
			defer logger.Close()
		})
	}
}

func TestNew_WithService(t *testing.T) {
	logger := New(Config{
		Service: "test-service",
		Quiet:   true,
	})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	if logger.config.Service != "test-service" {
		t.Errorf("Service = %v, want test-service", logger.config.Service)
	}
	defer logger.Close()
}

func TestNew_QuietMode(t *testing.T) {
	logger := New(Config{Quiet: true})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	// Should still have a handler (fallback to stderr)
	if logger.slog == nil {
		t.Error("logger.slog is nil in quiet mode")
	}
	defer logger.Close()
}

func TestNew_WithLogDir(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{
		LogDir:  tmpDir,
		Service: "test",
		Quiet:   true,
	})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	defer logger.Close()

	if logger.file == nil {
		t.Error("logger.file is nil when LogDir specified")
	}

	files, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}
	if len(files) == 0 {
		t.Error("No log file created in LogDir")
	}
}

func TestNew_WithLogDir_NoService(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{
		LogDir: tmpDir,
		Quiet:  true,
	})
	if logger == nil {
		t.Fatal("New() returned nil")
	}
	defer logger.Close()

	// Should use "queryengine" as default service name
	files, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}
	found := false
	for _, f := range files {
		if strings.HasPrefix(f.Name(), "queryengine_") {
			found = true
			break
		}
	}
	if !found {
		t.Error("Expected log file with 'queryengine_' prefix")
	}
}

func TestNew_WithLogDir_InvalidPath(t *testing.T) {
	// A file in the way prevents directory creation
	tmpDir := t.TempDir()
	blocker := filepath.Join(tmpDir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create blocker file: %v", err)
	}

	logger := New(Config{
		LogDir: filepath.Join(blocker, "logs"),
		Quiet:  true,
	})
	if logger == nil {
		t.Fatal("New() returned nil even with invalid LogDir")
	}
	defer logger.Close()
	// Should still work, just without file logging
	if logger.file != nil {
		t.Error("logger.file should be nil for invalid path")
	}
}

func TestDefault(t *testing.T) {
	logger := Default()
	if logger == nil {
		t.Fatal("Default() returned nil")
	}
	if logger.config.Level != LevelInfo {
		t.Errorf("Default level = %v, want LevelInfo", logger.config.Level)
	}
	if logger.config.Service != "queryengine" {
		t.Errorf("Default service = %v, want queryengine", logger.config.Service)
	}
	defer logger.Close()
}

// =============================================================================
// Logger Method Tests
// =============================================================================

func TestLogger_With(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()

	child := logger.With("run_id", "run-123")
	if child == nil {
		t.Fatal("With() returned nil")
	}
	if child == logger {
		t.Error("With() should return a new Logger")
	}
	if child.slog == logger.slog {
		t.Error("With() should wrap a new slog.Logger")
	}
}

func TestLogger_Slog(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()

	if logger.Slog() == nil {
		t.Error("Slog() returned nil")
	}
}

func TestLogger_FileOutput(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{
		Level:   LevelDebug,
		LogDir:  tmpDir,
		Service: "filetest",
		Quiet:   true,
	})

	logger.Info("written to file", "key", "value")
	logger.Debug("debug line")

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	files, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("Failed to read dir: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("Expected 1 log file, got %d", len(files))
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, files[0].Name()))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "written to file") {
		t.Errorf("Log file missing Info line: %s", content)
	}
	if !strings.Contains(content, `"service":"filetest"`) {
		t.Errorf("Log file missing service attribute: %s", content)
	}
	if !strings.Contains(content, "debug line") {
		t.Errorf("Log file missing Debug line at LevelDebug: %s", content)
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	tmpDir := t.TempDir()
	logger := New(Config{
		Level:   LevelWarn,
		LogDir:  tmpDir,
		Service: "filter",
		Quiet:   true,
	})

	logger.Debug("filtered debug")
	logger.Info("filtered info")
	logger.Warn("kept warn")
	logger.Error("kept error")

	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	files, err := os.ReadDir(tmpDir)
	if err != nil || len(files) == 0 {
		t.Fatalf("Failed to read log dir: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(tmpDir, files[0].Name()))
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "filtered debug") || strings.Contains(content, "filtered info") {
		t.Errorf("Levels below Warn leaked through filter: %s", content)
	}
	if !strings.Contains(content, "kept warn") || !strings.Contains(content, "kept error") {
		t.Errorf("Warn/Error lines missing: %s", content)
	}
}

func TestLogger_CloseWithoutFile(t *testing.T) {
	logger := New(Config{Quiet: true})
	if err := logger.Close(); err != nil {
		t.Errorf("Close() without file error = %v", err)
	}
	// Second Close is a no-op
	if err := logger.Close(); err != nil {
		t.Errorf("Second Close() error = %v", err)
	}
}

// =============================================================================
// Multi-Handler Tests
// =============================================================================

func TestMultiHandler_Enabled(t *testing.T) {
	debugHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	errorHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})

	h := &multiHandler{handlers: []slog.Handler{errorHandler, debugHandler}}
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Enabled(Debug) = false, want true (one handler accepts Debug)")
	}

	h = &multiHandler{handlers: []slog.Handler{errorHandler}}
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("Enabled(Info) = true, want false (only handler requires Error)")
	}
}

func TestMultiHandler_WithAttrs(t *testing.T) {
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(os.Stderr, nil),
		slog.NewJSONHandler(os.Stderr, nil),
	}}
	got := h.WithAttrs([]slog.Attr{slog.String("k", "v")})
	mh, ok := got.(*multiHandler)
	if !ok {
		t.Fatalf("WithAttrs() returned %T, want *multiHandler", got)
	}
	if len(mh.handlers) != 2 {
		t.Errorf("WithAttrs() handler count = %d, want 2", len(mh.handlers))
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir: %v", err)
	}

	tests := []struct {
		input string
		want  string
	}{
		{"~/logs", filepath.Join(home, "logs")},
		{"/var/log", "/var/log"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := expandPath(tt.input)
			if got != tt.want {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
