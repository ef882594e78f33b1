// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command queryengine runs the Aleutian self-correcting query engine.
//
// The engine classifies each query's complexity, picks an execution
// strategy (direct, light_planning, deep_reasoning), evaluates the
// response quality, and escalates to a deeper strategy until the answer
// passes the quality gate or the ladder is exhausted.
//
// Usage:
//
//	# One-shot query from the terminal
//	queryengine run "What is the largest city in Alaska?"
//
//	# Pin the first attempt to a strategy
//	queryengine run --strategy deep_reasoning "Compare Anchorage and Fairbanks"
//
//	# Start the HTTP server
//	queryengine serve
//
//	# Inspect persisted runs
//	queryengine snapshots list
//	queryengine snapshots show <run_id>
//
// Configuration lives at ~/.aleutian/queryengine.yaml and is created
// with defaults on first run. The model backend is any OpenAI-compatible
// endpoint:
//
//	OPENAI_API_KEY=sk-... queryengine run "..."
//	# or a local server via model_backend.base_url in the config
package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianQuery/config"
	"github.com/AleutianAI/AleutianQuery/pkg/logging"
)

func main() {
	// Execute the root command. Cobra handles parsing the arguments.
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			cfg, err := config.LoadFile(configPath)
			if err != nil {
				return fmt.Errorf("failed to load the config from %s: %w", configPath, err)
			}
			config.Global = *cfg
		} else if err := config.Load(); err != nil {
			return fmt.Errorf("failed to load the config: %w", err)
		}

		return setupLogging(config.Global.Logging)
	}
}

// setupLogging installs the configured logger as the process default so
// every slog call in the engine flows through it.
func setupLogging(cfg config.LoggingConfig) error {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Dir,
		Service: "queryengine",
		JSON:    cfg.JSON,
	})
	logging.SetDefault(logger)
	return nil
}
