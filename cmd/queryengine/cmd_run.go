// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianQuery/config"
	"github.com/AleutianAI/AleutianQuery/services/engine"
	"github.com/AleutianAI/AleutianQuery/services/engine/orchestrator"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// runQuery executes one query through the escalation loop and prints the
// answer. The accepted response streams to stdout as it is generated; run
// metadata goes to stderr so the answer stays pipeable.
func runQuery(cmd *cobra.Command, args []string) {
	query := strings.Join(args, " ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, closer, err := engine.BuildRunner(ctx, config.Global)
	if err != nil {
		log.Fatalf("Failed to build the query pipeline: %v", err)
	}
	defer closer()

	var opts []orchestrator.RunOption
	if strategyFlag != "" {
		override, err := tracker.ParseStrategy(strategyFlag)
		if err != nil {
			log.Fatalf("Unknown strategy %q: use direct, light_planning, or deep_reasoning", strategyFlag)
		}
		opts = append(opts, orchestrator.WithStrategyOverride(override))
	}

	var streamed bool
	if !noStream {
		opts = append(opts, orchestrator.WithChunkCallback(func(chunk string) error {
			streamed = true
			fmt.Print(chunk)
			return nil
		}))
	}

	result, err := runner.Run(ctx, query, opts...)
	if err != nil {
		log.Fatalf("Query run failed: %v", err)
	}

	if streamed {
		fmt.Println()
	} else {
		fmt.Println(result.Response)
	}

	fmt.Fprintf(os.Stderr, "\n[run %s] strategy=%s quality=%.2f attempts=%d in %s\n",
		result.RunID, result.Strategy, result.QualityScore, result.Attempts,
		result.Duration.Round(time.Millisecond))
	if result.BelowThreshold {
		fmt.Fprintln(os.Stderr, "Warning: no attempt passed the quality gate; this is the best available answer.")
	}

	persistRun(result)

	if includeSnapshot {
		raw, err := json.MarshalIndent(result.Snapshot, "", "  ")
		if err != nil {
			log.Fatalf("Failed to serialize the snapshot: %v", err)
		}
		fmt.Println(string(raw))
	}
}

// persistRun saves the finished run to the local store so snapshots show
// can replay it later. Best effort: a locked or broken store only costs
// the replay, not the answer.
func persistRun(result *orchestrator.FinalResult) {
	if config.Global.Storage.InMemory {
		return
	}

	store, err := openSnapshotStore()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not open the run store, snapshot not saved: %v\n", err)
		return
	}
	defer store.Close()

	if err := store.Save(context.Background(), result); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to save the run snapshot: %v\n", err)
	}
}
