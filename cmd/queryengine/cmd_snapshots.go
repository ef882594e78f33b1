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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianQuery/config"
	"github.com/AleutianAI/AleutianQuery/services/engine/storage/badger"
)

// openSnapshotStore opens the on-disk run store from the global config.
// Background GC stays off: CLI invocations are too short for it to matter.
func openSnapshotStore() (*badger.Store, error) {
	scfg := badger.DefaultConfig()
	scfg.Path = config.Global.Storage.Path
	scfg.SnapshotTTL = time.Duration(config.Global.Storage.SnapshotTTLHours) * time.Hour
	scfg.GCInterval = 0

	return badger.Open(scfg)
}

func runListSnapshots(cmd *cobra.Command, args []string) {
	store, err := openSnapshotStore()
	if err != nil {
		log.Fatalf("Failed to open the run store: %v", err)
	}
	defer store.Close()

	summaries, err := store.List(context.Background(), snapshotLimit)
	if err != nil {
		log.Fatalf("Failed to list runs: %v", err)
	}

	if len(summaries) == 0 {
		fmt.Println("No persisted runs found.")
		return
	}

	fmt.Printf("Persisted runs (%d):\n", len(summaries))
	fmt.Println("------------------------------------------------------------------")
	for _, s := range summaries {
		flag := ""
		if s.BelowThreshold {
			flag = "  [below threshold]"
		}
		fmt.Printf("ID: %s\nWhen: %s  Strategy: %s  Quality: %.2f  Attempts: %d%s\nQuery: %s\n\n",
			s.RunID,
			s.CreatedAt.Local().Format(time.RFC3339),
			s.Strategy,
			s.QualityScore,
			s.Attempts,
			flag,
			truncate(s.Query, 96))
	}
}

func runShowSnapshot(cmd *cobra.Command, args []string) {
	store, err := openSnapshotStore()
	if err != nil {
		log.Fatalf("Failed to open the run store: %v", err)
	}
	defer store.Close()

	result, err := store.Get(context.Background(), args[0])
	if err != nil {
		log.Fatalf("Failed to get run %s: %v", args[0], err)
	}

	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("Failed to serialize run %s: %v", args[0], err)
	}
	fmt.Println(string(raw))
}

func runDeleteSnapshot(cmd *cobra.Command, args []string) {
	store, err := openSnapshotStore()
	if err != nil {
		log.Fatalf("Failed to open the run store: %v", err)
	}
	defer store.Close()

	if err := store.Delete(context.Background(), args[0]); err != nil {
		log.Fatalf("Failed to delete run %s: %v", args[0], err)
	}
	fmt.Printf("Deleted run %s\n", args[0])
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
