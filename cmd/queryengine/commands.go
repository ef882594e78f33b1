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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianQuery/services/engine"
)

// --- Global Command Variables ---
var (
	configPath      string
	strategyFlag    string // CLI override for the first attempt's strategy
	includeSnapshot bool
	noStream        bool
	servePort       int
	snapshotLimit   int

	rootCmd = &cobra.Command{
		Use:   "queryengine",
		Short: "A cli to run and serve the Aleutian self-correcting query engine",
		Long: `Queryengine answers questions through an escalation loop: it classifies
				each query's complexity, runs the cheapest strategy that should handle it,
				scores the response, and escalates to deeper reasoning until the answer
				passes the quality gate or the strategy ladder is exhausted.`,
	}

	// --- Run ---
	runCmd = &cobra.Command{
		Use:   "run [query]",
		Short: "Run one query through the escalation loop and print the answer",
		Args:  cobra.MinimumNArgs(1),
		Run:   runQuery, // Defined in cmd_run.go
	}

	// --- Serve ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the query engine HTTP server",
		Run:   runServe, // Defined in cmd_serve.go
	}

	// --- Snapshots ---
	snapshotsCmd = &cobra.Command{
		Use:   "snapshots",
		Short: "Inspect persisted query runs",
		Long: `Snapshots reads the local run store directly, so it cannot run while
				a serve process holds the store open.`,
	}
	listSnapshotsCmd = &cobra.Command{
		Use:   "list",
		Short: "List persisted runs, newest first",
		Run:   runListSnapshots, // Defined in cmd_snapshots.go
	}
	showSnapshotCmd = &cobra.Command{
		Use:   "show [run_id]",
		Short: "Print a run with its full snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		Run:   runShowSnapshot, // Defined in cmd_snapshots.go
	}
	deleteSnapshotCmd = &cobra.Command{
		Use:   "delete [run_id]",
		Short: "Delete a persisted run",
		Args:  cobra.ExactArgs(1),
		Run:   runDeleteSnapshot, // Defined in cmd_snapshots.go
	}

	// --- Version ---
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the query engine version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("queryengine version %s\n", engine.Version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to a config file (default ~/.aleutian/queryengine.yaml)")

	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&strategyFlag, "strategy", "s", "",
		"Pin the first attempt to a strategy (direct, light_planning, deep_reasoning)")
	runCmd.Flags().BoolVar(&includeSnapshot, "snapshot", false,
		"Print the full run snapshot as JSON after the answer")
	runCmd.Flags().BoolVar(&noStream, "no-stream", false,
		"Print the answer only once the run finishes instead of streaming chunks")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override the configured server port")

	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.AddCommand(listSnapshotsCmd)
	listSnapshotsCmd.Flags().IntVar(&snapshotLimit, "limit", 20, "Maximum number of runs to list")
	snapshotsCmd.AddCommand(showSnapshotCmd)
	snapshotsCmd.AddCommand(deleteSnapshotCmd)

	rootCmd.AddCommand(versionCmd)
}
