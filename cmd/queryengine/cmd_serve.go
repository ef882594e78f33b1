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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianQuery/config"
	"github.com/AleutianAI/AleutianQuery/services/engine"
)

// runServe starts the query engine HTTP server and blocks until a
// shutdown signal or server error.
func runServe(cmd *cobra.Command, args []string) {
	if servePort != 0 {
		config.Global.Server.Port = servePort
	}

	svc, err := engine.New(config.Global)
	if err != nil {
		slog.Error("Failed to initialize the query engine", "error", err)
		os.Exit(1)
	}

	printBanner(config.Global.Server.Port)

	// Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down the query engine server")
		os.Exit(0)
	}()

	if err := svc.Run(); err != nil {
		slog.Error("Failed to start server", "error", err)
		os.Exit(1)
	}
}

func printBanner(port int) {
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                   ALEUTIAN QUERY ENGINE SERVER                    ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Self-correcting query execution: classify, run, score, escalate. ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost:%d/healthz                          │  ║
║  │                                                             │  ║
║  │ # Run a query                                               │  ║
║  │ curl -X POST http://localhost:%d/v1/queries \             │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"query": "What is the largest city in Alaska?"}'     │  ║
║  │                                                             │  ║
║  │ # Replay a finished run                                     │  ║
║  │ curl http://localhost:%d/v1/queries/<run_id>/snapshot     │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── POST   /v1/queries              run a query                  ║
║  ├── GET    /v1/queries              list persisted runs          ║
║  ├── GET    /v1/queries/:id/snapshot full run snapshot            ║
║  ├── DELETE /v1/queries/:id          delete a persisted run       ║
║  └── GET    /healthz, /metrics                                    ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, port, port, port)
}
