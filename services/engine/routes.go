// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the query engine routes on the given router group.
//
// Description:
//
//	Registers all versioned endpoints for the query engine. Health and
//	metrics endpoints are registered at the router root by the service,
//	not here.
//
// Routes:
//
//	POST   /queries              - Run a query through the escalation loop
//	GET    /queries              - List persisted runs
//	GET    /queries/:id/snapshot - Get the full snapshot for a run
//	DELETE /queries/:id          - Delete a persisted run
//
// Inputs:
//
//	rg - The router group to register routes on (e.g., /v1)
//	handlers - The handlers containing the endpoint implementations
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	queries := rg.Group("/queries")
	{
		queries.POST("", handlers.HandleRunQuery)
		queries.GET("", handlers.HandleListRuns)
		queries.GET("/:id/snapshot", handlers.HandleGetSnapshot)
		queries.DELETE("/:id", handlers.HandleDeleteSnapshot)
	}
}
