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
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianQuery/services/engine/orchestrator"
	"github.com/AleutianAI/AleutianQuery/services/engine/storage/badger"
	"github.com/AleutianAI/AleutianQuery/services/engine/telemetry"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// defaultListLimit bounds GET /v1/queries when no limit is given.
const defaultListLimit = 50

// Handlers contains the HTTP handlers for the query engine.
//
// Thread Safety: Handlers is safe for concurrent use.
type Handlers struct {
	runner orchestrator.Runner
	store  *badger.Store
}

// NewHandlers creates handlers over the escalation runner and an optional
// snapshot store.
//
// Description:
//
//	Creates HTTP handlers that wrap the Runner interface. The store may
//	be nil, in which case runs still execute but snapshot persistence
//	and lookup endpoints report 503.
//
// Inputs:
//
//	runner - The escalation loop implementation. Must not be nil.
//	store - Snapshot persistence. May be nil.
//
// Outputs:
//
//	*Handlers - The configured handlers.
func NewHandlers(runner orchestrator.Runner, store *badger.Store) *Handlers {
	return &Handlers{
		runner: runner,
		store:  store,
	}
}

// HandleRunQuery handles POST /v1/queries.
//
// Description:
//
//	Runs one query through the escalation loop synchronously and returns
//	the final response. When a snapshot store is configured the finished
//	run is persisted under its run id before the response is written.
//
// Request Body:
//
//	RunQueryRequest
//
// Response:
//
//	200 OK: RunQueryResponse (including below-threshold best-effort answers)
//	400 Bad Request: Validation error
//	502 Bad Gateway: No attempt produced any response
//	500 Internal Server Error: Processing error
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleRunQuery(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleRunQuery")

	var req RunQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	if err := req.Validate(); err != nil {
		logger.Warn("Request failed validation", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Request failed validation",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	var opts []orchestrator.RunOption
	if req.Strategy != "" {
		override, err := tracker.ParseStrategy(req.Strategy)
		if err != nil {
			logger.Warn("Unknown strategy override", "strategy", req.Strategy)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: err.Error(),
				Code:  "INVALID_STRATEGY",
			})
			return
		}
		opts = append(opts, orchestrator.WithStrategyOverride(override))
	}

	logger.Info("Running query",
		"query_len", len(req.Query),
		"strategy_override", req.Strategy,
		"include_snapshot", req.IncludeSnapshot)

	result, err := h.runner.Run(c.Request.Context(), req.Query, opts...)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "QUERY_FAILED"

		if errors.Is(err, orchestrator.ErrEmptyQuery) {
			statusCode = http.StatusBadRequest
			errCode = "EMPTY_QUERY"
		} else if errors.Is(err, orchestrator.ErrNoUsableResponse) {
			statusCode = http.StatusBadGateway
			errCode = "NO_USABLE_RESPONSE"
		}

		logger.Error("Query run failed", "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	runLogger := telemetry.LoggerWithRun(c.Request.Context(), logger, result.RunID)

	if h.store != nil {
		if err := h.store.Save(c.Request.Context(), result); err != nil {
			// The caller still gets their answer; only replay is lost.
			runLogger.Warn("Failed to persist run snapshot", "error", err)
		}
	}

	runLogger.Info("Query run completed",
		"state", result.State,
		"strategy", result.Strategy,
		"quality_score", result.QualityScore,
		"attempts", result.Attempts,
		"below_threshold", result.BelowThreshold)

	c.JSON(http.StatusOK, runQueryResponseFrom(result, req.IncludeSnapshot))
}

// HandleGetSnapshot handles GET /v1/queries/:id/snapshot.
//
// Description:
//
//	Retrieves a persisted run by id, including the full tracker snapshot:
//	every attempt, tool execution, plan step, and insight the run
//	recorded.
//
// Path Parameters:
//
//	id: Run ID (required)
//
// Response:
//
//	200 OK: SnapshotResponse
//	404 Not Found: No snapshot for the run id
//	503 Service Unavailable: Snapshot store not configured
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleGetSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleGetSnapshot")

	if h.store == nil {
		logger.Warn("Snapshot requested but store not configured")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "Run persistence is not configured",
			Code:  "SNAPSHOTS_NOT_CONFIGURED",
		})
		return
	}

	runID := c.Param("id")
	if runID == "" {
		logger.Warn("Missing run id")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "run id is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	result, err := h.store.Get(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, badger.ErrSnapshotNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: err.Error(),
				Code:  "SNAPSHOT_NOT_FOUND",
			})
			return
		}

		logger.Error("Get snapshot failed", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "GET_SNAPSHOT_FAILED",
		})
		return
	}

	logger.Info("Got run snapshot", "run_id", runID, "state", result.State)

	c.JSON(http.StatusOK, snapshotResponseFrom(result))
}

// HandleListRuns handles GET /v1/queries.
//
// Description:
//
//	Lists persisted runs, newest first, without decoding full snapshots.
//
// Query Parameters:
//
//	limit: Maximum number of results (optional, default 50)
//
// Response:
//
//	200 OK: ListRunsResponse
//	503 Service Unavailable: Snapshot store not configured
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleListRuns(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListRuns")

	if h.store == nil {
		logger.Warn("Run listing requested but store not configured")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "Run persistence is not configured",
			Code:  "SNAPSHOTS_NOT_CONFIGURED",
		})
		return
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			logger.Warn("Invalid limit parameter", "limit", raw)
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  "INVALID_PARAMETER",
			})
			return
		}
		limit = parsed
	}

	summaries, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		logger.Error("List runs failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "LIST_RUNS_FAILED",
		})
		return
	}

	runs := make([]RunSummary, 0, len(summaries))
	for _, s := range summaries {
		runs = append(runs, runSummaryFrom(s))
	}

	logger.Info("Listed runs", "count", len(runs))

	c.JSON(http.StatusOK, ListRunsResponse{
		Runs:  runs,
		Count: len(runs),
	})
}

// HandleDeleteSnapshot handles DELETE /v1/queries/:id.
//
// Description:
//
//	Deletes a persisted run snapshot. Deleting an id with no snapshot
//	returns 404.
//
// Path Parameters:
//
//	id: Run ID (required)
//
// Response:
//
//	200 OK: Success message
//	404 Not Found: No snapshot for the run id
//	503 Service Unavailable: Snapshot store not configured
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleDeleteSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDeleteSnapshot")

	if h.store == nil {
		logger.Warn("Snapshot delete requested but store not configured")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "Run persistence is not configured",
			Code:  "SNAPSHOTS_NOT_CONFIGURED",
		})
		return
	}

	runID := c.Param("id")
	if runID == "" {
		logger.Warn("Missing run id")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "run id is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	if err := h.store.Delete(c.Request.Context(), runID); err != nil {
		if errors.Is(err, badger.ErrSnapshotNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: err.Error(),
				Code:  "SNAPSHOT_NOT_FOUND",
			})
			return
		}

		logger.Error("Delete snapshot failed", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "DELETE_SNAPSHOT_FAILED",
		})
		return
	}

	logger.Info("Deleted run snapshot", "run_id", runID)

	c.JSON(http.StatusOK, gin.H{
		"message": "Snapshot deleted successfully",
		"run_id":  runID,
	})
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:           "healthy",
		Version:          Version,
		SnapshotsEnabled: h.store != nil,
	})
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
