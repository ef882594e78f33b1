// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains request and response types for the query endpoints.

package engine

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianQuery/services/engine/orchestrator"
	"github.com/AleutianAI/AleutianQuery/services/engine/storage/badger"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// MaxQueryBytes is the maximum size of a single query.
// Unbounded query input would flow straight into generation-service
// prompts, so it is capped at the surface.
const MaxQueryBytes = 32 * 1024 // 32KB

// queryValidate is the validator instance for engine request types.
// Initialized in init() with custom validators.
var queryValidate *validator.Validate

func init() {
	queryValidate = validator.New()

	// Register custom validator for query size
	_ = queryValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes validates that a string field does not exceed
// MaxQueryBytes. Checks byte length (not rune count) so oversized
// payloads cannot exhaust memory before parsing.
func validateMaxBytes(fl validator.FieldLevel) bool {
	content := fl.Field().String()
	return len(content) <= MaxQueryBytes
}

// RunQueryRequest is the request body for POST /v1/queries.
//
// # Description
//
// Submits one query to the escalation loop. The run executes
// synchronously: complexity analysis picks a starting strategy, the
// strategy produces a response, the evaluator scores it, and the run
// escalates until a response passes the quality gate or the ladder is
// exhausted.
//
// # Fields
//
//   - Query: Required. The user query, at most 32KB.
//   - Strategy: Optional. Pins the first attempt to "direct",
//     "light_planning", or "deep_reasoning" instead of the analyzer's
//     recommendation. Escalation still proceeds from there.
//   - IncludeSnapshot: Optional. When true the response carries the full
//     tracker snapshot inline. The snapshot is persisted and fetchable by
//     run id either way.
type RunQueryRequest struct {
	Query           string `json:"query" validate:"required,maxbytes"`
	Strategy        string `json:"strategy,omitempty" validate:"omitempty,oneof=direct light_planning deep_reasoning"`
	IncludeSnapshot bool   `json:"include_snapshot,omitempty"`
}

// Validate checks the request against the struct tags.
func (r *RunQueryRequest) Validate() error {
	return queryValidate.Struct(r)
}

// RunQueryResponse is the response for POST /v1/queries.
type RunQueryResponse struct {
	// RunID identifies the run for snapshot lookups.
	RunID string `json:"run_id"`

	// State is the terminal state, "returning" or "escalation_exhausted".
	State string `json:"state"`

	// Response is the answer text.
	Response string `json:"response"`

	// Strategy produced the response.
	Strategy string `json:"strategy"`

	// QualityScore is the evaluator confidence for the response.
	QualityScore float64 `json:"quality_score"`

	// Attempts is how many strategy attempts the run made.
	Attempts int `json:"attempts"`

	// BelowThreshold marks a response that never passed the quality gate
	// and is the best available.
	BelowThreshold bool `json:"below_threshold"`

	// DurationMs is the wall-clock run time in milliseconds.
	DurationMs int64 `json:"duration_ms"`

	// Snapshot is the full tracker snapshot, present only when the
	// request set include_snapshot.
	Snapshot *tracker.Snapshot `json:"snapshot,omitempty"`
}

// SnapshotResponse is the response for GET /v1/queries/:id/snapshot: a
// stored run with its full tracker snapshot.
type SnapshotResponse struct {
	RunID          string           `json:"run_id"`
	State          string           `json:"state"`
	Response       string           `json:"response"`
	Strategy       string           `json:"strategy"`
	QualityScore   float64          `json:"quality_score"`
	Attempts       int              `json:"attempts"`
	BelowThreshold bool             `json:"below_threshold"`
	DurationMs     int64            `json:"duration_ms"`
	Snapshot       tracker.Snapshot `json:"snapshot"`
}

// RunSummary is one row in a run listing.
type RunSummary struct {
	RunID          string    `json:"run_id"`
	Query          string    `json:"query"`
	State          string    `json:"state"`
	Strategy       string    `json:"strategy"`
	QualityScore   float64   `json:"quality_score"`
	Attempts       int       `json:"attempts"`
	BelowThreshold bool      `json:"below_threshold"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListRunsResponse is the response for GET /v1/queries.
type ListRunsResponse struct {
	// Runs are the stored runs, newest first.
	Runs []RunSummary `json:"runs"`

	// Count is len(Runs).
	Count int `json:"count"`
}

// HealthResponse is the response for GET /healthz.
type HealthResponse struct {
	// Status is "healthy" or "degraded".
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`

	// SnapshotsEnabled reports whether run persistence is available.
	SnapshotsEnabled bool `json:"snapshots_enabled"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}

// runQueryResponseFrom converts a FinalResult to the POST response.
func runQueryResponseFrom(result *orchestrator.FinalResult, includeSnapshot bool) RunQueryResponse {
	resp := RunQueryResponse{
		RunID:          result.RunID,
		State:          string(result.State),
		Response:       result.Response,
		Strategy:       result.Strategy.String(),
		QualityScore:   result.QualityScore,
		Attempts:       result.Attempts,
		BelowThreshold: result.BelowThreshold,
		DurationMs:     result.Duration.Milliseconds(),
	}
	if includeSnapshot {
		snapshot := result.Snapshot
		resp.Snapshot = &snapshot
	}
	return resp
}

// snapshotResponseFrom converts a stored FinalResult to the GET response.
func snapshotResponseFrom(result *orchestrator.FinalResult) SnapshotResponse {
	return SnapshotResponse{
		RunID:          result.RunID,
		State:          string(result.State),
		Response:       result.Response,
		Strategy:       result.Strategy.String(),
		QualityScore:   result.QualityScore,
		Attempts:       result.Attempts,
		BelowThreshold: result.BelowThreshold,
		DurationMs:     result.Duration.Milliseconds(),
		Snapshot:       result.Snapshot,
	}
}

// runSummaryFrom converts a storage listing row to the API type.
func runSummaryFrom(s badger.Summary) RunSummary {
	return RunSummary{
		RunID:          s.RunID,
		Query:          s.Query,
		State:          string(s.State),
		Strategy:       s.Strategy.String(),
		QualityScore:   s.QualityScore,
		Attempts:       s.Attempts,
		BelowThreshold: s.BelowThreshold,
		CreatedAt:      s.CreatedAt,
	}
}
