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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianQuery/services/engine/orchestrator"
	"github.com/AleutianAI/AleutianQuery/services/engine/storage/badger"
	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// MockRunner implements orchestrator.Runner for testing.
type MockRunner struct {
	runFunc func(ctx context.Context, query string, opts ...orchestrator.RunOption) (*orchestrator.FinalResult, error)
}

func (m *MockRunner) Run(ctx context.Context, query string, opts ...orchestrator.RunOption) (*orchestrator.FinalResult, error) {
	if m.runFunc != nil {
		return m.runFunc(ctx, query, opts...)
	}
	return testFinalResult("run-mock"), nil
}

func testFinalResult(runID string) *orchestrator.FinalResult {
	return &orchestrator.FinalResult{
		RunID:        runID,
		State:        orchestrator.StateReturning,
		Response:     "Anchorage is the largest city in Alaska.",
		Strategy:     tracker.StrategyDirect,
		QualityScore: 0.91,
		Attempts:     1,
		Duration:     420 * time.Millisecond,
		Snapshot: tracker.Snapshot{
			RunID:     runID,
			Query:     "What is the largest city in Alaska?",
			CreatedAt: time.Now().UTC(),
		},
	}
}

func setupTestRouter(handlers *Handlers) *gin.Engine {
	r := gin.New()
	r.GET("/healthz", handlers.HandleHealth)
	v1 := r.Group("/v1")
	RegisterRoutes(v1, handlers)
	return r
}

func setupTestStore(t *testing.T) *badger.Store {
	t.Helper()
	store, err := badger.Open(badger.InMemoryConfig())
	if err != nil {
		t.Fatalf("Failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func postQuery(t *testing.T, r *gin.Engine, body RunQueryRequest) *httptest.ResponseRecorder {
	t.Helper()
	jsonBody, _ := json.Marshal(body)

	req := httptest.NewRequest("POST", "/v1/queries", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)
	return w
}

func TestHandlers_HandleRunQuery_Success(t *testing.T) {
	mockRunner := &MockRunner{
		runFunc: func(ctx context.Context, query string, opts ...orchestrator.RunOption) (*orchestrator.FinalResult, error) {
			return testFinalResult("run-success"), nil
		},
	}

	handlers := NewHandlers(mockRunner, nil)
	r := setupTestRouter(handlers)

	w := postQuery(t, r, RunQueryRequest{Query: "What is the largest city in Alaska?"})

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp RunQueryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if resp.RunID != "run-success" {
		t.Errorf("RunID = %s, want run-success", resp.RunID)
	}
	if resp.State != "returning" {
		t.Errorf("State = %s, want returning", resp.State)
	}
	if resp.Strategy != "direct" {
		t.Errorf("Strategy = %s, want direct", resp.Strategy)
	}
	if resp.QualityScore != 0.91 {
		t.Errorf("QualityScore = %f, want 0.91", resp.QualityScore)
	}
	if resp.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", resp.Attempts)
	}
	if resp.Snapshot != nil {
		t.Error("expected no snapshot when include_snapshot is false")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestHandlers_HandleRunQuery_IncludeSnapshot(t *testing.T) {
	handlers := NewHandlers(&MockRunner{}, nil)
	r := setupTestRouter(handlers)

	w := postQuery(t, r, RunQueryRequest{
		Query:           "What is the largest city in Alaska?",
		IncludeSnapshot: true,
	})

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp RunQueryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if resp.Snapshot == nil {
		t.Fatal("expected snapshot to be included")
	}
	if resp.Snapshot.Query != "What is the largest city in Alaska?" {
		t.Errorf("Snapshot.Query = %s", resp.Snapshot.Query)
	}
}

func TestHandlers_HandleRunQuery_InvalidBody(t *testing.T) {
	handlers := NewHandlers(&MockRunner{}, nil)
	r := setupTestRouter(handlers)

	req := httptest.NewRequest("POST", "/v1/queries", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Code != "INVALID_REQUEST" {
		t.Errorf("Code = %s, want INVALID_REQUEST", resp.Code)
	}
}

func TestHandlers_HandleRunQuery_EmptyQuery(t *testing.T) {
	handlers := NewHandlers(&MockRunner{}, nil)
	r := setupTestRouter(handlers)

	w := postQuery(t, r, RunQueryRequest{Query: ""})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandlers_HandleRunQuery_OversizedQuery(t *testing.T) {
	handlers := NewHandlers(&MockRunner{}, nil)
	r := setupTestRouter(handlers)

	w := postQuery(t, r, RunQueryRequest{Query: strings.Repeat("a", MaxQueryBytes+1)})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandlers_HandleRunQuery_UnknownStrategy(t *testing.T) {
	handlers := NewHandlers(&MockRunner{}, nil)
	r := setupTestRouter(handlers)

	w := postQuery(t, r, RunQueryRequest{
		Query:    "What is the largest city in Alaska?",
		Strategy: "telepathy",
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandlers_HandleRunQuery_StrategyOverride(t *testing.T) {
	var gotOpts int
	mockRunner := &MockRunner{
		runFunc: func(ctx context.Context, query string, opts ...orchestrator.RunOption) (*orchestrator.FinalResult, error) {
			gotOpts = len(opts)
			result := testFinalResult("run-override")
			result.Strategy = tracker.StrategyDeepReasoning
			return result, nil
		},
	}

	handlers := NewHandlers(mockRunner, nil)
	r := setupTestRouter(handlers)

	w := postQuery(t, r, RunQueryRequest{
		Query:    "Compare the three largest cities in Alaska by population trend.",
		Strategy: "deep_reasoning",
	})

	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotOpts != 1 {
		t.Errorf("expected 1 run option for the override, got %d", gotOpts)
	}

	var resp RunQueryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Strategy != "deep_reasoning" {
		t.Errorf("Strategy = %s, want deep_reasoning", resp.Strategy)
	}
}

func TestHandlers_HandleRunQuery_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"empty query sentinel", orchestrator.ErrEmptyQuery, http.StatusBadRequest, "EMPTY_QUERY"},
		{"no usable response", orchestrator.ErrNoUsableResponse, http.StatusBadGateway, "NO_USABLE_RESPONSE"},
		{"internal failure", errors.New("backend exploded"), http.StatusInternalServerError, "QUERY_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRunner := &MockRunner{
				runFunc: func(ctx context.Context, query string, opts ...orchestrator.RunOption) (*orchestrator.FinalResult, error) {
					return nil, tt.err
				},
			}

			handlers := NewHandlers(mockRunner, nil)
			r := setupTestRouter(handlers)

			w := postQuery(t, r, RunQueryRequest{Query: "any query at all"})

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}

			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Failed to unmarshal response: %v", err)
			}
			if resp.Code != tt.wantCode {
				t.Errorf("Code = %s, want %s", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestHandlers_HandleRunQuery_PersistsRun(t *testing.T) {
	store := setupTestStore(t)
	handlers := NewHandlers(&MockRunner{}, store)
	r := setupTestRouter(handlers)

	w := postQuery(t, r, RunQueryRequest{Query: "What is the largest city in Alaska?"})

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	stored, err := store.Get(context.Background(), "run-mock")
	if err != nil {
		t.Fatalf("expected the run to be persisted: %v", err)
	}
	if stored.Response != "Anchorage is the largest city in Alaska." {
		t.Errorf("stored Response = %s", stored.Response)
	}
}

func TestHandlers_HandleGetSnapshot_Success(t *testing.T) {
	store := setupTestStore(t)
	result := testFinalResult("run-stored")
	if err := store.Save(context.Background(), result); err != nil {
		t.Fatalf("Failed to save result: %v", err)
	}

	handlers := NewHandlers(&MockRunner{}, store)
	r := setupTestRouter(handlers)

	req := httptest.NewRequest("GET", "/v1/queries/run-stored/snapshot", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp SnapshotResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.RunID != "run-stored" {
		t.Errorf("RunID = %s, want run-stored", resp.RunID)
	}
	if resp.Snapshot.Query != "What is the largest city in Alaska?" {
		t.Errorf("Snapshot.Query = %s", resp.Snapshot.Query)
	}
}

func TestHandlers_HandleGetSnapshot_NotFound(t *testing.T) {
	store := setupTestStore(t)
	handlers := NewHandlers(&MockRunner{}, store)
	r := setupTestRouter(handlers)

	req := httptest.NewRequest("GET", "/v1/queries/no-such-run/snapshot", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Code != "SNAPSHOT_NOT_FOUND" {
		t.Errorf("Code = %s, want SNAPSHOT_NOT_FOUND", resp.Code)
	}
}

func TestHandlers_HandleGetSnapshot_StoreNotConfigured(t *testing.T) {
	handlers := NewHandlers(&MockRunner{}, nil)
	r := setupTestRouter(handlers)

	req := httptest.NewRequest("GET", "/v1/queries/run-x/snapshot", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Code != "SNAPSHOTS_NOT_CONFIGURED" {
		t.Errorf("Code = %s, want SNAPSHOTS_NOT_CONFIGURED", resp.Code)
	}
}

func TestHandlers_HandleListRuns_Success(t *testing.T) {
	store := setupTestStore(t)
	first := testFinalResult("run-first")
	first.Snapshot.CreatedAt = time.Now().UTC().Add(-time.Minute)
	second := testFinalResult("run-second")

	for _, result := range []*orchestrator.FinalResult{first, second} {
		if err := store.Save(context.Background(), result); err != nil {
			t.Fatalf("Failed to save result: %v", err)
		}
	}

	handlers := NewHandlers(&MockRunner{}, store)
	r := setupTestRouter(handlers)

	req := httptest.NewRequest("GET", "/v1/queries", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp ListRunsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("Count = %d, want 2", resp.Count)
	}
	if len(resp.Runs) != 2 {
		t.Fatalf("len(Runs) = %d, want 2", len(resp.Runs))
	}
	if resp.Runs[0].RunID != "run-second" {
		t.Errorf("Runs[0].RunID = %s, want run-second (newest first)", resp.Runs[0].RunID)
	}
}

func TestHandlers_HandleListRuns_Limit(t *testing.T) {
	store := setupTestStore(t)
	for _, id := range []string{"run-a", "run-b", "run-c"} {
		result := testFinalResult(id)
		if err := store.Save(context.Background(), result); err != nil {
			t.Fatalf("Failed to save result: %v", err)
		}
	}

	handlers := NewHandlers(&MockRunner{}, store)
	r := setupTestRouter(handlers)

	req := httptest.NewRequest("GET", "/v1/queries?limit=2", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp ListRunsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("Count = %d, want 2", resp.Count)
	}
}

func TestHandlers_HandleListRuns_InvalidLimit(t *testing.T) {
	store := setupTestStore(t)
	handlers := NewHandlers(&MockRunner{}, store)
	r := setupTestRouter(handlers)

	for _, raw := range []string{"abc", "0", "-5"} {
		req := httptest.NewRequest("GET", "/v1/queries?limit="+raw, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: Status = %d, want %d", raw, w.Code, http.StatusBadRequest)
		}
	}
}

func TestHandlers_HandleDeleteSnapshot_Success(t *testing.T) {
	store := setupTestStore(t)
	result := testFinalResult("run-doomed")
	if err := store.Save(context.Background(), result); err != nil {
		t.Fatalf("Failed to save result: %v", err)
	}

	handlers := NewHandlers(&MockRunner{}, store)
	r := setupTestRouter(handlers)

	req := httptest.NewRequest("DELETE", "/v1/queries/run-doomed", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
	}

	if _, err := store.Get(context.Background(), "run-doomed"); !errors.Is(err, badger.ErrSnapshotNotFound) {
		t.Errorf("expected the snapshot to be gone, got err = %v", err)
	}
}

func TestHandlers_HandleDeleteSnapshot_NotFound(t *testing.T) {
	store := setupTestStore(t)
	handlers := NewHandlers(&MockRunner{}, store)
	r := setupTestRouter(handlers)

	req := httptest.NewRequest("DELETE", "/v1/queries/no-such-run", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandlers_HandleHealth(t *testing.T) {
	tests := []struct {
		name         string
		store        bool
		wantSnapshot bool
	}{
		{"without store", false, false},
		{"with store", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var store *badger.Store
			if tt.store {
				store = setupTestStore(t)
			}

			handlers := NewHandlers(&MockRunner{}, store)
			r := setupTestRouter(handlers)

			req := httptest.NewRequest("GET", "/healthz", nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("Status = %d, want %d", w.Code, http.StatusOK)
			}

			var resp HealthResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Failed to unmarshal response: %v", err)
			}
			if resp.Status != "healthy" {
				t.Errorf("Status = %s, want healthy", resp.Status)
			}
			if resp.Version != Version {
				t.Errorf("Version = %s, want %s", resp.Version, Version)
			}
			if resp.SnapshotsEnabled != tt.wantSnapshot {
				t.Errorf("SnapshotsEnabled = %v, want %v", resp.SnapshotsEnabled, tt.wantSnapshot)
			}
		})
	}
}

func TestHandlers_RequestIDPropagation(t *testing.T) {
	handlers := NewHandlers(&MockRunner{}, nil)
	r := setupTestRouter(handlers)

	jsonBody, _ := json.Marshal(RunQueryRequest{Query: "echo check"})
	req := httptest.NewRequest("POST", "/v1/queries", bytes.NewBuffer(jsonBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-supplied-by-caller")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-supplied-by-caller" {
		t.Errorf("X-Request-ID = %s, want req-supplied-by-caller", got)
	}
}
