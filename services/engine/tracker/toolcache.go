// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrKnownFailure indicates a tool call was suppressed because the same
// fingerprint failed recently. The wrapped message carries the recorded
// failure so the strategy can surface it without re-calling the tool.
var ErrKnownFailure = errors.New("recent failure recorded for identical tool call")

// failureRetryWindow is how long a recorded failure suppresses retries of
// the identical call. Failures older than this are considered stale and the
// call may run again.
const failureRetryWindow = 5 * time.Minute

// =============================================================================
// Caching Policy
// =============================================================================

// CachePolicy decides which tools may have their results reused. Tools are
// cacheable by default; time-sensitive or non-deterministic tools are
// registered by name as always-fresh and bypass the cache entirely.
type CachePolicy struct {
	alwaysFresh map[string]bool
}

// NewCachePolicy builds a policy with the given always-fresh tool names.
func NewCachePolicy(alwaysFresh ...string) *CachePolicy {
	p := &CachePolicy{alwaysFresh: make(map[string]bool, len(alwaysFresh))}
	for _, name := range alwaysFresh {
		if name != "" {
			p.alwaysFresh[name] = true
		}
	}
	return p
}

// Cacheable reports whether results of the named tool may be reused.
func (p *CachePolicy) Cacheable(toolName string) bool {
	if p == nil {
		return true
	}
	return !p.alwaysFresh[toolName]
}

// AlwaysFreshTools returns the configured always-fresh tool names.
func (p *CachePolicy) AlwaysFreshTools() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.alwaysFresh))
	for name := range p.alwaysFresh {
		out = append(out, name)
	}
	return out
}

// =============================================================================
// Fingerprinting
// =============================================================================

// Fingerprint computes the deterministic cache key for a tool call.
//
// # Description
//
//	The key is sha256 over the tool name and the canonical JSON encoding of
//	the arguments, joined with "|". encoding/json writes map keys in sorted
//	order at every nesting level, so two calls with the same arguments
//	always produce the same key regardless of map iteration order.
//
// # Inputs
//
//	toolName - The tool being called.
//	arguments - The call arguments. Nil and empty maps fingerprint equally.
//
// # Outputs
//
//	string - Hex-encoded sha256 digest.
func Fingerprint(toolName string, arguments map[string]any) string {
	canonical, err := json.Marshal(arguments)
	if err != nil {
		// Unmarshalable arguments (channels, funcs) should never reach a
		// tool call; fall back to a representation that still separates
		// distinct calls most of the time.
		canonical = fmt.Appendf(nil, "%v", arguments)
	}
	h := sha256.New()
	h.Write([]byte(toolName))
	h.Write([]byte("|"))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// =============================================================================
// Cache decisions (tracker methods)
// =============================================================================

// ShouldExecute decides whether a tool call must actually run.
//
// # Description
//
//	Consults the fingerprint cache built from previously logged executions:
//
//	  - Always-fresh tools run unconditionally.
//	  - A prior successful execution with the same fingerprint is reused:
//	    the call does not run and the recorded result is returned.
//	  - A prior failure younger than five minutes suppresses the call and
//	    returns the recorded error wrapped in ErrKnownFailure.
//	  - A stale failure allows the call to run again.
//
// # Inputs
//
//	toolName - The tool about to be called.
//	arguments - The call arguments.
//
// # Outputs
//
//	execute - True when the caller must invoke the tool service.
//	cachedResult - The reused result when execute is false and err is nil.
//	err - ErrKnownFailure (wrapped with the recorded message) when a recent
//	failure suppresses the call.
func (t *ProgressTracker) ShouldExecute(toolName string, arguments map[string]any) (execute bool, cachedResult string, err error) {
	if !t.cachePolicy.Cacheable(toolName) {
		return true, "", nil
	}

	fp := Fingerprint(toolName, arguments)
	if idx, ok := t.successByFingerprint[fp]; ok {
		return false, t.ToolExecutions[idx].Result, nil
	}
	if idx, ok := t.failureByFingerprint[fp]; ok {
		failed := t.ToolExecutions[idx]
		if time.Since(failed.ExecutedAt) < failureRetryWindow {
			return false, "", fmt.Errorf("%w: %s", ErrKnownFailure, failed.Error)
		}
	}
	return true, "", nil
}

// LogExecution appends a tool execution record and indexes it for caching.
//
// Successful executions populate the fingerprint cache and the insights
// successful-results map; failures populate the failure index and the
// insights failed-attempts map, and never populate the result cache.
func (t *ProgressTracker) LogExecution(exec ToolExecution) *ToolExecution {
	if exec.ExecutedAt.IsZero() {
		exec.ExecutedAt = time.Now()
	}
	if exec.Fingerprint == "" {
		exec.Fingerprint = Fingerprint(exec.ToolName, exec.Arguments)
	}

	t.ToolExecutions = append(t.ToolExecutions, &exec)
	idx := len(t.ToolExecutions) - 1

	if exec.Success {
		if t.cachePolicy.Cacheable(exec.ToolName) {
			t.successByFingerprint[exec.Fingerprint] = idx
		}
		t.Insights.RecordToolSuccess(exec.ToolName, exec.Result)
	} else {
		if t.cachePolicy.Cacheable(exec.ToolName) {
			t.failureByFingerprint[exec.Fingerprint] = idx
		}
		t.Insights.RecordToolFailure(exec.ToolName, exec.Error)
	}
	return &exec
}

// CachedToolNames returns the distinct tool names with a cached successful
// result, sorted for deterministic serialization.
func (t *ProgressTracker) CachedToolNames() []string {
	seen := make(map[string]bool)
	for _, idx := range t.successByFingerprint {
		seen[t.ToolExecutions[idx].ToolName] = true
	}
	return sortedKeys(seen)
}
