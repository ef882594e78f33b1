// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"fmt"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

func sampleAnalysis(level tracker.ComplexityLevel) *tracker.ComplexityAnalysis {
	return &tracker.ComplexityAnalysis{
		Level:               level,
		Confidence:          0.9,
		Rationale:           "test",
		RecommendedStrategy: level.DefaultStrategy(),
		Source:              "llm",
	}
}

func TestCacheGetSet(t *testing.T) {
	c := NewAnalysisCache(time.Minute, 10)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("Get() on empty cache returned a value")
	}

	c.Set("q1", sampleAnalysis(tracker.ComplexityMedium))
	got, ok := c.Get("q1")
	if !ok {
		t.Fatal("Get() after Set() missed")
	}
	if got.Level != tracker.ComplexityMedium {
		t.Errorf("Level = %v, want medium", got.Level)
	}

	if c.Hits() != 1 || c.Misses() != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", c.Hits(), c.Misses())
	}
	if rate := c.HitRate(); rate != 0.5 {
		t.Errorf("HitRate() = %v, want 0.5", rate)
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewAnalysisCache(10*time.Millisecond, 10)
	c.Set("q1", sampleAnalysis(tracker.ComplexitySimple))

	if _, ok := c.Get("q1"); !ok {
		t.Fatal("entry expired immediately")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("q1"); ok {
		t.Error("entry survived past TTL")
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0 after lazy expiry removal", c.Size())
	}
}

func TestCacheLRUEviction(t *testing.T) {
	c := NewAnalysisCache(time.Minute, 2)
	c.Set("a", sampleAnalysis(tracker.ComplexitySimple))
	c.Set("b", sampleAnalysis(tracker.ComplexityMedium))

	// Touch "a" so "b" becomes the eviction candidate.
	c.Get("a")
	c.Set("c", sampleAnalysis(tracker.ComplexityComplex))

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry survived eviction")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("new entry missing")
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	c := NewAnalysisCache(time.Minute, 10)
	c.Set("q", sampleAnalysis(tracker.ComplexityMedium))

	first, _ := c.Get("q")
	first.Level = tracker.ComplexityComplex
	first.Rationale = "mutated"

	second, _ := c.Get("q")
	if second.Level != tracker.ComplexityMedium || second.Rationale != "test" {
		t.Errorf("cached entry mutated through returned copy: %+v", second)
	}
}

func TestCacheCapacityChurn(t *testing.T) {
	c := NewAnalysisCache(time.Minute, 5)
	for i := 0; i < 50; i++ {
		c.Set(fmt.Sprintf("query-%d", i), sampleAnalysis(tracker.ComplexitySimple))
	}
	if c.Size() != 5 {
		t.Errorf("Size() = %d, want 5 at capacity", c.Size())
	}
	// Only the 5 most recent survive.
	if _, ok := c.Get("query-49"); !ok {
		t.Error("most recent entry missing")
	}
	if _, ok := c.Get("query-0"); ok {
		t.Error("oldest entry survived churn")
	}
}
