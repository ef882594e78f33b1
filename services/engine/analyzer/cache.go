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
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/engine/tracker"
)

// AnalysisCache caches complexity analyses with LRU eviction.
//
// Description:
//
//	Thread-safe LRU cache with TTL expiration, keyed by the query text.
//	Identical queries across runs skip the analysis call entirely.
//
// Thread Safety: This type is safe for concurrent use.
type AnalysisCache struct {
	mu      sync.RWMutex
	entries map[string]*list.Element
	lru     *list.List
	ttl     time.Duration
	maxSize int

	// Metrics
	hits   atomic.Int64
	misses atomic.Int64
}

// cacheEntry stores one cached analysis.
type cacheEntry struct {
	key       string
	analysis  *tracker.ComplexityAnalysis
	expiresAt time.Time
}

// NewAnalysisCache creates a cache with TTL and max size.
//
// Inputs:
//
//	ttl - How long cached analyses are valid. Must be > 0.
//	maxSize - Maximum entries before LRU eviction. Must be > 0.
//
// Thread Safety: The returned cache is safe for concurrent use.
func NewAnalysisCache(ttl time.Duration, maxSize int) *AnalysisCache {
	return &AnalysisCache{
		entries: make(map[string]*list.Element),
		lru:     list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Get retrieves a cached analysis if present and unexpired.
//
// Thread Safety: This method is safe for concurrent use.
func (c *AnalysisCache) Get(query string) (*tracker.ComplexityAnalysis, bool) {
	key := computeQueryKey(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.entries[key]
	if !exists {
		c.misses.Add(1)
		return nil, false
	}

	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expiresAt) {
		// Expired - remove lazily
		c.removeElement(elem)
		c.misses.Add(1)
		return nil, false
	}

	c.lru.MoveToFront(elem)
	c.hits.Add(1)

	// Copy so callers cannot mutate the cached entry.
	copied := *entry.analysis
	return &copied, true
}

// Set stores an analysis, evicting the LRU entry at capacity.
//
// Thread Safety: This method is safe for concurrent use.
func (c *AnalysisCache) Set(query string, analysis *tracker.ComplexityAnalysis) {
	if analysis == nil {
		return
	}

	key := computeQueryKey(query)
	stored := *analysis

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.entries[key]; exists {
		entry := elem.Value.(*cacheEntry)
		entry.analysis = &stored
		entry.expiresAt = time.Now().Add(c.ttl)
		c.lru.MoveToFront(elem)
		return
	}

	for c.lru.Len() >= c.maxSize {
		c.evictOldest()
	}

	elem := c.lru.PushFront(&cacheEntry{
		key:       key,
		analysis:  &stored,
		expiresAt: time.Now().Add(c.ttl),
	})
	c.entries[key] = elem
}

// Clear removes all entries.
//
// Thread Safety: This method is safe for concurrent use.
func (c *AnalysisCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.lru = list.New()
}

// Size returns the current number of entries.
//
// Thread Safety: This method is safe for concurrent use.
func (c *AnalysisCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// HitRate returns the cache hit rate (0.0-1.0), 0 before any lookup.
//
// Thread Safety: This method is safe for concurrent use.
func (c *AnalysisCache) HitRate() float64 {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Hits returns the total number of cache hits.
func (c *AnalysisCache) Hits() int64 { return c.hits.Load() }

// Misses returns the total number of cache misses.
func (c *AnalysisCache) Misses() int64 { return c.misses.Load() }

// computeQueryKey hashes the query into a fixed-size cache key.
func computeQueryKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return hex.EncodeToString(sum[:])
}

// evictOldest removes the least recently used entry.
// Must be called with lock held.
func (c *AnalysisCache) evictOldest() {
	if elem := c.lru.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// removeElement removes an element from both map and list.
// Must be called with lock held.
func (c *AnalysisCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.entries, entry.key)
	c.lru.Remove(elem)
}
