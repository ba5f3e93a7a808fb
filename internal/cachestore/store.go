// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

// Package cachestore holds the latest merged metrics snapshot per video with
// a bounded TTL.
//
// The store is an optimization, never a source of truth: every correctness
// invariant in the system holds with the cache entirely absent. The window
// aggregator is the single writer; the query service only reads. A miss is
// not an error - it tells the query service to fall back to durable history.
// TTL expiry is the only eviction policy; volume is bounded by the number of
// distinct active videos, so there is no capacity-based eviction.
package cachestore

import (
	"sync"
	"time"
)

// KeyPrefix namespaces cache keys: vp:<video_id>.
const KeyPrefix = "vp:"

// Key returns the cache key for a video.
func Key(videoID string) string {
	return KeyPrefix + videoID
}

// Entry is a cached snapshot with its expiry.
type Entry[V any] struct {
	Value     V
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Stats tracks cache performance counters.
type Stats struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	TotalKeys   int64
	LastCleanup time.Time
}

// Store is a thread-safe TTL key-value store. Writes are whole-value
// replacements (last-writer-wins per key); there are no partial-field
// updates, so a single serialized writer per key cannot race itself.
type Store[V any] struct {
	mu      sync.RWMutex
	entries map[string]Entry[V]
	ttl     time.Duration

	statsMu sync.Mutex
	stats   Stats

	stop chan struct{}
	once sync.Once
}

// New creates a store with the given default TTL and starts the background
// cleanup loop. Call Close to stop it.
func New[V any](ttl time.Duration) *Store[V] {
	s := &Store[V]{
		entries: make(map[string]Entry[V]),
		ttl:     ttl,
		stats:   Stats{LastCleanup: time.Now()},
		stop:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Put stores a value under key with the default TTL, replacing any prior value.
func (s *Store[V]) Put(key string, value V) {
	s.PutWithTTL(key, value, s.ttl)
}

// PutWithTTL stores a value with an explicit TTL.
func (s *Store[V]) PutWithTTL(key string, value V, ttl time.Duration) {
	now := time.Now()
	s.mu.Lock()
	s.entries[key] = Entry[V]{
		Value:     value,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	total := int64(len(s.entries))
	s.mu.Unlock()

	s.statsMu.Lock()
	s.stats.TotalKeys = total
	s.statsMu.Unlock()
}

// Get retrieves a value. The second return is false on miss or expiry;
// an expired entry is removed on the way out.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	var zero V
	if !exists {
		s.recordMiss()
		return zero, false
	}

	if time.Now().After(entry.ExpiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		s.recordMiss()
		s.recordEviction(1)
		return zero, false
	}

	s.recordHit()
	return entry.Value, true
}

// GetEntry retrieves the full entry including its UpdatedAt timestamp.
func (s *Store[V]) GetEntry(key string) (Entry[V], bool) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists || time.Now().After(entry.ExpiresAt) {
		s.recordMiss()
		return Entry[V]{}, false
	}
	s.recordHit()
	return entry, true
}

// Delete removes a key.
func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	s.recordEviction(1)
}

// Range calls fn for every live entry until fn returns false.
// The iteration order is unspecified.
func (s *Store[V]) Range(fn func(key string, value V) bool) {
	now := time.Now()

	s.mu.RLock()
	snapshot := make(map[string]Entry[V], len(s.entries))
	for k, e := range s.entries {
		snapshot[k] = e
	}
	s.mu.RUnlock()

	for k, e := range snapshot {
		if now.After(e.ExpiresAt) {
			continue
		}
		if !fn(k, e.Value) {
			return
		}
	}
}

// Len returns the number of entries, including any not yet swept.
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// GetStats returns a snapshot of the performance counters.
func (s *Store[V]) GetStats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

// Close stops the background cleanup loop.
func (s *Store[V]) Close() {
	s.once.Do(func() { close(s.stop) })
}

// cleanupLoop periodically removes expired entries.
func (s *Store[V]) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stop:
			return
		}
	}
}

// cleanup removes all expired entries.
func (s *Store[V]) cleanup() {
	now := time.Now()

	s.mu.Lock()
	evicted := int64(0)
	for key, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, key)
			evicted++
		}
	}
	total := int64(len(s.entries))
	s.mu.Unlock()

	s.statsMu.Lock()
	s.stats.Evictions += evicted
	s.stats.TotalKeys = total
	s.stats.LastCleanup = now
	s.statsMu.Unlock()
}

func (s *Store[V]) recordHit() {
	s.statsMu.Lock()
	s.stats.Hits++
	s.statsMu.Unlock()
}

func (s *Store[V]) recordMiss() {
	s.statsMu.Lock()
	s.stats.Misses++
	s.statsMu.Unlock()
}

func (s *Store[V]) recordEviction(n int64) {
	s.statsMu.Lock()
	s.stats.Evictions += n
	s.statsMu.Unlock()
}
