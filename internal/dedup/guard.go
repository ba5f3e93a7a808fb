// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

// Package dedup implements the idempotency guard that protects the window
// aggregator from at-least-once delivery.
//
// Identity keys are retained in a ring of event-time buckets covering the
// allowed-lateness plus grace horizon. Each bucket fronts its exact key set
// with a Bloom filter so the common case (a brand-new key) is answered
// without touching the map. Expiry is time-bucketed by EVENT time, not
// access time: once the watermark moves past a bucket's horizon the whole
// bucket is dropped. A key older than the horizon can no longer reach the
// aggregator anyway - the corresponding window is past grace and the event
// is classified dropped-late before the guard is consulted.
package dedup

import (
	"sync"
)

// Guard deduplicates events by identity key within a bounded horizon.
// Implementations must be safe for concurrent use.
type Guard interface {
	// Seen reports whether the key was remembered within the horizon.
	Seen(key string, eventTime int64) bool

	// Remember records the key. Remembering an already-known key is a no-op.
	Remember(key string, eventTime int64)

	// CheckAndRemember atomically performs Seen then Remember.
	// Returns true if the key was already known (i.e. the event is a duplicate).
	CheckAndRemember(key string, eventTime int64) bool

	// EvictBefore drops all keys whose event time falls in a bucket that
	// ends at or before the cutoff (unix seconds).
	EvictBefore(cutoff int64) int

	// Len returns the number of retained keys.
	Len() int
}

// Options configures a TimeBucketGuard.
type Options struct {
	// BucketWidthSeconds is the event-time span of one bucket.
	// Default: 60.
	BucketWidthSeconds int64

	// ExpectedKeysPerBucket sizes each bucket's Bloom filter.
	// Default: 16384.
	ExpectedKeysPerBucket int

	// FalsePositiveRate is the target Bloom false positive rate.
	// False positives only cost a map lookup, never a wrong answer.
	// Default: 0.01.
	FalsePositiveRate float64
}

// TimeBucketGuard is the standard Guard implementation.
type TimeBucketGuard struct {
	mu      sync.Mutex
	buckets map[int64]*bucket // keyed by bucket start (unix seconds)
	opts    Options

	duplicates int64
	evicted    int64
}

type bucket struct {
	bloom *bloomFilter
	keys  map[string]struct{}
}

// NewTimeBucketGuard creates a guard with the given options.
func NewTimeBucketGuard(opts Options) *TimeBucketGuard {
	if opts.BucketWidthSeconds <= 0 {
		opts.BucketWidthSeconds = 60
	}
	if opts.ExpectedKeysPerBucket <= 0 {
		opts.ExpectedKeysPerBucket = 16384
	}
	if opts.FalsePositiveRate <= 0 || opts.FalsePositiveRate >= 1 {
		opts.FalsePositiveRate = 0.01
	}
	return &TimeBucketGuard{
		buckets: make(map[int64]*bucket),
		opts:    opts,
	}
}

// bucketStart maps an event time to its bucket key.
func (g *TimeBucketGuard) bucketStart(eventTime int64) int64 {
	w := g.opts.BucketWidthSeconds
	start := eventTime - (eventTime % w)
	if eventTime < 0 && eventTime%w != 0 {
		start -= w
	}
	return start
}

// Seen reports whether the key was remembered within the horizon.
func (g *TimeBucketGuard) Seen(key string, eventTime int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seenLocked(key, eventTime)
}

func (g *TimeBucketGuard) seenLocked(key string, eventTime int64) bool {
	b, ok := g.buckets[g.bucketStart(eventTime)]
	if !ok {
		return false
	}
	// Bloom says definitely-no without touching the map.
	if !b.bloom.test(key) {
		return false
	}
	_, dup := b.keys[key]
	return dup
}

// Remember records the key in its event-time bucket.
func (g *TimeBucketGuard) Remember(key string, eventTime int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rememberLocked(key, eventTime)
}

func (g *TimeBucketGuard) rememberLocked(key string, eventTime int64) {
	start := g.bucketStart(eventTime)
	b, ok := g.buckets[start]
	if !ok {
		b = &bucket{
			bloom: newBloomFilter(g.opts.ExpectedKeysPerBucket, g.opts.FalsePositiveRate),
			keys:  make(map[string]struct{}),
		}
		g.buckets[start] = b
	}
	b.bloom.add(key)
	b.keys[key] = struct{}{}
}

// CheckAndRemember atomically performs Seen then Remember.
func (g *TimeBucketGuard) CheckAndRemember(key string, eventTime int64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.seenLocked(key, eventTime) {
		g.duplicates++
		return true
	}
	g.rememberLocked(key, eventTime)
	return false
}

// EvictBefore drops every bucket whose end is at or before the cutoff.
// Returns the number of keys released.
func (g *TimeBucketGuard) EvictBefore(cutoff int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	released := 0
	for start, b := range g.buckets {
		if start+g.opts.BucketWidthSeconds <= cutoff {
			released += len(b.keys)
			delete(g.buckets, start)
		}
	}
	g.evicted += int64(released)
	return released
}

// Len returns the number of retained keys across all buckets.
func (g *TimeBucketGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := 0
	for _, b := range g.buckets {
		n += len(b.keys)
	}
	return n
}

// Stats returns lifetime duplicate and eviction counts.
func (g *TimeBucketGuard) Stats() (duplicates, evicted int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.duplicates, g.evicted
}
