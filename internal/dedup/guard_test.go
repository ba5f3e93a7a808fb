// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package dedup

import (
	"fmt"
	"sync"
	"testing"
)

func newTestGuard() *TimeBucketGuard {
	return NewTimeBucketGuard(Options{BucketWidthSeconds: 60})
}

func TestCheckAndRememberDetectsDuplicate(t *testing.T) {
	g := newTestGuard()

	if g.CheckAndRemember("k1", 100) {
		t.Error("first sight reported as duplicate")
	}
	if !g.CheckAndRemember("k1", 100) {
		t.Error("second sight not reported as duplicate")
	}

	dups, _ := g.Stats()
	if dups != 1 {
		t.Errorf("duplicates = %d, want 1", dups)
	}
}

func TestSeenWithoutRemember(t *testing.T) {
	g := newTestGuard()

	if g.Seen("k1", 100) {
		t.Error("Seen true for never-remembered key")
	}
	g.Remember("k1", 100)
	if !g.Seen("k1", 100) {
		t.Error("Seen false after Remember")
	}
}

func TestKeysAreScopedToEventTimeBucket(t *testing.T) {
	g := newTestGuard()

	g.Remember("k1", 100)

	// Same key in a different bucket is a different identity window.
	if g.Seen("k1", 500) {
		t.Error("key leaked across buckets")
	}
	if !g.Seen("k1", 119) {
		t.Error("key not found within its own bucket")
	}
}

func TestEvictBefore(t *testing.T) {
	g := newTestGuard()

	g.Remember("a", 30)  // bucket [0,60)
	g.Remember("b", 90)  // bucket [60,120)
	g.Remember("c", 150) // bucket [120,180)

	// Cutoff 120 drops buckets ending at or before it.
	released := g.EvictBefore(120)
	if released != 2 {
		t.Errorf("EvictBefore released %d keys, want 2", released)
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1", g.Len())
	}
	if g.Seen("a", 30) || g.Seen("b", 90) {
		t.Error("evicted keys still reported as seen")
	}
	if !g.Seen("c", 150) {
		t.Error("retained key lost")
	}
}

func TestNegativeEventTimeBuckets(t *testing.T) {
	g := newTestGuard()

	g.Remember("k1", -30) // bucket [-60,0)
	if !g.Seen("k1", -1) {
		t.Error("key not found in negative-time bucket")
	}
	if g.Seen("k1", 1) {
		t.Error("negative-time key leaked into [0,60)")
	}
}

func TestGuardConcurrentAccess(t *testing.T) {
	g := newTestGuard()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("w%d-k%d", w, i)
				if g.CheckAndRemember(key, int64(i)) {
					t.Errorf("fresh key %s reported duplicate", key)
				}
				if !g.CheckAndRemember(key, int64(i)) {
					t.Errorf("repeated key %s not reported duplicate", key)
				}
			}
		}(w)
	}
	wg.Wait()

	if g.Len() != 8*200 {
		t.Errorf("Len() = %d, want %d", g.Len(), 8*200)
	}
}

func TestDefaultsApplied(t *testing.T) {
	g := NewTimeBucketGuard(Options{})

	if g.opts.BucketWidthSeconds != 60 {
		t.Errorf("BucketWidthSeconds = %d, want 60", g.opts.BucketWidthSeconds)
	}
	if g.opts.ExpectedKeysPerBucket != 16384 {
		t.Errorf("ExpectedKeysPerBucket = %d, want 16384", g.opts.ExpectedKeysPerBucket)
	}
	if g.opts.FalsePositiveRate != 0.01 {
		t.Errorf("FalsePositiveRate = %g, want 0.01", g.opts.FalsePositiveRate)
	}
}
