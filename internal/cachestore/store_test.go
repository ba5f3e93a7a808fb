// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package cachestore

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T, ttl time.Duration) *Store[int] {
	t.Helper()
	s := New[int](ttl)
	t.Cleanup(s.Close)
	return s
}

func TestKey(t *testing.T) {
	if got := Key("vid-1"); got != "vp:vid-1" {
		t.Errorf("Key() = %q, want vp:vid-1", got)
	}
}

func TestPutGet(t *testing.T) {
	s := newTestStore(t, time.Minute)

	s.Put("a", 1)
	got, ok := s.Get("a")
	if !ok || got != 1 {
		t.Errorf("Get = %d/%v, want 1/true", got, ok)
	}

	if _, ok := s.Get("missing"); ok {
		t.Error("Get hit for missing key")
	}
}

func TestPutReplacesValue(t *testing.T) {
	s := newTestStore(t, time.Minute)

	s.Put("a", 1)
	s.Put("a", 2)

	got, _ := s.Get("a")
	if got != 2 {
		t.Errorf("Get = %d, want 2 after replacement", got)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestExpiry(t *testing.T) {
	s := newTestStore(t, time.Minute)

	s.PutWithTTL("a", 1, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	if _, ok := s.Get("a"); ok {
		t.Error("Get hit for expired entry")
	}
	// Lazy removal on the expired read.
	if s.Len() != 0 {
		t.Errorf("Len() = %d after expired read, want 0", s.Len())
	}
}

func TestGetEntryCarriesUpdatedAt(t *testing.T) {
	s := newTestStore(t, time.Minute)

	before := time.Now()
	s.Put("a", 1)

	entry, ok := s.GetEntry("a")
	if !ok {
		t.Fatal("GetEntry miss for live key")
	}
	if entry.UpdatedAt.Before(before) {
		t.Errorf("UpdatedAt = %v, before Put at %v", entry.UpdatedAt, before)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t, time.Minute)

	s.Put("a", 1)
	s.Delete("a")

	if _, ok := s.Get("a"); ok {
		t.Error("Get hit after Delete")
	}
}

func TestRangeSkipsExpired(t *testing.T) {
	s := newTestStore(t, time.Minute)

	s.Put("live", 1)
	s.PutWithTTL("dead", 2, -time.Second)

	seen := map[string]int{}
	s.Range(func(key string, value int) bool {
		seen[key] = value
		return true
	})

	if len(seen) != 1 || seen["live"] != 1 {
		t.Errorf("Range visited %v, want only live", seen)
	}
}

func TestStatsCounters(t *testing.T) {
	s := newTestStore(t, time.Minute)

	s.Put("a", 1)
	s.Get("a")
	s.Get("a")
	s.Get("missing")

	stats := s.GetStats()
	if stats.Hits != 2 {
		t.Errorf("Hits = %d, want 2", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}
	if stats.TotalKeys != 1 {
		t.Errorf("TotalKeys = %d, want 1", stats.TotalKeys)
	}
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	s := newTestStore(t, time.Minute)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			s.Put(fmt.Sprintf("k%d", i%10), i)
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.Get(fmt.Sprintf("k%d", i%10))
			}
		}()
	}
	wg.Wait()
}
