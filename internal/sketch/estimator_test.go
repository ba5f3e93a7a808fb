// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package sketch

import (
	"fmt"
	"testing"

	"github.com/goccy/go-json"
)

func TestExactSetCountsDistinct(t *testing.T) {
	s := NewExactSet()
	s.Add("a")
	s.Add("b")
	s.Add("a")

	if got := s.Estimate(); got != 2 {
		t.Errorf("Estimate() = %d, want 2", got)
	}
	if !s.Exact() {
		t.Error("Exact() = false for ExactSet")
	}
}

func TestAdaptiveStaysExactBelowThreshold(t *testing.T) {
	a := NewAdaptive(100)
	for i := 0; i < 50; i++ {
		a.Add(fmt.Sprintf("user-%d", i))
	}

	if !a.Exact() {
		t.Error("upgraded below threshold")
	}
	if got := a.Estimate(); got != 50 {
		t.Errorf("Estimate() = %d, want 50", got)
	}
}

func TestAdaptiveUpgradesAtThreshold(t *testing.T) {
	a := NewAdaptive(100)
	for i := 0; i < 1000; i++ {
		a.Add(fmt.Sprintf("user-%d", i))
	}

	if a.Exact() {
		t.Error("still exact past threshold")
	}

	// ~0.8% relative error for a 2^14 sketch; allow 5%.
	got := a.Estimate()
	if got < 950 || got > 1050 {
		t.Errorf("Estimate() = %d, want ~1000", got)
	}
}

func TestAdaptiveUpgradeKeepsDuplicatesCollapsed(t *testing.T) {
	a := NewAdaptive(10)
	for round := 0; round < 3; round++ {
		for i := 0; i < 20; i++ {
			a.Add(fmt.Sprintf("user-%d", i))
		}
	}

	got := a.Estimate()
	if got < 18 || got > 22 {
		t.Errorf("Estimate() = %d, want ~20", got)
	}
}

func TestAdaptiveMergeExactSides(t *testing.T) {
	a := NewAdaptive(100)
	b := NewAdaptive(100)
	a.Add("u1")
	a.Add("u2")
	b.Add("u2")
	b.Add("u3")

	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if got := a.Estimate(); got != 3 {
		t.Errorf("Estimate() = %d, want 3", got)
	}
	if !a.Exact() {
		t.Error("merge of small exact sides should stay exact")
	}
}

func TestAdaptiveMergeUpgradesWhenCombinedCrossesThreshold(t *testing.T) {
	a := NewAdaptive(10)
	b := NewAdaptive(10)
	for i := 0; i < 6; i++ {
		a.Add(fmt.Sprintf("a-%d", i))
		b.Add(fmt.Sprintf("b-%d", i))
	}

	if err := a.Merge(b); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if a.Exact() {
		t.Error("combined size 12 over threshold 10 should sketch")
	}
	got := a.Estimate()
	if got < 11 || got > 13 {
		t.Errorf("Estimate() = %d, want ~12", got)
	}
}

func TestAdaptiveMergeRejectsWrongType(t *testing.T) {
	a := NewAdaptive(10)
	if err := a.Merge(NewExactSet()); err == nil {
		t.Error("Merge accepted a non-Adaptive estimator")
	}
}

func TestAdaptiveJSONRoundTripExact(t *testing.T) {
	a := NewAdaptive(100)
	a.Add("u1")
	a.Add("u2")

	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	restored := &Adaptive{}
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got := restored.Estimate(); got != 2 {
		t.Errorf("restored Estimate() = %d, want 2", got)
	}
	if !restored.Exact() {
		t.Error("restored estimator lost exactness")
	}

	// The restored set must keep collapsing duplicates.
	restored.Add("u1")
	if got := restored.Estimate(); got != 2 {
		t.Errorf("after re-adding known item Estimate() = %d, want 2", got)
	}
}

func TestAdaptiveJSONRoundTripSketch(t *testing.T) {
	a := NewAdaptive(10)
	for i := 0; i < 500; i++ {
		a.Add(fmt.Sprintf("user-%d", i))
	}
	before := a.Estimate()

	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	restored := &Adaptive{}
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if restored.Exact() {
		t.Error("restored sketch reported exact")
	}
	if got := restored.Estimate(); got != before {
		t.Errorf("restored Estimate() = %d, want %d", got, before)
	}
}

func TestAdaptiveCloneIsIndependent(t *testing.T) {
	a := NewAdaptive(100)
	a.Add("u1")
	a.Add("u2")

	c := a.Clone()
	a.Add("u3")

	if got := c.Estimate(); got != 2 {
		t.Errorf("clone estimate after mutating original = %d, want 2", got)
	}
	if got := a.Estimate(); got != 3 {
		t.Errorf("original estimate = %d, want 3", got)
	}

	c.Add("u4")
	if got := a.Estimate(); got != 3 {
		t.Errorf("original estimate after mutating clone = %d, want 3", got)
	}
}

func TestAdaptiveCloneOfSketch(t *testing.T) {
	a := NewAdaptive(10)
	for i := 0; i < 50; i++ {
		a.Add(fmt.Sprintf("item-%d", i))
	}
	if a.Exact() {
		t.Fatal("estimator did not upgrade past the threshold")
	}

	c := a.Clone()
	if c.Exact() {
		t.Error("clone of a sketched estimator reports exact")
	}
	if got, want := c.Estimate(), a.Estimate(); got != want {
		t.Errorf("clone estimate = %d, want %d", got, want)
	}

	for i := 50; i < 200; i++ {
		a.Add(fmt.Sprintf("item-%d", i))
	}
	if got := c.Estimate(); got > 60 {
		t.Errorf("clone estimate grew with the original: %d", got)
	}
}
