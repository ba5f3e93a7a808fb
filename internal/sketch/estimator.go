// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

// Package sketch provides bounded-memory cardinality estimation for the
// window aggregator's unique-user and countries-reached metrics.
//
// The Estimator interface makes exact-set and probabilistic implementations
// interchangeable: the aggregator tracks exact membership while a window's
// cardinality stays small, and hands off to a fixed-size HyperLogLog sketch
// once it crosses the configured threshold. Counts above the threshold are
// estimates, and the API contract reports them as such.
package sketch

import (
	"encoding/base64"
	"fmt"

	"github.com/axiomhq/hyperloglog"
	"github.com/goccy/go-json"
)

// Estimator counts distinct string items within one window.
// Implementations are not safe for concurrent use; the aggregator serializes
// access per (video, window).
type Estimator interface {
	// Add records an item. Adding the same item twice has no effect on the
	// (estimated) cardinality.
	Add(item string)

	// Estimate returns the (possibly approximate) number of distinct items.
	Estimate() int64

	// Exact reports whether Estimate is currently an exact count.
	Exact() bool

	// Merge folds another estimator of the same concrete type into this one.
	Merge(other Estimator) error
}

// ExactSet is an Estimator backed by a plain map. Memory grows with
// cardinality, so it is only used below the upgrade threshold.
type ExactSet struct {
	items map[string]struct{}
}

// NewExactSet creates an empty exact estimator.
func NewExactSet() *ExactSet {
	return &ExactSet{items: make(map[string]struct{})}
}

// Add records an item.
func (s *ExactSet) Add(item string) {
	s.items[item] = struct{}{}
}

// Estimate returns the exact number of distinct items.
func (s *ExactSet) Estimate() int64 {
	return int64(len(s.items))
}

// Exact always returns true.
func (s *ExactSet) Exact() bool { return true }

// Clone returns an independent copy.
func (s *ExactSet) Clone() *ExactSet {
	c := NewExactSet()
	for item := range s.items {
		c.items[item] = struct{}{}
	}
	return c
}

// Merge folds another ExactSet into this one.
func (s *ExactSet) Merge(other Estimator) error {
	o, ok := other.(*ExactSet)
	if !ok {
		return fmt.Errorf("cannot merge %T into ExactSet", other)
	}
	for item := range o.items {
		s.items[item] = struct{}{}
	}
	return nil
}

// HLL is a fixed-size HyperLogLog estimator (2^14 registers, ~16KB,
// ~0.8% relative error). Memory is constant regardless of cardinality.
type HLL struct {
	sk *hyperloglog.Sketch
}

// NewHLL creates an empty HyperLogLog estimator.
func NewHLL() *HLL {
	return &HLL{sk: hyperloglog.New14()}
}

// Add records an item.
func (h *HLL) Add(item string) {
	h.sk.Insert([]byte(item))
}

// Estimate returns the approximate number of distinct items.
func (h *HLL) Estimate() int64 {
	return int64(h.sk.Estimate()) //nolint:gosec // estimates never approach int64 overflow
}

// Exact always returns false.
func (h *HLL) Exact() bool { return false }

// Clone returns an independent copy.
func (h *HLL) Clone() *HLL {
	return &HLL{sk: h.sk.Clone()}
}

// Merge folds another HLL into this one.
func (h *HLL) Merge(other Estimator) error {
	o, ok := other.(*HLL)
	if !ok {
		return fmt.Errorf("cannot merge %T into HLL", other)
	}
	return h.sk.Merge(o.sk)
}

// Adaptive starts exact and upgrades to a HyperLogLog sketch once the
// cardinality crosses the threshold, trading exactness for bounded memory.
// This is the implementation the aggregator uses for every window.
type Adaptive struct {
	threshold int
	exact     *ExactSet
	hll       *HLL
}

// DefaultUpgradeThreshold is the cardinality at which an Adaptive estimator
// switches from exact counting to the sketch.
const DefaultUpgradeThreshold = 4096

// NewAdaptive creates an adaptive estimator with the given upgrade threshold.
// A threshold <= 0 selects DefaultUpgradeThreshold; use 1 to force sketching
// from the first item.
func NewAdaptive(threshold int) *Adaptive {
	if threshold <= 0 {
		threshold = DefaultUpgradeThreshold
	}
	return &Adaptive{
		threshold: threshold,
		exact:     NewExactSet(),
	}
}

// Add records an item, upgrading to the sketch at the threshold.
func (a *Adaptive) Add(item string) {
	if a.hll != nil {
		a.hll.Add(item)
		return
	}
	a.exact.Add(item)
	if int(a.exact.Estimate()) >= a.threshold {
		a.upgrade()
	}
}

// upgrade replays the exact set into a fresh sketch and drops it.
func (a *Adaptive) upgrade() {
	a.hll = NewHLL()
	for item := range a.exact.items {
		a.hll.Add(item)
	}
	a.exact = nil
}

// Estimate returns the current (exact or approximate) cardinality.
func (a *Adaptive) Estimate() int64 {
	if a.hll != nil {
		return a.hll.Estimate()
	}
	return a.exact.Estimate()
}

// Exact reports whether the estimator has not yet upgraded to the sketch.
func (a *Adaptive) Exact() bool {
	return a.hll == nil
}

// Clone returns an independent copy. Mutating either side afterwards does
// not affect the other.
func (a *Adaptive) Clone() *Adaptive {
	c := &Adaptive{threshold: a.threshold}
	if a.hll != nil {
		c.hll = a.hll.Clone()
		return c
	}
	c.exact = a.exact.Clone()
	return c
}

// Merge folds another Adaptive into this one, upgrading if either side
// already sketches or the combined exact size crosses the threshold.
func (a *Adaptive) Merge(other Estimator) error {
	o, ok := other.(*Adaptive)
	if !ok {
		return fmt.Errorf("cannot merge %T into Adaptive", other)
	}

	if a.hll == nil && o.hll == nil {
		if err := a.exact.Merge(o.exact); err != nil {
			return err
		}
		if int(a.exact.Estimate()) >= a.threshold {
			a.upgrade()
		}
		return nil
	}

	if a.hll == nil {
		a.upgrade()
	}
	if o.hll != nil {
		return a.hll.Merge(o.hll)
	}
	for item := range o.exact.items {
		a.hll.Add(item)
	}
	return nil
}

// adaptiveState is the serialized form used for checkpointing.
type adaptiveState struct {
	Threshold int      `json:"threshold"`
	Items     []string `json:"items,omitempty"`
	Sketch    string   `json:"sketch,omitempty"`
}

// MarshalJSON serializes the estimator for window checkpoints.
func (a *Adaptive) MarshalJSON() ([]byte, error) {
	state := adaptiveState{Threshold: a.threshold}

	if a.hll != nil {
		raw, err := a.hll.sk.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshal sketch: %w", err)
		}
		state.Sketch = base64.StdEncoding.EncodeToString(raw)
	} else {
		state.Items = make([]string, 0, len(a.exact.items))
		for item := range a.exact.items {
			state.Items = append(state.Items, item)
		}
	}

	return json.Marshal(state)
}

// UnmarshalJSON restores an estimator from a window checkpoint.
func (a *Adaptive) UnmarshalJSON(data []byte) error {
	var state adaptiveState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("unmarshal estimator state: %w", err)
	}

	a.threshold = state.Threshold
	if a.threshold <= 0 {
		a.threshold = DefaultUpgradeThreshold
	}

	if state.Sketch != "" {
		raw, err := base64.StdEncoding.DecodeString(state.Sketch)
		if err != nil {
			return fmt.Errorf("decode sketch: %w", err)
		}
		a.hll = NewHLL()
		a.exact = nil
		return a.hll.sk.UnmarshalBinary(raw)
	}

	a.exact = NewExactSet()
	a.hll = nil
	for _, item := range state.Items {
		a.exact.Add(item)
	}
	return nil
}
