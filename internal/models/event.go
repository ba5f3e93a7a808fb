// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/zeebo/xxh3"
)

// EventType classifies an engagement event.
type EventType string

// Recognized engagement event types.
const (
	EventView    EventType = "view"
	EventLike    EventType = "like"
	EventComment EventType = "comment"
	EventShare   EventType = "share"
)

// Valid reports whether t is a recognized event type.
func (t EventType) Valid() bool {
	switch t {
	case EventView, EventLike, EventComment, EventShare:
		return true
	}
	return false
}

// Event is a validated, normalized per-video engagement event.
//
// Events arrive from the external validator/transport already schema-checked;
// the core only re-verifies structural invariants it depends on. Events are
// immutable once constructed: IngestTimestamp is assigned exactly once on
// arrival and never rewritten.
//
// Timestamps are unix seconds. EventTimestamp is event time (when the user
// acted); IngestTimestamp is processing time (when the event reached us).
type Event struct {
	VideoID         string          `json:"video_id"`
	EventTimestamp  int64           `json:"event_timestamp"`
	EventType       EventType       `json:"event_type"`
	UserID          string          `json:"user_id,omitempty"`
	WatchTime       float64         `json:"watch_time,omitempty"`
	CountryCode     string          `json:"country_code,omitempty"`
	DeviceType      string          `json:"device_type,omitempty"`
	PlaybackQuality string          `json:"playback_quality,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`

	// IngestTimestamp is assigned on arrival and drives the watermark.
	IngestTimestamp int64 `json:"ingest_timestamp,omitempty"`
}

// Validate checks the structural invariants the core relies on.
// Full schema validation happens upstream; this is a last line of defense
// against programming errors, not user input.
func (e *Event) Validate() error {
	if e.VideoID == "" {
		return fmt.Errorf("event missing video_id")
	}
	if !e.EventType.Valid() {
		return fmt.Errorf("unknown event_type %q", e.EventType)
	}
	if e.EventTimestamp < 0 {
		return fmt.Errorf("negative event_timestamp %d", e.EventTimestamp)
	}
	if e.WatchTime < 0 {
		return fmt.Errorf("negative watch_time %f", e.WatchTime)
	}
	return nil
}

// EventTime returns the event-time instant.
func (e *Event) EventTime() time.Time {
	return time.Unix(e.EventTimestamp, 0).UTC()
}

// WindowStart returns the start of the tumbling window the event belongs to.
// Windows are half-open intervals [start, start+size): an event stamped
// exactly at a boundary belongs to the window that starts there.
func (e *Event) WindowStart(size time.Duration) int64 {
	sec := int64(size / time.Second)
	if sec <= 0 {
		sec = 1
	}
	start := e.EventTimestamp - (e.EventTimestamp % sec)
	if e.EventTimestamp < 0 && e.EventTimestamp%sec != 0 {
		start -= sec
	}
	return start
}

// IdentityKey derives the deduplication key for the event.
//
// When a user ID is present the tuple (video_id, user_id, event_type,
// event_timestamp) identifies the event. Anonymous events fall back to a
// content hash of the remaining fields so two distinct anonymous events in
// the same second are not conflated.
func (e *Event) IdentityKey() string {
	var b strings.Builder
	b.Grow(len(e.VideoID) + len(e.UserID) + len(e.EventType) + 24)
	b.WriteString(e.VideoID)
	b.WriteByte('|')
	b.WriteString(string(e.EventType))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(e.EventTimestamp, 10))
	b.WriteByte('|')

	if e.UserID != "" {
		b.WriteString(e.UserID)
		return b.String()
	}

	b.WriteString(strconv.FormatUint(e.contentHash(), 16))
	return b.String()
}

// contentHash hashes the non-identity fields of an anonymous event.
func (e *Event) contentHash() uint64 {
	h := xxh3.New()
	_, _ = h.WriteString(strconv.FormatFloat(e.WatchTime, 'g', -1, 64))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(e.CountryCode)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(e.DeviceType)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(e.PlaybackQuality)
	_, _ = h.WriteString("\x00")
	_, _ = h.Write(e.Metadata)
	return h.Sum64()
}
