// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package services

import (
	"context"
	"fmt"
)

// ScheduledJob matches a Start/Stop lifecycle such as the retention
// janitor's.
type ScheduledJob interface {
	Start(ctx context.Context) error
	Stop() error
}

// JanitorService adapts a Start/Stop scheduler to a supervised service:
// it starts the job, blocks until the context is canceled, then stops it.
type JanitorService struct {
	job  ScheduledJob
	name string
}

// NewJanitorService wraps a scheduled job as a supervised service.
func NewJanitorService(job ScheduledJob) *JanitorService {
	return &JanitorService{
		job:  job,
		name: "retention-janitor",
	}
}

// Serve implements suture.Service. A Start failure is returned so the
// supervisor restarts the service under its backoff policy.
func (s *JanitorService) Serve(ctx context.Context) error {
	if err := s.job.Start(ctx); err != nil {
		return fmt.Errorf("retention janitor start failed: %w", err)
	}

	<-ctx.Done()

	if err := s.job.Stop(); err != nil {
		return fmt.Errorf("retention janitor stop failed: %w", err)
	}

	return ctx.Err()
}

// String identifies the service in supervisor logs.
func (s *JanitorService) String() string {
	return s.name
}
