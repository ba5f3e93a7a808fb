// VidPulse - Video Engagement Stream Analytics
// Copyright 2026 VidPulse contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vidpulse/vidpulse

package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thejerf/suture/v4"
)

type mockJob struct {
	startErr   error
	stopErr    error
	startCount atomic.Int32
	stopCount  atomic.Int32
}

func (m *mockJob) Start(context.Context) error {
	m.startCount.Add(1)
	return m.startErr
}

func (m *mockJob) Stop() error {
	m.stopCount.Add(1)
	return m.stopErr
}

func TestJanitorServiceInterface(t *testing.T) {
	var _ suture.Service = (*JanitorService)(nil)
}

func TestJanitorServiceLifecycle(t *testing.T) {
	job := &mockJob{}
	svc := NewJanitorService(job)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if job.startCount.Load() != 1 || job.stopCount.Load() != 1 {
		t.Errorf("start/stop counts = %d/%d, want 1/1",
			job.startCount.Load(), job.stopCount.Load())
	}
}

func TestJanitorServiceStartFailure(t *testing.T) {
	job := &mockJob{startErr: errors.New("bad schedule")}
	svc := NewJanitorService(job)

	if err := svc.Serve(context.Background()); err == nil {
		t.Error("Serve returned nil, want start error")
	}
	if job.stopCount.Load() != 0 {
		t.Error("Stop called after failed Start")
	}
}
