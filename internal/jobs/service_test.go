// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package jobs

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pulseboardhq/pulseboard/internal/logging"
	"github.com/pulseboardhq/pulseboard/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

type recordingBroadcaster struct {
	mu        sync.Mutex
	snapshots []models.SyncJob
}

func (b *recordingBroadcaster) BroadcastJobProgress(job *models.SyncJob) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots = append(b.snapshots, *job)
}

func (b *recordingBroadcaster) all() []models.SyncJob {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.SyncJob(nil), b.snapshots...)
}

func waitForStatus(t *testing.T, svc *Service, jobID string, want models.JobStatus) *models.SyncJob {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.Status(jobID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := svc.Status(jobID)
	t.Fatalf("job %s never reached %s, at %+v", jobID, want, job)
	return nil
}

func TestStartRunsToCompletion(t *testing.T) {
	bc := &recordingBroadcaster{}
	svc := NewService(bc)
	svc.Register(models.SyncKindAnalytics, RunnerFunc(func(ctx context.Context, report ProgressFunc) error {
		report(50, "halfway")
		return nil
	}))

	jobID, err := svc.Start(context.Background(), models.SyncKindAnalytics)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := waitForStatus(t, svc, jobID, models.JobStatusCompleted)
	if job.Progress != 100 {
		t.Errorf("progress = %d, want 100", job.Progress)
	}

	// Broadcasts include the running transition, the progress report, and
	// the terminal snapshot.
	snaps := bc.all()
	if len(snaps) < 3 {
		t.Fatalf("broadcasts = %d, want >= 3", len(snaps))
	}
	last := snaps[len(snaps)-1]
	if last.Status != models.JobStatusCompleted {
		t.Errorf("last broadcast status = %s", last.Status)
	}
	var sawProgress bool
	for _, s := range snaps {
		if s.Progress == 50 && s.CurrentStep == "halfway" {
			sawProgress = true
		}
	}
	if !sawProgress {
		t.Error("progress report never broadcast")
	}
}

func TestRunnerErrorMarksFailed(t *testing.T) {
	svc := NewService(nil)
	svc.Register(models.SyncKindRankings, RunnerFunc(func(ctx context.Context, report ProgressFunc) error {
		return errors.New("upstream rejected credentials")
	}))

	jobID, err := svc.Start(context.Background(), models.SyncKindRankings)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	job := waitForStatus(t, svc, jobID, models.JobStatusFailed)
	if job.CurrentStep != "upstream rejected credentials" {
		t.Errorf("current_step = %q", job.CurrentStep)
	}
}

func TestCancelStopsRunner(t *testing.T) {
	started := make(chan struct{})
	svc := NewService(nil)
	svc.Register(models.SyncKindAnalytics, RunnerFunc(func(ctx context.Context, report ProgressFunc) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	jobID, err := svc.Start(context.Background(), models.SyncKindAnalytics)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started

	if err := svc.Cancel(jobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	waitForStatus(t, svc, jobID, models.JobStatusCancelled)
}

func TestCancelTerminalJobFails(t *testing.T) {
	svc := NewService(nil)
	svc.Register(models.SyncKindAnalytics, RunnerFunc(func(ctx context.Context, report ProgressFunc) error {
		return nil
	}))

	jobID, err := svc.Start(context.Background(), models.SyncKindAnalytics)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForStatus(t, svc, jobID, models.JobStatusCompleted)

	if err := svc.Cancel(jobID); !errors.Is(err, ErrJobNotCancelable) {
		t.Errorf("Cancel terminal job: %v, want ErrJobNotCancelable", err)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	svc := NewService(nil)
	if err := svc.Cancel("nope"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Cancel: %v, want ErrUnknownJob", err)
	}
}

func TestOneJobPerKind(t *testing.T) {
	release := make(chan struct{})
	svc := NewService(nil)
	svc.Register(models.SyncKindSearchConsole, RunnerFunc(func(ctx context.Context, report ProgressFunc) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))

	first, err := svc.Start(context.Background(), models.SyncKindSearchConsole)
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}

	if _, err := svc.Start(context.Background(), models.SyncKindSearchConsole); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start: %v, want ErrAlreadyRunning", err)
	}

	close(release)
	waitForStatus(t, svc, first, models.JobStatusCompleted)

	// After the first job finishes, a new one of the same kind may start.
	if _, err := svc.Start(context.Background(), models.SyncKindSearchConsole); err != nil {
		t.Errorf("Start after completion: %v", err)
	}
}

func TestStartUnknownKind(t *testing.T) {
	svc := NewService(nil)
	if _, err := svc.Start(context.Background(), models.SyncKind("weather")); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("err = %v, want ErrUnknownKind", err)
	}
	// A valid kind with no registered runner is also rejected.
	if _, err := svc.Start(context.Background(), models.SyncKindAIVisibility); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("err = %v, want ErrUnknownKind", err)
	}
}

func TestListReturnsAllJobs(t *testing.T) {
	svc := NewService(nil)
	svc.Register(models.SyncKindAnalytics, RunnerFunc(func(ctx context.Context, report ProgressFunc) error { return nil }))
	svc.Register(models.SyncKindRankings, RunnerFunc(func(ctx context.Context, report ProgressFunc) error { return nil }))

	a, _ := svc.Start(context.Background(), models.SyncKindAnalytics)
	b, _ := svc.Start(context.Background(), models.SyncKindRankings)
	waitForStatus(t, svc, a, models.JobStatusCompleted)
	waitForStatus(t, svc, b, models.JobStatusCompleted)

	list := svc.List()
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
}

func TestPruneDropsOldTerminalJobs(t *testing.T) {
	svc := NewService(nil)
	svc.Register(models.SyncKindAnalytics, RunnerFunc(func(ctx context.Context, report ProgressFunc) error { return nil }))

	jobID, _ := svc.Start(context.Background(), models.SyncKindAnalytics)
	waitForStatus(t, svc, jobID, models.JobStatusCompleted)

	// A cutoff in the future treats the fresh job as expired.
	svc.pruneTerminal(time.Now().Add(time.Minute))

	if _, err := svc.Status(jobID); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Status after prune: %v, want ErrUnknownJob", err)
	}
}

func TestServeShutdownCancelsRunners(t *testing.T) {
	started := make(chan struct{})
	svc := NewService(nil)
	svc.Register(models.SyncKindAnalytics, RunnerFunc(func(ctx context.Context, report ProgressFunc) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Serve(ctx)
	}()

	jobID, err := svc.Start(context.Background(), models.SyncKindAnalytics)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-started

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	job, err := svc.Status(jobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if job.Status != models.JobStatusCancelled {
		t.Errorf("status after shutdown = %s", job.Status)
	}
}
