// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

// Package jobs runs background sync jobs on the server. Each job executes a
// registered Runner in its own goroutine with a cancellable context; status
// transitions and progress are pushed to connected dashboards through the
// websocket hub and served over the polling API.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboardhq/pulseboard/internal/logging"
	"github.com/pulseboardhq/pulseboard/internal/metrics"
	"github.com/pulseboardhq/pulseboard/internal/models"
)

// Sentinel errors returned by the service.
var (
	ErrUnknownJob       = errors.New("unknown job")
	ErrUnknownKind      = errors.New("unknown sync kind")
	ErrAlreadyRunning   = errors.New("a job of this kind is already running")
	ErrJobNotCancelable = errors.New("job already finished")
)

// ProgressFunc reports runner progress. progress is 0-100; step is a short
// human-readable description shown in the dashboard's sync panel.
type ProgressFunc func(progress int, step string)

// Runner performs the actual work of one sync kind. Run must return promptly
// when ctx is cancelled; the service maps context.Canceled to the cancelled
// job status.
type Runner interface {
	Run(ctx context.Context, report ProgressFunc) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, report ProgressFunc) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, report ProgressFunc) error {
	return f(ctx, report)
}

// Broadcaster pushes job snapshots to connected dashboards. Implemented by
// the websocket hub.
type Broadcaster interface {
	BroadcastJobProgress(job *models.SyncJob)
}

// jobState is the service's record of one job.
type jobState struct {
	job        models.SyncJob
	cancel     context.CancelFunc
	finishedAt time.Time
}

const (
	// terminalRetention is how long finished jobs stay queryable. Polling
	// clients observe the terminal status before the record disappears.
	terminalRetention = time.Hour

	pruneInterval = 5 * time.Minute
)

// Service owns the job table and executes runners.
type Service struct {
	mu      sync.Mutex
	jobs    map[string]*jobState
	runners map[models.SyncKind]Runner

	broadcaster Broadcaster
	baseCtx     context.Context
	wg          sync.WaitGroup
}

// NewService creates a job service. broadcaster may be nil in tests.
func NewService(broadcaster Broadcaster) *Service {
	return &Service{
		jobs:        make(map[string]*jobState),
		runners:     make(map[models.SyncKind]Runner),
		broadcaster: broadcaster,
		baseCtx:     context.Background(),
	}
}

// Register binds a runner to a sync kind. Must be called before Start for
// that kind; registration after startup is not supported.
func (s *Service) Register(kind models.SyncKind, runner Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runners[kind] = runner
}

// Start launches a new job of the given kind. Only one non-terminal job per
// kind may exist at a time; a second Start returns ErrAlreadyRunning.
func (s *Service) Start(ctx context.Context, kind models.SyncKind) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	s.mu.Lock()
	runner, ok := s.runners[kind]
	if !ok {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: no runner for %q", ErrUnknownKind, kind)
	}
	for _, st := range s.jobs {
		if st.job.Kind == kind && !st.job.Status.Terminal() {
			s.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrAlreadyRunning, st.job.JobID)
		}
	}

	jobID := uuid.New().String()
	runCtx, cancel := context.WithCancel(s.baseCtx)
	st := &jobState{
		job: models.SyncJob{
			JobID:  jobID,
			Kind:   kind,
			Status: models.JobStatusPending,
		},
		cancel: cancel,
	}
	s.jobs[jobID] = st
	metrics.JobsTracked.Set(float64(s.countNonTerminalLocked()))
	s.mu.Unlock()

	logging.Info().
		Str("job_id", jobID).
		Str("sync_type", string(kind)).
		Msg("sync job started")

	s.wg.Add(1)
	go s.run(runCtx, jobID, runner)

	return jobID, nil
}

// run executes the runner and records the terminal transition.
func (s *Service) run(ctx context.Context, jobID string, runner Runner) {
	defer s.wg.Done()

	s.transition(jobID, func(job *models.SyncJob) {
		job.Status = models.JobStatusRunning
	})

	report := func(progress int, step string) {
		if progress < 0 {
			progress = 0
		}
		if progress > 100 {
			progress = 100
		}
		s.transition(jobID, func(job *models.SyncJob) {
			job.Progress = progress
			job.CurrentStep = step
		})
	}

	err := runner.Run(ctx, report)

	s.transition(jobID, func(job *models.SyncJob) {
		switch {
		case errors.Is(err, context.Canceled):
			job.Status = models.JobStatusCancelled
		case err != nil:
			job.Status = models.JobStatusFailed
			job.CurrentStep = err.Error()
		default:
			job.Status = models.JobStatusCompleted
			job.Progress = 100
		}
	})

	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Str("job_id", jobID).Msg("sync job failed")
	} else {
		logging.Info().Str("job_id", jobID).Msg("sync job finished")
	}
}

// transition applies mutate to a job under the lock, stamps terminal times,
// and broadcasts the new snapshot.
func (s *Service) transition(jobID string, mutate func(*models.SyncJob)) {
	s.mu.Lock()
	st, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return
	}
	mutate(&st.job)
	if st.job.Status.Terminal() && st.finishedAt.IsZero() {
		st.finishedAt = time.Now()
	}
	snapshot := st.job
	metrics.JobsTracked.Set(float64(s.countNonTerminalLocked()))
	s.mu.Unlock()

	if s.broadcaster != nil {
		s.broadcaster.BroadcastJobProgress(&snapshot)
	}
}

func (s *Service) countNonTerminalLocked() int {
	n := 0
	for _, st := range s.jobs {
		if !st.job.Status.Terminal() {
			n++
		}
	}
	return n
}

// Status returns the current snapshot of one job.
func (s *Service) Status(jobID string) (*models.SyncJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	snapshot := st.job
	return &snapshot, nil
}

// List returns snapshots of all known jobs, newest kinds first by job ID for
// a stable order.
func (s *Service) List() []models.SyncJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.SyncJob, 0, len(s.jobs))
	for _, st := range s.jobs {
		out = append(out, st.job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// Cancel requests cooperative cancellation of a running job. The job stays
// in the table until its runner observes the cancel and returns; the
// terminal status is then cancelled.
func (s *Service) Cancel(jobID string) error {
	s.mu.Lock()
	st, ok := s.jobs[jobID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	if st.job.Status.Terminal() {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrJobNotCancelable, jobID, st.job.Status)
	}
	cancel := st.cancel
	s.mu.Unlock()

	cancel()
	logging.Info().Str("job_id", jobID).Msg("sync job cancellation requested")
	return nil
}

// Serve runs retention pruning until ctx is cancelled, then waits for all
// runners to finish. Designed for suture supervision.
func (s *Service) Serve(ctx context.Context) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		case <-ticker.C:
			s.pruneTerminal(time.Now().Add(-terminalRetention))
		}
	}
}

// String names the service in supervisor logs.
func (s *Service) String() string {
	return "job-service"
}

// pruneTerminal drops terminal jobs that finished before cutoff.
func (s *Service) pruneTerminal(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range s.jobs {
		if st.job.Status.Terminal() && !st.finishedAt.IsZero() && st.finishedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
}

// shutdown cancels all running jobs and waits for their runners.
func (s *Service) shutdown() {
	s.mu.Lock()
	for _, st := range s.jobs {
		if !st.job.Status.Terminal() {
			st.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	logging.Info().Msg("job service stopped")
}
