// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

// Package jobtrack follows long-running background sync jobs to completion.
//
// The Tracker polls each tracked job's status on a fixed interval while at
// least one job is non-terminal and stops polling exactly when none remain.
// The Canceller interrupts a tracked job at the caller's request, guarding
// against duplicate concurrent cancellations and reconciling local state
// optimistically regardless of the request outcome.
package jobtrack

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pulseboardhq/pulseboard/internal/logging"
	"github.com/pulseboardhq/pulseboard/internal/metrics"
	"github.com/pulseboardhq/pulseboard/internal/models"
)

// DefaultPollInterval is the reference polling period.
const DefaultPollInterval = 2 * time.Second

// API is the job authority the tracker converges against. Implemented by
// jobsapi.Client in production and by fakes in tests.
type API interface {
	// JobStatus fetches the current state of one job.
	JobStatus(ctx context.Context, jobID string) (*models.SyncJob, error)

	// CancelJob requests termination of a job.
	CancelJob(ctx context.Context, jobID string) error

	// ListJobs returns all jobs in the caller's scope.
	ListJobs(ctx context.Context) ([]models.SyncJob, error)
}

// Tracker converges its view of the active job set to ground truth by
// polling. Polling starts when a non-terminal job enters the set and stops
// when the set empties; an idle tracker issues no fetches at all.
type Tracker struct {
	api      API
	interval time.Duration

	mu       sync.Mutex
	jobs     map[string]models.SyncJob
	polling  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	// onRefresh, when set, receives the reconciled job list after a full
	// list refresh (triggered by completions and cancellations).
	onRefresh func([]models.SyncJob)
}

// NewTracker creates a tracker. A non-positive interval falls back to
// DefaultPollInterval.
func NewTracker(api API, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Tracker{
		api:      api,
		interval: interval,
		jobs:     make(map[string]models.SyncJob),
	}
}

// SetOnRefresh registers the list-refresh callback. Pass nil to clear.
func (t *Tracker) SetOnRefresh(fn func([]models.SyncJob)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onRefresh = fn
}

// Track adds a newly started job to the active set and ensures the polling
// loop is running. Tracking a job already present overwrites its snapshot.
// Jobs arriving in a terminal state are ignored.
func (t *Tracker) Track(job models.SyncJob) {
	if job.Status.Terminal() {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.jobs[job.JobID] = job
	metrics.JobsTracked.Set(float64(len(t.jobs)))
	t.ensurePollingLocked()
}

// Remove drops a job from the active set without waiting for a terminal
// status. Used by the canceller's optimistic reconciliation.
func (t *Tracker) Remove(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.jobs, jobID)
	metrics.JobsTracked.Set(float64(len(t.jobs)))
}

// Jobs returns a snapshot of the active set, ordered by job ID.
func (t *Tracker) Jobs() []models.SyncJob {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.SyncJob, 0, len(t.jobs))
	for _, job := range t.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// Polling reports whether the polling loop is currently running.
func (t *Tracker) Polling() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.polling
}

// RefreshList fetches the authoritative job list and reconciles the active
// set with it: non-terminal jobs appear (or update), terminal ones leave.
// A fetch failure is logged and leaves local state untouched.
func (t *Tracker) RefreshList(ctx context.Context) {
	list, err := t.api.ListJobs(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("jobtrack: list refresh failed")
		return
	}

	t.mu.Lock()
	for _, job := range list {
		if job.Status.Terminal() {
			delete(t.jobs, job.JobID)
		} else {
			t.jobs[job.JobID] = job
		}
	}
	metrics.JobsTracked.Set(float64(len(t.jobs)))
	t.ensurePollingLocked()
	onRefresh := t.onRefresh
	t.mu.Unlock()

	if onRefresh != nil {
		onRefresh(list)
	}
}

// Stop terminates the polling loop, if running, and waits for it to exit.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.polling {
		t.mu.Unlock()
		return
	}
	t.polling = false
	close(t.stopChan)
	t.mu.Unlock()

	t.wg.Wait()
}

// ensurePollingLocked starts the loop when non-terminal jobs exist and no
// loop is running. Caller holds t.mu.
func (t *Tracker) ensurePollingLocked() {
	if t.polling || !t.hasNonTerminalLocked() {
		return
	}
	t.polling = true
	t.stopChan = make(chan struct{})
	t.wg.Add(1)
	go t.pollLoop(t.stopChan)
	logging.Debug().Dur("interval", t.interval).Msg("jobtrack: polling started")
}

func (t *Tracker) hasNonTerminalLocked() bool {
	for _, job := range t.jobs {
		if !job.Status.Terminal() {
			return true
		}
	}
	return false
}

// pollLoop runs ticks until the active set empties or Stop is called.
// Ticks are strictly serialized: a tick's fetch pass completes before the
// next tick fires.
func (t *Tracker) pollLoop(stop chan struct{}) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.tick(context.Background())

			// The stop decision and the polling flag flip together under
			// the lock, so a job added concurrently either keeps this loop
			// alive or starts a fresh one, never neither.
			t.mu.Lock()
			if !t.hasNonTerminalLocked() {
				t.polling = false
				t.mu.Unlock()
				logging.Debug().Msg("jobtrack: polling stopped, no active jobs")
				return
			}
			t.mu.Unlock()
		}
	}
}

// tick performs one polling pass:
//  1. snapshot the current non-terminal subset,
//  2. if empty, purge leftover terminal entries (a tick can fire after the
//     last job terminated between ticks),
//  3. fetch each job's fresh status with per-job failure isolation,
//  4. remove jobs that reached a terminal state immediately,
//  5. refresh the full list when anything newly terminated.
func (t *Tracker) tick(ctx context.Context) {
	t.mu.Lock()
	ids := make([]string, 0, len(t.jobs))
	for id, job := range t.jobs {
		if !job.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		for id := range t.jobs {
			delete(t.jobs, id)
		}
		metrics.JobsTracked.Set(0)
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	sort.Strings(ids)

	completed := 0
	for _, id := range ids {
		fresh, err := t.api.JobStatus(ctx, id)
		if err != nil {
			// Isolated failure: this job's snapshot stays stale for one
			// tick; the other jobs in the pass are unaffected.
			metrics.JobPolls.WithLabelValues("error").Inc()
			logging.Warn().Err(err).Str("job_id", id).Msg("jobtrack: status fetch failed")
			continue
		}
		metrics.JobPolls.WithLabelValues("ok").Inc()

		t.mu.Lock()
		if _, tracked := t.jobs[id]; tracked {
			if fresh.Status.Terminal() {
				delete(t.jobs, id)
				completed++
				logging.Info().
					Str("job_id", id).
					Str("status", string(fresh.Status)).
					Msg("jobtrack: job finished")
			} else {
				t.jobs[id] = *fresh
			}
			metrics.JobsTracked.Set(float64(len(t.jobs)))
		}
		t.mu.Unlock()
	}

	if completed > 0 {
		t.RefreshList(ctx)
	}
}
