// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package jobtrack

import (
	"context"
	"sync"

	"github.com/pulseboardhq/pulseboard/internal/logging"
	"github.com/pulseboardhq/pulseboard/internal/metrics"
)

// Canceller issues job cancellation requests, at most one in flight per
// job. Local state is reconciled optimistically: the job leaves the
// tracker's active set whether or not the server accepted the request, so
// the UI never sticks in a "cancelling" state. The subsequent list refresh
// restores the job if cancellation genuinely failed server-side.
type Canceller struct {
	api     API
	tracker *Tracker

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewCanceller creates a canceller bound to the tracker whose active set
// it reconciles.
func NewCanceller(api API, tracker *Tracker) *Canceller {
	return &Canceller{
		api:      api,
		tracker:  tracker,
		inFlight: make(map[string]struct{}),
	}
}

// Cancel requests termination of the job. It returns false without side
// effects when a cancellation for the same job is already in flight.
func (c *Canceller) Cancel(ctx context.Context, jobID string) bool {
	c.mu.Lock()
	if _, dup := c.inFlight[jobID]; dup {
		c.mu.Unlock()
		metrics.JobCancellations.WithLabelValues("duplicate").Inc()
		logging.Debug().Str("job_id", jobID).Msg("jobtrack: cancellation already in flight")
		return false
	}
	c.inFlight[jobID] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inFlight, jobID)
		c.mu.Unlock()
	}()

	if err := c.api.CancelJob(ctx, jobID); err != nil {
		// The user dismissed the job; stop surfacing it even though the
		// request failed. The refresh below restores it if it still runs.
		metrics.JobCancellations.WithLabelValues("error").Inc()
		logging.Warn().Err(err).Str("job_id", jobID).Msg("jobtrack: cancellation request failed")
	} else {
		metrics.JobCancellations.WithLabelValues("ok").Inc()
	}

	c.tracker.Remove(jobID)
	c.tracker.RefreshList(ctx)
	return true
}

// InFlight reports whether a cancellation request is outstanding for the job.
func (c *Canceller) InFlight(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[jobID]
	return ok
}
