// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/pulseboardhq/pulseboard/internal/events"
	"github.com/pulseboardhq/pulseboard/internal/jobs"
	"github.com/pulseboardhq/pulseboard/internal/logging"
	"github.com/pulseboardhq/pulseboard/internal/models"
	"github.com/pulseboardhq/pulseboard/internal/store"
)

// defaultPollInterval is how often the runner checks a connector run.
const defaultPollInterval = 3 * time.Second

// Runner drives one connector run as a background sync job. When the run
// finishes it bumps the version of every changed resource and publishes the
// resulting staleness events, which is what makes open dashboards refresh.
type Runner struct {
	kind         models.SyncKind
	client       *Client
	versions     *store.VersionStore
	bus          *events.Bus
	pollInterval time.Duration
}

// NewRunner creates a runner for one sync kind.
func NewRunner(kind models.SyncKind, client *Client, versions *store.VersionStore, bus *events.Bus) *Runner {
	return &Runner{
		kind:         kind,
		client:       client,
		versions:     versions,
		bus:          bus,
		pollInterval: defaultPollInterval,
	}
}

// Run implements jobs.Runner. It starts a connector run, mirrors the
// connector's progress into the job, and on completion publishes staleness
// for every changed resource under the editor name "sync:<kind>".
func (r *Runner) Run(ctx context.Context, report jobs.ProgressFunc) error {
	status, err := r.client.StartRun(ctx, r.kind)
	if err != nil {
		return err
	}
	runID := status.RunID
	report(status.Progress, status.Step)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for status.State == StateRunning {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		status, err = r.client.RunStatus(ctx, r.kind, runID)
		if err != nil {
			return err
		}
		report(status.Progress, status.Step)
	}

	if status.State == StateError {
		return fmt.Errorf("connector run %s failed: %s", runID, status.Error)
	}

	return r.publishChanges(ctx, status.Changed, report)
}

// publishChanges bumps versions and emits staleness for each changed
// resource. A failed bump skips that resource; the run itself succeeded and
// the remaining notifications still matter.
func (r *Runner) publishChanges(ctx context.Context, changed []ChangedResource, report jobs.ProgressFunc) error {
	editor := "sync:" + string(r.kind)

	for i, res := range changed {
		if !res.ResourceType.Valid() || res.ResourceID <= 0 {
			logging.Warn().
				Str("resource_type", string(res.ResourceType)).
				Int64("resource_id", res.ResourceID).
				Msg("connector reported invalid resource, skipping")
			continue
		}

		key := models.ResourceKey{Type: res.ResourceType, ID: res.ResourceID}
		ev, err := r.versions.Bump(ctx, key, editor)
		if err != nil {
			logging.Error().Err(err).Str("resource", key.String()).Msg("failed to bump version after sync")
			continue
		}
		if err := r.bus.PublishStaleness(ctx, ev); err != nil {
			logging.Error().Err(err).Str("resource", key.String()).Msg("failed to publish staleness after sync")
		}

		report(100, fmt.Sprintf("notifying dashboards (%d/%d)", i+1, len(changed)))
	}

	return nil
}
