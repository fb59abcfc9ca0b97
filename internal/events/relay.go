// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package events

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/pulseboardhq/pulseboard/internal/logging"
	"github.com/pulseboardhq/pulseboard/internal/models"
)

// Broadcaster receives staleness events for fanout to connected dashboards.
// Implemented by the websocket hub.
type Broadcaster interface {
	BroadcastStaleness(ev *models.StalenessEvent)
}

// Relay consumes the resource-updated topic and hands each event to the
// broadcaster. It runs as a supervised service: Serve blocks until the
// context is cancelled or the subscription fails.
type Relay struct {
	bus         *Bus
	broadcaster Broadcaster
}

// NewRelay creates a relay between bus and broadcaster.
func NewRelay(bus *Bus, broadcaster Broadcaster) *Relay {
	return &Relay{bus: bus, broadcaster: broadcaster}
}

// Serve consumes events until ctx is cancelled. A malformed payload is
// acked and dropped; redelivering it cannot make it parse.
func (r *Relay) Serve(ctx context.Context) error {
	msgs, err := r.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", TopicResourceUpdated, err)
	}

	logging.Info().Str("topic", TopicResourceUpdated).Msg("Staleness relay started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}

			var ev models.StalenessEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logging.Warn().
					Err(err).
					Str("message_id", msg.UUID).
					Msg("Dropping malformed staleness event")
				msg.Ack()
				continue
			}

			r.broadcaster.BroadcastStaleness(&ev)
			msg.Ack()
		}
	}
}

// String names the service in supervisor logs.
func (r *Relay) String() string {
	return "staleness-relay"
}
