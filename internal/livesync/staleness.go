// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package livesync

import (
	"sync"

	"github.com/goccy/go-json"

	"github.com/pulseboardhq/pulseboard/internal/logging"
	"github.com/pulseboardhq/pulseboard/internal/metrics"
	"github.com/pulseboardhq/pulseboard/internal/models"
)

// Notifier bridges inbound resource_updated events to view-visible state.
//
// It records the latest known staleness event per subscribed key and
// notifies the key's watchers. The notifier never fetches fresh data
// itself; the refresh callbacks registered through Watch are the only way
// local application state resynchronizes.
type Notifier struct {
	reg *Registry

	mu          sync.Mutex
	nextWatchID int
	latest      map[models.ResourceKey]models.StalenessEvent
	watchers    map[models.ResourceKey][]watcher

	// onStale, when set, surfaces a user-facing warning for every accepted
	// event (e.g. a toast with a bound Refresh action).
	onStale func(models.StalenessEvent)

	removeHandler func()
}

type watcher struct {
	id      int
	refresh func(models.StalenessEvent)
}

// NewNotifier creates a notifier listening on the given channel and
// filtering events through the registry's subscription set.
func NewNotifier(ch *Channel, reg *Registry) *Notifier {
	n := &Notifier{
		reg:      reg,
		latest:   make(map[models.ResourceKey]models.StalenessEvent),
		watchers: make(map[models.ResourceKey][]watcher),
	}
	n.removeHandler = ch.AddMessageHandler(n.handleMessage)
	return n
}

// SetStaleHandler registers the user-facing staleness warning hook. Pass
// nil to clear it.
func (n *Notifier) SetStaleHandler(fn func(models.StalenessEvent)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onStale = fn
}

// Watch registers a refresh callback for a resource key. The callback runs
// when a resource_updated event for the key arrives and again whenever
// Refresh is invoked for the key. The returned function removes the watch.
func (n *Notifier) Watch(resourceType models.ResourceType, resourceID int64, refresh func(models.StalenessEvent)) func() {
	key := models.ResourceKey{Type: resourceType, ID: resourceID}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextWatchID++
	id := n.nextWatchID
	n.watchers[key] = append(n.watchers[key], watcher{id: id, refresh: refresh})

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		ws := n.watchers[key]
		for i, w := range ws {
			if w.id == id {
				n.watchers[key] = append(ws[:i:i], ws[i+1:]...)
				break
			}
		}
		if len(n.watchers[key]) == 0 {
			delete(n.watchers, key)
			delete(n.latest, key)
		}
	}
}

// Latest returns the last known staleness event for the key.
func (n *Notifier) Latest(resourceType models.ResourceType, resourceID int64) (models.StalenessEvent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ev, ok := n.latest[models.ResourceKey{Type: resourceType, ID: resourceID}]
	return ev, ok
}

// Refresh re-runs the key's refresh callbacks with the latest known event.
// This backs the deferred "Refresh" action on the staleness warning.
func (n *Notifier) Refresh(resourceType models.ResourceType, resourceID int64) {
	key := models.ResourceKey{Type: resourceType, ID: resourceID}

	n.mu.Lock()
	ev, ok := n.latest[key]
	callbacks := n.snapshotWatchersLocked(key)
	n.mu.Unlock()

	if !ok {
		return
	}
	for _, fn := range callbacks {
		fn(ev)
	}
}

// Close detaches the notifier from the channel.
func (n *Notifier) Close() {
	if n.removeHandler != nil {
		n.removeHandler()
	}
}

// handleMessage processes one inbound channel message. Non-staleness
// message types and events for unwatched keys are discarded silently.
func (n *Notifier) handleMessage(msg Inbound) {
	if msg.Type != TypeResourceUpdated {
		return
	}

	var ev models.StalenessEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		logging.Warn().Err(err).Msg("livesync: malformed resource_updated event")
		return
	}

	key := ev.Key()
	if !n.reg.Subscribed(key) {
		metrics.StalenessEvents.WithLabelValues(string(ev.ResourceType), "discarded").Inc()
		return
	}

	n.mu.Lock()
	// Arrival order is authoritative: a later event supersedes an earlier
	// one even if its version looks stale or identical.
	n.latest[key] = ev
	callbacks := n.snapshotWatchersLocked(key)
	onStale := n.onStale
	n.mu.Unlock()

	metrics.StalenessEvents.WithLabelValues(string(ev.ResourceType), "accepted").Inc()
	logging.Debug().
		Str("resource", key.String()).
		Str("updated_by", ev.UpdatedBy).
		Int64("version", ev.Version).
		Msg("livesync: resource updated elsewhere")

	for _, fn := range callbacks {
		fn(ev)
	}
	if onStale != nil {
		onStale(ev)
	}
}

func (n *Notifier) snapshotWatchersLocked(key models.ResourceKey) []func(models.StalenessEvent) {
	ws := n.watchers[key]
	callbacks := make([]func(models.StalenessEvent), 0, len(ws))
	for _, w := range ws {
		callbacks = append(callbacks, w.refresh)
	}
	return callbacks
}
