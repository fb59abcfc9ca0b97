// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package livesync

import (
	"sync"

	"github.com/pulseboardhq/pulseboard/internal/logging"
	"github.com/pulseboardhq/pulseboard/internal/metrics"
	"github.com/pulseboardhq/pulseboard/internal/models"
)

// subscription tracks one (resource type, id) key.
//
// refs counts interested views; active means a subscribe message went out
// over a send that succeeded. The two are independent: refs survive a
// disconnect so the registry can re-subscribe on reconnect, while active is
// invalidated the moment the channel drops.
type subscription struct {
	refs   int
	active bool
}

// Registry deduplicates live-update subscriptions per resource key.
//
// Multiple views may subscribe to the same key; the subscribe protocol
// message is sent at most once per active period, and the unsubscribe
// message only when the last interested view detaches.
type Registry struct {
	ch *Channel

	mu   sync.Mutex
	subs map[models.ResourceKey]*subscription
}

// NewRegistry creates a registry bound to the given channel. The registry
// observes the channel's connection state: a disconnect invalidates every
// active entry, and a reconnect re-issues subscribe messages for all keys
// that still have interested views.
func NewRegistry(ch *Channel) *Registry {
	r := &Registry{
		ch:   ch,
		subs: make(map[models.ResourceKey]*subscription),
	}
	ch.AddStateHandler(r.onStateChange)
	return r
}

// Subscribe registers interest in live updates for the given resource.
// The first interested view triggers the subscribe protocol message;
// subsequent calls for an already-active key only bump the reference count.
//
// Invalid resource types and non-positive ids are rejected with a log line;
// callers do not need them to succeed to proceed.
func (r *Registry) Subscribe(resourceType models.ResourceType, resourceID int64) {
	if !resourceType.Valid() || resourceID <= 0 {
		logging.Warn().
			Str("resource_type", string(resourceType)).
			Int64("resource_id", resourceID).
			Msg("livesync: ignoring subscribe for invalid resource")
		return
	}

	key := models.ResourceKey{Type: resourceType, ID: resourceID}

	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[key]
	if !ok {
		sub = &subscription{}
		r.subs[key] = sub
	}
	sub.refs++

	if sub.active {
		return
	}
	r.activateLocked(key, sub)
}

// activateLocked sends the subscribe message and marks the entry active
// only if the transport accepted it. On a failed send the entry stays
// inactive; the reconnect state handler retries once connectivity returns.
func (r *Registry) activateLocked(key models.ResourceKey, sub *subscription) {
	msg := SubscriptionMessage{
		Action:       ActionSubscribe,
		ResourceType: key.Type,
		ResourceID:   key.ID,
	}
	if !r.ch.Send(msg) {
		logging.Debug().Str("resource", key.String()).Msg("livesync: subscribe deferred, channel down")
		return
	}
	sub.active = true
	metrics.SubscribeMessages.WithLabelValues(ActionSubscribe).Inc()
	metrics.SubscriptionsActive.WithLabelValues(string(key.Type)).Inc()
	logging.Debug().Str("resource", key.String()).Msg("livesync: subscribed")
}

// Unsubscribe drops one view's interest in the resource. The unsubscribe
// protocol message goes out only when the last interested view detaches.
// Calling Unsubscribe for an unknown key is a no-op.
func (r *Registry) Unsubscribe(resourceType models.ResourceType, resourceID int64) {
	key := models.ResourceKey{Type: resourceType, ID: resourceID}

	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[key]
	if !ok {
		return
	}
	if sub.refs > 0 {
		sub.refs--
	}
	if sub.refs > 0 {
		return
	}

	if sub.active {
		msg := SubscriptionMessage{
			Action:       ActionUnsubscribe,
			ResourceType: key.Type,
			ResourceID:   key.ID,
		}
		if r.ch.Send(msg) {
			sub.active = false
			metrics.SubscribeMessages.WithLabelValues(ActionUnsubscribe).Inc()
			metrics.SubscriptionsActive.WithLabelValues(string(key.Type)).Dec()
			logging.Debug().Str("resource", key.String()).Msg("livesync: unsubscribed")
		}
		// A failed send leaves the entry active; the disconnect that caused
		// the failure invalidates it through the state handler anyway.
	}

	if !sub.active {
		delete(r.subs, key)
	}
}

// IsActive reports whether a subscribe message is currently outstanding
// for the key.
func (r *Registry) IsActive(resourceType models.ResourceType, resourceID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[models.ResourceKey{Type: resourceType, ID: resourceID}]
	return ok && sub.active
}

// Subscribed reports whether any view holds interest in the key, active
// or not. The staleness notifier uses this to filter inbound events.
func (r *Registry) Subscribed(key models.ResourceKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[key]
	return ok && sub.refs > 0
}

// Refs returns the current view count for the key.
func (r *Registry) Refs(resourceType models.ResourceType, resourceID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[models.ResourceKey{Type: resourceType, ID: resourceID}]
	if !ok {
		return 0
	}
	return sub.refs
}

// onStateChange reacts to channel connectivity transitions.
func (r *Registry) onStateChange(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !connected {
		for key, sub := range r.subs {
			if sub.active {
				sub.active = false
				metrics.SubscriptionsActive.WithLabelValues(string(key.Type)).Dec()
			}
			if sub.refs == 0 {
				delete(r.subs, key)
			}
		}
		logging.Info().Int("keys", len(r.subs)).Msg("livesync: channel down, subscriptions invalidated")
		return
	}

	for key, sub := range r.subs {
		if sub.refs > 0 && !sub.active {
			r.activateLocked(key, sub)
		}
	}
}
