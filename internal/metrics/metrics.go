// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

// Package metrics registers Prometheus instrumentation for the live
// synchronization layer: transport channel health, subscription counts,
// staleness delivery, job polling, and cancellation outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocketClients tracks currently connected dashboard clients.
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulseboard_websocket_clients",
			Help: "Current number of connected WebSocket clients",
		},
	)

	// WebSocketMessagesDropped counts broadcast messages dropped because a
	// client send buffer was full.
	WebSocketMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulseboard_websocket_messages_dropped_total",
			Help: "Total broadcast messages dropped due to slow clients",
		},
	)

	// SubscriptionsActive tracks active resource subscriptions by type.
	SubscriptionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulseboard_subscriptions_active",
			Help: "Current number of active resource subscriptions",
		},
		[]string{"resource_type"},
	)

	// SubscribeMessages counts subscribe/unsubscribe protocol messages sent.
	SubscribeMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_subscribe_messages_total",
			Help: "Total subscribe and unsubscribe protocol messages sent",
		},
		[]string{"action"},
	)

	// StalenessEvents counts resource_updated events by disposition.
	StalenessEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_staleness_events_total",
			Help: "Total resource_updated events received",
		},
		[]string{"resource_type", "disposition"}, // "accepted", "discarded"
	)

	// JobPolls counts job status fetches by outcome.
	JobPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_job_polls_total",
			Help: "Total job status fetches during polling",
		},
		[]string{"outcome"}, // "ok", "error"
	)

	// JobsTracked tracks the current size of the active job set.
	JobsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulseboard_jobs_tracked",
			Help: "Current number of jobs in the active tracking set",
		},
	)

	// JobCancellations counts cancellation requests by outcome.
	JobCancellations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_job_cancellations_total",
			Help: "Total job cancellation requests issued",
		},
		[]string{"outcome"}, // "ok", "error", "duplicate"
	)

	// ResourceVersionBumps counts authoritative version increments by type.
	ResourceVersionBumps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_resource_version_bumps_total",
			Help: "Total resource version increments recorded by the store",
		},
		[]string{"resource_type"},
	)

	// EventsPublished counts resource-mutation events published to the
	// event pipeline.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_events_published_total",
			Help: "Total resource events published to the event pipeline",
		},
		[]string{"topic"},
	)

	// JobsAPIBreakerState exposes the jobs API circuit breaker state
	// (0 = closed, 1 = half-open, 2 = open).
	JobsAPIBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulseboard_jobs_api_breaker_state",
			Help: "Jobs API circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)
)
