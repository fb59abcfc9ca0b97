// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

// Package livesync implements the client side of the live resource
// synchronization protocol.
//
// Three components cooperate:
//
//   - Channel owns a single persistent WebSocket connection, exposes a
//     boolean-result Send, and fans inbound messages out to registered
//     handlers in arrival order.
//   - Registry translates view-level interest in a (resource type, id) key
//     into at most one outstanding subscribe message, reference-counting
//     multiple interested views per key.
//   - Notifier records the latest resource_updated event per subscribed key
//     and invokes the registered refresh callbacks, discarding events for
//     keys nobody watches.
//
// Activation is optimistic: a subscription is marked active as soon as the
// transport accepts the subscribe message. A send accepted by the transport
// but rejected server-side (e.g. an unauthorized resource) leaves the client
// believing it is subscribed; this is a deliberate consistency gap traded
// for protocol simplicity.
package livesync
