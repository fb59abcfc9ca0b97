// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

// Package websocket implements the server side of the live-sync protocol.
//
// The Hub owns the set of connected dashboard clients and fans two kinds of
// messages out to them:
//
//   - resource_updated: a resource changed on the server. Delivered only to
//     clients that sent a subscribe message for that resource key.
//   - job_progress: a background sync job advanced. Delivered to every
//     connected client.
//
// Clients declare interest over the wire:
//
//	{"action": "subscribe", "resource_type": "brand", "resource_id": 42}
//	{"action": "unsubscribe", "resource_type": "brand", "resource_id": 42}
//
// Subscribe and unsubscribe carry no acknowledgment. The server applies them
// in arrival order per connection; a disconnect discards the connection's
// entire subscription set, so a reconnecting client must resubscribe.
//
// The Hub runs as a supervised service via RunWithContext and shuts down all
// clients when its context is cancelled. Fanout uses a priority select
// (shutdown, then lifecycle, then broadcast) and iterates clients in a
// stable order so delivery is deterministic under test.
//
// The counterpart client implementation lives in internal/livesync.
package websocket
