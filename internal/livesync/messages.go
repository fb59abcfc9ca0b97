// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package livesync

import (
	"github.com/goccy/go-json"

	"github.com/pulseboardhq/pulseboard/internal/models"
)

// Protocol actions sent by the client.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Protocol message types received from the server.
const (
	TypeResourceUpdated = "resource_updated"
)

// SubscriptionMessage is the outbound subscribe/unsubscribe message.
type SubscriptionMessage struct {
	Action       string              `json:"action"`
	ResourceType models.ResourceType `json:"resource_type"`
	ResourceID   int64               `json:"resource_id"`
}

// Inbound is a raw server-to-client message. Data stays unparsed until a
// handler knows the concrete shape for the message type.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}
