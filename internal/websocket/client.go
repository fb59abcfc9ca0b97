// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package websocket

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulseboardhq/pulseboard/internal/livesync"
	"github.com/pulseboardhq/pulseboard/internal/logging"
	"github.com/pulseboardhq/pulseboard/internal/metrics"
	"github.com/pulseboardhq/pulseboard/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024 // subscription messages are tiny
)

// clientIDCounter generates monotonically increasing client IDs so the hub
// can iterate clients in a stable order.
var clientIDCounter atomic.Uint64

// Client is the middleman between one websocket connection and the hub.
// It tracks which resource keys the connection has subscribed to; the hub
// consults that set when fanning out resource_updated messages.
type Client struct {
	id   uint64
	hub  *Hub
	conn *websocket.Conn
	send chan Message

	subMu sync.RWMutex
	subs  map[models.ResourceKey]struct{}
}

// NewClient creates a client for an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		hub:  hub,
		conn: conn,
		send: make(chan Message, 256),
		subs: make(map[models.ResourceKey]struct{}),
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// subscribedTo reports whether the client declared a subscription for key.
func (c *Client) subscribedTo(key models.ResourceKey) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, ok := c.subs[key]
	return ok
}

// Subscriptions returns a snapshot of the client's subscribed keys.
func (c *Client) Subscriptions() []models.ResourceKey {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	keys := make([]models.ResourceKey, 0, len(c.subs))
	for k := range c.subs {
		keys = append(keys, k)
	}
	return keys
}

// handleSubscription applies one subscribe/unsubscribe message. Messages
// with an unknown resource type or non-positive ID are ignored; the protocol
// has no error replies and a bad message must not kill the connection.
func (c *Client) handleSubscription(msg livesync.SubscriptionMessage) {
	if !msg.ResourceType.Valid() || msg.ResourceID <= 0 {
		logging.Warn().
			Str("action", msg.Action).
			Str("resource_type", string(msg.ResourceType)).
			Int64("resource_id", msg.ResourceID).
			Msg("ignoring subscription message for invalid resource")
		return
	}

	key := models.ResourceKey{Type: msg.ResourceType, ID: msg.ResourceID}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	switch msg.Action {
	case livesync.ActionSubscribe:
		c.subs[key] = struct{}{}
		metrics.SubscribeMessages.WithLabelValues(livesync.ActionSubscribe).Inc()
	case livesync.ActionUnsubscribe:
		delete(c.subs, key)
		metrics.SubscribeMessages.WithLabelValues(livesync.ActionUnsubscribe).Inc()
	default:
		logging.Warn().Str("action", msg.Action).Msg("ignoring unknown subscription action")
	}
}

// readPump pumps subscription messages from the connection into the client's
// subscription set.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg livesync.SubscriptionMessage
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Msg("unexpected websocket close error")
			}
			break
		}

		if msg.Action == MessageTypePing {
			select {
			case c.send <- Message{Type: MessageTypePong}:
			default:
			}
			continue
		}

		c.handleSubscription(msg)
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}

			if !ok {
				// The hub closed the channel.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					logging.Error().Err(err).Msg("failed to write close message")
				}
				return
			}

			if err := c.conn.WriteJSON(message); err != nil {
				logging.Error().Err(err).Msg("failed to write JSON message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
