// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package livesync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pulseboardhq/pulseboard/internal/logging"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
)

// ChannelConfig holds transport channel settings.
type ChannelConfig struct {
	// URL is the WebSocket endpoint, e.g. "wss://host/api/v1/ws".
	URL string

	// ReconnectMinDelay and ReconnectMaxDelay bound the exponential
	// backoff between reconnection attempts. Defaults: 1s and 32s.
	ReconnectMinDelay time.Duration
	ReconnectMaxDelay time.Duration
}

// Channel maintains exactly one logical WebSocket connection to the server
// and fans inbound messages out to registered handlers in arrival order.
//
// Send never panics: it reports false when the connection is down and leaves
// retrying to the caller's reconnect-driven state handlers.
type Channel struct {
	cfg ChannelConfig

	conn   *websocket.Conn
	connMu sync.RWMutex

	stopChan  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	handlersMu    sync.RWMutex
	nextHandlerID int
	msgHandlers   []handlerEntry[Inbound]
	stateHandlers []handlerEntry[bool]
}

type handlerEntry[T any] struct {
	id int
	fn func(T)
}

// NewChannel creates an unconnected transport channel.
func NewChannel(cfg ChannelConfig) *Channel {
	if cfg.ReconnectMinDelay <= 0 {
		cfg.ReconnectMinDelay = time.Second
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectMinDelay {
		cfg.ReconnectMaxDelay = 32 * time.Second
	}
	return &Channel{
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and starts the listener and
// keepalive loops. Calling Connect on an already connected channel is a no-op.
func (c *Channel) Connect(ctx context.Context) error {
	c.connMu.Lock()
	if c.conn != nil {
		c.connMu.Unlock()
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.connMu.Unlock()
		if resp != nil {
			return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.conn = conn
	c.connMu.Unlock()

	logging.Info().Str("url", c.cfg.URL).Msg("livesync channel connected")
	c.notifyState(true)

	c.wg.Add(2)
	go c.listen(ctx)
	go c.pingLoop(ctx)

	return nil
}

// IsConnected reports whether the channel currently has a live connection.
func (c *Channel) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil
}

// Send transmits a message to the server. It returns false, with no other
// effect, when the connection is not established or the write fails.
func (c *Channel) Send(msg any) bool {
	c.connMu.Lock()

	if c.conn == nil {
		c.connMu.Unlock()
		return false
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.connMu.Unlock()
		logging.Warn().Err(err).Msg("livesync: failed to set write deadline")
		return false
	}
	if err := c.conn.WriteJSON(msg); err != nil {
		closed := c.teardownLocked()
		c.connMu.Unlock()
		logging.Warn().Err(err).Msg("livesync: send failed")
		if closed {
			// Asynchronous: Send may run inside a state handler that holds
			// its own lock, so a synchronous notification could re-enter it.
			go c.notifyState(false)
		}
		return false
	}
	c.connMu.Unlock()
	return true
}

// AddMessageHandler registers a callback invoked once per inbound message,
// in arrival order. The returned function deregisters the handler; both
// registration and removal are safe while a message is being dispatched.
func (c *Channel) AddMessageHandler(fn func(Inbound)) func() {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.nextHandlerID++
	id := c.nextHandlerID
	c.msgHandlers = append(c.msgHandlers, handlerEntry[Inbound]{id: id, fn: fn})

	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		c.msgHandlers = removeHandler(c.msgHandlers, id)
	}
}

// AddStateHandler registers a callback invoked on every connection state
// transition with the new state (true = connected). Returns a deregistration
// function.
func (c *Channel) AddStateHandler(fn func(connected bool)) func() {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()

	c.nextHandlerID++
	id := c.nextHandlerID
	c.stateHandlers = append(c.stateHandlers, handlerEntry[bool]{id: id, fn: fn})

	return func() {
		c.handlersMu.Lock()
		defer c.handlersMu.Unlock()
		c.stateHandlers = removeHandler(c.stateHandlers, id)
	}
}

func removeHandler[T any](entries []handlerEntry[T], id int) []handlerEntry[T] {
	for i, e := range entries {
		if e.id == id {
			return append(entries[:i:i], entries[i+1:]...)
		}
	}
	return entries
}

// listen reads inbound messages until the channel is closed, reconnecting
// with exponential backoff after connection loss.
func (c *Channel) listen(ctx context.Context) {
	defer c.wg.Done()

	delay := c.cfg.ReconnectMinDelay

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()

		if conn == nil {
			logging.Info().Dur("delay", delay).Msg("livesync: connection lost, reconnecting")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			case <-c.stopChan:
				return
			}
			delay *= 2
			if delay > c.cfg.ReconnectMaxDelay {
				delay = c.cfg.ReconnectMaxDelay
			}

			if err := c.redial(ctx); err != nil {
				logging.Warn().Err(err).Msg("livesync: reconnection failed")
			} else {
				delay = c.cfg.ReconnectMinDelay
			}
			continue
		}

		if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			logging.Warn().Err(err).Msg("livesync: failed to set read deadline")
		}

		var msg Inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-c.stopChan:
				return
			default:
			}
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Warn().Err(err).Msg("livesync: read error")
			}
			c.teardown()
			continue
		}

		delay = c.cfg.ReconnectMinDelay
		c.dispatch(msg)
	}
}

// redial re-establishes the connection without spawning new pump goroutines;
// the existing listen and ping loops keep running across reconnects.
func (c *Channel) redial(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: true,
	}
	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.conn = conn

	logging.Info().Str("url", c.cfg.URL).Msg("livesync channel reconnected")
	go c.notifyState(true)
	return nil
}

// dispatch delivers one message to every registered handler, in registration
// order. The handler list is snapshotted first so handlers may add or remove
// handlers while a dispatch is in progress.
func (c *Channel) dispatch(msg Inbound) {
	c.handlersMu.RLock()
	snapshot := make([]handlerEntry[Inbound], len(c.msgHandlers))
	copy(snapshot, c.msgHandlers)
	c.handlersMu.RUnlock()

	for _, entry := range snapshot {
		entry.fn(msg)
	}
}

func (c *Channel) notifyState(connected bool) {
	c.handlersMu.RLock()
	snapshot := make([]handlerEntry[bool], len(c.stateHandlers))
	copy(snapshot, c.stateHandlers)
	c.handlersMu.RUnlock()

	for _, entry := range snapshot {
		entry.fn(connected)
	}
}

// pingLoop keeps the connection alive with periodic ping control frames.
func (c *Channel) pingLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopChan:
			return
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			if conn == nil {
				c.connMu.Unlock()
				continue
			}
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.connMu.Unlock()

			if err != nil {
				logging.Warn().Err(err).Msg("livesync: keepalive failed")
				c.teardown()
			}
		}
	}
}

// teardown closes the current connection and notifies state handlers.
func (c *Channel) teardown() {
	c.connMu.Lock()
	closed := c.teardownLocked()
	c.connMu.Unlock()
	if closed {
		c.notifyState(false)
	}
}

// teardownLocked closes the connection with connMu held. Callers notify
// state handlers after releasing the lock; a handler that calls Send while
// the lock is held would deadlock.
func (c *Channel) teardownLocked() bool {
	if c.conn == nil {
		return false
	}
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	_ = c.conn.Close()
	c.conn = nil
	return true
}

// Close shuts the channel down permanently. Safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopChan)
	})
	c.teardown()
	c.wg.Wait()
	return nil
}
