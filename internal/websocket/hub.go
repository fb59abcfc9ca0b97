// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/pulseboardhq/pulseboard/internal/logging"
	"github.com/pulseboardhq/pulseboard/internal/metrics"
	"github.com/pulseboardhq/pulseboard/internal/models"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path
	// (e.g., SIGTERM propagated through the supervisor).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was
	// exceeded, which may point at a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types for WebSocket communication.
const (
	MessageTypeResourceUpdated = "resource_updated"
	MessageTypeJobProgress     = "job_progress"
	MessageTypePing            = "ping"
	MessageTypePong            = "pong"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// broadcastJob pairs a message with the resource key it concerns. A nil key
// means the message goes to every client regardless of subscriptions.
type broadcastJob struct {
	message Message
	key     *models.ResourceKey
}

// Hub maintains the set of active clients and fans messages out to them.
// Resource-updated messages are filtered per client against the subscription
// set each client declared over the wire; job progress goes to everyone.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan broadcastJob
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		broadcast:  make(chan broadcastJob, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
	}
}

// RunWithContext runs the hub under supervision until ctx is cancelled.
//
// Uses priority-based selection so behavior stays predictable when multiple
// channels are ready at once (Go's select picks randomly otherwise):
//   - Priority 1: context cancellation
//   - Priority 2: client lifecycle events (Register/Unregister)
//   - Priority 3: broadcast messages
//
// Handling lifecycle first means the client set is always settled before a
// message is fanned out.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: shutdown check, non-blocking.
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: lifecycle events, non-blocking.
		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		// Priority 3: block until anything arrives.
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()

		case client := <-h.Register:
			h.addClient(client)

		case client := <-h.Unregister:
			h.removeClient(client)

		case job := <-h.broadcast:
			h.broadcastToClients(job)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketClients.Set(float64(total))
	logging.Info().Int("total_clients", total).Msg("websocket client disconnected")
}

// logGracefulShutdown closes all clients and logs structured shutdown info.
// ctx.Err() is not logged as an error: cancellation is expected behavior
// during graceful shutdown and logging it with Err() would confuse operators
// watching error logs.
func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "websocket-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("websocket hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.Canceled:
		return ShutdownReasonContextCanceled
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// broadcastToClients delivers a message to the eligible clients in a
// deterministic order. Clients are sorted by their monotonic ID so delivery
// order is reproducible in tests. A client whose send buffer is full is
// dropped; a dashboard that cannot drain its socket refreshes on reconnect.
func (h *Hub) broadcastToClients(job broadcastJob) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client

	for _, client := range clients {
		if job.key != nil && !client.subscribedTo(*job.key) {
			continue
		}
		select {
		case client.send <- job.message:
		default:
			metrics.WebSocketMessagesDropped.Inc()
			toRemove = append(toRemove, client)
		}
	}

	for _, client := range toRemove {
		close(client.send)
		delete(h.clients, client)
	}
}

// closeAllClients closes all connected clients in ID order.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	logging.Info().Msg("closed all websocket clients during shutdown")
}

// BroadcastStaleness notifies subscribed clients that a resource changed.
// Only clients that declared a subscription for the event's key receive it.
func (h *Hub) BroadcastStaleness(ev *models.StalenessEvent) {
	key := ev.Key()
	job := broadcastJob{
		message: Message{Type: MessageTypeResourceUpdated, Data: ev},
		key:     &key,
	}

	select {
	case h.broadcast <- job:
	default:
		metrics.WebSocketMessagesDropped.Inc()
		logging.Warn().
			Str("resource", key.String()).
			Msg("broadcast channel full, dropping resource_updated message")
	}
}

// BroadcastJobProgress pushes a job snapshot to every connected client.
// Job progress is not subscription-scoped: any dashboard showing the sync
// panel wants it.
func (h *Hub) BroadcastJobProgress(job *models.SyncJob) {
	msg := broadcastJob{
		message: Message{Type: MessageTypeJobProgress, Data: job},
	}

	select {
	case h.broadcast <- msg:
	default:
		metrics.WebSocketMessagesDropped.Inc()
		logging.Warn().
			Str("job_id", job.JobID).
			Msg("broadcast channel full, dropping job_progress message")
	}
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
