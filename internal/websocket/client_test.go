// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gws "github.com/gorilla/websocket"

	"github.com/pulseboardhq/pulseboard/internal/models"
)

// wireHarness runs a hub behind a real HTTP upgrade endpoint so tests cover
// the full readPump/writePump path.
type wireHarness struct {
	hub *Hub
	srv *httptest.Server
}

func newWireHarness(t *testing.T) *wireHarness {
	t.Helper()

	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.RunWithContext(ctx)
	}()

	upgrader := gws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		client := NewClient(hub, conn)
		hub.Register <- client
		client.Start()
	}))

	t.Cleanup(func() {
		srv.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("hub did not stop")
		}
	})

	return &wireHarness{hub: hub, srv: srv}
}

func (h *wireHarness) dial(t *testing.T) *gws.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *gws.Conn) (string, json.RawMessage) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var envelope struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&envelope); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return envelope.Type, envelope.Data
}

func TestSubscribeOverWire(t *testing.T) {
	h := newWireHarness(t)
	conn := h.dial(t)

	err := conn.WriteJSON(map[string]any{
		"action":        "subscribe",
		"resource_type": "brand",
		"resource_id":   42,
	})
	if err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	// The subscribe is applied asynchronously by the read pump.
	waitForClients(t, h.hub, func(n int) bool { return n == 1 })
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.hub.mu.RLock()
		var subscribed bool
		for c := range h.hub.clients {
			subscribed = c.subscribedTo(models.ResourceKey{Type: models.ResourceTypeBrand, ID: 42})
		}
		h.hub.mu.RUnlock()
		if subscribed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscription never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.hub.BroadcastStaleness(&models.StalenessEvent{
		ResourceType: models.ResourceTypeBrand,
		ResourceID:   42,
		UpdatedBy:    "sergio@example.com",
		Version:      3,
	})

	typ, data := readEnvelope(t, conn)
	if typ != MessageTypeResourceUpdated {
		t.Errorf("type = %q", typ)
	}
	var ev models.StalenessEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.ResourceType != models.ResourceTypeBrand || ev.ResourceID != 42 || ev.Version != 3 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.UpdatedBy != "sergio@example.com" {
		t.Errorf("updated_by = %q", ev.UpdatedBy)
	}
}

func TestJobProgressOverWire(t *testing.T) {
	h := newWireHarness(t)
	conn := h.dial(t)
	waitForClients(t, h.hub, func(n int) bool { return n == 1 })

	h.hub.BroadcastJobProgress(&models.SyncJob{
		JobID:       "job-9",
		Kind:        models.SyncKindSearchConsole,
		Status:      models.JobStatusRunning,
		Progress:    80,
		CurrentStep: "fetching queries",
	})

	typ, data := readEnvelope(t, conn)
	if typ != MessageTypeJobProgress {
		t.Errorf("type = %q", typ)
	}
	var job models.SyncJob
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if job.JobID != "job-9" || job.Progress != 80 || job.CurrentStep != "fetching queries" {
		t.Errorf("unexpected job: %+v", job)
	}
}

func TestDisconnectDiscardsSubscriptions(t *testing.T) {
	h := newWireHarness(t)
	conn := h.dial(t)

	if err := conn.WriteJSON(map[string]any{
		"action":        "subscribe",
		"resource_type": "client",
		"resource_id":   7,
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	waitForClients(t, h.hub, func(n int) bool { return n == 1 })

	_ = conn.Close()

	// The read pump notices the close and unregisters the client.
	waitForClients(t, h.hub, func(n int) bool { return n == 0 })
}

func TestMalformedMessageClosesConnection(t *testing.T) {
	h := newWireHarness(t)
	conn := h.dial(t)
	waitForClients(t, h.hub, func(n int) bool { return n == 1 })

	// Not JSON at all: ReadJSON fails and the server drops the client.
	if err := conn.WriteMessage(gws.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	waitForClients(t, h.hub, func(n int) bool { return n == 0 })
}
