// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package livesync

import (
	"context"
	"testing"
	"time"

	"github.com/pulseboardhq/pulseboard/internal/models"
)

func TestRegistryDedupInvariant(t *testing.T) {
	ts := newTestServer(t)
	ch := connectedChannel(t, ts)
	reg := NewRegistry(ch)

	// Repeated subscribes for an active key send exactly one message.
	reg.Subscribe(models.ResourceTypeBrand, 42)
	reg.Subscribe(models.ResourceTypeBrand, 42)
	reg.Subscribe(models.ResourceTypeBrand, 42)

	msg := ts.expectMessage(t)
	if msg.Action != ActionSubscribe || msg.ResourceType != models.ResourceTypeBrand || msg.ResourceID != 42 {
		t.Errorf("unexpected message: %+v", msg)
	}
	ts.expectSilence(t, 150*time.Millisecond)

	if !reg.IsActive(models.ResourceTypeBrand, 42) {
		t.Error("subscription should be active")
	}
	if refs := reg.Refs(models.ResourceTypeBrand, 42); refs != 3 {
		t.Errorf("refs = %d, want 3", refs)
	}
}

func TestRegistryUnsubscribeIdempotent(t *testing.T) {
	ts := newTestServer(t)
	ch := connectedChannel(t, ts)
	reg := NewRegistry(ch)

	// Unsubscribe without a prior subscribe sends nothing and changes nothing.
	reg.Unsubscribe(models.ResourceTypeClient, 7)
	ts.expectSilence(t, 150*time.Millisecond)

	if reg.IsActive(models.ResourceTypeClient, 7) {
		t.Error("subscription should not exist")
	}
}

func TestRegistryReferenceCounting(t *testing.T) {
	ts := newTestServer(t)
	ch := connectedChannel(t, ts)
	reg := NewRegistry(ch)

	// Two views attach to the same key.
	reg.Subscribe(models.ResourceTypeBrand, 42)
	reg.Subscribe(models.ResourceTypeBrand, 42)
	ts.expectMessage(t) // the single subscribe

	// First view detaches: the network unsubscribe must not go out yet.
	reg.Unsubscribe(models.ResourceTypeBrand, 42)
	ts.expectSilence(t, 150*time.Millisecond)
	if !reg.IsActive(models.ResourceTypeBrand, 42) {
		t.Error("subscription should stay active while a view remains")
	}

	// Last view detaches: now the unsubscribe goes out.
	reg.Unsubscribe(models.ResourceTypeBrand, 42)
	msg := ts.expectMessage(t)
	if msg.Action != ActionUnsubscribe {
		t.Errorf("action = %q, want unsubscribe", msg.Action)
	}
	if reg.IsActive(models.ResourceTypeBrand, 42) {
		t.Error("subscription should be inactive")
	}
}

func TestRegistryResubscribeCycle(t *testing.T) {
	ts := newTestServer(t)
	ch := connectedChannel(t, ts)
	reg := NewRegistry(ch)

	reg.Subscribe(models.ResourceTypeKPISelection, 5)
	if got := ts.expectMessage(t); got.Action != ActionSubscribe {
		t.Fatalf("action = %q, want subscribe", got.Action)
	}
	reg.Unsubscribe(models.ResourceTypeKPISelection, 5)
	if got := ts.expectMessage(t); got.Action != ActionUnsubscribe {
		t.Fatalf("action = %q, want unsubscribe", got.Action)
	}

	// A fresh subscribe after a full cycle issues a new message.
	reg.Subscribe(models.ResourceTypeKPISelection, 5)
	if got := ts.expectMessage(t); got.Action != ActionSubscribe {
		t.Fatalf("action = %q, want subscribe", got.Action)
	}
}

func TestRegistryRejectsInvalidResources(t *testing.T) {
	ts := newTestServer(t)
	ch := connectedChannel(t, ts)
	reg := NewRegistry(ch)

	reg.Subscribe(models.ResourceType("dashboard"), 1)
	reg.Subscribe(models.ResourceTypeBrand, 0)
	reg.Subscribe(models.ResourceTypeBrand, -3)

	ts.expectSilence(t, 150*time.Millisecond)
}

func TestRegistrySubscribeWhileDisconnected(t *testing.T) {
	ts := newTestServer(t)
	ch := NewChannel(ChannelConfig{
		URL:               ts.wsURL(),
		ReconnectMinDelay: 20 * time.Millisecond,
		ReconnectMaxDelay: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = ch.Close() })
	reg := NewRegistry(ch)

	// Interest registered before the channel ever connects.
	reg.Subscribe(models.ResourceTypeBrand, 42)
	if reg.IsActive(models.ResourceTypeBrand, 42) {
		t.Error("subscription must not activate while disconnected")
	}
	if refs := reg.Refs(models.ResourceTypeBrand, 42); refs != 1 {
		t.Errorf("refs = %d, want 1", refs)
	}

	// Connecting replays the pending interest.
	if err := ch.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	msg := ts.expectMessage(t)
	if msg.Action != ActionSubscribe || msg.ResourceID != 42 {
		t.Errorf("unexpected replayed message: %+v", msg)
	}
	waitFor(t, time.Second, func() bool {
		return reg.IsActive(models.ResourceTypeBrand, 42)
	})
}

func TestRegistryInvalidatedOnDisconnect(t *testing.T) {
	ts := newTestServer(t)
	ch := connectedChannel(t, ts)
	reg := NewRegistry(ch)

	reg.Subscribe(models.ResourceTypeBrand, 42)
	ts.expectMessage(t)

	ts.dropClients()

	// The drop invalidates the active flag but keeps the interest; the
	// reconnect re-issues the subscribe without any caller involvement.
	msg := ts.expectMessage(t)
	if msg.Action != ActionSubscribe || msg.ResourceID != 42 {
		t.Errorf("unexpected resubscribe message: %+v", msg)
	}
	if refs := reg.Refs(models.ResourceTypeBrand, 42); refs != 1 {
		t.Errorf("refs = %d, want 1 after reconnect", refs)
	}
}
