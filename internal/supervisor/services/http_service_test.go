// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package services

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

// mockServer scripts ListenAndServe/Shutdown behavior.
type mockServer struct {
	mu          sync.Mutex
	listenErr   error
	shutdownErr error
	shutdowns   int
	release     chan struct{}
}

func newMockServer() *mockServer {
	return &mockServer{release: make(chan struct{})}
}

func (m *mockServer) ListenAndServe() error {
	<-m.release
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listenErr
}

func (m *mockServer) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shutdowns++
	err := m.shutdownErr
	m.mu.Unlock()
	close(m.release)
	return err
}

func TestHTTPServiceGracefulShutdown(t *testing.T) {
	srv := newMockServer()
	srv.listenErr = http.ErrServerClosed

	svc := NewHTTPServerService(srv, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.shutdowns != 1 {
		t.Errorf("shutdowns = %d, want 1", srv.shutdowns)
	}
}

func TestHTTPServiceStartupFailure(t *testing.T) {
	srv := newMockServer()
	srv.listenErr = errors.New("listen tcp: address already in use")
	close(srv.release)

	svc := NewHTTPServerService(srv, time.Second)
	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, srv.listenErr) {
		t.Errorf("Serve = %v, want wrapped listen error", err)
	}
}

func TestHubServiceDelegates(t *testing.T) {
	called := make(chan struct{})
	hub := contextHubFunc(func(ctx context.Context) error {
		close(called)
		<-ctx.Done()
		return ctx.Err()
	})

	svc := NewHubService(hub)
	if svc.String() != "websocket-hub" {
		t.Errorf("String = %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("hub never started")
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

type contextHubFunc func(ctx context.Context) error

func (f contextHubFunc) RunWithContext(ctx context.Context) error {
	return f(ctx)
}
