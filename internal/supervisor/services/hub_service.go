// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package services

import (
	"context"
)

// ContextHub matches *websocket.Hub's RunWithContext method without
// importing the websocket package.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// HubService wraps the websocket hub as a supervised service. The hub's
// RunWithContext already follows the suture pattern; this wrapper only adds
// the name used in supervisor logs.
type HubService struct {
	hub ContextHub
}

// NewHubService creates a hub service wrapper.
func NewHubService(hub ContextHub) *HubService {
	return &HubService{hub: hub}
}

// Serve implements suture.Service.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

// String implements fmt.Stringer for supervisor logs.
func (s *HubService) String() string {
	return "websocket-hub"
}
