// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

// Package models defines the shared domain types for the live
// synchronization layer: resource identities, staleness events, and
// background sync jobs.
package models

import (
	"fmt"
	"time"
)

// ResourceType identifies a category of shared, live-editable resource.
type ResourceType string

// Resource types that support live subscriptions.
const (
	ResourceTypeClient       ResourceType = "client"
	ResourceTypeBrand        ResourceType = "brand"
	ResourceTypeKPISelection ResourceType = "kpi_selection"
)

// Valid reports whether t is one of the known resource types.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceTypeClient, ResourceTypeBrand, ResourceTypeKPISelection:
		return true
	}
	return false
}

// ResourceKey uniquely identifies a live-editable resource.
type ResourceKey struct {
	Type ResourceType
	ID   int64
}

// String returns the canonical "type:id" form, e.g. "brand:42".
func (k ResourceKey) String() string {
	return fmt.Sprintf("%s:%d", k.Type, k.ID)
}

// StalenessEvent records that a watched resource was mutated elsewhere.
// The version is assigned by the resource's authority and increases
// monotonically per resource.
type StalenessEvent struct {
	ResourceType ResourceType `json:"resource_type"`
	ResourceID   int64        `json:"resource_id"`
	UpdatedBy    string       `json:"updated_by"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Version      int64        `json:"version"`
}

// Key returns the resource key the event refers to.
func (e StalenessEvent) Key() ResourceKey {
	return ResourceKey{Type: e.ResourceType, ID: e.ResourceID}
}
