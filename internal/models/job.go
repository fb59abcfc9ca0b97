// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package models

// JobStatus is the lifecycle state of a background sync job.
type JobStatus string

// Job lifecycle states. Pending and running are non-terminal; the rest
// are terminal and remove the job from any active tracking set.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status ends a job's lifecycle.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// SyncKind identifies what category of upstream data a job synchronizes.
type SyncKind string

// Sync categories matching the configured upstream providers.
const (
	SyncKindAnalytics     SyncKind = "analytics"
	SyncKindSearchConsole SyncKind = "search_console"
	SyncKindRankings      SyncKind = "rankings"
	SyncKindAIVisibility  SyncKind = "ai_visibility"
)

// Valid reports whether k is one of the known sync categories.
func (k SyncKind) Valid() bool {
	switch k {
	case SyncKindAnalytics, SyncKindSearchConsole, SyncKindRankings, SyncKindAIVisibility:
		return true
	}
	return false
}

// SyncJob is the wire representation of a background sync job, shared by
// the job status endpoint and the client-side tracker.
type SyncJob struct {
	JobID       string    `json:"job_id"`
	Kind        SyncKind  `json:"sync_type"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	CurrentStep string    `json:"current_step,omitempty"`
}
