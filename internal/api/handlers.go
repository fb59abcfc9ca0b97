// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

// Package api provides the HTTP surface of the dashboard server: resource
// versioning, background sync jobs, share links, the websocket endpoint, and
// health/metrics.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/pulseboardhq/pulseboard/internal/events"
	"github.com/pulseboardhq/pulseboard/internal/jobs"
	"github.com/pulseboardhq/pulseboard/internal/logging"
	"github.com/pulseboardhq/pulseboard/internal/models"
	"github.com/pulseboardhq/pulseboard/internal/share"
	"github.com/pulseboardhq/pulseboard/internal/store"
	ws "github.com/pulseboardhq/pulseboard/internal/websocket"
)

// Handler bundles the server-side services behind the HTTP surface.
type Handler struct {
	versions *store.VersionStore
	bus      *events.Bus
	jobs     *jobs.Service
	hub      *ws.Hub
	shares   *share.Manager
	upgrader websocket.Upgrader
}

// NewHandler creates the API handler. shares may be nil when share links are
// disabled in config; the share endpoints then return 404.
func NewHandler(versions *store.VersionStore, bus *events.Bus, jobsSvc *jobs.Service, hub *ws.Hub, shares *share.Manager) *Handler {
	return &Handler{
		versions: versions,
		bus:      bus,
		jobs:     jobsSvc,
		hub:      hub,
		shares:   shares,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// resourceKeyFromURL parses the {type}/{id} path segments.
func resourceKeyFromURL(r *http.Request) (models.ResourceKey, bool) {
	rt := models.ResourceType(chi.URLParam(r, "type"))
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || !rt.Valid() || id <= 0 {
		return models.ResourceKey{}, false
	}
	return models.ResourceKey{Type: rt, ID: id}, true
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"state": "up"})
}

// TouchResource records an edit to a resource: the version is bumped and a
// staleness event is fanned out to subscribed dashboards.
func (h *Handler) TouchResource(w http.ResponseWriter, r *http.Request) {
	key, ok := resourceKeyFromURL(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_RESOURCE", "Unknown resource type or bad ID", nil)
		return
	}

	var body struct {
		UpdatedBy string `json:"updated_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UpdatedBy == "" {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "updated_by is required", err)
		return
	}

	ev, err := h.versions.Bump(r.Context(), key, body.UpdatedBy)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "VERSION_ERROR", "Failed to record resource update", err)
		return
	}

	if err := h.bus.PublishStaleness(r.Context(), ev); err != nil {
		// The bump is durable; the broadcast is best effort. Clients catch
		// up from the version endpoint on reconnect.
		logging.Error().Err(err).Str("resource", key.String()).Msg("failed to publish staleness")
	}

	respondJSON(w, http.StatusOK, ev)
}

// ResourceVersion returns the latest recorded version of a resource, or 404
// if it has never been edited.
func (h *Handler) ResourceVersion(w http.ResponseWriter, r *http.Request) {
	key, ok := resourceKeyFromURL(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "INVALID_RESOURCE", "Unknown resource type or bad ID", nil)
		return
	}

	ev, err := h.versions.Get(r.Context(), key)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "VERSION_ERROR", "Failed to read resource version", err)
		return
	}
	if ev == nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource has no recorded version", nil)
		return
	}
	respondJSON(w, http.StatusOK, ev)
}

// StartJob launches a background sync job.
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind models.SyncKind `json:"sync_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "Body must name a sync_type", err)
		return
	}

	jobID, err := h.jobs.Start(r.Context(), body.Kind)
	switch {
	case errors.Is(err, jobs.ErrUnknownKind):
		respondError(w, http.StatusBadRequest, "UNKNOWN_SYNC_TYPE", err.Error(), nil)
		return
	case errors.Is(err, jobs.ErrAlreadyRunning):
		respondError(w, http.StatusConflict, "ALREADY_RUNNING", err.Error(), nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "JOB_ERROR", "Failed to start job", err)
		return
	}

	job, err := h.jobs.Status(jobID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "JOB_ERROR", "Failed to read job", err)
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

// JobStatus returns one job's snapshot. The polling clients hit this every
// couple of seconds while a job is live, so it stays a straight map read.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Status(chi.URLParam(r, "job_id"))
	if errors.Is(err, jobs.ErrUnknownJob) {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Unknown job", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "JOB_ERROR", "Failed to read job", err)
		return
	}
	// Raw body, no envelope: this is the shape the polling client decodes.
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(job); err != nil {
		logging.Error().Err(err).Msg("Failed to write job status")
	}
}

// ListJobs returns all known jobs in the polling client's wire shape.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	list := h.jobs.List()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"jobs": list}); err != nil {
		logging.Error().Err(err).Msg("Failed to write job list")
	}
}

// CancelJob requests cooperative cancellation of a job.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	err := h.jobs.Cancel(chi.URLParam(r, "job_id"))
	switch {
	case errors.Is(err, jobs.ErrUnknownJob):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Unknown job", nil)
	case errors.Is(err, jobs.ErrJobNotCancelable):
		respondError(w, http.StatusConflict, "ALREADY_FINISHED", err.Error(), nil)
	case err != nil:
		respondError(w, http.StatusInternalServerError, "JOB_ERROR", "Failed to cancel job", err)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

// CreateShare issues a share-link token for one resource.
func (h *Handler) CreateShare(w http.ResponseWriter, r *http.Request) {
	if h.shares == nil {
		respondError(w, http.StatusNotFound, "SHARES_DISABLED", "Share links are not configured", nil)
		return
	}

	var body struct {
		ResourceType models.ResourceType `json:"resource_type"`
		ResourceID   int64               `json:"resource_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_BODY", "Body must name a resource", err)
		return
	}

	token, err := h.shares.Issue(models.ResourceKey{Type: body.ResourceType, ID: body.ResourceID})
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_RESOURCE", "Cannot share that resource", err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"token": token})
}

// ResolveShare verifies a share token and returns the resource it grants.
func (h *Handler) ResolveShare(w http.ResponseWriter, r *http.Request) {
	if h.shares == nil {
		respondError(w, http.StatusNotFound, "SHARES_DISABLED", "Share links are not configured", nil)
		return
	}

	key, err := h.shares.Verify(chi.URLParam(r, "token"))
	switch {
	case errors.Is(err, share.ErrTokenExpired):
		respondError(w, http.StatusGone, "TOKEN_EXPIRED", "Share link has expired", nil)
	case err != nil:
		respondError(w, http.StatusUnauthorized, "TOKEN_INVALID", "Share link is not valid", nil)
	default:
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"resource_type": key.Type,
			"resource_id":   key.ID,
		})
	}
}

// WebSocket upgrades the connection and hands it to the hub.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("WebSocket upgrade error")
		return
	}

	client := ws.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}
