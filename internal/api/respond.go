// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/pulseboardhq/pulseboard/internal/logging"
)

// Response is the envelope for every JSON reply.
type Response struct {
	Status    string      `json:"status"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError carries a stable machine-readable code plus a human message.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(&Response{
		Status:    "ok",
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logging.Error().Err(err).Msg("Failed to write JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string, err error) {
	if err != nil {
		logging.Error().Str("code", code).Err(err).Msg("API error")
	}

	w.Header().Set("Content-Type", "application/json")
	body, merr := json.Marshal(&Response{
		Status:    "error",
		Error:     &APIError{Code: code, Message: message},
		Timestamp: time.Now().UTC(),
	})
	if merr != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, werr := w.Write(body); werr != nil {
		logging.Error().Err(werr).Msg("Failed to write error response")
	}
}
