// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

// Package connector talks to external data connector services. A connector
// pulls one marketing data source (analytics, search console, rankings, AI
// visibility) into the warehouse and reports which dashboard resources the
// pull changed. The Runner in this package adapts a connector run into a
// background sync job.
package connector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/pulseboardhq/pulseboard/internal/logging"
	"github.com/pulseboardhq/pulseboard/internal/models"
)

// Run states reported by a connector.
const (
	StateRunning = "running"
	StateDone    = "done"
	StateError   = "error"
)

// ChangedResource identifies one resource a connector run touched.
type ChangedResource struct {
	ResourceType models.ResourceType `json:"resource_type"`
	ResourceID   int64               `json:"resource_id"`
}

// RunStatus is a connector's report on one run.
type RunStatus struct {
	RunID    string            `json:"run_id"`
	State    string            `json:"state"`
	Progress int               `json:"progress"`
	Step     string            `json:"step,omitempty"`
	Error    string            `json:"error,omitempty"`
	Changed  []ChangedResource `json:"changed,omitempty"`
}

// ClientConfig holds connector client settings.
type ClientConfig struct {
	// BaseURL is the connector service root.
	BaseURL string

	// RequestTimeout bounds each HTTP request. Default: 30s.
	RequestTimeout time.Duration
}

// Client is a thin HTTP client for one connector service.
type Client struct {
	baseURL string
	httpc   *http.Client
	cb      *gobreaker.CircuitBreaker[*RunStatus]
}

// NewClient creates a connector client. The circuit breaker opens after 60%
// failures over at least 5 requests, with a 30 second cooldown; connectors
// are polled every few seconds during a run so a dead service trips fast.
func NewClient(cfg ClientConfig) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[*RunStatus](gobreaker.Settings{
		Name:        "connector",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("connector circuit breaker state change")
		},
	})

	return &Client{
		baseURL: cfg.BaseURL,
		httpc:   &http.Client{Timeout: cfg.RequestTimeout},
		cb:      cb,
	}
}

// StartRun asks the connector to begin pulling the given source.
func (c *Client) StartRun(ctx context.Context, kind models.SyncKind) (*RunStatus, error) {
	url := fmt.Sprintf("%s/v1/sync/%s", c.baseURL, kind)
	status, err := c.do(ctx, http.MethodPost, url)
	if err != nil {
		return nil, fmt.Errorf("start %s run: %w", kind, err)
	}
	return status, nil
}

// RunStatus fetches the state of a run started earlier.
func (c *Client) RunStatus(ctx context.Context, kind models.SyncKind, runID string) (*RunStatus, error) {
	url := fmt.Sprintf("%s/v1/sync/%s/%s", c.baseURL, kind, runID)
	status, err := c.do(ctx, http.MethodGet, url)
	if err != nil {
		return nil, fmt.Errorf("run status %s/%s: %w", kind, runID, err)
	}
	return status, nil
}

func (c *Client) do(ctx context.Context, method, url string) (*RunStatus, error) {
	return c.cb.Execute(func() (*RunStatus, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		var status RunStatus
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return nil, fmt.Errorf("decode run status: %w", err)
		}
		return &status, nil
	})
}
