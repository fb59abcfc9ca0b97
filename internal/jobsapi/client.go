// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

// Package jobsapi implements the HTTP client for the sync-job endpoints.
// It satisfies jobtrack.API, wrapping every request in a circuit breaker so
// a struggling server sheds polling load, plus a client-side rate limiter.
package jobsapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/pulseboardhq/pulseboard/internal/logging"
	"github.com/pulseboardhq/pulseboard/internal/metrics"
	"github.com/pulseboardhq/pulseboard/internal/models"
)

// Config holds jobs API client settings.
type Config struct {
	// BaseURL is the server root, e.g. "https://dash.example.com".
	BaseURL string

	// RequestTimeout bounds each HTTP request. Default: 10s.
	RequestTimeout time.Duration

	// RateLimit is the request budget per second. Default: 10.
	RateLimit float64
}

// Client is the jobs API client. Safe for concurrent use.
type Client struct {
	baseURL string
	httpc   *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[any]
}

// NewClient creates a jobs API client.
//
// Breaker settings: opens after 60% failures over at least 10 requests in a
// one-minute window, allows 3 trial requests after a 30 second cooldown.
func NewClient(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "jobs-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRate >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.JobsAPIBreakerState.Set(breakerStateValue(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("jobs api circuit breaker state change")
		},
	})

	return &Client{
		baseURL: cfg.BaseURL,
		httpc:   &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)),
		cb:      cb,
	}
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// JobStatus fetches the current state of one job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*models.SyncJob, error) {
	var job models.SyncJob
	url := fmt.Sprintf("%s/api/v1/jobs/%s", c.baseURL, jobID)
	if err := c.getJSON(ctx, url, &job); err != nil {
		return nil, fmt.Errorf("job status %s: %w", jobID, err)
	}
	return &job, nil
}

// CancelJob requests termination of a job. A non-2xx response is an error;
// the caller reconciles local state regardless.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	url := fmt.Sprintf("%s/api/v1/jobs/%s/cancel", c.baseURL, jobID)

	_, err := c.cb.Execute(func() (any, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, err
		}
		defer drainAndClose(resp.Body)

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	return nil
}

// ListJobs returns all jobs in the caller's scope.
func (c *Client) ListJobs(ctx context.Context) ([]models.SyncJob, error) {
	var list struct {
		Jobs []models.SyncJob `json:"jobs"`
	}
	url := c.baseURL + "/api/v1/jobs"
	if err := c.getJSON(ctx, url, &list); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return list.Jobs, nil
}

// getJSON performs a rate-limited, breaker-protected GET and decodes the
// JSON response into out.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	_, err := c.cb.Execute(func() (any, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, err
		}
		defer drainAndClose(resp.Body)

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return nil, nil
	})
	return err
}

// drainAndClose empties the body so the connection can be reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
