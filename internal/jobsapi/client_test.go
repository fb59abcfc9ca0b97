// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package jobsapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pulseboardhq/pulseboard/internal/logging"
	"github.com/pulseboardhq/pulseboard/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := NewClient(Config{BaseURL: srv.URL, RateLimit: 1000})
	return c, srv
}

func TestJobStatus(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/jobs/job-7" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("method = %q", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"job_id":"job-7","sync_type":"analytics","status":"running","progress":40,"current_step":"fetching sessions"}`))
	}))
	defer srv.Close()

	job, err := c.JobStatus(context.Background(), "job-7")
	if err != nil {
		t.Fatalf("JobStatus: %v", err)
	}
	if job.JobID != "job-7" || job.Status != models.JobStatusRunning || job.Progress != 40 {
		t.Errorf("unexpected job: %+v", job)
	}
	if job.Kind != models.SyncKindAnalytics {
		t.Errorf("kind = %q", job.Kind)
	}
}

func TestJobStatusNotFound(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := c.JobStatus(context.Background(), "gone"); err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestCancelJob(t *testing.T) {
	var gotPath, gotMethod string
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	if err := c.CancelJob(context.Background(), "job-3"); err != nil {
		t.Fatalf("CancelJob: %v", err)
	}
	if gotPath != "/api/v1/jobs/job-3/cancel" {
		t.Errorf("path = %q", gotPath)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %q", gotMethod)
	}
}

func TestCancelJobServerError(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	if err := c.CancelJob(context.Background(), "job-3"); err == nil {
		t.Fatal("expected error for 409 response")
	}
}

func TestListJobs(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/jobs" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jobs":[{"job_id":"a","sync_type":"rankings","status":"running","progress":10},{"job_id":"b","sync_type":"analytics","status":"completed","progress":100}]}`))
	}))
	defer srv.Close()

	jobs, err := c.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(jobs))
	}
	if jobs[0].JobID != "a" || jobs[1].Status != models.JobStatusCompleted {
		t.Errorf("unexpected jobs: %+v", jobs)
	}
}

func TestCircuitBreakerOpensOnRepeatedFailures(t *testing.T) {
	var hits int
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Drive enough failures to trip the breaker (>=10 requests, >=60% failed).
	for i := 0; i < 12; i++ {
		_, _ = c.JobStatus(context.Background(), "boom")
	}
	hitsBefore := hits

	// With the breaker open, requests fail fast without reaching the server.
	if _, err := c.JobStatus(context.Background(), "boom"); err == nil {
		t.Fatal("expected error with breaker open")
	}
	if hits != hitsBefore {
		t.Errorf("server hit while breaker open: %d -> %d", hitsBefore, hits)
	}
}

func TestContextCancellationAborts(t *testing.T) {
	block := make(chan struct{})
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.JobStatus(ctx, "job-1"); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
