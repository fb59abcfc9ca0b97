// Pulseboard - Marketing Analytics Dashboard
// Copyright 2026 Pulseboard contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pulseboardhq/pulseboard

package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
		{"WARN", zerolog.WarnLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("key", "value").Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"key":"value"`) {
		t.Errorf("expected structured field in output, got %q", out)
	}
	if !strings.Contains(out, `"message":"hello"`) {
		t.Errorf("expected message in output, got %q", out)
	}
}

func TestInitLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Msg("filtered")
	Warn().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "filtered") {
		t.Errorf("info message should have been filtered, got %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("warn message should have been kept, got %q", out)
	}
}

func TestNewTestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTestLogger(&buf)
	logger.Info().Msg("test")

	if !strings.Contains(buf.String(), "test") {
		t.Errorf("expected output, got %q", buf.String())
	}
}

func TestSlogHandlerWritesToZerolog(t *testing.T) {
	var buf bytes.Buffer
	handler := NewSlogHandlerWithLogger(NewTestLogger(&buf))
	logger := slog.New(handler)

	logger.Info("service started", "name", "websocket-hub", "restarts", int64(2))

	out := buf.String()
	if !strings.Contains(out, `"name":"websocket-hub"`) {
		t.Errorf("expected attr in output, got %q", out)
	}
	if !strings.Contains(out, `"restarts":2`) {
		t.Errorf("expected int attr in output, got %q", out)
	}
	if !strings.Contains(out, "service started") {
		t.Errorf("expected message in output, got %q", out)
	}
}

func TestSlogHandlerGroups(t *testing.T) {
	var buf bytes.Buffer
	handler := NewSlogHandlerWithLogger(NewTestLogger(&buf))
	logger := slog.New(handler).WithGroup("suture")

	logger.Warn("service failed", "service", "event-relay")

	if !strings.Contains(buf.String(), `"suture.service":"event-relay"`) {
		t.Errorf("expected grouped key, got %q", buf.String())
	}
}
