// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "failed to parse JSON: %s", buf.String())
	return entry
}

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("authservice", "1.0.0", "json", &buf)

	logger.Info("session created", "session_id", "01ABC")

	entry := decode(t, &buf)
	assert.Equal(t, "session created", entry["msg"])
	assert.Equal(t, "authservice", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.Equal(t, "01ABC", entry["session_id"])
	assert.Contains(t, entry, "time")
	assert.Contains(t, entry, "level")
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("authservice", "1.0.0", "text", &buf)

	logger.Info("test message")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "service=authservice")
}

func TestSetup_DefaultFormatIsJSON(t *testing.T) {
	var buf bytes.Buffer
	Setup("authservice", "1.0.0", "", &buf).Info("test message")
	decode(t, &buf)
}

func TestSetup_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("authservice", "1.0.0", "json", &buf)
	logger.Debug("hidden")
	assert.Empty(t, buf.String(), "debug is off by default")

	logger = Setup("authservice", "1.0.0", "json", &buf, WithLevel(slog.LevelDebug))
	logger.Debug("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestSetup_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("authservice", "1.0.0", "json", &buf)

	logger.Info("login",
		"password", "hunter2",
		"refresh_token", "eyJ...",
		"signing_secret", "s3cr3t",
		"password_hash", "$2a$10$abc",
		"user_id", "01USER")

	entry := decode(t, &buf)
	assert.Equal(t, Redacted, entry["password"])
	assert.Equal(t, Redacted, entry["refresh_token"])
	assert.Equal(t, Redacted, entry["signing_secret"])
	assert.Equal(t, Redacted, entry["password_hash"])
	assert.Equal(t, "01USER", entry["user_id"])
	assert.NotContains(t, buf.String(), "hunter2")
}

func TestHandler_TraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("authservice", "1.0.0", "json", &buf)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	logger.InfoContext(ctx, "traced message")

	entry := decode(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestHandler_NoTraceContext(t *testing.T) {
	var buf bytes.Buffer
	Setup("authservice", "1.0.0", "json", &buf).Info("no trace message")

	entry := decode(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
}

func TestHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("authservice", "1.0.0", "json", &buf).
		With("component", "cleanup").
		WithGroup("run")

	logger.Info("done", "removed", 3)

	entry := decode(t, &buf)
	assert.Equal(t, "cleanup", entry["component"])
	run, ok := entry["run"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 3, run["removed"], 0)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	logger := SetDefault("authservice", "2.0.0", "json")
	assert.Same(t, logger, slog.Default())
}
