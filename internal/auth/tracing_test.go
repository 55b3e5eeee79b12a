// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package auth_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hoanhao/authservice/internal/auth"
	"github.com/hoanhao/authservice/internal/auth/authtest"
	"github.com/hoanhao/authservice/internal/logging"
)

func newRecordingProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, recorder
}

// logLines decodes JSON log output keyed by message.
func logLines(t *testing.T, buf *bytes.Buffer) map[string]map[string]any {
	t.Helper()
	lines := make(map[string]map[string]any)
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		msg, _ := entry["msg"].(string)
		lines[msg] = entry
	}
	require.NoError(t, scanner.Err())
	return lines
}

func spanNamed(t *testing.T, recorder *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, span := range recorder.Ended() {
		if span.Name() == name {
			return span
		}
	}
	require.Failf(t, "span not recorded", "no ended span named %q", name)
	return nil
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) string {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestService_SpansCorrelateWithLogs(t *testing.T) {
	tp, recorder := newRecordingProvider(t)
	var buf bytes.Buffer
	logger := logging.Setup("authservice", "test", "json", &buf)

	store := authtest.NewStore()
	store.SeedRole(auth.DefaultRole)
	profiles := &mockProfiles{}
	profiles.On("CreateProfile", mock.Anything, mock.Anything).Return(nil).Once()
	svc := newServiceOn(t, store, profiles, auth.WithLogger(logger), auth.WithTracerProvider(tp))

	ctx := context.Background()
	_, err := svc.Register(ctx, auth.RegisterRequest{
		Username: "tracey",
		Email:    "tracey@example.com",
		Password: "Tr4ce-me-please",
		FullName: "Tracey Span",
	})
	require.NoError(t, err)
	_, err = svc.Login(ctx, auth.LoginRequest{Identifier: "tracey", Password: "Tr4ce-me-please"})
	require.NoError(t, err)

	lines := logLines(t, &buf)
	for msg, spanName := range map[string]string{
		"user registered": "auth.register",
		"user logged in":  "auth.login",
	} {
		entry, ok := lines[msg]
		require.True(t, ok, "missing log line %q", msg)

		span := spanNamed(t, recorder, spanName)
		assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"], msg)
		assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"], msg)
		assert.Equal(t, "ok", spanAttr(span, "auth.result"))
		assert.Equal(t, codes.Unset, span.Status().Code)
	}
	profiles.AssertExpectations(t)
}

func TestService_FailedOperationMarksSpan(t *testing.T) {
	tp, recorder := newRecordingProvider(t)
	store := authtest.NewStore()
	svc := newServiceOn(t, store, &mockProfiles{}, auth.WithTracerProvider(tp))

	_, err := svc.Login(context.Background(), auth.LoginRequest{Identifier: "nobody", Password: "whatever-1A"})
	require.Error(t, err)

	span := spanNamed(t, recorder, "auth.login")
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Equal(t, auth.CodeInvalidCredentials, spanAttr(span, "auth.result"))
	assert.Equal(t, auth.OpLogin, spanAttr(span, "auth.operation"))
	require.NotEmpty(t, span.Events())
	assert.Equal(t, "exception", span.Events()[0].Name)
}

func TestSessionCleaner_RunOnceRecordsSpan(t *testing.T) {
	now := time.Date(2026, 6, 1, 1, 0, 0, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		tp, recorder := newRecordingProvider(t)
		store := authtest.NewStore()
		_, stale := seedSessions(t, store, now)

		cleaner, err := auth.NewSessionCleaner(auth.DefaultCleanupConfig(), store.Sessions(),
			auth.WithCleanerClock(func() time.Time { return now }),
			auth.WithCleanerTracerProvider(tp))
		require.NoError(t, err)

		_, err = cleaner.RunOnce(context.Background())
		require.NoError(t, err)

		span := spanNamed(t, recorder, "auth.session_cleanup")
		assert.Equal(t, codes.Unset, span.Status().Code)
		assert.Equal(t, "ok", spanAttr(span, "auth.result"))
		assert.Equal(t, attribute.Int64Value(int64(len(stale))).Emit(), spanAttr(span, "auth.cleanup.removed"))
	})

	t.Run("failure", func(t *testing.T) {
		tp, recorder := newRecordingProvider(t)
		store := authtest.NewStore()
		store.Fail("sessions.PurgeInactiveBefore", errors.New("connection refused"))

		cleaner, err := auth.NewSessionCleaner(auth.DefaultCleanupConfig(), store.Sessions(),
			auth.WithCleanerTracerProvider(tp))
		require.NoError(t, err)

		_, err = cleaner.RunOnce(context.Background())
		require.Error(t, err)

		span := spanNamed(t, recorder, "auth.session_cleanup")
		assert.Equal(t, codes.Error, span.Status().Code)
		assert.Equal(t, "CLEANUP_FAILED", spanAttr(span, "auth.result"))
	})
}
