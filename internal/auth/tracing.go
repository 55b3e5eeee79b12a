// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package auth

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "authservice/auth"

// WithTracerProvider sets the provider the service starts spans from.
// Defaults to the global provider.
func WithTracerProvider(tp trace.TracerProvider) ServiceOption {
	return func(s *Service) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// WithCleanerTracerProvider sets the provider the cleaner starts spans from.
func WithCleanerTracerProvider(tp trace.TracerProvider) CleanerOption {
	return func(c *SessionCleaner) {
		c.tracer = tp.Tracer(tracerName)
	}
}

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// startOperation opens the span for an orchestrator call. The returned
// function must be deferred with the call's named error.
func (s *Service) startOperation(ctx context.Context, operation string) (context.Context, func(error)) {
	ctx, span := s.tracer.Start(ctx, "auth."+operation,
		trace.WithAttributes(attribute.String("auth.operation", operation)))
	return ctx, func(err error) {
		s.metrics.observe(operation, err)
		endSpan(span, err)
	}
}

func endSpan(span trace.Span, err error) {
	span.SetAttributes(attribute.String("auth.result", resultLabel(err)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
