// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// NewTracerProvider returns a tracer provider that samples every span and
// installs it as the global provider. Spans are not exported; they exist so
// log records written inside an operation share its trace and span ids.
// Callers shut the provider down on exit.
func NewTracerProvider(service, version string) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(
		semconv.ServiceName(service),
		semconv.ServiceVersion(version),
	)
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp
}
