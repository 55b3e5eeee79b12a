// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

// Package errutil holds helpers for logging and asserting oops errors.
package errutil

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/oops"
)

// Code returns the oops code carried by err, or "" when err has none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	switch code := oopsErr.Code().(type) {
	case nil:
		return ""
	case string:
		return code
	default:
		return fmt.Sprint(code)
	}
}

// LogError logs err at error level. For oops errors the code and context
// are logged as separate attributes.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	LogErrorContext(context.Background(), logger, msg, err, attrs...)
}

// LogErrorContext is LogError with a context, so trace ids are attached.
func LogErrorContext(ctx context.Context, logger *slog.Logger, msg string, err error, attrs ...any) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		logger.ErrorContext(ctx, msg, append(attrs, "error", err)...)
		return
	}

	attrs = append(attrs, "error", oopsErr.Error())
	if code := Code(err); code != "" {
		attrs = append(attrs, "code", code)
	}
	if ectx := oopsErr.Context(); len(ectx) > 0 {
		attrs = append(attrs, "context", ectx)
	}
	logger.ErrorContext(ctx, msg, attrs...)
}
