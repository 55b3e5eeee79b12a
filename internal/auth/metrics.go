// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Operation labels.
const (
	OpLogin          = "login"
	OpRefresh        = "refresh"
	OpLogout         = "logout"
	OpRegister       = "register"
	OpChangePassword = "change_password"
	OpForgotPassword = "forgot_password"
	OpResetPassword  = "reset_password"
	OpDeactivate     = "deactivate"
)

// Metrics for authentication operations and session cleanup.
type Metrics struct {
	// Operations counts orchestrator calls by operation and result, where
	// result is "ok", a taxonomy code, or "error".
	Operations *prometheus.CounterVec

	// SessionsPurged counts sessions removed by cleanup sweeps.
	SessionsPurged prometheus.Counter

	// CleanupRuns counts cleanup sweeps by result.
	CleanupRuns *prometheus.CounterVec
}

// NewMetrics creates auth metrics registered with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authservice_auth_operations_total",
			Help: "Total number of authentication operations by operation and result",
		}, []string{"operation", "result"}),
		SessionsPurged: factory.NewCounter(prometheus.CounterOpts{
			Name: "authservice_sessions_purged_total",
			Help: "Total number of inactive sessions removed by cleanup",
		}),
		CleanupRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authservice_cleanup_runs_total",
			Help: "Total number of session cleanup runs by result",
		}, []string{"result"}),
	}
}

// observe records the outcome of an operation.
func (m *Metrics) observe(operation string, err error) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := ErrorCode(err); code != "" {
		return code
	}
	return "error"
}
