// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Cleanup defaults.
const (
	DefaultCleanupSchedule  = "0 1 * * *" // daily at 01:00
	DefaultSessionRetention = 30 * 24 * time.Hour
)

// CleanupConfig defines when session cleanup runs and how long inactive
// sessions are retained.
type CleanupConfig struct {
	Schedule  string        // standard 5-field cron expression
	Retention time.Duration // inactive sessions older than this are purged
	Location  *time.Location
}

// DefaultCleanupConfig returns the default cleanup configuration.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		Schedule:  DefaultCleanupSchedule,
		Retention: DefaultSessionRetention,
		Location:  time.Local,
	}
}

// SessionCleaner periodically purges revoked and expired sessions.
type SessionCleaner struct {
	cfg      CleanupConfig
	schedule cron.Schedule
	sessions SessionRepository
	logger   *slog.Logger
	clock    func() time.Time
	metrics  *Metrics
	tracer   trace.Tracer

	mu   sync.Mutex
	cron *cron.Cron
	done chan struct{}
}

// CleanerOption configures a SessionCleaner.
type CleanerOption func(*SessionCleaner)

// WithCleanerLogger sets the cleaner logger.
func WithCleanerLogger(logger *slog.Logger) CleanerOption {
	return func(c *SessionCleaner) {
		c.logger = logger
	}
}

// WithCleanerClock overrides the cleaner time source.
func WithCleanerClock(clock func() time.Time) CleanerOption {
	return func(c *SessionCleaner) {
		c.clock = clock
	}
}

// WithCleanerMetrics sets the metrics the cleaner records into.
func WithCleanerMetrics(m *Metrics) CleanerOption {
	return func(c *SessionCleaner) {
		c.metrics = m
	}
}

// NewSessionCleaner creates a SessionCleaner. The schedule is parsed eagerly
// so a bad expression fails at startup.
func NewSessionCleaner(cfg CleanupConfig, sessions SessionRepository, opts ...CleanerOption) (*SessionCleaner, error) {
	if sessions == nil {
		return nil, oops.Code("CLEANUP_INVALID_DEPS").Errorf("session repository is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultCleanupSchedule
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultSessionRetention
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	schedule, err := cron.ParseStandard(cfg.Schedule)
	if err != nil {
		return nil, oops.Code("CLEANUP_INVALID_SCHEDULE").With("schedule", cfg.Schedule).Wrap(err)
	}

	c := &SessionCleaner{
		cfg:      cfg,
		schedule: schedule,
		sessions: sessions,
		logger:   slog.Default(),
		clock:    time.Now,
		tracer:   defaultTracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RunOnce purges sessions revoked or expired before now minus the retention
// period and returns the number removed.
func (c *SessionCleaner) RunOnce(ctx context.Context) (removed int64, err error) {
	threshold := c.clock().Add(-c.cfg.Retention)

	ctx, span := c.tracer.Start(ctx, "auth.session_cleanup",
		trace.WithAttributes(attribute.String("auth.cleanup.threshold", threshold.UTC().Format(time.RFC3339))))
	defer func() {
		span.SetAttributes(attribute.Int64("auth.cleanup.removed", removed))
		endSpan(span, err)
	}()

	removed, err = c.sessions.PurgeInactiveBefore(ctx, threshold)
	if err != nil {
		if c.metrics != nil {
			c.metrics.CleanupRuns.WithLabelValues("error").Inc()
		}
		return 0, oops.Code("CLEANUP_FAILED").With("threshold", threshold).Wrap(err)
	}

	if c.metrics != nil {
		c.metrics.CleanupRuns.WithLabelValues("ok").Inc()
		c.metrics.SessionsPurged.Add(float64(removed))
	}
	c.logger.InfoContext(ctx, "session cleanup completed",
		"removed", removed,
		"threshold", threshold)
	return removed, nil
}

// Next returns the next scheduled run after t.
func (c *SessionCleaner) Next(t time.Time) time.Time {
	return c.schedule.Next(t.In(c.cfg.Location))
}

// Start schedules cleanup runs until ctx is cancelled or Stop is called.
// Failed runs are logged and retried at the next scheduled time.
func (c *SessionCleaner) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return oops.Code("CLEANUP_ALREADY_RUNNING").Errorf("session cleaner already started")
	}

	c.cron = cron.New(
		cron.WithLocation(c.cfg.Location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.cron.Schedule(c.schedule, cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.RunOnce(ctx); err != nil {
			c.logger.ErrorContext(ctx, "session cleanup failed", "error", err)
		}
	}))
	c.cron.Start()

	done := make(chan struct{})
	c.done = done
	go func() {
		select {
		case <-ctx.Done():
			c.Stop()
		case <-done:
		}
	}()

	c.logger.Info("session cleaner started",
		"schedule", c.cfg.Schedule,
		"retention", c.cfg.Retention.String(),
		"next_run", c.Next(c.clock()))
	return nil
}

// Stop stops scheduling and waits for an in-flight run to finish.
func (c *SessionCleaner) Stop() {
	c.mu.Lock()
	sched, done := c.cron, c.done
	c.cron, c.done = nil, nil
	c.mu.Unlock()

	if sched == nil {
		return
	}
	close(done)
	<-sched.Stop().Done()
}
