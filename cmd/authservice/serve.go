// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/hoanhao/authservice/internal/auth"
	"github.com/hoanhao/authservice/internal/auth/postgres"
	"github.com/hoanhao/authservice/internal/config"
	"github.com/hoanhao/authservice/internal/mail"
	"github.com/hoanhao/authservice/internal/observability"
	"github.com/hoanhao/authservice/internal/profile"
	"github.com/hoanhao/authservice/internal/store"
	certs "github.com/hoanhao/authservice/internal/tls"
	"github.com/hoanhao/authservice/pkg/errutil"
)

const (
	readinessTimeout = 2 * time.Second
	shutdownTimeout  = 10 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the auth service",
		Long: `Connect to PostgreSQL, build the authentication service with its profile
and mail collaborators, run the scheduled session cleanup, and expose metrics
and health checks until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}

	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address (default: metrics_addr)")

	return cmd
}

// app holds everything serve builds. Close releases it in reverse order.
type app struct {
	pool       *pgxpool.Pool
	service    *auth.Service
	cleaner    *auth.SessionCleaner
	dispatcher *mail.Dispatcher
	obs        *observability.Server
	tracing    *sdktrace.TracerProvider
}

func (r *app) Close() {
	if r.cleaner != nil {
		r.cleaner.Stop()
	}
	if r.dispatcher != nil {
		r.dispatcher.Close()
	}
	if r.pool != nil {
		r.pool.Close()
	}
	if r.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := r.tracing.Shutdown(ctx); err != nil {
			slog.Warn("error shutting down tracer provider", "error", err)
		}
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL, _ = getDatabaseURL(cfg)
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	rt, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.cleaner.Start(ctx); err != nil {
		return err
	}

	if rt.obs != nil {
		obsErrCh, err := rt.obs.Start()
		if err != nil {
			return oops.Code("SERVE_FAILED").With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := rt.obs.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("Auth service started")
	logger.Info("auth service ready",
		"metrics_addr", cfg.MetricsAddr,
		"cleanup_schedule", cfg.Auth.CleanupSchedule,
		"mail_synchronous", cfg.Mail.Synchronous)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	return nil
}

// buildApp wires the repositories, collaborators, service and cleaner.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	rt := &app{tracing: observability.NewTracerProvider("authservice", version)}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	rt.pool, err = store.Open(ctx, store.PoolConfig{URL: cfg.DatabaseURL})
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")

	var reg prometheus.Registerer = prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		rt.obs = observability.NewServer(cfg.MetricsAddr,
			observability.WithReadiness(store.ReadinessCheck(rt.pool, readinessTimeout)),
			observability.WithServerLogger(logger),
			observability.WithBuildInfo(version, commit))
		reg = rt.obs.Registry()
	}
	metrics := auth.NewMetrics(reg)

	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		Secret:     []byte(cfg.Auth.SigningSecret),
		Issuer:     cfg.Auth.Issuer,
		AccessTTL:  cfg.Auth.AccessTokenTTL,
		RefreshTTL: cfg.Auth.RefreshTokenTTL,
	})
	if err != nil {
		return nil, err
	}

	profiles, err := profile.NewClient(profile.Config{
		Endpoint:   cfg.Profile.Endpoint,
		Timeout:    cfg.Profile.Timeout,
		MaxRetries: cfg.Profile.MaxRetries,
	}, profile.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	roots, err := certs.LoadCertPool(cfg.Mail.CAFile)
	if err != nil {
		return nil, err
	}
	sender, err := mail.NewSMTPSender(mail.SMTPConfig{
		Host:        cfg.Mail.Host,
		Port:        cfg.Mail.Port,
		Username:    cfg.Mail.Username,
		Password:    cfg.Mail.Password,
		FromAddress: cfg.Mail.FromAddress,
		ImplicitTLS: cfg.Mail.ImplicitTLS,
		RootCAs:     roots,
	})
	if err != nil {
		return nil, err
	}
	rt.dispatcher, err = mail.NewDispatcher(mail.DispatcherConfig{
		Synchronous: cfg.Mail.Synchronous,
		Workers:     cfg.Mail.Workers,
		QueueSize:   cfg.Mail.QueueSize,
	}, sender, mail.WithDispatcherLogger(logger), mail.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	mailer, err := mail.NewResetMailer(rt.dispatcher, cfg.Mail.ResetURL)
	if err != nil {
		return nil, err
	}

	sessions := postgres.NewSessionRepository(rt.pool)
	rt.service, err = auth.NewService(auth.ServiceDeps{
		Users:    postgres.NewUserRepository(rt.pool),
		Contacts: postgres.NewContactRepository(rt.pool),
		Roles:    postgres.NewRoleRepository(rt.pool),
		Sessions: sessions,
		Resets:   postgres.NewPasswordResetRepository(rt.pool),
		Attempts: postgres.NewLoginAttemptRepository(rt.pool),
		Tx:       postgres.NewTransactor(rt.pool),
		Hasher:   auth.NewBcryptHasher(cfg.Auth.PasswordHashCost),
		Tokens:   codec,
		Profiles: profiles,
		Notifier: mailer,
	},
		auth.WithLogger(logger),
		auth.WithMetrics(metrics),
		auth.WithTracerProvider(rt.tracing),
		auth.WithServiceConfig(auth.ServiceConfig{
			ResetTokenTTL:     cfg.Auth.ResetTokenTTL(),
			DependencyTimeout: cfg.Auth.DependencyTimeout,
		}))
	if err != nil {
		return nil, err
	}

	rt.cleaner, err = auth.NewSessionCleaner(auth.CleanupConfig{
		Schedule:  cfg.Auth.CleanupSchedule,
		Retention: cfg.Auth.SessionRetention(),
	}, sessions,
		auth.WithCleanerLogger(logger),
		auth.WithCleanerMetrics(metrics),
		auth.WithCleanerTracerProvider(rt.tracing))
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			errutil.LogError(slog.Default(), "server error, initiating shutdown", err, "server", name)
			cancel()
		}
	case <-ctx.Done():
	}
}
