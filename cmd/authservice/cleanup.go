// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/hoanhao/authservice/internal/auth"
	"github.com/hoanhao/authservice/internal/auth/postgres"
	"github.com/hoanhao/authservice/internal/store"
)

const defaultCleanupTimeout = 5 * time.Minute

// NewCleanupCmd creates the cleanup subcommand.
func NewCleanupCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Purge revoked and expired sessions once",
		Long: `Runs a single session cleanup sweep, removing sessions that were
revoked or expired longer ago than the configured retention period.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			databaseURL, err := getDatabaseURL(cfg)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			pool, err := store.Open(ctx, store.PoolConfig{URL: databaseURL, MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			cleaner, err := auth.NewSessionCleaner(auth.CleanupConfig{
				Schedule:  cfg.Auth.CleanupSchedule,
				Retention: cfg.Auth.SessionRetention(),
			}, postgres.NewSessionRepository(pool), auth.WithCleanerLogger(logger))
			if err != nil {
				return err
			}

			removed, err := cleaner.RunOnce(ctx)
			if err != nil {
				return err
			}
			cmd.Printf("Removed %d session(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", defaultCleanupTimeout, "timeout for the sweep")
	return cmd
}
