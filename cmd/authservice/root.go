// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package main

import (
	"log/slog"
	"os"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/hoanhao/authservice/internal/config"
	"github.com/hoanhao/authservice/internal/logging"
	"github.com/hoanhao/authservice/internal/xdg"
)

const serviceName = "authservice"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the authservice CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authservice",
		Short: "authservice - authentication and session lifecycle",
		Long: `authservice issues and rotates JWT access and refresh tokens, manages
user sessions and password resets, and keeps account state in PostgreSQL.`,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default $XDG_CONFIG_HOME/authservice/config.yaml when present)")
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL connection URL (default: database_url or DATABASE_URL)")
	cmd.PersistentFlags().String("log-format", "json", "log format (json or text)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSeedCmd())
	cmd.AddCommand(NewCleanupCmd())

	return cmd
}

// loadConfig reads the layered configuration for cmd and installs the
// default logger.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	path := configFile
	if path == "" {
		found, err := xdg.FindConfigFile()
		if err != nil {
			return nil, nil, err
		}
		path = found
	}
	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, nil, oops.Code("CONFIG_INVALID").
			With("log_format", cfg.LogFormat).
			Errorf("log format must be 'json' or 'text'")
	}
	logger := logging.SetDefault(serviceName, version, cfg.LogFormat,
		logging.WithLevel(logging.ParseLevel(cfg.LogLevel)))
	return cfg, logger, nil
}

// getDatabaseURL returns the configured database URL, falling back to the
// DATABASE_URL environment variable.
func getDatabaseURL(cfg *config.Config) (string, error) {
	if cfg != nil && cfg.DatabaseURL != "" {
		return cfg.DatabaseURL, nil
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url, nil
	}
	return "", oops.Code("CONFIG_INVALID").Errorf("database_url or DATABASE_URL is required")
}
