// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/hoanhao/authservice/internal/store"
)

// NewMigrateCmd creates the migrate command and its subcommands.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Apply, roll back, and inspect the embedded schema migrations against
the PostgreSQL database. Running migrate without a subcommand applies all
pending migrations.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	cmd.AddCommand(newMigrateStatusCmd())
	cmd.AddCommand(newMigrateForceCmd())

	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				if err := m.Up(); err != nil {
					return err
				}
				cmd.Println("Migrations completed successfully")
				return nil
			})
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	var (
		steps int
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long:  `Roll back the given number of migrations (default 1), or all of them with --all.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 && !all {
				return oops.Code("INVALID_STEPS").With("steps", steps).Errorf("steps must be at least 1")
			}
			return withMigrator(cmd, func(m *store.Migrator) error {
				if all {
					if err := m.Down(); err != nil {
						return err
					}
					cmd.Println("All migrations rolled back")
					return nil
				}
				if err := m.Steps(-steps); err != nil {
					return err
				}
				cmd.Printf("Rolled back %d migration(s)\n", steps)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.Flags().BoolVar(&all, "all", false, "roll back every migration")
	return cmd
}

func newMigrateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current migration version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(m *store.Migrator) error {
				status, err := m.Status()
				if err != nil {
					return err
				}
				cmd.Print(formatMigrationStatus(status))
				return nil
			})
		},
	}
}

func newMigrateForceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Force the migration version without running migrations",
		Long: `Set the recorded migration version and clear the dirty flag. Use this
to recover after a failed migration has been repaired by hand.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			return withMigrator(cmd, func(m *store.Migrator) error {
				if err := m.Force(version); err != nil {
					return err
				}
				cmd.Printf("Forced migration version to %d\n", version)
				return nil
			})
		},
	}
}

// withMigrator opens a migrator for the configured database and runs fn.
func withMigrator(cmd *cobra.Command, fn func(*store.Migrator) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	databaseURL, err := getDatabaseURL(cfg)
	if err != nil {
		return err
	}

	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() { _ = m.Close() }()

	if err := fn(m); err != nil {
		return oops.Code("MIGRATION_FAILED").Wrap(err)
	}
	return nil
}

// parseForceVersion parses a migration version. Parsing stops at the first
// non-digit, so "3abc" is 3.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return version, nil
}

func formatMigrationStatus(s store.MigrationStatus) string {
	var b strings.Builder
	current := "none"
	if s.Current > 0 {
		current = fmt.Sprintf("%d", s.Current)
		if name, err := store.MigrationName(s.Current); err == nil && name != "" {
			current = name
		}
	}
	fmt.Fprintf(&b, "Current version: %s\n", current)
	fmt.Fprintf(&b, "Latest version:  %d\n", s.Latest)
	if s.Dirty {
		b.WriteString("State:           DIRTY (run 'migrate force' after repairing)\n")
	}
	if s.UpToDate() {
		b.WriteString("Status:          up to date\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Pending:         %d migration(s)\n", len(s.Pending))
	for _, v := range s.Pending {
		name, err := store.MigrationName(v)
		if err != nil || name == "" {
			name = fmt.Sprintf("%d", v)
		}
		fmt.Fprintf(&b, "  - %s\n", name)
	}
	return b.String()
}
