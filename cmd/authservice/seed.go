// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package main

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/hoanhao/authservice/internal/auth"
	"github.com/hoanhao/authservice/internal/auth/postgres"
	"github.com/hoanhao/authservice/internal/store"
)

// Default timeout for seed command.
const defaultSeedTimeout = 30 * time.Second

// seedRoles are created by the seed command. Registration requires USER.
var seedRoles = []auth.Role{
	{Name: auth.DefaultRole, Description: "Default role assigned at registration"},
	{Name: "ADMIN", Description: "Administrative access"},
}

// seedConfig holds configuration for the seed command.
type seedConfig struct {
	timeout time.Duration
}

// roleCreator is the part of the role repository seeding needs.
type roleCreator interface {
	Create(ctx context.Context, role *auth.Role) error
}

// NewSeedCmd creates the seed subcommand.
func NewSeedCmd() *cobra.Command {
	cfg := &seedConfig{}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed the built-in roles",
		Long: `Creates the USER and ADMIN roles. Registration fails until the USER
role exists. This command is idempotent - existing roles are left untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSeed(cmd, cfg)
		},
	}

	cmd.Flags().DurationVar(&cfg.timeout, "timeout", defaultSeedTimeout, "timeout for database operations (e.g., 30s, 1m)")

	return cmd
}

func runSeed(cmd *cobra.Command, cfg *seedConfig) error {
	appCfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	databaseURL, err := getDatabaseURL(appCfg)
	if err != nil {
		return err
	}

	// Use cmd.Context() to respect SIGINT/SIGTERM signals
	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()

	cmd.Println("Connecting to database...")
	pool, err := store.Open(ctx, store.PoolConfig{URL: databaseURL, MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	created, err := seedRolesWith(ctx, postgres.NewRoleRepository(pool), time.Now().UTC())
	if err != nil {
		return err
	}
	for _, name := range created {
		cmd.Printf("Created role: %s\n", name)
	}
	logger.Info("roles seeded", "created", created)
	cmd.Println("Seeding complete!")
	return nil
}

// seedRolesWith creates every missing seed role and returns the names it
// created.
func seedRolesWith(ctx context.Context, roles roleCreator, now time.Time) ([]string, error) {
	created := make([]string, 0, len(seedRoles))
	for _, r := range seedRoles {
		role := r
		role.ID = ulid.Make()
		role.CreatedAt = now
		err := roles.Create(ctx, &role)
		if errors.Is(err, auth.ErrDuplicate) {
			continue
		}
		if err != nil {
			return created, oops.Code("SEED_FAILED").With("role", role.Name).Wrap(err)
		}
		created = append(created, role.Name)
	}
	return created, nil
}
