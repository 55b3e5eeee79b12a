// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

// Package store provides PostgreSQL connectivity and schema migrations for
// the auth service.
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// DefaultPingTimeout bounds the connectivity check made by Open.
const DefaultPingTimeout = 5 * time.Second

// PoolConfig tunes the connection pool. Zero values keep pgxpool defaults.
type PoolConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	PingTimeout     time.Duration
}

// Open creates a connection pool and verifies the database is reachable.
func Open(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	poolCfg, err := parsePoolConfig(cfg)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return pool, nil
}

func parsePoolConfig(cfg PoolConfig) (*pgxpool.Config, error) {
	if cfg.URL == "" {
		return nil, oops.Code("DB_CONFIG_INVALID").Errorf("database URL is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").With("operation", "parse database URL").Wrap(err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	return poolCfg, nil
}

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck adapts a Pinger to a readiness check. The check fails when
// the database does not answer within timeout.
func ReadinessCheck(p Pinger, timeout time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return oops.Code("DB_UNREACHABLE").Wrap(err)
		}
		return nil
	}
}
