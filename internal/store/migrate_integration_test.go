// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

//go:build integration

package store_test

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hoanhao/authservice/internal/store"
)

var _ = Describe("Migrator", Ordered, func() {
	var (
		ctx       context.Context
		container *postgres.PostgresContainer
		connStr   string
		migrator  *store.Migrator
	)

	BeforeAll(func() {
		ctx = context.Background()
		var err error
		container, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("auth_test"),
			postgres.WithUsername("auth"),
			postgres.WithPassword("auth"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2)),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err = container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		migrator, err = store.NewMigrator(connStr)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if migrator != nil {
			Expect(migrator.Close()).To(Succeed())
		}
		if container != nil {
			Expect(container.Terminate(ctx)).To(Succeed())
		}
	})

	It("starts with every migration pending", func() {
		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Current).To(BeZero())
		Expect(status.Pending).NotTo(BeEmpty())
	})

	It("creates the auth schema", func() {
		Expect(migrator.Up()).To(Succeed())

		status, err := migrator.Status()
		Expect(err).NotTo(HaveOccurred())
		Expect(status.UpToDate()).To(BeTrue())

		pool, err := store.Open(ctx, store.PoolConfig{URL: connStr})
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		for _, table := range []string{
			"user", "session", "password_reset_token", "role", "user_role",
			"user_emails", "user_phone_numbers", "login_attempt", "oauth_provider",
		} {
			var exists bool
			Expect(pool.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
			).Scan(&exists)).To(Succeed())
			Expect(exists).To(BeTrue(), "table %s", table)
		}
	})

	It("is idempotent", func() {
		Expect(migrator.Up()).To(Succeed())
	})

	It("rolls back cleanly", func() {
		Expect(migrator.Down()).To(Succeed())

		pool, err := pgxpool.New(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		var exists bool
		Expect(pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'session')`,
		).Scan(&exists)).To(Succeed())
		Expect(exists).To(BeFalse())

		Expect(migrator.Up()).To(Succeed())
	})
})
