// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

//go:build integration

package cli_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

var _ = Describe("Migrate and seed commands", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		cleanupDatabase(ctx, env.pool)
	})

	It("reports pending migrations on a fresh database", func() {
		output, err := runCLI(ctx, "migrate", "status")
		Expect(err).NotTo(HaveOccurred(), "status failed: %s", output)
		Expect(output).To(ContainSubstring("Current version: none"))
		Expect(output).To(ContainSubstring("000001_create_auth_schema"))
	})

	It("applies migrations and reports up to date", func() {
		output, err := runCLI(ctx, "migrate", "up")
		Expect(err).NotTo(HaveOccurred(), "migrate failed: %s", output)
		Expect(output).To(ContainSubstring("Migrations completed successfully"))

		output, err = runCLI(ctx, "migrate", "status")
		Expect(err).NotTo(HaveOccurred(), "status failed: %s", output)
		Expect(output).To(ContainSubstring("up to date"))
	})

	It("seeds the built-in roles idempotently", func() {
		output, err := runCLI(ctx, "migrate")
		Expect(err).NotTo(HaveOccurred(), "migrate failed: %s", output)

		output, err = runCLI(ctx, "seed")
		Expect(err).NotTo(HaveOccurred(), "first seed failed: %s", output)
		Expect(output).To(ContainSubstring("Created role: USER"))
		Expect(output).To(ContainSubstring("Created role: ADMIN"))

		output, err = runCLI(ctx, "seed")
		Expect(err).NotTo(HaveOccurred(), "second seed failed: %s", output)
		Expect(output).NotTo(ContainSubstring("Created role"))
		Expect(output).To(ContainSubstring("Seeding complete!"))

		var count int
		Expect(env.pool.QueryRow(ctx, "SELECT COUNT(*) FROM role").Scan(&count)).To(Succeed())
		Expect(count).To(Equal(2))
	})

	It("runs a cleanup sweep", func() {
		output, err := runCLI(ctx, "migrate")
		Expect(err).NotTo(HaveOccurred(), "migrate failed: %s", output)

		output, err = runCLI(ctx, "cleanup")
		Expect(err).NotTo(HaveOccurred(), "cleanup failed: %s", output)
		Expect(output).To(ContainSubstring("Removed 0 session(s)"))
	})

	It("rolls back with migrate down --all", func() {
		output, err := runCLI(ctx, "migrate")
		Expect(err).NotTo(HaveOccurred(), "migrate failed: %s", output)

		output, err = runCLI(ctx, "migrate", "down", "--all")
		Expect(err).NotTo(HaveOccurred(), "down failed: %s", output)

		var exists bool
		Expect(env.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'session')`,
		).Scan(&exists)).To(Succeed())
		Expect(exists).To(BeFalse())
	})
})
