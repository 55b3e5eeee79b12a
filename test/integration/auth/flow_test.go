// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

//go:build integration

package auth_test

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/hoanhao/authservice/internal/auth"
)

func register(ctx context.Context, username string) *auth.User {
	GinkgoHelper()
	user, err := env.service.Register(ctx, auth.RegisterRequest{
		Username:    username,
		Email:       username + "@example.test",
		Password:    "initial-password",
		FullName:    "Integration " + username,
		DateOfBirth: "1990-01-01",
	})
	Expect(err).NotTo(HaveOccurred())
	return user
}

func login(ctx context.Context, identifier, password string) auth.TokenPair {
	GinkgoHelper()
	pair, err := env.service.Login(ctx, auth.LoginRequest{Identifier: identifier, Password: password})
	Expect(err).NotTo(HaveOccurred())
	return pair
}

var _ = Describe("Registration", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		env.profileOK.Store(true)
	})

	It("creates an account with the default role", func() {
		user := register(ctx, "reg_alice")

		pair := login(ctx, "reg_alice", "initial-password")
		claims, err := env.service.Authenticate(ctx, pair.AccessToken)
		Expect(err).NotTo(HaveOccurred())
		Expect(claims.UserID).To(Equal(user.ID.String()))
		Expect(claims.Roles).To(ConsistOf(auth.DefaultRole))
	})

	It("rejects a taken username", func() {
		register(ctx, "reg_bob")

		_, err := env.service.Register(ctx, auth.RegisterRequest{
			Username: "reg_bob",
			Email:    "other@example.test",
			Password: "whatever-password",
		})
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeUsernameTaken))
	})

	It("removes the account when the profile service refuses it", func() {
		env.profileOK.Store(false)

		_, err := env.service.Register(ctx, auth.RegisterRequest{
			Username: "reg_carol",
			Email:    "reg_carol@example.test",
			Password: "initial-password",
		})
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeDependencyUnavailable))

		var count int
		Expect(env.pool.QueryRow(ctx, `SELECT COUNT(*) FROM "user" WHERE username = 'reg_carol'`).
			Scan(&count)).To(Succeed())
		Expect(count).To(BeZero())

		env.profileOK.Store(true)
		register(ctx, "reg_carol")
	})
})

var _ = Describe("Login", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		env.profileOK.Store(true)
	})

	It("accepts username, email, and phone number", func() {
		_, err := env.service.Register(ctx, auth.RegisterRequest{
			Username:    "login_dave",
			Email:       "dave@example.test",
			Password:    "dave-password",
			CountryCode: "+84",
			PhoneNumber: "901234567",
		})
		Expect(err).NotTo(HaveOccurred())

		for _, identifier := range []string{"login_dave", "dave@example.test", "901234567", "+84901234567"} {
			pair := login(ctx, identifier, "dave-password")
			Expect(pair.RefreshToken).NotTo(BeEmpty(), "identifier %q", identifier)
		}
	})

	It("rejects a wrong password and an unknown identifier alike", func() {
		register(ctx, "login_erin")

		_, err := env.service.Login(ctx, auth.LoginRequest{Identifier: "login_erin", Password: "nope"})
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeInvalidCredentials))

		_, err = env.service.Login(ctx, auth.LoginRequest{Identifier: "login_nobody", Password: "nope"})
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeInvalidCredentials))
	})
})

var _ = Describe("Refresh", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		env.profileOK.Store(true)
	})

	It("rotates the refresh token and revokes the old one", func() {
		register(ctx, "refresh_frank")
		first := login(ctx, "refresh_frank", "initial-password")

		second, err := env.service.RefreshToken(ctx, first.RefreshToken)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.RefreshToken).NotTo(Equal(first.RefreshToken))

		_, err = env.service.RefreshToken(ctx, first.RefreshToken)
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeTokenRevoked))

		_, err = env.service.RefreshToken(ctx, second.RefreshToken)
		Expect(err).NotTo(HaveOccurred())
	})

	It("lets exactly one concurrent refresh win", func() {
		register(ctx, "refresh_grace")
		pair := login(ctx, "refresh_grace", "initial-password")

		const racers = 6
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			wins    int
			revoked int
		)
		for range racers {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := env.service.RefreshToken(ctx, pair.RefreshToken)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case auth.ErrorCode(err) == auth.CodeTokenRevoked:
					revoked++
				}
			}()
		}
		wg.Wait()

		Expect(wins).To(Equal(1))
		Expect(revoked).To(Equal(racers - 1))
	})

	It("treats logout as idempotent", func() {
		register(ctx, "refresh_heidi")
		pair := login(ctx, "refresh_heidi", "initial-password")

		Expect(env.service.Logout(ctx, pair.RefreshToken)).To(Succeed())
		Expect(env.service.Logout(ctx, pair.RefreshToken)).To(Succeed())

		_, err := env.service.RefreshToken(ctx, pair.RefreshToken)
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeTokenRevoked))
	})
})

var _ = Describe("Password reset", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		env.profileOK.Store(true)
	})

	It("resets the password once and revokes every session", func() {
		user := register(ctx, "reset_ivan")
		pair := login(ctx, "reset_ivan", "initial-password")

		Expect(env.service.ForgotPassword(ctx, "reset_ivan@example.test")).To(Succeed())
		token := env.outbox.lastResetToken("reset_ivan@example.test")
		Expect(token).NotTo(BeEmpty())

		Expect(env.service.ResetPassword(ctx, auth.ResetPasswordRequest{
			Token:       token,
			NewPassword: "brand-new-password",
		})).To(Succeed())

		active, err := env.service.ListActiveSessions(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(active).To(BeEmpty())

		_, err = env.service.RefreshToken(ctx, pair.RefreshToken)
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeTokenRevoked))

		_, err = env.service.Login(ctx, auth.LoginRequest{Identifier: "reset_ivan", Password: "initial-password"})
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeInvalidCredentials))
		login(ctx, "reset_ivan", "brand-new-password")

		err = env.service.ResetPassword(ctx, auth.ResetPasswordRequest{Token: token, NewPassword: "again-password"})
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeTokenUsed))
	})

	It("redeems a token only once under concurrency", func() {
		register(ctx, "reset_judy")
		Expect(env.service.ForgotPassword(ctx, "reset_judy")).To(Succeed())
		token := env.outbox.lastResetToken("reset_judy@example.test")
		Expect(token).NotTo(BeEmpty())

		const racers = 5
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
			used int
		)
		for range racers {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				err := env.service.ResetPassword(ctx, auth.ResetPasswordRequest{
					Token:       token,
					NewPassword: "raced-password",
				})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case auth.ErrorCode(err) == auth.CodeTokenUsed:
					used++
				}
			}()
		}
		wg.Wait()

		Expect(wins).To(Equal(1))
		Expect(used).To(Equal(racers - 1))
	})

	It("reports an unknown identifier", func() {
		err := env.service.ForgotPassword(ctx, "nobody@example.test")
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeUserNotFound))
	})
})

var _ = Describe("Session cleanup", func() {
	It("purges revoked sessions past retention", func() {
		ctx := context.Background()
		register(ctx, "cleanup_kim")
		pair := login(ctx, "cleanup_kim", "initial-password")
		Expect(env.service.Logout(ctx, pair.RefreshToken)).To(Succeed())

		removed, err := env.cleaner.RunOnce(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed).To(BeNumerically(">=", 1))

		err = env.service.Logout(ctx, pair.RefreshToken)
		Expect(auth.ErrorCode(err)).To(Equal(auth.CodeSessionNotFound))
	})
})
