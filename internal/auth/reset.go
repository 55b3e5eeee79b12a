// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Reset token configuration.
const (
	ResetTokenBytes      = 32 // 32 bytes = 64 hex chars
	DefaultResetTokenTTL = 15 * time.Minute
)

// PasswordResetToken is a single-use, time-limited reset credential.
// It is usable iff UsedAt is nil and ExpiresAt is in the future.
type PasswordResetToken struct {
	ID        ulid.ULID
	UserID    ulid.ULID
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	UsedAt    *time.Time
}

// NewPasswordResetToken creates a validated PasswordResetToken.
func NewPasswordResetToken(userID ulid.ULID, tokenHash string, expiresAt, now time.Time) (*PasswordResetToken, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("RESET_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if tokenHash == "" {
		return nil, oops.Code("RESET_INVALID_HASH").Errorf("token hash cannot be empty")
	}
	if !expiresAt.After(now) {
		return nil, oops.Code("RESET_INVALID_EXPIRY").Errorf("expiry must be in the future")
	}
	return &PasswordResetToken{
		ID:        ulid.Make(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// IsUsed reports whether the token has been redeemed.
func (r *PasswordResetToken) IsUsed() bool {
	return r.UsedAt != nil
}

// IsExpiredAt returns true if the token is expired at t.
func (r *PasswordResetToken) IsExpiredAt(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

// GenerateResetToken creates a high-entropy opaque token and its hash.
// Returns (plaintext_token, sha256_hash, error).
// The plaintext token is mailed to the user; the hash is stored.
func GenerateResetToken() (token, hash string, err error) {
	tokenBytes := make([]byte, ResetTokenBytes)
	if _, err = rand.Read(tokenBytes); err != nil {
		return "", "", oops.Code("RESET_TOKEN_GENERATE_FAILED").
			With("requested_bytes", ResetTokenBytes).
			Wrap(err)
	}
	token = hex.EncodeToString(tokenBytes)
	return token, HashToken(token), nil
}

// PasswordResetRepository manages reset token persistence.
type PasswordResetRepository interface {
	// Create stores a new reset token.
	Create(ctx context.Context, reset *PasswordResetToken) error

	// GetByTokenHash retrieves a reset token by hash. Inside a transaction
	// the row is locked until commit.
	GetByTokenHash(ctx context.Context, tokenHash string) (*PasswordResetToken, error)

	// MarkUsed sets UsedAt if it is not already set. Returns false when the
	// token had already been used.
	MarkUsed(ctx context.Context, id ulid.ULID, at time.Time) (bool, error)
}
