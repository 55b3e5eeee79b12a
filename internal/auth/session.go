// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// UnknownClient is stored when the caller's ip or user agent is unavailable.
const UnknownClient = "unknown"

// Session binds a refresh token to a user.
//
// A session is active iff RevokedAt is nil and ExpiresAt is in the future.
// Only the SHA-256 of the refresh token is persisted.
type Session struct {
	ID               ulid.ULID
	UserID           ulid.ULID
	RefreshTokenHash string
	IPAddress        string
	UserAgent        string
	ExpiresAt        time.Time
	CreatedAt        time.Time
	RevokedAt        *time.Time
}

// NewSession creates a validated Session for a freshly issued refresh token.
// Empty ip or user agent values are recorded as UnknownClient.
func NewSession(userID ulid.ULID, refreshToken, ipAddress, userAgent string, expiresAt, now time.Time) (*Session, error) {
	if userID.Compare(ulid.ULID{}) == 0 {
		return nil, oops.Code("SESSION_INVALID_USER").Errorf("user ID cannot be zero")
	}
	if refreshToken == "" {
		return nil, oops.Code("SESSION_INVALID_TOKEN").Errorf("refresh token cannot be empty")
	}
	if expiresAt.IsZero() {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").Errorf("expiry time cannot be zero")
	}
	if !expiresAt.After(now) {
		return nil, oops.Code("SESSION_INVALID_EXPIRY").
			With("expires_at", expiresAt).
			Errorf("expiry must be in the future")
	}

	return &Session{
		ID:               ulid.Make(),
		UserID:           userID,
		RefreshTokenHash: HashToken(refreshToken),
		IPAddress:        orUnknown(ipAddress),
		UserAgent:        orUnknown(userAgent),
		ExpiresAt:        expiresAt,
		CreatedAt:        now,
	}, nil
}

// IsRevoked reports whether the session has been revoked.
func (s *Session) IsRevoked() bool {
	return s.RevokedAt != nil
}

// IsExpiredAt returns true if the session is expired at t.
func (s *Session) IsExpiredAt(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}

// IsActiveAt returns true if the session is neither revoked nor expired at t.
func (s *Session) IsActiveAt(t time.Time) bool {
	return !s.IsRevoked() && !s.IsExpiredAt(t)
}

// HashToken computes the hex SHA-256 of a refresh or reset token.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownClient
	}
	return s
}

// SessionRepository manages session persistence.
type SessionRepository interface {
	// Create stores a new session.
	Create(ctx context.Context, session *Session) error

	// GetByRefreshTokenHash retrieves a session by refresh token hash. Inside
	// a transaction the row is locked until commit.
	GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*Session, error)

	// Revoke sets RevokedAt if it is not already set. Returns true when this
	// call performed the transition and false when the session was already
	// revoked. Revoking a missing session returns ErrNotFound.
	Revoke(ctx context.Context, id ulid.ULID, at time.Time) (bool, error)

	// RevokeAllForUser revokes every active session of a user and returns the
	// number of sessions revoked.
	RevokeAllForUser(ctx context.Context, userID ulid.ULID, at time.Time) (int64, error)

	// ListActiveForUser returns the sessions of a user active at now, newest first.
	ListActiveForUser(ctx context.Context, userID ulid.ULID, now time.Time) ([]*Session, error)

	// PurgeInactiveBefore deletes sessions revoked or expired before threshold
	// and returns the count removed.
	PurgeInactiveBefore(ctx context.Context, threshold time.Time) (int64, error)
}
