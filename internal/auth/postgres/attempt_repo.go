// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package postgres

import (
	"context"

	"github.com/samber/oops"

	"github.com/hoanhao/authservice/internal/auth"
)

// LoginAttemptRepository implements auth.LoginAttemptRepository using PostgreSQL.
type LoginAttemptRepository struct {
	pool Pool
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository.
func NewLoginAttemptRepository(pool Pool) *LoginAttemptRepository {
	return &LoginAttemptRepository{pool: pool}
}

// Record stores an attempt.
func (r *LoginAttemptRepository) Record(ctx context.Context, attempt *auth.LoginAttempt) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO login_attempt (id, user_id, ip_address, user_agent, successful, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		attempt.ID.String(),
		ulidToStringPtr(attempt.UserID),
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.Successful,
		attempt.AttemptedAt,
	)
	if err != nil {
		return oops.Code("LOGIN_ATTEMPT_RECORD_FAILED").
			With("operation", "insert login_attempt").
			With("successful", attempt.Successful).
			Wrap(err)
	}
	return nil
}

var _ auth.LoginAttemptRepository = (*LoginAttemptRepository)(nil)
