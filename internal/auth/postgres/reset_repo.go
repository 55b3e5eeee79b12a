// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hoanhao/authservice/internal/auth"
)

// PasswordResetRepository implements auth.PasswordResetRepository using PostgreSQL.
type PasswordResetRepository struct {
	pool Pool
}

// NewPasswordResetRepository creates a new PasswordResetRepository.
func NewPasswordResetRepository(pool Pool) *PasswordResetRepository {
	return &PasswordResetRepository{pool: pool}
}

// Create stores a new reset token.
func (r *PasswordResetRepository) Create(ctx context.Context, reset *auth.PasswordResetToken) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO password_reset_token (id, user_id, token_hash, expires_at, created_at, used_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, reset.ID.String(), reset.UserID.String(), reset.TokenHash, reset.ExpiresAt, reset.CreatedAt, reset.UsedAt)
	if isUniqueViolation(err) {
		return oops.Code("RESET_DUPLICATE").With("user_id", reset.UserID.String()).Wrap(auth.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("RESET_CREATE_FAILED").
			With("operation", "insert password_reset_token").
			With("user_id", reset.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByTokenHash retrieves a reset token by hash, locking the row when
// called inside a transaction.
func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*auth.PasswordResetToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, created_at, used_at
		FROM password_reset_token
		WHERE token_hash = $1`
	if inTx(ctx) {
		query += ` FOR UPDATE`
	}

	var (
		idStr, userIDStr string
		reset            auth.PasswordResetToken
	)
	err := conn(ctx, r.pool).QueryRow(ctx, query, tokenHash).
		Scan(&idStr, &userIDStr, &reset.TokenHash, &reset.ExpiresAt, &reset.CreatedAt, &reset.UsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("RESET_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("RESET_GET_FAILED").With("operation", "get reset token by hash").Wrap(err)
	}

	if reset.ID, err = parseULID(idStr, "reset_id"); err != nil {
		return nil, err
	}
	if reset.UserID, err = parseULID(userIDStr, "user_id"); err != nil {
		return nil, err
	}
	return &reset, nil
}

// MarkUsed sets used_at if it is still null.
func (r *PasswordResetRepository) MarkUsed(ctx context.Context, id ulid.ULID, at time.Time) (bool, error) {
	q := conn(ctx, r.pool)
	result, err := q.Exec(ctx, `
		UPDATE password_reset_token SET used_at = $2
		WHERE id = $1 AND used_at IS NULL
	`, id.String(), at)
	if err != nil {
		return false, oops.Code("RESET_MARK_USED_FAILED").
			With("operation", "mark reset token used").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM password_reset_token WHERE id = $1)`, id.String()).Scan(&exists); err != nil {
		return false, oops.Code("RESET_MARK_USED_FAILED").
			With("operation", "check reset token").
			With("id", id.String()).
			Wrap(err)
	}
	if !exists {
		return false, oops.Code("RESET_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return false, nil
}

var _ auth.PasswordResetRepository = (*PasswordResetRepository)(nil)
