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

const sessionColumns = `id, user_id, refresh_token_hash, ip_address, user_agent, expires_at, created_at, revoked_at`

// SessionRepository implements auth.SessionRepository using PostgreSQL.
type SessionRepository struct {
	pool Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

// Create stores a new session.
func (r *SessionRepository) Create(ctx context.Context, session *auth.Session) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO session (id, user_id, refresh_token_hash, ip_address, user_agent, expires_at, created_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		session.ID.String(),
		session.UserID.String(),
		session.RefreshTokenHash,
		session.IPAddress,
		session.UserAgent,
		session.ExpiresAt,
		session.CreatedAt,
		session.RevokedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("SESSION_DUPLICATE").With("user_id", session.UserID.String()).Wrap(auth.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("SESSION_CREATE_FAILED").
			With("operation", "insert session").
			With("user_id", session.UserID.String()).
			Wrap(err)
	}
	return nil
}

// GetByRefreshTokenHash retrieves a session by refresh token hash. Inside a
// transaction the row is locked FOR UPDATE so concurrent refreshes of the
// same token serialize.
func (r *SessionRepository) GetByRefreshTokenHash(ctx context.Context, tokenHash string) (*auth.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM session WHERE refresh_token_hash = $1`
	if inTx(ctx) {
		query += ` FOR UPDATE`
	}

	session, err := scanSession(conn(ctx, r.pool).QueryRow(ctx, query, tokenHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").With("operation", "get session by token hash").Wrap(err)
	}
	return session, nil
}

// Revoke sets revoked_at if it is still null. The conditional update makes
// the transition happen at most once.
func (r *SessionRepository) Revoke(ctx context.Context, id ulid.ULID, at time.Time) (bool, error) {
	q := conn(ctx, r.pool)
	result, err := q.Exec(ctx, `
		UPDATE session SET revoked_at = $2
		WHERE id = $1 AND revoked_at IS NULL
	`, id.String(), at)
	if err != nil {
		return false, oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "revoke session").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM session WHERE id = $1)`, id.String()).Scan(&exists); err != nil {
		return false, oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "check session").
			With("id", id.String()).
			Wrap(err)
	}
	if !exists {
		return false, oops.Code("SESSION_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return false, nil
}

// RevokeAllForUser revokes every active session of a user.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID ulid.ULID, at time.Time) (int64, error) {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE session SET revoked_at = $2
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
	`, userID.String(), at)
	if err != nil {
		return 0, oops.Code("SESSION_REVOKE_ALL_FAILED").
			With("operation", "revoke user sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// ListActiveForUser returns the sessions of a user active at now, newest first.
func (r *SessionRepository) ListActiveForUser(ctx context.Context, userID ulid.ULID, now time.Time) ([]*auth.Session, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+sessionColumns+`
		FROM session
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC
	`, userID.String(), now)
	if err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").
			With("operation", "list active sessions").
			With("user_id", userID.String()).
			Wrap(err)
	}
	defer rows.Close()

	var sessions []*auth.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SESSION_LIST_FAILED").With("operation", "iterate sessions").Wrap(err)
	}
	return sessions, nil
}

// PurgeInactiveBefore deletes sessions revoked or expired before threshold.
func (r *SessionRepository) PurgeInactiveBefore(ctx context.Context, threshold time.Time) (int64, error) {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM session
		WHERE revoked_at < $1 OR expires_at < $1
	`, threshold)
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").
			With("operation", "purge inactive sessions").
			With("threshold", threshold).
			Wrap(err)
	}
	return result.RowsAffected(), nil
}

// scanSession scans a single row into a Session.
// Callers are responsible for handling pgx.ErrNoRows.
func scanSession(row pgx.Row) (*auth.Session, error) {
	var (
		idStr, userIDStr string
		session          auth.Session
	)
	err := row.Scan(
		&idStr,
		&userIDStr,
		&session.RefreshTokenHash,
		&session.IPAddress,
		&session.UserAgent,
		&session.ExpiresAt,
		&session.CreatedAt,
		&session.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("SESSION_SCAN_FAILED").With("operation", "scan session").Wrap(err)
	}

	if session.ID, err = parseULID(idStr, "session_id"); err != nil {
		return nil, err
	}
	if session.UserID, err = parseULID(userIDStr, "user_id"); err != nil {
		return nil, err
	}
	return &session, nil
}

var _ auth.SessionRepository = (*SessionRepository)(nil)
