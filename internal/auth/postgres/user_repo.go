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

const userColumns = `id, username, password_hash, is_active, is_verified, created_at, updated_at, last_login_at`

// UserRepository implements auth.UserRepository using PostgreSQL.
type UserRepository struct {
	pool Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Create stores a new user.
func (r *UserRepository) Create(ctx context.Context, user *auth.User) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO "user" (id, username, password_hash, is_active, is_verified, created_at, updated_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		user.ID.String(),
		user.Username,
		user.PasswordHash,
		user.Active,
		user.Verified,
		user.CreatedAt,
		user.UpdatedAt,
		user.LastLoginAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("USER_DUPLICATE").
			With("username", user.DisplayName()).
			Wrap(auth.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.User, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM "user"
		WHERE id = $1
	`, id.String())

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("operation", "get user by id").With("id", id.String()).Wrap(err)
	}
	return user, nil
}

// GetByIdentifier retrieves the user whose username, email, or phone number
// matches identifier exactly. Username matches take precedence; ties among
// contact matches resolve to the oldest account.
func (r *UserRepository) GetByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM "user" u
		WHERE u.username = $1
		   OR u.id IN (SELECT user_id FROM user_emails WHERE email = $1)
		   OR u.id IN (
		       SELECT user_id FROM user_phone_numbers
		       WHERE phone_number = $1 OR country_code || phone_number = $1
		   )
		ORDER BY (u.username = $1) DESC NULLS LAST, u.id
		LIMIT 1
	`, identifier)

	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("USER_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("USER_GET_FAILED").With("operation", "get user by identifier").Wrap(err)
	}
	return user, nil
}

// UsernameExists reports whether a username is registered.
func (r *UserRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM "user" WHERE username = $1)`, username).Scan(&exists)
	if err != nil {
		return false, oops.Code("USER_EXISTS_FAILED").With("operation", "check username").Wrap(err)
	}
	return exists, nil
}

// UpdatePassword replaces the password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, at time.Time) error {
	return r.update(ctx, "update password", id,
		`UPDATE "user" SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id.String(), passwordHash, at)
}

// UpdateLastLogin sets the last login timestamp.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error {
	return r.update(ctx, "update last login", id,
		`UPDATE "user" SET last_login_at = $2 WHERE id = $1`,
		id.String(), at)
}

// SetActive sets the active flag.
func (r *UserRepository) SetActive(ctx context.Context, id ulid.ULID, active bool, at time.Time) error {
	return r.update(ctx, "set active", id,
		`UPDATE "user" SET is_active = $2, updated_at = $3 WHERE id = $1`,
		id.String(), active, at)
}

// Delete removes a user. Emails, phones, roles, sessions, and reset tokens
// cascade; login attempts keep their row with a null user.
func (r *UserRepository) Delete(ctx context.Context, id ulid.ULID) error {
	return r.update(ctx, "delete user", id, `DELETE FROM "user" WHERE id = $1`, id.String())
}

func (r *UserRepository) update(ctx context.Context, operation string, id ulid.ULID, sql string, args ...any) error {
	result, err := conn(ctx, r.pool).Exec(ctx, sql, args...)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", operation).
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("USER_NOT_FOUND").With("id", id.String()).Wrap(auth.ErrNotFound)
	}
	return nil
}

// scanUser scans a single row into a User.
// Callers are responsible for handling pgx.ErrNoRows.
func scanUser(row pgx.Row) (*auth.User, error) {
	var (
		idStr string
		user  auth.User
	)
	err := row.Scan(
		&idStr,
		&user.Username,
		&user.PasswordHash,
		&user.Active,
		&user.Verified,
		&user.CreatedAt,
		&user.UpdatedAt,
		&user.LastLoginAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err //nolint:wrapcheck // callers wrap with context-specific info
		}
		return nil, oops.Code("USER_SCAN_FAILED").With("operation", "scan user").Wrap(err)
	}

	user.ID, err = parseULID(idStr, "user_id")
	if err != nil {
		return nil, err
	}
	return &user, nil
}

var _ auth.UserRepository = (*UserRepository)(nil)
