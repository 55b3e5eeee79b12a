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

// RoleRepository implements auth.RoleRepository using PostgreSQL.
type RoleRepository struct {
	pool Pool
}

// NewRoleRepository creates a new RoleRepository.
func NewRoleRepository(pool Pool) *RoleRepository {
	return &RoleRepository{pool: pool}
}

// GetByName retrieves a role by name.
func (r *RoleRepository) GetByName(ctx context.Context, name string) (*auth.Role, error) {
	var (
		idStr string
		role  auth.Role
	)
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, name, description, created_at
		FROM role
		WHERE name = $1
	`, name).Scan(&idStr, &role.Name, &role.Description, &role.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ROLE_NOT_FOUND").With("name", name).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ROLE_GET_FAILED").With("operation", "get role by name").With("name", name).Wrap(err)
	}

	role.ID, err = parseULID(idStr, "role_id")
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// Create stores a role.
func (r *RoleRepository) Create(ctx context.Context, role *auth.Role) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO role (id, name, description, created_at)
		VALUES ($1, $2, $3, $4)
	`, role.ID.String(), role.Name, role.Description, role.CreatedAt)
	if isUniqueViolation(err) {
		return oops.Code("ROLE_DUPLICATE").With("name", role.Name).Wrap(auth.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("ROLE_CREATE_FAILED").With("operation", "insert role").With("name", role.Name).Wrap(err)
	}
	return nil
}

// Assign grants a role to a user. Re-assigning an existing grant is a no-op.
func (r *RoleRepository) Assign(ctx context.Context, userID, roleID ulid.ULID, at time.Time) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO user_role (user_id, role_id, assigned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, role_id) DO NOTHING
	`, userID.String(), roleID.String(), at)
	if err != nil {
		return oops.Code("ROLE_ASSIGN_FAILED").
			With("operation", "insert user_role").
			With("user_id", userID.String()).
			With("role_id", roleID.String()).
			Wrap(err)
	}
	return nil
}

// NamesForUser lists the names of roles granted to a user, sorted.
func (r *RoleRepository) NamesForUser(ctx context.Context, userID ulid.ULID) ([]string, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT r.name
		FROM user_role ur
		JOIN role r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name
	`, userID.String())
	if err != nil {
		return nil, oops.Code("ROLE_LIST_FAILED").With("operation", "list user roles").With("user_id", userID.String()).Wrap(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, oops.Code("ROLE_SCAN_FAILED").With("operation", "scan role name").Wrap(err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ROLE_LIST_FAILED").With("operation", "iterate user roles").Wrap(err)
	}
	return names, nil
}

var _ auth.RoleRepository = (*RoleRepository)(nil)
