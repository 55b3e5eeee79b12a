// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package auth

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// DefaultRole is assigned to every newly registered user.
const DefaultRole = "USER"

// Visibility controls who may see a contact entry.
type Visibility string

// Contact visibilities.
const (
	VisibilityPrivate Visibility = "PRIVATE"
	VisibilityPublic  Visibility = "PUBLIC"
)

// User is an account.
type User struct {
	ID           ulid.ULID
	Username     *string // nil for accounts created without a username
	PasswordHash string
	Active       bool
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastLoginAt  *time.Time
}

// NewUser creates an active, unverified user.
func NewUser(username, passwordHash string, now time.Time) (*User, error) {
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}
	u := &User{
		ID:           ulid.Make(),
		PasswordHash: passwordHash,
		Active:       true,
		Verified:     false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if username != "" {
		u.Username = &username
	}
	return u, nil
}

// DisplayName returns the username, or an empty string.
func (u *User) DisplayName() string {
	if u.Username == nil {
		return ""
	}
	return *u.Username
}

// UserEmail is an email address owned by a user.
type UserEmail struct {
	ID         ulid.ULID
	UserID     ulid.ULID
	Email      string
	Primary    bool
	Visibility Visibility
	CreatedAt  time.Time
}

// UserPhoneNumber is a phone number owned by a user.
type UserPhoneNumber struct {
	ID          ulid.ULID
	UserID      ulid.ULID
	CountryCode string
	PhoneNumber string
	Visibility  Visibility
	CreatedAt   time.Time
}

// Role is a named permission set.
type Role struct {
	ID          ulid.ULID
	Name        string
	Description string
	CreatedAt   time.Time
}

// LoginAttempt records one login attempt. UserID is nil when the identifier
// did not resolve to an account.
type LoginAttempt struct {
	ID          ulid.ULID
	UserID      *ulid.ULID
	IPAddress   string
	UserAgent   string
	Successful  bool
	AttemptedAt time.Time
}

// NormalizeIdentifier trims surrounding whitespace. Matching is otherwise exact
// and case-sensitive.
func NormalizeIdentifier(identifier string) string {
	return strings.TrimSpace(identifier)
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns ErrDuplicate if the username is taken.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByIdentifier retrieves a user whose username, email, or phone number
	// exactly matches identifier. A username match wins over contact matches.
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)

	// UsernameExists reports whether a username is registered.
	UsernameExists(ctx context.Context, username string) (bool, error)

	// UpdatePassword replaces the password hash.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string, at time.Time) error

	// UpdateLastLogin sets the last login timestamp.
	UpdateLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error

	// SetActive sets the active flag.
	SetActive(ctx context.Context, id ulid.ULID, active bool, at time.Time) error

	// Delete removes a user and, through cascading constraints, all owned rows.
	Delete(ctx context.Context, id ulid.ULID) error
}

// ContactRepository manages user emails and phone numbers.
type ContactRepository interface {
	// CreateEmail stores an email address.
	CreateEmail(ctx context.Context, email *UserEmail) error

	// PrimaryEmail returns the user's primary email, falling back to the
	// oldest address when none is flagged primary.
	PrimaryEmail(ctx context.Context, userID ulid.ULID) (*UserEmail, error)

	// CreatePhone stores a phone number. Returns ErrDuplicate if the
	// country code and number are already registered.
	CreatePhone(ctx context.Context, phone *UserPhoneNumber) error

	// PhoneExists reports whether a country code and number are registered.
	PhoneExists(ctx context.Context, countryCode, phoneNumber string) (bool, error)
}

// RoleRepository manages roles and their assignment.
type RoleRepository interface {
	// GetByName retrieves a role by name.
	GetByName(ctx context.Context, name string) (*Role, error)

	// Create stores a role. Returns ErrDuplicate if the name exists.
	Create(ctx context.Context, role *Role) error

	// Assign grants a role to a user.
	Assign(ctx context.Context, userID, roleID ulid.ULID, at time.Time) error

	// NamesForUser lists the names of roles granted to a user, sorted.
	NamesForUser(ctx context.Context, userID ulid.ULID) ([]string, error)
}

// LoginAttemptRepository records login attempts.
type LoginAttemptRepository interface {
	// Record stores an attempt.
	Record(ctx context.Context, attempt *LoginAttempt) error
}

// Transactor runs fn inside a database transaction. Repository calls made
// with the ctx passed to fn participate in the transaction. The transaction
// commits if fn returns nil and rolls back otherwise.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
