// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hoanhao/authservice/internal/auth"
)

// ContactRepository implements auth.ContactRepository using PostgreSQL.
type ContactRepository struct {
	pool Pool
}

// NewContactRepository creates a new ContactRepository.
func NewContactRepository(pool Pool) *ContactRepository {
	return &ContactRepository{pool: pool}
}

// CreateEmail stores an email address.
func (r *ContactRepository) CreateEmail(ctx context.Context, email *auth.UserEmail) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO user_emails (id, user_id, email, is_primary, visibility, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		email.ID.String(),
		email.UserID.String(),
		email.Email,
		email.Primary,
		string(email.Visibility),
		email.CreatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("EMAIL_DUPLICATE").With("user_id", email.UserID.String()).Wrap(auth.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("EMAIL_CREATE_FAILED").
			With("operation", "insert user_email").
			With("user_id", email.UserID.String()).
			Wrap(err)
	}
	return nil
}

// PrimaryEmail returns the user's primary email, or the oldest address when
// none is flagged primary.
func (r *ContactRepository) PrimaryEmail(ctx context.Context, userID ulid.ULID) (*auth.UserEmail, error) {
	var (
		idStr      string
		email      auth.UserEmail
		visibility string
	)
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, email, is_primary, visibility, created_at
		FROM user_emails
		WHERE user_id = $1
		ORDER BY is_primary DESC, id
		LIMIT 1
	`, userID.String()).Scan(&idStr, &email.Email, &email.Primary, &visibility, &email.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("EMAIL_NOT_FOUND").With("user_id", userID.String()).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("EMAIL_GET_FAILED").
			With("operation", "get primary email").
			With("user_id", userID.String()).
			Wrap(err)
	}

	email.ID, err = parseULID(idStr, "email_id")
	if err != nil {
		return nil, err
	}
	email.UserID = userID
	email.Visibility = auth.Visibility(visibility)
	return &email, nil
}

// CreatePhone stores a phone number.
func (r *ContactRepository) CreatePhone(ctx context.Context, phone *auth.UserPhoneNumber) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO user_phone_numbers (id, user_id, country_code, phone_number, visibility, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		phone.ID.String(),
		phone.UserID.String(),
		phone.CountryCode,
		phone.PhoneNumber,
		string(phone.Visibility),
		phone.CreatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("PHONE_DUPLICATE").With("country_code", phone.CountryCode).Wrap(auth.ErrDuplicate)
	}
	if err != nil {
		return oops.Code("PHONE_CREATE_FAILED").
			With("operation", "insert user_phone_number").
			With("user_id", phone.UserID.String()).
			Wrap(err)
	}
	return nil
}

// PhoneExists reports whether a country code and number are registered.
func (r *ContactRepository) PhoneExists(ctx context.Context, countryCode, phoneNumber string) (bool, error) {
	var exists bool
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM user_phone_numbers WHERE country_code = $1 AND phone_number = $2
		)
	`, countryCode, phoneNumber).Scan(&exists)
	if err != nil {
		return false, oops.Code("PHONE_EXISTS_FAILED").With("operation", "check phone").Wrap(err)
	}
	return exists, nil
}

var _ auth.ContactRepository = (*ContactRepository)(nil)
