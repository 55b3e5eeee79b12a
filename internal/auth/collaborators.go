// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package auth

import (
	"context"
	"time"
)

// ProfileRequest is the enriched profile handed to the profile service after
// a registration is persisted.
type ProfileRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	FullName    string `json:"fullName"`
	DateOfBirth string `json:"dateOfBirth"`
	CountryCode string `json:"countryCode"`
	PhoneNumber string `json:"phoneNumber"`
	UserID      string `json:"userId"`
}

// ProfileService creates the profile that accompanies a new account.
// Any error means the profile was not accepted.
type ProfileService interface {
	CreateProfile(ctx context.Context, req ProfileRequest) error
}

// PasswordResetNotice carries what the user needs to complete a reset.
type PasswordResetNotice struct {
	ToAddress string
	Username  string
	Token     string
	ExpiresAt time.Time
}

// ResetNotifier delivers password reset tokens. Implementations may deliver
// asynchronously; a returned error means the notice was not accepted.
type ResetNotifier interface {
	NotifyPasswordReset(ctx context.Context, notice PasswordResetNotice) error
}
