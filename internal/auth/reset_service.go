// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/samber/oops"
)

// ForgotPassword issues a reset token for the account matching identifier
// and hands it to the reset notifier. The plaintext token is never returned.
func (s *Service) ForgotPassword(ctx context.Context, identifier string) (err error) {
	ctx, finish := s.startOperation(ctx, OpForgotPassword)
	defer func() { finish(err) }()

	identifier = NormalizeIdentifier(identifier)
	if identifier == "" {
		return invalidRequest("identifier")
	}

	user, err := s.users.GetByIdentifier(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		return oops.Code(CodeUserNotFound).Errorf("user not found")
	}
	if err != nil {
		return oops.Code("AUTH_FORGOT_PASSWORD_FAILED").With("operation", "get user by identifier").Wrap(err)
	}
	if !user.Active {
		return oops.Code(CodeAccountInactive).With("user_id", user.ID.String()).Errorf("account is inactive")
	}

	token, tokenHash, err := GenerateResetToken()
	if err != nil {
		return oops.Code("AUTH_FORGOT_PASSWORD_FAILED").With("operation", "generate token").Wrap(err)
	}

	now := s.clock()
	reset, err := NewPasswordResetToken(user.ID, tokenHash, now.Add(s.cfg.ResetTokenTTL), now)
	if err != nil {
		return oops.Code("AUTH_FORGOT_PASSWORD_FAILED").With("operation", "create reset token").Wrap(err)
	}

	var email *UserEmail
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		email, err = s.contacts.PrimaryEmail(ctx, user.ID)
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeEmailNotFound).With("user_id", user.ID.String()).Errorf("account has no email address")
		}
		if err != nil {
			return oops.Code("AUTH_FORGOT_PASSWORD_FAILED").With("operation", "get email").Wrap(err)
		}
		if err := s.resets.Create(ctx, reset); err != nil {
			return oops.Code("AUTH_FORGOT_PASSWORD_FAILED").With("operation", "persist reset token").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	notice := PasswordResetNotice{
		ToAddress: email.Email,
		Username:  user.DisplayName(),
		Token:     token,
		ExpiresAt: reset.ExpiresAt,
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.DependencyTimeout)
	defer cancel()
	if err := s.notifier.NotifyPasswordReset(callCtx, notice); err != nil {
		return DependencyUnavailable("mail", err, "user_id", user.ID.String())
	}

	s.logger.InfoContext(ctx, "password reset requested",
		"user_id", user.ID.String(),
		"reset_id", reset.ID.String())
	return nil
}

// ResetPassword redeems a reset token. Setting the new password, marking the
// token used, and revoking every session happen in one transaction.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) (err error) {
	ctx, finish := s.startOperation(ctx, OpResetPassword)
	defer func() { finish(err) }()

	token := strings.TrimSpace(req.Token)
	if token == "" {
		return invalidRequest("token")
	}
	if req.NewPassword == "" {
		return invalidRequest("new_password")
	}

	newHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return oops.Code("AUTH_RESET_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}

	now := s.clock()
	tokenHash := HashToken(token)

	var (
		reset   *PasswordResetToken
		revoked int64
	)
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		var err error
		reset, err = s.resets.GetByTokenHash(ctx, tokenHash)
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeInvalidToken).Errorf("reset token is invalid")
		}
		if err != nil {
			return oops.Code("AUTH_RESET_PASSWORD_FAILED").With("operation", "get reset token").Wrap(err)
		}
		if reset.IsUsed() {
			return oops.Code(CodeTokenUsed).With("reset_id", reset.ID.String()).Errorf("reset token has already been used")
		}
		if reset.IsExpiredAt(now) {
			return oops.Code(CodeTokenExpired).With("reset_id", reset.ID.String()).Errorf("reset token has expired")
		}

		user, err := s.loadUser(ctx, reset.UserID, "AUTH_RESET_PASSWORD_FAILED")
		if err != nil {
			return err
		}
		if !user.Active {
			return oops.Code(CodeAccountInactive).With("user_id", user.ID.String()).Errorf("account is inactive")
		}

		marked, err := s.resets.MarkUsed(ctx, reset.ID, now)
		if err != nil {
			return oops.Code("AUTH_RESET_PASSWORD_FAILED").With("operation", "mark token used").Wrap(err)
		}
		if !marked {
			return oops.Code(CodeTokenUsed).With("reset_id", reset.ID.String()).Errorf("reset token has already been used")
		}

		if err := s.users.UpdatePassword(ctx, user.ID, newHash, now); err != nil {
			return oops.Code("AUTH_RESET_PASSWORD_FAILED").With("operation", "update password").Wrap(err)
		}
		revoked, err = s.sessions.RevokeAllForUser(ctx, user.ID, now)
		if err != nil {
			return oops.Code("AUTH_RESET_PASSWORD_FAILED").With("operation", "revoke sessions").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "password reset completed",
		"user_id", reset.UserID.String(),
		"sessions_revoked", revoked)
	return nil
}
