// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package auth

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/hoanhao/authservice/pkg/errutil"
)

// Register creates an account, its primary email, an optional phone number,
// and the default role assignment, then hands the profile to the profile
// service. If the profile service does not accept the profile the account
// is deleted again and CodeDependencyUnavailable is returned.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (user *User, err error) {
	ctx, finish := s.startOperation(ctx, OpRegister)
	defer func() { finish(err) }()

	if req.Username == "" {
		return nil, invalidRequest("username")
	}
	if req.Email == "" {
		return nil, invalidRequest("email")
	}
	if req.Password == "" {
		return nil, invalidRequest("password")
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "hash password").Wrap(err)
	}

	now := s.clock()
	user, err = NewUser(req.Username, hash, now)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").With("operation", "create user").Wrap(err)
	}
	withPhone := req.CountryCode != "" && req.PhoneNumber != ""

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		taken, err := s.users.UsernameExists(ctx, req.Username)
		if err != nil {
			return oops.Code("AUTH_REGISTER_FAILED").With("operation", "check username").Wrap(err)
		}
		if taken {
			return usernameTaken(req.Username)
		}

		if withPhone {
			taken, err := s.contacts.PhoneExists(ctx, req.CountryCode, req.PhoneNumber)
			if err != nil {
				return oops.Code("AUTH_REGISTER_FAILED").With("operation", "check phone").Wrap(err)
			}
			if taken {
				return phoneTaken()
			}
		}

		role, err := s.roles.GetByName(ctx, DefaultRole)
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeRoleMissing).With("role", DefaultRole).Errorf("role %s is not seeded", DefaultRole)
		}
		if err != nil {
			return oops.Code("AUTH_REGISTER_FAILED").With("operation", "get role").Wrap(err)
		}

		if err := s.users.Create(ctx, user); err != nil {
			if errors.Is(err, ErrDuplicate) {
				return usernameTaken(req.Username)
			}
			return oops.Code("AUTH_REGISTER_FAILED").With("operation", "insert user").Wrap(err)
		}

		email := &UserEmail{
			ID:         ulid.Make(),
			UserID:     user.ID,
			Email:      req.Email,
			Primary:    true,
			Visibility: VisibilityPrivate,
			CreatedAt:  now,
		}
		if err := s.contacts.CreateEmail(ctx, email); err != nil {
			return oops.Code("AUTH_REGISTER_FAILED").With("operation", "insert email").Wrap(err)
		}

		if withPhone {
			phone := &UserPhoneNumber{
				ID:          ulid.Make(),
				UserID:      user.ID,
				CountryCode: req.CountryCode,
				PhoneNumber: req.PhoneNumber,
				Visibility:  VisibilityPrivate,
				CreatedAt:   now,
			}
			if err := s.contacts.CreatePhone(ctx, phone); err != nil {
				if errors.Is(err, ErrDuplicate) {
					return phoneTaken()
				}
				return oops.Code("AUTH_REGISTER_FAILED").With("operation", "insert phone").Wrap(err)
			}
		}

		if err := s.roles.Assign(ctx, user.ID, role.ID, now); err != nil {
			return oops.Code("AUTH_REGISTER_FAILED").With("operation", "assign role").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	profile := ProfileRequest{
		Username:    req.Username,
		Email:       req.Email,
		FullName:    req.FullName,
		DateOfBirth: req.DateOfBirth,
		CountryCode: req.CountryCode,
		PhoneNumber: req.PhoneNumber,
		UserID:      user.ID.String(),
	}
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.DependencyTimeout)
	profileErr := s.profiles.CreateProfile(callCtx, profile)
	cancel()
	if profileErr != nil {
		s.compensateRegistration(ctx, user.ID)
		return nil, DependencyUnavailable("profile", profileErr, "user_id", user.ID.String())
	}

	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID.String())
	return user, nil
}

// compensateRegistration deletes a user whose profile was rejected. It runs
// even if the caller's context was cancelled.
func (s *Service) compensateRegistration(ctx context.Context, userID ulid.ULID) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.DependencyTimeout)
	defer cancel()

	err := s.tx.InTransaction(cctx, func(ctx context.Context) error {
		return s.users.Delete(ctx, userID)
	})
	if err != nil {
		errutil.LogError(s.logger, "registration compensation failed",
			oops.With("user_id", userID.String()).Wrap(err))
		return
	}
	s.logger.WarnContext(ctx, "registration rolled back", "user_id", userID.String())
}

func usernameTaken(username string) error {
	return oops.Code(CodeUsernameTaken).With("username", username).Errorf("username is already taken")
}

func phoneTaken() error {
	return oops.Code(CodePhoneTaken).Errorf("phone number is already registered")
}
