// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"

	"github.com/hoanhao/authservice/pkg/errutil"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("duplicate")

// Error codes surfaced by Service. Callers map these to transport responses.
const (
	CodeInvalidRequest        = "AUTH_INVALID_REQUEST"
	CodeInvalidCredentials    = "AUTH_INVALID_CREDENTIALS"
	CodeAccountInactive       = "AUTH_ACCOUNT_INACTIVE"
	CodeUsernameTaken         = "AUTH_USERNAME_TAKEN"
	CodePhoneTaken            = "AUTH_PHONE_TAKEN"
	CodeRoleMissing           = "AUTH_ROLE_MISSING"
	CodeInvalidToken          = "AUTH_INVALID_TOKEN"
	CodeTokenExpired          = "AUTH_TOKEN_EXPIRED"
	CodeTokenRevoked          = "AUTH_TOKEN_REVOKED"
	CodeSessionNotFound       = "AUTH_SESSION_NOT_FOUND"
	CodeUserNotFound          = "AUTH_USER_NOT_FOUND"
	CodeWrongPassword         = "AUTH_WRONG_PASSWORD"
	CodeTokenUsed             = "AUTH_TOKEN_USED"
	CodeEmailNotFound         = "AUTH_EMAIL_NOT_FOUND"
	CodeDependencyUnavailable = "AUTH_DEPENDENCY_UNAVAILABLE"
)

var taxonomy = map[string]struct{}{
	CodeInvalidRequest:        {},
	CodeInvalidCredentials:    {},
	CodeAccountInactive:       {},
	CodeUsernameTaken:         {},
	CodePhoneTaken:            {},
	CodeRoleMissing:           {},
	CodeInvalidToken:          {},
	CodeTokenExpired:          {},
	CodeTokenRevoked:          {},
	CodeSessionNotFound:       {},
	CodeUserNotFound:          {},
	CodeWrongPassword:         {},
	CodeTokenUsed:             {},
	CodeEmailNotFound:         {},
	CodeDependencyUnavailable: {},
}

// ErrorCode returns the taxonomy code carried by err, or "" when err is nil
// or an internal failure that has no client-facing meaning.
func ErrorCode(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, ok := oopsErr.Code().(string)
	if !ok {
		return ""
	}
	if _, known := taxonomy[code]; !known {
		return ""
	}
	return code
}

// HasCode reports whether err carries the given taxonomy code.
func HasCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// DependencyUnavailable reports a failed call to a collaborator. oops resolves
// the deepest code in a chain, so the cause is flattened into the message and
// its own code is kept as the cause_code attribute.
func DependencyUnavailable(dependency string, cause error, kv ...any) error {
	b := oops.Code(CodeDependencyUnavailable).With("dependency", dependency).With(kv...)
	if code := errutil.Code(cause); code != "" {
		b = b.With("cause_code", code)
	}
	return b.Errorf("%s unavailable: %v", dependency, cause)
}
