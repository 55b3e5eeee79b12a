// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

// Package auth implements credential verification, token issuance, session
// rotation, and password reset.
//
// # Domain Types
//
// Session and PasswordResetToken should be created with NewSession and
// NewPasswordResetToken, and User with NewUser. Only hashes of refresh and
// reset tokens are persisted; lookups hash the presented token with HashToken.
//
// # Service
//
// Service coordinates the repositories, PasswordHasher, and TokenCodec:
//   - Login, RefreshToken, Logout - token pairs and session rotation
//   - Register - account creation with profile hand-off and compensation
//   - ChangePassword, ForgotPassword, ResetPassword - credential changes
//   - DeactivateUser - disables an account everywhere
//
// Every mutating operation runs inside Transactor.InTransaction. Failures
// carry one of the Code* constants; see ErrorCode.
//
// # Cleanup
//
// SessionCleaner purges sessions that have been inactive longer than the
// retention period on a cron schedule.
package auth
