// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package auth_test

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoanhao/authservice/internal/auth"
	"github.com/hoanhao/authservice/pkg/errutil"
)

func TestGenerateResetToken(t *testing.T) {
	token, hash, err := auth.GenerateResetToken()
	require.NoError(t, err)
	assert.Len(t, token, 2*auth.ResetTokenBytes)
	assert.Equal(t, auth.HashToken(token), hash)

	other, _, err := auth.GenerateResetToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestNewPasswordResetToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	userID := ulid.Make()

	reset, err := auth.NewPasswordResetToken(userID, "hash", now.Add(auth.DefaultResetTokenTTL), now)
	require.NoError(t, err)
	assert.Equal(t, userID, reset.UserID)
	assert.False(t, reset.IsUsed())
	assert.False(t, reset.IsExpiredAt(now.Add(14*time.Minute)))
	assert.True(t, reset.IsExpiredAt(now.Add(15*time.Minute)))

	usedAt := now.Add(time.Minute)
	reset.UsedAt = &usedAt
	assert.True(t, reset.IsUsed())

	_, err = auth.NewPasswordResetToken(ulid.ULID{}, "hash", now.Add(time.Minute), now)
	errutil.AssertErrorCode(t, err, "RESET_INVALID_USER")
	_, err = auth.NewPasswordResetToken(userID, "", now.Add(time.Minute), now)
	errutil.AssertErrorCode(t, err, "RESET_INVALID_HASH")
	_, err = auth.NewPasswordResetToken(userID, "hash", now, now)
	errutil.AssertErrorCode(t, err, "RESET_INVALID_EXPIRY")
}
