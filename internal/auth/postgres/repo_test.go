// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoanhao/authservice/internal/auth"
	"github.com/hoanhao/authservice/pkg/errutil"
)

var uniqueViolation = &pgconn.PgError{Code: pgerrcode.UniqueViolation, Message: "duplicate key value"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(uniqueViolation))
	assert.True(t, isUniqueViolation(errors.Join(errors.New("context"), uniqueViolation)))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: pgerrcode.ForeignKeyViolation}))
	assert.False(t, isUniqueViolation(errors.New("boom")))
	assert.False(t, isUniqueViolation(nil))
}

func TestTransactor_InTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success and carries the tx", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec(q(`UPDATE "user" SET last_login_at`)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		users := NewUserRepository(mock)
		err := NewTransactor(mock).InTransaction(ctx, func(ctx context.Context) error {
			assert.True(t, inTx(ctx))
			return users.UpdateLastLogin(ctx, ulid.Make(), time.Now())
		})
		require.NoError(t, err)
	})

	t.Run("rolls back when fn fails", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := NewTransactor(mock).InTransaction(ctx, func(context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
	})

	t.Run("nested calls join the outer transaction", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		tx := NewTransactor(mock)
		err := tx.InTransaction(ctx, func(ctx context.Context) error {
			return tx.InTransaction(ctx, func(context.Context) error { return nil })
		})
		require.NoError(t, err)
	})

	t.Run("begin failure", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

		err := NewTransactor(mock).InTransaction(ctx, func(context.Context) error {
			t.Fatal("fn must not run")
			return nil
		})
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "TX_BEGIN_FAILED")
	})

	t.Run("commit failure", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

		err := NewTransactor(mock).InTransaction(ctx, func(context.Context) error { return nil })
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "TX_COMMIT_FAILED")
	})
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	user, err := auth.NewUser("alice", "$2a$10$hash", now)
	require.NoError(t, err)

	userRow := func() *pgxmock.Rows {
		username := "alice"
		return pgxmock.NewRows([]string{
			"id", "username", "password_hash", "is_active", "is_verified", "created_at", "updated_at", "last_login_at",
		}).AddRow(user.ID.String(), &username, user.PasswordHash, true, false, now, now, (*time.Time)(nil))
	}

	t.Run("create", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(q(`INSERT INTO "user"`)).
			WithArgs(user.ID.String(), user.Username, user.PasswordHash, true, false, now, now, user.LastLoginAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewUserRepository(mock).Create(ctx, user))
	})

	t.Run("create duplicate username", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(q(`INSERT INTO "user"`)).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(uniqueViolation)

		err := NewUserRepository(mock).Create(ctx, user)
		require.ErrorIs(t, err, auth.ErrDuplicate)
		errutil.AssertErrorCode(t, err, "USER_DUPLICATE")
	})

	t.Run("get by id", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(q(`FROM "user"`)).WithArgs(user.ID.String()).WillReturnRows(userRow())

		got, err := NewUserRepository(mock).GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.Equal(t, "alice", got.DisplayName())
		assert.True(t, got.Active)
		assert.Nil(t, got.LastLoginAt)
	})

	t.Run("get by id not found", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(q(`FROM "user"`)).WithArgs(user.ID.String()).
			WillReturnRows(pgxmock.NewRows([]string{"id"}))

		_, err := NewUserRepository(mock).GetByID(ctx, user.ID)
		require.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "USER_NOT_FOUND")
	})

	t.Run("get by identifier prefers username", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`ORDER BY \(u.username = \$1\) DESC NULLS LAST`).
			WithArgs("alice@x.com").
			WillReturnRows(userRow())

		got, err := NewUserRepository(mock).GetByIdentifier(ctx, "alice@x.com")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	})

	t.Run("update on missing user", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(q(`UPDATE "user" SET password_hash`)).
			WithArgs(user.ID.String(), "newhash", now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := NewUserRepository(mock).UpdatePassword(ctx, user.ID, "newhash", now)
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("username exists", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(q(`SELECT EXISTS`)).WithArgs("alice").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		exists, err := NewUserRepository(mock).UsernameExists(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

func TestSessionRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	userID := ulid.Make()
	session, err := auth.NewSession(userID, "refresh", "10.0.0.1", "ua", now.Add(time.Hour), now)
	require.NoError(t, err)

	sessionRows := func() *pgxmock.Rows {
		return pgxmock.NewRows([]string{
			"id", "user_id", "refresh_token_hash", "ip_address", "user_agent", "expires_at", "created_at", "revoked_at",
		}).AddRow(session.ID.String(), userID.String(), session.RefreshTokenHash, "10.0.0.1", "ua",
			session.ExpiresAt, now, (*time.Time)(nil))
	}

	t.Run("lookup locks the row inside a transaction", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM session WHERE refresh_token_hash = \$1 FOR UPDATE`).
			WithArgs(session.RefreshTokenHash).
			WillReturnRows(sessionRows())
		mock.ExpectCommit()

		repo := NewSessionRepository(mock)
		err := NewTransactor(mock).InTransaction(ctx, func(ctx context.Context) error {
			got, err := repo.GetByRefreshTokenHash(ctx, session.RefreshTokenHash)
			if err != nil {
				return err
			}
			assert.Equal(t, session.ID, got.ID)
			assert.Equal(t, userID, got.UserID)
			assert.False(t, got.IsRevoked())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("lookup outside a transaction does not lock", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(`FROM session WHERE refresh_token_hash = \$1$`).
			WithArgs("missing").
			WillReturnRows(pgxmock.NewRows([]string{"id"}))

		_, err := NewSessionRepository(mock).GetByRefreshTokenHash(ctx, "missing")
		require.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "SESSION_NOT_FOUND")
	})

	t.Run("revoke transitions once", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(q(`UPDATE session SET revoked_at = $2`)).
			WithArgs(session.ID.String(), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		ok, err := NewSessionRepository(mock).Revoke(ctx, session.ID, now)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("revoke already revoked", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(q(`UPDATE session SET revoked_at = $2`)).
			WithArgs(session.ID.String(), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(q(`SELECT EXISTS (SELECT 1 FROM session WHERE id = $1)`)).
			WithArgs(session.ID.String()).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		ok, err := NewSessionRepository(mock).Revoke(ctx, session.ID, now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("revoke missing session", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(q(`UPDATE session SET revoked_at = $2`)).
			WithArgs(session.ID.String(), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(q(`SELECT EXISTS`)).
			WithArgs(session.ID.String()).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := NewSessionRepository(mock).Revoke(ctx, session.ID, now)
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("revoke all for user", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(q(`WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2`)).
			WithArgs(userID.String(), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 3))

		n, err := NewSessionRepository(mock).RevokeAllForUser(ctx, userID, now)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("list active", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(q(`ORDER BY created_at DESC`)).
			WithArgs(userID.String(), now).
			WillReturnRows(sessionRows())

		got, err := NewSessionRepository(mock).ListActiveForUser(ctx, userID, now)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, session.RefreshTokenHash, got[0].RefreshTokenHash)
	})

	t.Run("purge", func(t *testing.T) {
		mock := newMock(t)
		threshold := now.Add(-30 * 24 * time.Hour)
		mock.ExpectExec(q(`DELETE FROM session`)).
			WithArgs(threshold).
			WillReturnResult(pgxmock.NewResult("DELETE", 7))

		n, err := NewSessionRepository(mock).PurgeInactiveBefore(ctx, threshold)
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)
	})

	t.Run("purge failure", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(q(`DELETE FROM session`)).
			WithArgs(pgxmock.AnyArg()).
			WillReturnError(errors.New("connection refused"))

		_, err := NewSessionRepository(mock).PurgeInactiveBefore(ctx, now)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SESSION_PURGE_FAILED")
	})
}

func TestPasswordResetRepository(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	reset, err := auth.NewPasswordResetToken(ulid.Make(), "tokenhash", now.Add(15*time.Minute), now)
	require.NoError(t, err)

	t.Run("lookup locks inside a transaction", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FROM password_reset_token\s+WHERE token_hash = \$1 FOR UPDATE`).
			WithArgs("tokenhash").
			WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "token_hash", "expires_at", "created_at", "used_at"}).
				AddRow(reset.ID.String(), reset.UserID.String(), "tokenhash", reset.ExpiresAt, now, (*time.Time)(nil)))
		mock.ExpectCommit()

		repo := NewPasswordResetRepository(mock)
		err := NewTransactor(mock).InTransaction(ctx, func(ctx context.Context) error {
			got, err := repo.GetByTokenHash(ctx, "tokenhash")
			if err != nil {
				return err
			}
			assert.Equal(t, reset.ID, got.ID)
			assert.False(t, got.IsUsed())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("mark used twice", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(q(`WHERE id = $1 AND used_at IS NULL`)).
			WithArgs(reset.ID.String(), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(q(`WHERE id = $1 AND used_at IS NULL`)).
			WithArgs(reset.ID.String(), now).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(q(`SELECT EXISTS`)).
			WithArgs(reset.ID.String()).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		repo := NewPasswordResetRepository(mock)
		ok, err := repo.MarkUsed(ctx, reset.ID, now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.MarkUsed(ctx, reset.ID, now)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("create duplicate", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(q(`INSERT INTO password_reset_token`)).
			WithArgs(reset.ID.String(), reset.UserID.String(), "tokenhash", reset.ExpiresAt, now, reset.UsedAt).
			WillReturnError(uniqueViolation)

		err := NewPasswordResetRepository(mock).Create(ctx, reset)
		require.ErrorIs(t, err, auth.ErrDuplicate)
	})
}

func TestContactAndRoleRepositories(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	userID := ulid.Make()

	t.Run("phone duplicate", func(t *testing.T) {
		mock := newMock(t)
		phone := &auth.UserPhoneNumber{
			ID: ulid.Make(), UserID: userID, CountryCode: "+84", PhoneNumber: "912345678",
			Visibility: auth.VisibilityPrivate, CreatedAt: now,
		}
		mock.ExpectExec(q(`INSERT INTO user_phone_numbers`)).
			WithArgs(phone.ID.String(), userID.String(), "+84", "912345678", "PRIVATE", now).
			WillReturnError(uniqueViolation)

		err := NewContactRepository(mock).CreatePhone(ctx, phone)
		require.ErrorIs(t, err, auth.ErrDuplicate)
		errutil.AssertErrorCode(t, err, "PHONE_DUPLICATE")
	})

	t.Run("primary email missing", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(q(`ORDER BY is_primary DESC, id`)).
			WithArgs(userID.String()).
			WillReturnRows(pgxmock.NewRows([]string{"id", "email", "is_primary", "visibility", "created_at"}))

		_, err := NewContactRepository(mock).PrimaryEmail(ctx, userID)
		require.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("role names", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(q(`JOIN role r ON r.id = ur.role_id`)).
			WithArgs(userID.String()).
			WillReturnRows(pgxmock.NewRows([]string{"name"}).AddRow("ADMIN").AddRow("USER"))

		names, err := NewRoleRepository(mock).NamesForUser(ctx, userID)
		require.NoError(t, err)
		assert.Equal(t, []string{"ADMIN", "USER"}, names)
	})

	t.Run("missing role", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery(q(`FROM role`)).
			WithArgs(auth.DefaultRole).
			WillReturnRows(pgxmock.NewRows([]string{"id", "name", "description", "created_at"}))

		_, err := NewRoleRepository(mock).GetByName(ctx, auth.DefaultRole)
		require.ErrorIs(t, err, auth.ErrNotFound)
		errutil.AssertErrorCode(t, err, "ROLE_NOT_FOUND")
	})

	t.Run("attempt with unknown user", func(t *testing.T) {
		mock := newMock(t)
		attempt := &auth.LoginAttempt{
			ID: ulid.Make(), IPAddress: auth.UnknownClient, UserAgent: auth.UnknownClient, AttemptedAt: now,
		}
		mock.ExpectExec(q(`INSERT INTO login_attempt`)).
			WithArgs(attempt.ID.String(), (*string)(nil), auth.UnknownClient, auth.UnknownClient, false, now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewLoginAttemptRepository(mock).Record(ctx, attempt))
	})
}
