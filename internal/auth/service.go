// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel/trace"

	"github.com/hoanhao/authservice/pkg/errutil"
)

// DefaultDependencyTimeout bounds every call to an outbound collaborator.
const DefaultDependencyTimeout = 5 * time.Second

// ServiceConfig holds orchestrator settings.
type ServiceConfig struct {
	ResetTokenTTL     time.Duration
	DependencyTimeout time.Duration
}

// ServiceDeps are the collaborators of Service. Attempts is optional.
type ServiceDeps struct {
	Users    UserRepository
	Contacts ContactRepository
	Roles    RoleRepository
	Sessions SessionRepository
	Resets   PasswordResetRepository
	Attempts LoginAttemptRepository
	Tx       Transactor
	Hasher   PasswordHasher
	Tokens   *TokenCodec
	Profiles ProfileService
	Notifier ResetNotifier
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the service time source.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithMetrics sets the metrics the service records into.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithServiceConfig overrides the default reset TTL and dependency timeout.
// Zero fields keep their defaults.
func WithServiceConfig(cfg ServiceConfig) ServiceOption {
	return func(s *Service) {
		if cfg.ResetTokenTTL > 0 {
			s.cfg.ResetTokenTTL = cfg.ResetTokenTTL
		}
		if cfg.DependencyTimeout > 0 {
			s.cfg.DependencyTimeout = cfg.DependencyTimeout
		}
	}
}

// Service implements login, refresh, registration, and password management.
// It is safe for concurrent use; the database serializes conflicting writes.
type Service struct {
	users    UserRepository
	contacts ContactRepository
	roles    RoleRepository
	sessions SessionRepository
	resets   PasswordResetRepository
	attempts LoginAttemptRepository
	tx       Transactor
	hasher   PasswordHasher
	tokens   *TokenCodec
	profiles ProfileService
	notifier ResetNotifier

	cfg     ServiceConfig
	logger  *slog.Logger
	clock   func() time.Time
	metrics *Metrics
	tracer  trace.Tracer

	dummyOnce sync.Once
	dummyHash string
}

// NewService creates a Service. All dependencies except Attempts are required.
func NewService(deps ServiceDeps, opts ...ServiceOption) (*Service, error) {
	missing := make([]string, 0)
	check := func(name string, ok bool) {
		if !ok {
			missing = append(missing, name)
		}
	}
	check("users", deps.Users != nil)
	check("contacts", deps.Contacts != nil)
	check("roles", deps.Roles != nil)
	check("sessions", deps.Sessions != nil)
	check("resets", deps.Resets != nil)
	check("transactor", deps.Tx != nil)
	check("hasher", deps.Hasher != nil)
	check("tokens", deps.Tokens != nil)
	check("profiles", deps.Profiles != nil)
	check("notifier", deps.Notifier != nil)
	if len(missing) > 0 {
		return nil, oops.Code("AUTH_SERVICE_INVALID_DEPS").
			With("missing", missing).
			Errorf("auth service is missing dependencies: %s", strings.Join(missing, ", "))
	}

	s := &Service{
		users:    deps.Users,
		contacts: deps.Contacts,
		roles:    deps.Roles,
		sessions: deps.Sessions,
		resets:   deps.Resets,
		attempts: deps.Attempts,
		tx:       deps.Tx,
		hasher:   deps.Hasher,
		tokens:   deps.Tokens,
		profiles: deps.Profiles,
		notifier: deps.Notifier,
		cfg: ServiceConfig{
			ResetTokenTTL:     DefaultResetTokenTTL,
			DependencyTimeout: DefaultDependencyTimeout,
		},
		logger: slog.Default(),
		clock:  time.Now,
		tracer: defaultTracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(prometheus.NewRegistry())
	}
	return s, nil
}

// LoginRequest identifies a user by username, email, or phone number.
// IPAddress and UserAgent are best-effort client details.
type LoginRequest struct {
	Identifier string
	Password   string
	IPAddress  string
	UserAgent  string
}

// RegisterRequest carries a new account and the profile data forwarded to
// the profile service. The phone number is stored only when both
// CountryCode and PhoneNumber are present.
type RegisterRequest struct {
	Username    string
	Email       string
	Password    string
	FullName    string
	DateOfBirth string
	CountryCode string
	PhoneNumber string
}

// ChangePasswordRequest changes the password of the bearer of AccessToken.
type ChangePasswordRequest struct {
	AccessToken string
	OldPassword string
	NewPassword string
}

// ResetPasswordRequest redeems a reset token.
type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

func invalidRequest(field string) error {
	return oops.Code(CodeInvalidRequest).With("field", field).Errorf("%s is required", field)
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid credentials")
}

// timingHash returns a hash of the configured cost that no password matches,
// used to keep unknown-identifier logins as slow as real ones.
func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		token, _, err := GenerateResetToken()
		if err != nil {
			token = ulid.Make().String()
		}
		hash, err := s.hasher.Hash(token)
		if err != nil {
			s.logger.Warn("failed to compute timing hash", "error", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// Login verifies credentials and opens a session. Unknown identifiers, wrong
// passwords, and inactive accounts all fail with CodeInvalidCredentials.
func (s *Service) Login(ctx context.Context, req LoginRequest) (pair TokenPair, err error) {
	ctx, finish := s.startOperation(ctx, OpLogin)
	defer func() { finish(err) }()

	identifier := NormalizeIdentifier(req.Identifier)
	if identifier == "" {
		return TokenPair{}, invalidRequest("identifier")
	}
	if req.Password == "" {
		return TokenPair{}, invalidRequest("password")
	}

	user, lookupErr := s.users.GetByIdentifier(ctx, identifier)
	exists := lookupErr == nil
	if lookupErr != nil && !errors.Is(lookupErr, ErrNotFound) {
		return TokenPair{}, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get user by identifier").
			Wrap(lookupErr)
	}

	target := s.timingHash()
	if exists {
		target = user.PasswordHash
	}

	// Always verify so response time does not reveal whether the user exists.
	valid, verifyErr := s.hasher.Verify(req.Password, target)
	if verifyErr != nil && exists {
		errutil.LogErrorContext(ctx, s.logger, "stored password hash is unusable", verifyErr,
			"user_id", user.ID.String())
		valid = false
	}

	if !exists || !valid || !user.Active {
		var userID *ulid.ULID
		if exists {
			userID = &user.ID
		}
		s.recordAttempt(ctx, userID, req, false)
		return TokenPair{}, invalidCredentials()
	}

	roles, err := s.roles.NamesForUser(ctx, user.ID)
	if err != nil {
		return TokenPair{}, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "load roles").
			With("user_id", user.ID.String()).
			Wrap(err)
	}

	pair, err = s.tokens.IssuePair(TokenSubject{UserID: user.ID, Username: user.DisplayName(), Roles: roles})
	if err != nil {
		return TokenPair{}, oops.Code("AUTH_LOGIN_FAILED").With("operation", "issue tokens").Wrap(err)
	}

	now := s.clock()
	session, err := NewSession(user.ID, pair.RefreshToken, req.IPAddress, req.UserAgent, pair.RefreshExpiresAt, now)
	if err != nil {
		return TokenPair{}, oops.Code("AUTH_LOGIN_FAILED").With("operation", "create session").Wrap(err)
	}

	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.sessions.Create(ctx, session); err != nil {
			return oops.Code("AUTH_SESSION_CREATE_FAILED").With("operation", "persist session").Wrap(err)
		}
		if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
			return oops.Code("AUTH_LOGIN_FAILED").With("operation", "update last login").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return TokenPair{}, err
	}

	s.recordAttempt(ctx, &user.ID, req, true)
	s.upgradeHash(ctx, user, req.Password)

	s.logger.InfoContext(ctx, "user logged in",
		"user_id", user.ID.String(),
		"session_id", session.ID.String())
	return pair, nil
}

// recordAttempt stores a login attempt. Failures are logged and ignored.
func (s *Service) recordAttempt(ctx context.Context, userID *ulid.ULID, req LoginRequest, successful bool) {
	if s.attempts == nil {
		return
	}
	attempt := &LoginAttempt{
		ID:          ulid.Make(),
		UserID:      userID,
		IPAddress:   orUnknown(req.IPAddress),
		UserAgent:   orUnknown(req.UserAgent),
		Successful:  successful,
		AttemptedAt: s.clock(),
	}
	if err := s.attempts.Record(ctx, attempt); err != nil {
		s.logger.WarnContext(ctx, "failed to record login attempt", "error", err)
	}
}

// upgradeHash re-hashes a password stored below the configured cost.
// Login succeeds regardless of the outcome.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	if !s.hasher.NeedsUpgrade(user.PasswordHash) {
		return
	}
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to upgrade password hash", "user_id", user.ID.String(), "error", err)
		return
	}
	if err := s.users.UpdatePassword(ctx, user.ID, newHash, s.clock()); err != nil {
		s.logger.WarnContext(ctx, "failed to store upgraded password hash", "user_id", user.ID.String(), "error", err)
	}
}

// RefreshToken exchanges a live refresh token for a new pair. The old session
// is revoked and the new one created in one transaction, so of several
// concurrent refreshes with the same token at most one succeeds.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (pair TokenPair, err error) {
	ctx, finish := s.startOperation(ctx, OpRefresh)
	defer func() { finish(err) }()

	claims, err := s.tokens.Verify(refreshToken, TokenTypeRefresh)
	if err != nil {
		return TokenPair{}, err
	}
	userID, err := claims.UserULID()
	if err != nil {
		return TokenPair{}, err
	}

	user, err := s.loadUser(ctx, userID, "AUTH_REFRESH_FAILED")
	if err != nil {
		return TokenPair{}, err
	}
	if !user.Active {
		return TokenPair{}, oops.Code(CodeAccountInactive).With("user_id", userID.String()).Errorf("account is inactive")
	}

	roles, err := s.roles.NamesForUser(ctx, user.ID)
	if err != nil {
		return TokenPair{}, oops.Code("AUTH_REFRESH_FAILED").With("operation", "load roles").Wrap(err)
	}
	pair, err = s.tokens.IssuePair(TokenSubject{UserID: user.ID, Username: user.DisplayName(), Roles: roles})
	if err != nil {
		return TokenPair{}, oops.Code("AUTH_REFRESH_FAILED").With("operation", "issue tokens").Wrap(err)
	}

	now := s.clock()
	tokenHash := HashToken(StripBearer(refreshToken))

	var next *Session
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		current, err := s.sessions.GetByRefreshTokenHash(ctx, tokenHash)
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeSessionNotFound).With("user_id", userID.String()).Errorf("no session for refresh token")
		}
		if err != nil {
			return oops.Code("AUTH_REFRESH_FAILED").With("operation", "get session").Wrap(err)
		}
		if current.UserID != user.ID {
			return oops.Code(CodeInvalidToken).With("user_id", userID.String()).Errorf("token is invalid")
		}
		if current.IsRevoked() {
			return oops.Code(CodeTokenRevoked).With("session_id", current.ID.String()).Errorf("refresh token has been revoked")
		}
		if current.IsExpiredAt(now) {
			return oops.Code(CodeTokenExpired).With("session_id", current.ID.String()).Errorf("session has expired")
		}

		revoked, err := s.sessions.Revoke(ctx, current.ID, now)
		if err != nil {
			return oops.Code("AUTH_REFRESH_FAILED").With("operation", "revoke session").Wrap(err)
		}
		if !revoked {
			return oops.Code(CodeTokenRevoked).With("session_id", current.ID.String()).Errorf("refresh token has been revoked")
		}

		next, err = NewSession(user.ID, pair.RefreshToken, current.IPAddress, current.UserAgent, pair.RefreshExpiresAt, now)
		if err != nil {
			return oops.Code("AUTH_REFRESH_FAILED").With("operation", "create session").Wrap(err)
		}
		if err := s.sessions.Create(ctx, next); err != nil {
			return oops.Code("AUTH_SESSION_CREATE_FAILED").With("operation", "persist session").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return TokenPair{}, err
	}

	s.logger.InfoContext(ctx, "session refreshed",
		"user_id", user.ID.String(),
		"session_id", next.ID.String())
	return pair, nil
}

// Logout revokes the session bound to refreshToken. Logging out twice is not
// an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) (err error) {
	ctx, finish := s.startOperation(ctx, OpLogout)
	defer func() { finish(err) }()

	token := StripBearer(refreshToken)
	if token == "" {
		return invalidRequest("refresh_token")
	}

	session, err := s.sessions.GetByRefreshTokenHash(ctx, HashToken(token))
	if errors.Is(err, ErrNotFound) {
		return oops.Code(CodeSessionNotFound).Errorf("no session for refresh token")
	}
	if err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").With("operation", "get session").Wrap(err)
	}
	if _, err := s.sessions.Revoke(ctx, session.ID, s.clock()); err != nil {
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "revoke session").
			With("session_id", session.ID.String()).
			Wrap(err)
	}
	return nil
}

// Authenticate validates a bearer access token and returns its claims.
func (s *Service) Authenticate(_ context.Context, accessToken string) (*Claims, error) {
	return s.tokens.Verify(accessToken, TokenTypeAccess)
}

// GetUser returns a user by ID.
func (s *Service) GetUser(ctx context.Context, id ulid.ULID) (*User, error) {
	return s.loadUser(ctx, id, "AUTH_GET_USER_FAILED")
}

// ListActiveSessions returns the sessions of a user that are currently active.
func (s *Service) ListActiveSessions(ctx context.Context, userID ulid.ULID) ([]*Session, error) {
	sessions, err := s.sessions.ListActiveForUser(ctx, userID, s.clock())
	if err != nil {
		return nil, oops.Code("AUTH_LIST_SESSIONS_FAILED").With("user_id", userID.String()).Wrap(err)
	}
	return sessions, nil
}

func (s *Service) loadUser(ctx context.Context, id ulid.ULID, failCode string) (*User, error) {
	user, err := s.users.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, oops.Code(CodeUserNotFound).With("user_id", id.String()).Errorf("user not found")
	}
	if err != nil {
		return nil, oops.Code(failCode).With("operation", "get user").With("user_id", id.String()).Wrap(err)
	}
	return user, nil
}

// ChangePassword replaces the caller's password and revokes every session of
// the account.
func (s *Service) ChangePassword(ctx context.Context, req ChangePasswordRequest) (err error) {
	ctx, finish := s.startOperation(ctx, OpChangePassword)
	defer func() { finish(err) }()

	if req.OldPassword == "" {
		return invalidRequest("old_password")
	}
	if req.NewPassword == "" {
		return invalidRequest("new_password")
	}

	claims, err := s.Authenticate(ctx, req.AccessToken)
	if err != nil {
		return err
	}
	userID, err := claims.UserULID()
	if err != nil {
		return err
	}

	user, err := s.loadUser(ctx, userID, "AUTH_CHANGE_PASSWORD_FAILED")
	if err != nil {
		return err
	}
	if !user.Active {
		return oops.Code(CodeAccountInactive).With("user_id", userID.String()).Errorf("account is inactive")
	}

	ok, err := s.hasher.Verify(req.OldPassword, user.PasswordHash)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").With("operation", "verify password").Wrap(err)
	}
	if !ok {
		return oops.Code(CodeWrongPassword).With("user_id", userID.String()).Errorf("current password is incorrect")
	}

	newHash, err := s.hasher.Hash(req.NewPassword)
	if err != nil {
		return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").With("operation", "hash password").Wrap(err)
	}

	now := s.clock()
	var revoked int64
	err = s.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := s.users.UpdatePassword(ctx, user.ID, newHash, now); err != nil {
			return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").With("operation", "update password").Wrap(err)
		}
		var err error
		revoked, err = s.sessions.RevokeAllForUser(ctx, user.ID, now)
		if err != nil {
			return oops.Code("AUTH_CHANGE_PASSWORD_FAILED").With("operation", "revoke sessions").Wrap(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "password changed",
		"user_id", user.ID.String(),
		"sessions_revoked", revoked)
	return nil
}

// DeactivateUser disables an account and revokes all of its sessions.
func (s *Service) DeactivateUser(ctx context.Context, userID ulid.ULID) (err error) {
	ctx, finish := s.startOperation(ctx, OpDeactivate)
	defer func() { finish(err) }()

	now := s.clock()
	return s.tx.InTransaction(ctx, func(ctx context.Context) error {
		err := s.users.SetActive(ctx, userID, false, now)
		if errors.Is(err, ErrNotFound) {
			return oops.Code(CodeUserNotFound).With("user_id", userID.String()).Errorf("user not found")
		}
		if err != nil {
			return oops.Code("AUTH_DEACTIVATE_FAILED").With("operation", "set inactive").Wrap(err)
		}
		if _, err := s.sessions.RevokeAllForUser(ctx, userID, now); err != nil {
			return oops.Code("AUTH_DEACTIVATE_FAILED").With("operation", "revoke sessions").Wrap(err)
		}
		return nil
	})
}
