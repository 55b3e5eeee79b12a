// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token defaults.
const (
	DefaultIssuer     = "hoanhao-auth-service"
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
	MinSecretLength   = 32
)

// TokenType distinguishes access tokens from refresh tokens. The codec refuses
// to accept one where the other is expected.
type TokenType string

// Token types.
const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenConfig is the signing configuration injected into a TokenCodec.
type TokenConfig struct {
	Secret     []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Validate checks the configuration. The secret itself is never included in
// error context.
func (c TokenConfig) Validate() error {
	if len(c.Secret) < MinSecretLength {
		return oops.Code("TOKEN_CONFIG_INVALID").
			With("min_length", MinSecretLength).
			Errorf("signing secret must be at least %d bytes", MinSecretLength)
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return oops.Code("TOKEN_CONFIG_INVALID").
			With("access_ttl", c.AccessTTL.String()).
			With("refresh_ttl", c.RefreshTTL.String()).
			Errorf("token TTLs must be positive")
	}
	return nil
}

// Claims are the JWT claims carried by access and refresh tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string    `json:"uid"`
	Username string    `json:"username,omitempty"`
	Roles    []string  `json:"roles,omitempty"`
	Type     TokenType `json:"token_type"`
}

// UserULID parses the uid claim.
func (c *Claims) UserULID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.UserID)
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeInvalidToken).Errorf("token carries a malformed user id")
	}
	return id, nil
}

// TokenSubject identifies who a token is issued for.
type TokenSubject struct {
	UserID   ulid.ULID
	Username string
	Roles    []string
}

// IssuedToken is a signed token and its expiry.
type IssuedToken struct {
	Token     string
	ID        string
	ExpiresAt time.Time
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// TokenCodec signs and verifies HS256 tokens.
type TokenCodec struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	clock      func() time.Time
}

// TokenCodecOption configures a TokenCodec.
type TokenCodecOption func(*TokenCodec)

// WithTokenClock overrides the codec's time source.
func WithTokenClock(clock func() time.Time) TokenCodecOption {
	return func(c *TokenCodec) {
		c.clock = clock
	}
}

// NewTokenCodec creates a TokenCodec from validated configuration.
func NewTokenCodec(cfg TokenConfig, opts ...TokenCodecOption) (*TokenCodec, error) {
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	c := &TokenCodec{
		secret:     secret,
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TTL returns the lifetime of tokens of the given type.
func (c *TokenCodec) TTL(typ TokenType) time.Duration {
	if typ == TokenTypeRefresh {
		return c.refreshTTL
	}
	return c.accessTTL
}

// Issue signs a token of the given type for subject.
func (c *TokenCodec) Issue(typ TokenType, subject TokenSubject) (IssuedToken, error) {
	if typ != TokenTypeAccess && typ != TokenTypeRefresh {
		return IssuedToken{}, oops.Code("TOKEN_TYPE_UNKNOWN").With("type", string(typ)).Errorf("unknown token type")
	}
	if subject.UserID.Compare(ulid.ULID{}) == 0 {
		return IssuedToken{}, oops.Code("TOKEN_SUBJECT_INVALID").Errorf("token subject cannot be zero")
	}

	now := c.clock()
	expiresAt := now.Add(c.TTL(typ))
	jti := ulid.Make().String()

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.UserID.String(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        jti,
		},
		UserID:   subject.UserID.String(),
		Username: subject.Username,
		Type:     typ,
	}
	if typ == TokenTypeAccess {
		claims.Roles = subject.Roles
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return IssuedToken{}, oops.Code("TOKEN_SIGN_FAILED").With("type", string(typ)).Wrap(err)
	}
	return IssuedToken{Token: signed, ID: jti, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// IssuePair signs an access token and a refresh token for subject.
func (c *TokenCodec) IssuePair(subject TokenSubject) (TokenPair, error) {
	access, err := c.Issue(TokenTypeAccess, subject)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := c.Issue(TokenTypeRefresh, subject)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshToken:     refresh.Token,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// Verify parses token and checks signature, algorithm, issuer, expiry and type.
// Expired tokens fail with CodeTokenExpired; every other failure is CodeInvalidToken.
func (c *TokenCodec) Verify(token string, want TokenType) (*Claims, error) {
	token = StripBearer(token)
	if token == "" {
		return nil, oops.Code(CodeInvalidToken).Errorf("token cannot be empty")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.clock),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(CodeTokenExpired).With("type", string(want)).Errorf("token has expired")
		}
		return nil, oops.Code(CodeInvalidToken).
			With("type", string(want)).
			With("reason", err.Error()).
			Errorf("token is invalid")
	}

	if claims.Type != want {
		return nil, oops.Code(CodeInvalidToken).
			With("expected_type", string(want)).
			With("actual_type", string(claims.Type)).
			Errorf("token is invalid")
	}
	if claims.UserID == "" || claims.Subject != claims.UserID {
		return nil, oops.Code(CodeInvalidToken).Errorf("token subject mismatch")
	}
	return claims, nil
}

// StripBearer removes an optional "Bearer " prefix and surrounding whitespace.
func StripBearer(token string) string {
	token = strings.TrimSpace(token)
	if len(token) >= 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	return token
}
