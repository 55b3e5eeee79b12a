// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

// Package profile is the HTTP client for the profile service that receives a
// profile for every newly registered account.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/hoanhao/authservice/internal/auth"
)

// Client defaults.
const (
	DefaultTimeout    = 3 * time.Second
	DefaultMaxRetries = 2
	DefaultRetryBase  = 100 * time.Millisecond
)

// Config configures the profile client.
type Config struct {
	Endpoint   string
	Timeout    time.Duration // per attempt
	MaxRetries int           // retries after the first attempt
	RetryBase  time.Duration // first backoff interval, doubled per retry
}

// Client posts profiles to the profile service. It implements
// auth.ProfileService.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a profile client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, oops.Code("PROFILE_CONFIG_INVALID").Errorf("profile endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateProfile posts req to the configured endpoint. Any non-2xx response is
// a failure. Transport errors and 502/503/504 responses are retried up to
// MaxRetries times while ctx allows.
func (c *Client) CreateProfile(ctx context.Context, req auth.ProfileRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return oops.With("user_id", req.UserID).Wrapf(err, "encode profile request")
	}

	backoff := retry.WithMaxRetries(uint64(c.cfg.MaxRetries), retry.NewExponential(c.cfg.RetryBase)) //nolint:gosec // MaxRetries is non-negative
	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := c.post(ctx, body)
		var te *transientError
		if errors.As(err, &te) {
			c.logger.WarnContext(ctx, "profile service call failed",
				"attempt", attempt,
				"user_id", req.UserID,
				"error", te.err)
			return retry.RetryableError(err)
		}
		return err
	})

	var te *transientError
	if errors.As(err, &te) {
		return te.err
	}
	return err
}

func (c *Client) post(ctx context.Context, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return oops.With("endpoint", c.cfg.Endpoint).Wrapf(err, "build profile request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return oops.With("endpoint", c.cfg.Endpoint).Wrapf(err, "profile service call aborted")
		}
		return &transientError{err: oops.With("endpoint", c.cfg.Endpoint).Wrapf(err, "profile service unreachable")}
	}
	defer func() { _ = resp.Body.Close() }()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err = oops.
		With("endpoint", c.cfg.Endpoint).
		With("status", resp.StatusCode).
		Errorf("profile service returned %s", resp.Status)
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &transientError{err: err}
	default:
		return err
	}
}

// transientError marks failures worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }
