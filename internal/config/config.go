// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoanHao Contributors

// Package config loads service configuration from built-in defaults, an
// optional YAML file, AUTHSVC_ environment variables and command-line flags,
// in increasing order of precedence.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/hoanhao/authservice/internal/auth"
)

// EnvPrefix prefixes every environment variable read by Load. A double
// underscore separates nesting levels, so AUTHSVC_AUTH__SIGNING_SECRET sets
// auth.signing_secret.
const EnvPrefix = "AUTHSVC_"

// Config is the complete service configuration.
type Config struct {
	DatabaseURL string        `koanf:"database_url"`
	LogFormat   string        `koanf:"log_format"`
	LogLevel    string        `koanf:"log_level"`
	MetricsAddr string        `koanf:"metrics_addr"`
	Auth        AuthConfig    `koanf:"auth"`
	Profile     ProfileConfig `koanf:"profile"`
	Mail        MailConfig    `koanf:"mail"`
}

// AuthConfig configures tokens, hashing, reset tokens and session cleanup.
type AuthConfig struct {
	AccessTokenTTL       time.Duration `koanf:"access_token_ttl"`
	RefreshTokenTTL      time.Duration `koanf:"refresh_token_ttl"`
	SigningSecret        string        `koanf:"signing_secret"`
	Issuer               string        `koanf:"issuer"`
	PasswordHashCost     int           `koanf:"password_hash_cost"`
	ResetTokenTTLMinutes int           `koanf:"reset_token_ttl_minutes"`
	SessionRetentionDays int           `koanf:"session_retention_days"`
	CleanupSchedule      string        `koanf:"cleanup_schedule"`
	DependencyTimeout    time.Duration `koanf:"dependency_timeout"`
}

// ResetTokenTTL returns the reset token lifetime.
func (c AuthConfig) ResetTokenTTL() time.Duration {
	return time.Duration(c.ResetTokenTTLMinutes) * time.Minute
}

// SessionRetention returns how long inactive sessions are kept.
func (c AuthConfig) SessionRetention() time.Duration {
	return time.Duration(c.SessionRetentionDays) * 24 * time.Hour
}

// ProfileConfig configures the profile service client.
type ProfileConfig struct {
	Endpoint   string        `koanf:"endpoint"`
	Timeout    time.Duration `koanf:"timeout"`
	MaxRetries int           `koanf:"max_retries"`
}

// MailConfig configures outbound mail.
type MailConfig struct {
	Host        string `koanf:"host"`
	Port        int    `koanf:"port"`
	Username    string `koanf:"username"`
	Password    string `koanf:"password"`
	FromAddress string `koanf:"from_address"`
	ImplicitTLS bool   `koanf:"implicit_tls"`
	CAFile      string `koanf:"ca_file"`
	ResetURL    string `koanf:"reset_url"`
	Synchronous bool   `koanf:"synchronous"`
	Workers     int    `koanf:"workers"`
	QueueSize   int    `koanf:"queue_size"`
}

// Defaults returns the built-in configuration values keyed by path.
func Defaults() map[string]any {
	return map[string]any{
		"database_url": "",
		"log_format":   "json",
		"log_level":    "info",
		"metrics_addr": "127.0.0.1:9100",

		"auth.access_token_ttl":        auth.DefaultAccessTTL.String(),
		"auth.refresh_token_ttl":       auth.DefaultRefreshTTL.String(),
		"auth.signing_secret":          "",
		"auth.issuer":                  auth.DefaultIssuer,
		"auth.password_hash_cost":      auth.DefaultHashCost,
		"auth.reset_token_ttl_minutes": 15,
		"auth.session_retention_days":  30,
		"auth.cleanup_schedule":        auth.DefaultCleanupSchedule,
		"auth.dependency_timeout":      "5s",

		"profile.endpoint":    "",
		"profile.timeout":     "3s",
		"profile.max_retries": 2,

		"mail.host":         "localhost",
		"mail.port":         587,
		"mail.username":     "",
		"mail.password":     "",
		"mail.from_address": "no-reply@localhost",
		"mail.implicit_tls": false,
		"mail.ca_file":      "",
		"mail.reset_url":    "http://localhost:3000/reset-password",
		"mail.synchronous":  false,
		"mail.workers":      2,
		"mail.queue_size":   100,
	}
}

// Load builds the configuration. path may be empty to skip the file layer;
// flags may be nil to skip the flag layer. Only flags the user set override
// earlier layers.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "defaults").Wrap(err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "file").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "env").Wrap(err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagKey(flags)), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "flags").Wrap(err)
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return &cfg, nil
}

// envKey maps AUTHSVC_AUTH__SIGNING_SECRET to auth.signing_secret.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// flagKey maps --database-url to database_url and --auth.signing-secret to
// auth.signing_secret. The config flag itself is not a setting.
func flagKey(fs *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		if f.Name == "config" {
			return "", nil
		}
		return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(fs, f)
	}
}

// Validate checks the configuration for values the service cannot run with.
// Secrets never appear in the returned error.
func (c *Config) Validate() error {
	errb := oops.Code("CONFIG_INVALID")

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return errb.With("log_format", c.LogFormat).Errorf("log_format must be 'json' or 'text'")
	}

	a := c.Auth
	if len(a.SigningSecret) < auth.MinSecretLength {
		return errb.With("min_length", auth.MinSecretLength).
			Errorf("auth.signing_secret must be at least %d bytes", auth.MinSecretLength)
	}
	if a.AccessTokenTTL <= 0 || a.RefreshTokenTTL <= 0 {
		return errb.
			With("access_token_ttl", a.AccessTokenTTL.String()).
			With("refresh_token_ttl", a.RefreshTokenTTL.String()).
			Errorf("token TTLs must be positive")
	}
	if a.PasswordHashCost < bcrypt.MinCost || a.PasswordHashCost > bcrypt.MaxCost {
		return errb.With("password_hash_cost", a.PasswordHashCost).
			Errorf("auth.password_hash_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if a.ResetTokenTTLMinutes <= 0 {
		return errb.With("reset_token_ttl_minutes", a.ResetTokenTTLMinutes).Errorf("reset token TTL must be positive")
	}
	if a.SessionRetentionDays <= 0 {
		return errb.With("session_retention_days", a.SessionRetentionDays).Errorf("session retention must be positive")
	}
	if a.DependencyTimeout <= 0 {
		return errb.With("dependency_timeout", a.DependencyTimeout.String()).Errorf("dependency timeout must be positive")
	}
	if _, err := cron.ParseStandard(a.CleanupSchedule); err != nil {
		return errb.With("cleanup_schedule", a.CleanupSchedule).Wrapf(err, "auth.cleanup_schedule is invalid")
	}

	if c.Profile.MaxRetries < 0 {
		return errb.With("max_retries", c.Profile.MaxRetries).Errorf("profile.max_retries must not be negative")
	}
	if c.Mail.Workers < 0 || c.Mail.QueueSize < 0 {
		return errb.
			With("workers", c.Mail.Workers).
			With("queue_size", c.Mail.QueueSize).
			Errorf("mail workers and queue size must not be negative")
	}
	return nil
}

// ValidateServe adds the checks only the serve command needs.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	errb := oops.Code("CONFIG_INVALID")
	if c.DatabaseURL == "" {
		return errb.Errorf("database_url is required")
	}
	if c.Profile.Endpoint == "" {
		return errb.Errorf("profile.endpoint is required")
	}
	if c.Mail.Host == "" || c.Mail.FromAddress == "" {
		return errb.Errorf("mail.host and mail.from_address are required")
	}
	return nil
}
