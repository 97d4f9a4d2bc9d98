// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

// Package config loads the server configuration from a YAML file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/commonsforum/commons/internal/auth"
)

// EnvPrefix prefixes every environment override. Nested keys are joined with
// a double underscore: COMMONS_AUTH__ACCESS_TOKEN__SECRET.
const EnvPrefix = "COMMONS_"

// Config is the complete server configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Database DatabaseConfig `koanf:"database"`
	Log      LogConfig      `koanf:"log"`
	Auth     AuthConfig     `koanf:"auth"`
	SMTP     SMTPConfig     `koanf:"smtp"`
	App      AppConfig      `koanf:"app"`
	Janitor  JanitorConfig  `koanf:"janitor"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// MetricsConfig configures the metrics and health listener. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxConns        int32         `koanf:"max_conns"`
	ConnectAttempts uint64        `koanf:"connect_attempts"`
	ConnectBackoff  time.Duration `koanf:"connect_backoff"`
}

// LogConfig selects the log format and level.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// AuthConfig holds token signing and password hashing settings.
type AuthConfig struct {
	Issuer                string        `koanf:"issuer"`
	AccessToken           TokenSettings `koanf:"access_token"`
	RefreshToken          TokenSettings `koanf:"refresh_token"`
	SkipEmailVerification bool          `koanf:"skip_email_verification"`
	Hasher                HasherConfig  `koanf:"hasher"`
}

// TokenSettings configures one token family.
type TokenSettings struct {
	Secret string        `koanf:"secret"`
	TTL    time.Duration `koanf:"ttl"`
}

// HasherConfig is the argon2id work factor. Zero fields use the defaults.
type HasherConfig struct {
	Time    uint32 `koanf:"time"`
	Memory  uint32 `koanf:"memory"`
	Threads uint8  `koanf:"threads"`
}

// SMTPConfig configures outbound mail. An empty Host selects the log mailer.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
}

// AppConfig describes the public web application.
type AppConfig struct {
	// BaseURL is the origin used to build links in outbound mail.
	BaseURL string `koanf:"base_url"`
}

// JanitorConfig schedules the expired credential sweep.
type JanitorConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// Default returns the configuration used for keys no source sets.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics:  MetricsConfig{Addr: "127.0.0.1:9100"},
		Database: DatabaseConfig{ConnectAttempts: 5, ConnectBackoff: 500 * time.Millisecond},
		Log:      LogConfig{Format: "json", Level: "info"},
		Auth: AuthConfig{
			Issuer:       "commons",
			AccessToken:  TokenSettings{TTL: 15 * time.Minute},
			RefreshToken: TokenSettings{TTL: 7 * 24 * time.Hour},
		},
		SMTP:    SMTPConfig{Port: 587},
		App:     AppConfig{BaseURL: "http://localhost:3000"},
		Janitor: JanitorConfig{Interval: time.Hour},
	}
}

// RegisterFlags adds the flag overrides Load understands to fs. Flag names
// are the configuration keys.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String("http.addr", def.HTTP.Addr, "public API listen address")
	fs.String("metrics.addr", def.Metrics.Addr, "metrics/health listen address (empty = disabled)")
	fs.String("database.url", "", "PostgreSQL connection URL")
	fs.String("log.format", def.Log.Format, "log format (json or text)")
	fs.String("log.level", def.Log.Level, "log level (debug, info, warn, error)")
	fs.Bool("auth.skip_email_verification", false, "activate accounts without an emailed code")
}

// Load reads the optional YAML file at path, then COMMONS_ environment
// variables, then the flags the user changed, over Default, and validates
// the result.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg, err := load(path, flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase reads the same sources as Load but only requires the
// database settings. Migrations run before secrets exist.
func LoadDatabase(path string, flags *pflag.FlagSet) (DatabaseConfig, error) {
	cfg, err := load(path, flags)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if cfg.Database.URL == "" {
		return DatabaseConfig{}, oops.Code("CONFIG_INVALID").
			With("key", "database.url").
			Errorf("database.url is required")
	}
	return cfg.Database, nil
}

func load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "file").With("path", path).Wrap(err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "env").Wrap(err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", nil), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "decode configuration").Wrap(err)
	}
	return &cfg, nil
}

// envKey maps COMMONS_AUTH__ACCESS_TOKEN__SECRET to auth.access_token.secret.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	switch {
	case c.HTTP.Addr == "":
		return invalid("http.addr", "http.addr is required")
	case c.Database.URL == "":
		return invalid("database.url", "database.url is required")
	case c.Log.Format != "json" && c.Log.Format != "text":
		return invalid("log.format", "log.format must be json or text, got %q", c.Log.Format)
	case c.Auth.AccessToken.Secret == "":
		return invalid("auth.access_token.secret", "auth.access_token.secret is required")
	case c.Auth.RefreshToken.Secret == "":
		return invalid("auth.refresh_token.secret", "auth.refresh_token.secret is required")
	case c.Auth.AccessToken.Secret == c.Auth.RefreshToken.Secret:
		return invalid("auth.refresh_token.secret", "access and refresh tokens need different secrets")
	case c.Auth.AccessToken.TTL <= 0:
		return invalid("auth.access_token.ttl", "auth.access_token.ttl must be positive")
	case c.Auth.RefreshToken.TTL <= 0:
		return invalid("auth.refresh_token.ttl", "auth.refresh_token.ttl must be positive")
	case c.Janitor.Interval <= 0:
		return invalid("janitor.interval", "janitor.interval must be positive")
	case c.SMTP.Host != "" && c.SMTP.From == "":
		return invalid("smtp.from", "smtp.from is required when smtp.host is set")
	case c.SMTP.Host != "" && (c.SMTP.Port <= 0 || c.SMTP.Port > 65535):
		return invalid("smtp.port", "smtp.port %d is out of range", c.SMTP.Port)
	}

	if u, err := url.Parse(c.App.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("app.base_url", "app.base_url must be an absolute URL, got %q", c.App.BaseURL)
	}
	return nil
}

// TokenConfig returns the token minter settings.
func (c *Config) TokenConfig() auth.TokenConfig {
	return auth.TokenConfig{
		Issuer:        c.Auth.Issuer,
		AccessSecret:  c.Auth.AccessToken.Secret,
		AccessTTL:     c.Auth.AccessToken.TTL,
		RefreshSecret: c.Auth.RefreshToken.Secret,
		RefreshTTL:    c.Auth.RefreshToken.TTL,
	}
}

// HasherParams returns the argon2id work factor.
func (c *Config) HasherParams() auth.Argon2Params {
	return auth.Argon2Params{Time: c.Auth.Hasher.Time, Memory: c.Auth.Hasher.Memory, Threads: c.Auth.Hasher.Threads}
}

// MailEnabled reports whether outbound mail goes over SMTP.
func (c *Config) MailEnabled() bool {
	return c.SMTP.Host != ""
}
