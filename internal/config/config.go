// Package config loads and validates service configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/viper"
)

// Config holds service configuration loaded from the environment.
type Config struct {
	// Addr is the address the HTTP server listens on (e.g. :8080).
	Addr string `mapstructure:"ADDR"`
	// DataDir is the directory holding the bbolt database.
	DataDir string `mapstructure:"DATA_DIR"`
	// PublicBaseURL is the externally visible base URL of this service.
	// Its host doubles as the allowed non-loopback continue-URI host.
	PublicBaseURL string `mapstructure:"PUBLIC_BASE_URL"`
	// SignInURL is where unauthenticated browsers are sent during
	// hand-off, with a returnUrl query parameter appended. Empty means
	// respond 401 instead of redirecting.
	SignInURL string `mapstructure:"SIGN_IN_URL"`

	// JWTSecret is the HMAC secret for access-token signing and the
	// input to refresh-envelope key derivation. Required.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTExpirationMinutes is the access-token lifetime in minutes.
	JWTExpirationMinutes int `mapstructure:"JWT_EXPIRATION_MINUTES"`
	// JWTRefreshTokenExpirationDays is the refresh-token lifetime in days.
	JWTRefreshTokenExpirationDays int `mapstructure:"JWT_REFRESH_TOKEN_EXPIRATION_DAYS"`

	// SweepInterval is how often expired rows are reclaimed (e.g. "5m").
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Missing .env is ignored (e.g. in CI); env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("ADDR", ":8080")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")
	v.SetDefault("SIGN_IN_URL", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "beutl-auth")
	v.SetDefault("JWT_AUDIENCE", "beutl-api")
	v.SetDefault("JWT_EXPIRATION_MINUTES", 15)
	v.SetDefault("JWT_REFRESH_TOKEN_EXPIRATION_DAYS", 30)
	v.SetDefault("SWEEP_INTERVAL", "5m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: ADDR must be set")
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET must be set")
	}
	if c.JWTExpirationMinutes <= 0 {
		return errors.New("config: JWT_EXPIRATION_MINUTES must be positive")
	}
	if c.JWTRefreshTokenExpirationDays <= 0 {
		return errors.New("config: JWT_REFRESH_TOKEN_EXPIRATION_DAYS must be positive")
	}
	if _, err := url.Parse(c.PublicBaseURL); err != nil {
		return fmt.Errorf("config: PUBLIC_BASE_URL is not a valid URL: %w", err)
	}
	return nil
}

// AccessTTL returns the access-token lifetime.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.JWTExpirationMinutes) * time.Minute
}

// RefreshTTL returns the refresh-token lifetime.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.JWTRefreshTokenExpirationDays) * 24 * time.Hour
}

// ProductionHost returns the hostname of PublicBaseURL, the allowed
// non-loopback continue-URI host.
func (c *Config) ProductionHost() string {
	u, err := url.Parse(c.PublicBaseURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// SweepEvery parses SweepInterval. Returns 5m if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	d, err := time.ParseDuration(c.SweepInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}
