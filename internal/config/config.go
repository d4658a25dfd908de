// Package config provides configuration loading for Pace Gate.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// Addr is the listen address. Default: "127.0.0.1:8443".
	Addr string `mapstructure:"addr"`
	// LogLevel is one of debug, info, warn, error. Default: "info".
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// SecurityConfig holds the origin, cookie and CSRF policy.
// AllowedOrigins has no default on purpose: an unset allow-list stops
// startup rather than silently admitting the world.
type SecurityConfig struct {
	// AllowedOrigins is the exhaustive browser-origin allow-list shared by
	// CORS, CSRF and CSP. Required.
	AllowedOrigins []string `mapstructure:"allowed_origins" validate:"required,min=1"`
	// CookieDomain scopes the session cookie. Required.
	CookieDomain string `mapstructure:"cookie_domain" validate:"required"`
	// Production toggles the cookie Secure attribute and disables the
	// header-based dev session override.
	Production bool `mapstructure:"production"`
	// TrustedCSRFPrefixes lists internal path prefixes exempt from CSRF
	// origin validation.
	TrustedCSRFPrefixes []string `mapstructure:"trusted_csrf_prefixes"`
}

// DirectoryConfig locates the identity/session store.
type DirectoryConfig struct {
	// Path is the SQLite database path. Default: "./pace-gate.db".
	Path string `mapstructure:"path"`
}

// RateLimitConfig tunes the public-route abuse limiter.
type RateLimitConfig struct {
	// Window is the counting window. Default: 60s.
	Window time.Duration `mapstructure:"window"`
	// MaxIP is the per-IP ceiling per window. Default: 10.
	MaxIP int64 `mapstructure:"max_ip"`
	// MaxAccount is the per-account-hint ceiling per window. Default: 5.
	MaxAccount int64 `mapstructure:"max_account"`
}

// RedisConfig optionally points the counter store at a shared Redis, making
// rate-limit windows consistent across instances. Empty Addr keeps the
// in-process store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuditConfig tunes the async audit service.
type AuditConfig struct {
	// BufferSize is the event channel capacity. Default: 256.
	BufferSize int `mapstructure:"buffer_size"`
}

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Security  SecurityConfig  `mapstructure:"security"`
	Directory DirectoryConfig `mapstructure:"directory"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Audit     AuditConfig     `mapstructure:"audit"`
}

// SetDefaults fills optional fields that were left unset.
func (c *Config) SetDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8443"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Directory.Path == "" {
		c.Directory.Path = "./pace-gate.db"
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = 60 * time.Second
	}
	if c.RateLimit.MaxIP == 0 {
		c.RateLimit.MaxIP = 10
	}
	if c.RateLimit.MaxAccount == 0 {
		c.RateLimit.MaxAccount = 5
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 256
	}
}

// Validate checks the configuration. Failures here are fatal at startup.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return decorateValidationError(err)
	}

	// A wildcard or malformed origin must never survive into the policy.
	for _, o := range c.Security.AllowedOrigins {
		trimmed := strings.TrimSpace(o)
		if trimmed == "*" {
			return fmt.Errorf("security.allowed_origins: wildcard origin is forbidden")
		}
		if trimmed == "" {
			return fmt.Errorf("security.allowed_origins: empty origin entry")
		}
	}
	for _, p := range c.Security.TrustedCSRFPrefixes {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("security.trusted_csrf_prefixes: %q must start with '/'", p)
		}
	}
	if c.RateLimit.Window < time.Second {
		return fmt.Errorf("rate_limit.window: must be at least 1s")
	}
	return nil
}

// decorateValidationError rewrites validator's struct-path errors into
// config-key form for operator-readable startup failures.
func decorateValidationError(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	var msgs []string
	for _, fe := range verrs {
		key := strings.ToLower(strings.TrimPrefix(fe.Namespace(), "Config."))
		key = strings.ReplaceAll(key, ".", "_")
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", key, fe.Tag()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}
