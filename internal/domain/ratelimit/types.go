// Package ratelimit provides the fixed-window abuse limiter applied to the
// public auth routes.
package ratelimit

import (
	"fmt"
	"time"
)

// Config defines the limiter parameters. Both windows are independent.
type Config struct {
	// Window is the counting window for both scopes.
	Window time.Duration
	// MaxIPRequests is the per-client-IP ceiling inside one window.
	MaxIPRequests int64
	// MaxAccountRequests is the per-account-hint ceiling inside one window.
	MaxAccountRequests int64
}

// DefaultConfig mirrors the production policy: 60 second windows,
// 10 requests per IP, 5 per account hint.
func DefaultConfig() Config {
	return Config{
		Window:             time.Minute,
		MaxIPRequests:      10,
		MaxAccountRequests: 5,
	}
}

// Scope identifies which window a key belongs to.
type Scope string

const (
	// ScopeIP counts by client IP.
	ScopeIP Scope = "ip"
	// ScopeAccount counts by the caller-supplied account hint. The hint is
	// used only for keying, never for authorization.
	ScopeAccount Scope = "account"
)

// FormatKey returns a structured counter key: "ratelimit:{scope}:{value}".
func FormatKey(scope Scope, value string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, value)
}

// Decision is the result of a limiter check.
type Decision struct {
	// Allowed is false when either window was exceeded.
	Allowed bool
	// Scope names the window that rejected the request, when denied.
	Scope Scope
	// Count is the post-increment count in the rejecting window.
	Count int64
}
