// Package session manages the server-authoritative login session lifecycle.
// The cookie a browser holds is only a transport pointer; every authorization
// decision is made against the stored session record through the state
// machine in this package.
package session

import "time"

// State is the lifecycle state of a session.
type State string

const (
	// StateActive is a live session with recent activity.
	StateActive State = "ACTIVE"
	// StateIdle is a live session demoted after the idle threshold.
	StateIdle State = "IDLE"
	// StateExpired is terminal: idle hard limit or absolute TTL reached.
	StateExpired State = "EXPIRED"
	// StateRevoked is terminal: revoked by new login, logout or an admin.
	StateRevoked State = "REVOKED"
)

// Terminal reports whether the state can never transition again. Anything
// that is not a known live state counts as terminal, so an unrecognized
// value stored by a future version fails closed.
func (s State) Terminal() bool {
	switch s {
	case StateActive, StateIdle:
		return false
	default:
		return true
	}
}

// RevokeReason records why a session left the live states.
type RevokeReason string

const (
	ReasonNewLogin        RevokeReason = "NEW_LOGIN"
	ReasonAdminForce      RevokeReason = "ADMIN_FORCE_REVOKE"
	ReasonLogout          RevokeReason = "LOGOUT"
	ReasonIdleTimeout     RevokeReason = "IDLE_TIMEOUT"
	ReasonAbsoluteTimeout RevokeReason = "ABSOLUTE_TIMEOUT"
)

// Session is the persisted lifecycle record. Sessions are never deleted;
// terminal rows remain as an append-only history of every login.
type Session struct {
	// ID is the opaque bearer credential, 64 hex characters.
	ID string
	// UserID references the Directory user owning the session.
	UserID string
	// State is the current lifecycle state.
	State State
	// CreatedAt anchors the absolute TTL.
	CreatedAt time.Time
	// LastActivityAt anchors the idle checks. Last-writer-wins under
	// concurrent touches; staleness only delays idle demotion.
	LastActivityAt time.Time
	// RevokedReason is set when State is EXPIRED or REVOKED.
	RevokedReason RevokeReason
	// DeviceTag is a non-PII fingerprint of the logging-in client.
	DeviceTag string
}

// Lifecycle timing policy. The absolute TTL dominates every other rule.
const (
	// AbsoluteTTL is the maximum total session lifetime.
	AbsoluteTTL = 8 * time.Hour
	// FinalWarningAge attaches a FINAL TTL warning.
	FinalWarningAge = 7*time.Hour + 30*time.Minute
	// SoftWarningAge attaches a SOFT TTL warning.
	SoftWarningAge = 6 * time.Hour
	// IdleAfter demotes an ACTIVE session to IDLE.
	IdleAfter = 20 * time.Minute
	// IdleWarningWindow is the band before IdleAfter where a non-terminal
	// idle warning is attached instead of demoting.
	IdleWarningWindow = 2 * time.Minute
	// ExpireAfterIdle hard-expires a session, measured from the same
	// LastActivityAt anchor as IdleAfter.
	ExpireAfterIdle = 30 * time.Minute
)

// Warning is a non-terminal advisory carried alongside a successful
// resolution.
type Warning string

const (
	// WarnTTLSoft fires once session age reaches SoftWarningAge.
	WarnTTLSoft Warning = "TTL_SOFT"
	// WarnTTLFinal fires once session age reaches FinalWarningAge.
	WarnTTLFinal Warning = "TTL_FINAL"
	// WarnIdleSoon fires in the last IdleWarningWindow before demotion.
	WarnIdleSoon Warning = "IDLE_SOON"
)

// Terminal resolution codes. The SESSION_ prefix is load-bearing: the
// response envelope forces action=LOGOUT for any code carrying it.
const (
	CodeAbsoluteTimeout = "SESSION_ABSOLUTE_TIMEOUT"
	CodeIdleTimeout     = "SESSION_IDLE_TIMEOUT"
	CodeRevoked         = "SESSION_REVOKED"
	CodeRevokedAdmin    = "SESSION_REVOKED_ADMIN"
	CodeExpired         = "SESSION_EXPIRED"
	CodeInvalidState    = "SESSION_INVALID_STATE"
)
