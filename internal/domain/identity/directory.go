package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Sentinel errors for Directory lookups.
var (
	// ErrUserNotFound is returned when no user matches the query.
	ErrUserNotFound = errors.New("identity: user not found")
)

// Directory is the outbound port to the identity store. Read failures are
// treated as absence by callers (fail-closed to anonymous); the pipeline
// never surfaces Directory errors to clients.
type Directory interface {
	// UserByID retrieves a user by primary key.
	// Returns ErrUserNotFound if no such user exists.
	UserByID(ctx context.Context, id string) (*User, error)

	// UserByIdentifier retrieves a user by canonical login identifier.
	// Returns ErrUserNotFound if no such user exists.
	UserByIdentifier(ctx context.Context, identifier string) (*User, error)

	// VerifyCredential checks a plaintext secret against the stored hash.
	// Hashing is owned by the Directory; callers only see match/no-match.
	VerifyCredential(ctx context.Context, userID, secret string) (bool, error)
}

// SignupRequest is a pending access request recorded before any user exists.
type SignupRequest struct {
	Name        string
	Identifier  string
	RequestedAt time.Time
}

// SignupState is the lifecycle state of a signup request.
type SignupState string

const (
	SignupRequested     SignupState = "REQUESTED"
	SignupRejected      SignupState = "REJECTED"
	SignupSetFirstLogin SignupState = "SET_FIRST_LOGIN"
	SignupConsumed      SignupState = "CONSUMED"
	SignupUnknown       SignupState = ""
)

// SignupStore is the outbound port for the signup-request envelope. The
// approval workflow itself lives outside this service.
type SignupStore interface {
	// CreateSignupRequest records a new pending request.
	CreateSignupRequest(ctx context.Context, req SignupRequest) error

	// LatestSignupState returns the state of the most recent request for the
	// identifier, or SignupUnknown if none exists.
	LatestSignupState(ctx context.Context, identifier string) (SignupState, error)
}

// CanonicalIdentifier normalizes a raw login identifier: lowercased, trimmed,
// and bare (non-email) values completed with the corporate domain.
func CanonicalIdentifier(raw string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return ""
	}
	if !strings.Contains(v, "@") {
		return v + "@pace.in"
	}
	return v
}
