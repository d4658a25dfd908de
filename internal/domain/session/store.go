package session

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned when no session row matches the ID.
var ErrSessionNotFound = errors.New("session: not found")

// Store is the outbound port to the Directory's session table.
// Implementations must guard state writes so terminal rows are never
// reactivated: every transition carries the set of states it may leave from.
type Store interface {
	// Get retrieves a session by ID.
	// Returns ErrSessionNotFound if the row does not exist.
	Get(ctx context.Context, id string) (*Session, error)

	// Create persists a new ACTIVE session.
	Create(ctx context.Context, s *Session) error

	// SetState transitions the session to the given state, but only when its
	// current state is one of from. A no-match is not an error: a concurrent
	// request may already have moved the row, and the in-memory decision
	// stands either way.
	SetState(ctx context.Context, id string, from []State, to State, reason RevokeReason) error

	// Touch updates LastActivityAt. Last-writer-wins; never guards state.
	Touch(ctx context.Context, id string) error

	// RevokeLive revokes all ACTIVE/IDLE sessions of the user with the given
	// reason, returning how many rows changed. revokedBy is recorded for
	// admin-forced revocations and may be empty.
	RevokeLive(ctx context.Context, userID string, reason RevokeReason, revokedBy string) (int64, error)
}

// Transition is one append-only timeline record. Timeline writes are strictly
// best-effort: a failure is logged and never aborts the transition or the
// request that caused it.
type Transition struct {
	SessionID string
	UserID    string
	From      State
	To        State
	Event     string
	RequestID string
	Source    string
}

// TimelineLogger is the outbound port for the session lifecycle timeline.
type TimelineLogger interface {
	LogTransition(ctx context.Context, t Transition) error
}
