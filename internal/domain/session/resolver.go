package session

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Outcome is the result of resolving a presented session ID.
// A nil Outcome means anonymous: no session presented, not found, or the
// Directory read failed (fail-closed).
type Outcome struct {
	// Session is the stored record as read, before any transition.
	Session *Session
	// State is the effective state after transitions (ACTIVE or IDLE when
	// non-terminal).
	State State
	// Warnings are non-terminal advisories attached to a successful
	// resolution.
	Warnings []Warning
	// Terminal marks a lifecycle termination; Code carries the SESSION_*
	// code to surface and the caller must respond with action=LOGOUT.
	Terminal bool
	Code     string
}

// Resolver evaluates the session state machine for one request.
// It is stateless and safe for arbitrary concurrent use; all mutation goes
// through the Store with state-guarded writes.
type Resolver struct {
	store    Store
	timeline TimelineLogger
	logger   *slog.Logger
	now      func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithClock injects a clock, for deterministic tests.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a Resolver over the given store and timeline logger.
func NewResolver(store Store, timeline TimelineLogger, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:    store,
		timeline: timeline,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// liveStates is the guard set for every resolver-driven transition: only a
// live row may move, so terminal states are monotonic by construction.
var liveStates = []State{StateActive, StateIdle}

// Resolve evaluates the transition rules in strict priority order:
// absolute TTL, TTL warning bands, idle escalation, idle hard limit,
// revocation, already-expired, pass-through. The in-memory decision is
// authoritative: a failed persistence write is logged and the terminal
// response is returned regardless.
func (r *Resolver) Resolve(ctx context.Context, sessionID, requestID string) *Outcome {
	if sessionID == "" {
		return nil
	}

	sess, err := r.store.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			r.logger.Warn("session lookup failed, treating as anonymous",
				"request_id", requestID, "error", err)
		}
		return nil
	}

	now := r.now()
	age := now.Sub(sess.CreatedAt)
	inactive := now.Sub(sess.LastActivityAt)

	// Rule 1: absolute TTL dominates everything, including a just-touched
	// LastActivityAt.
	if age >= AbsoluteTTL {
		r.transition(ctx, sess, StateExpired, ReasonAbsoluteTimeout, "ABSOLUTE_TIMEOUT", requestID)
		return &Outcome{Session: sess, State: StateExpired, Terminal: true, Code: CodeAbsoluteTimeout}
	}

	// Rule 2: TTL warning bands, strongest wins.
	var warnings []Warning
	switch {
	case age >= FinalWarningAge:
		warnings = append(warnings, WarnTTLFinal)
	case age >= SoftWarningAge:
		warnings = append(warnings, WarnTTLSoft)
	}

	// Rule 3: idle escalation, ACTIVE only.
	state := sess.State
	if state == StateActive {
		switch {
		case inactive >= IdleAfter:
			r.transition(ctx, sess, StateIdle, "", "IDLE_ESCALATION", requestID)
			state = StateIdle
		case inactive >= IdleAfter-IdleWarningWindow:
			warnings = append(warnings, WarnIdleSoon)
		}
	}

	// Rule 4: idle hard limit, measured from the same LastActivityAt anchor.
	if state == StateIdle && inactive >= ExpireAfterIdle {
		r.transition(ctx, sess, StateExpired, ReasonIdleTimeout, "IDLE_TIMEOUT", requestID)
		return &Outcome{Session: sess, State: StateExpired, Terminal: true, Code: CodeIdleTimeout}
	}

	// Rule 5: revocation, with a distinct code for admin force.
	if sess.State == StateRevoked {
		code := CodeRevoked
		if sess.RevokedReason == ReasonAdminForce {
			code = CodeRevokedAdmin
		}
		return &Outcome{Session: sess, State: StateRevoked, Terminal: true, Code: code}
	}

	// Rule 6: already expired.
	if sess.State == StateExpired {
		return &Outcome{Session: sess, State: StateExpired, Terminal: true, Code: CodeExpired}
	}

	// Unknown stored state: fail closed rather than fall through.
	switch state {
	case StateActive, StateIdle:
	default:
		r.logger.Error("session in unknown state, denying",
			"session_id", sess.ID, "state", string(state), "request_id", requestID)
		return &Outcome{Session: sess, State: state, Terminal: true, Code: CodeInvalidState}
	}

	// Rule 7: pass-through. Refresh activity best-effort.
	if err := r.store.Touch(ctx, sess.ID); err != nil {
		r.logger.Error("session activity touch failed",
			"session_id", sess.ID, "request_id", requestID, "error", err)
	}
	return &Outcome{Session: sess, State: state, Warnings: warnings}
}

// transition persists a state change guarded to live rows and mirrors it
// into the timeline. Neither write may abort the caller.
func (r *Resolver) transition(ctx context.Context, sess *Session, to State, reason RevokeReason, event, requestID string) {
	if err := r.store.SetState(ctx, sess.ID, liveStates, to, reason); err != nil {
		r.logger.Error("session transition write failed",
			"session_id", sess.ID, "to", string(to), "event", event, "error", err)
	}
	r.logTimeline(ctx, Transition{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		From:      sess.State,
		To:        to,
		Event:     event,
		RequestID: requestID,
		Source:    "resolver",
	})
}

// logTimeline appends a timeline record, swallowing any error after logging.
func (r *Resolver) logTimeline(ctx context.Context, t Transition) {
	if r.timeline == nil {
		return
	}
	if err := r.timeline.LogTransition(ctx, t); err != nil {
		r.logger.Error("session timeline logging failed",
			"session_id", t.SessionID, "event", t.Event, "error", err)
	}
}
