package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Service owns session lifecycle side-effects outside the resolver: creation
// on login, revocation on logout and the admin force path.
type Service struct {
	store    Store
	timeline TimelineLogger
	logger   *slog.Logger
	now      func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceClock injects a clock, for deterministic tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over the given store and timeline logger.
func NewService(store Store, timeline TimelineLogger, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		timeline: timeline,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create establishes a brand-new ACTIVE session for the user. Every other
// live session of the user is revoked with reason NEW_LOGIN before the new
// row is written, enforcing the single-active-session invariant. A revoke
// failure is logged, not retried, and never blocks the login.
func (s *Service) Create(ctx context.Context, userID, deviceTag, requestID string) (*Session, error) {
	revoked, err := s.store.RevokeLive(ctx, userID, ReasonNewLogin, "")
	if err != nil {
		s.logger.Error("revoking prior sessions failed",
			"user_id", userID, "request_id", requestID, "error", err)
	} else if revoked > 0 {
		s.logTimeline(ctx, Transition{
			SessionID: "MULTI",
			UserID:    userID,
			To:        StateRevoked,
			Event:     string(ReasonNewLogin),
			RequestID: requestID,
			Source:    "login",
		})
	}

	id, err := GenerateID()
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess := &Session{
		ID:             id,
		UserID:         userID,
		State:          StateActive,
		CreatedAt:      now,
		LastActivityAt: now,
		DeviceTag:      deviceTag,
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.logTimeline(ctx, Transition{
		SessionID: id,
		UserID:    userID,
		To:        StateActive,
		Event:     "LOGIN",
		RequestID: requestID,
		Source:    "login",
	})
	return sess, nil
}

// Revoke terminates a single live session (logout). The row is kept as a
// terminal lifecycle record, never deleted.
func (s *Service) Revoke(ctx context.Context, sess *Session, requestID string) error {
	if err := s.store.SetState(ctx, sess.ID, liveStates, StateRevoked, ReasonLogout); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	s.logTimeline(ctx, Transition{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		From:      sess.State,
		To:        StateRevoked,
		Event:     string(ReasonLogout),
		RequestID: requestID,
		Source:    "logout",
	})
	return nil
}

// AdminRevokeAll force-revokes every live session of the target user.
// Callers must have verified the actor holds the top administrative rank.
func (s *Service) AdminRevokeAll(ctx context.Context, targetUserID, adminUserID, requestID string) (int64, error) {
	revoked, err := s.store.RevokeLive(ctx, targetUserID, ReasonAdminForce, "SA:"+adminUserID)
	if err != nil {
		return 0, fmt.Errorf("admin revoke: %w", err)
	}
	if revoked > 0 {
		s.logTimeline(ctx, Transition{
			SessionID: "MULTI",
			UserID:    targetUserID,
			To:        StateRevoked,
			Event:     string(ReasonAdminForce),
			RequestID: requestID,
			Source:    "admin",
		})
	}
	return revoked, nil
}

func (s *Service) logTimeline(ctx context.Context, t Transition) {
	if s.timeline == nil {
		return
	}
	if err := s.timeline.LogTransition(ctx, t); err != nil {
		s.logger.Error("session timeline logging failed",
			"session_id", t.SessionID, "event", t.Event, "error", err)
	}
}

// GenerateID creates a cryptographically random session ID.
// Returns 64 hex characters (32 bytes).
func GenerateID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// DeviceTag derives a soft, non-PII client fingerprint from the User-Agent
// and client IP. Used only as a device-change signal, never for
// authorization.
func DeviceTag(userAgent, ip string) string {
	sum := xxhash.Sum64String(userAgent + "|" + ip)
	return "dt_" + strconv.FormatUint(sum, 16)
}
