// Package audit provides best-effort asynchronous auth audit logging.
// Audit is observability, never control flow: a full buffer drops the event,
// a sink failure is logged, and neither ever affects the request that
// produced the event.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event types recorded on the auth surface.
const (
	EventLoginSuccess  = "LOGIN_SUCCESS"
	EventLoginFailed   = "LOGIN_FAILED"
	EventRateLimited   = "RATE_LIMITED"
	EventLogout        = "LOGOUT"
	EventSignupRequest = "SIGNUP_REQUEST"
	EventStatusCheck   = "STATUS_CHECK"
)

// Result values.
const (
	ResultOK      = "OK"
	ResultFailed  = "FAILED"
	ResultBlocked = "BLOCKED"
)

// Event is one auth audit record. IdentifierHash carries a SHA-256 of the
// login identifier; the plaintext never reaches the audit trail.
type Event struct {
	Timestamp      time.Time
	EventType      string
	IdentifierHash string
	IP             string
	RequestID      string
	Result         string
}

// Sink persists audit events.
type Sink interface {
	AppendAuthEvent(ctx context.Context, e Event) error
}

// Service buffers events on a channel and writes them from a background
// worker so the request hot path never waits on audit I/O.
type Service struct {
	sink      Sink
	ch        chan Event
	logger    *slog.Logger
	wg        sync.WaitGroup
	closeOnce sync.Once
	dropped   atomic.Int64
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBufferSize sets the channel buffer size.
func WithBufferSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.ch = make(chan Event, size)
		}
	}
}

// WithClock injects a clock, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service over the given sink.
func NewService(sink Sink, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		sink:   sink,
		ch:     make(chan Event, 256),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the background worker.
func (s *Service) Start() {
	s.wg.Add(1)
	go s.worker()
}

// Record enqueues an event without blocking. If the buffer is full the event
// is dropped and counted.
func (s *Service) Record(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	select {
	case s.ch <- e:
	default:
		drops := s.dropped.Add(1)
		s.logger.Warn("audit event dropped",
			"event_type", e.EventType,
			"total_drops", drops)
	}
}

// Dropped returns the total number of dropped events.
func (s *Service) Dropped() int64 {
	return s.dropped.Load()
}

// Stop closes the channel and waits for the worker to drain it.
// Safe to call multiple times.
func (s *Service) Stop() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
	s.wg.Wait()
}

func (s *Service) worker() {
	defer s.wg.Done()
	for e := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.sink.AppendAuthEvent(ctx, e); err != nil {
			s.logger.Error("audit sink write failed",
				"event_type", e.EventType, "error", err)
		}
		cancel()
	}
}

// HashIdentifier returns the SHA-256 hex digest of a login identifier, or ""
// for empty input. Only the hash is ever stored.
func HashIdentifier(identifier string) string {
	if identifier == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(identifier))
	return hex.EncodeToString(sum[:])
}

// NopSink discards events; used when no sink is configured and in tests.
type NopSink struct{}

// AppendAuthEvent implements Sink.
func (NopSink) AppendAuthEvent(context.Context, Event) error { return nil }
