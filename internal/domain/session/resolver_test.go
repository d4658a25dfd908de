package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// fakeStore is an in-memory Store with the same guard semantics as the real
// Directory adapter.
type fakeStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	getErr   error
	setErr   error
	touchErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{sessions: make(map[string]*Session)}
}

func (f *fakeStore) put(s Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := s
	f.sessions[s.ID] = &copied
}

func (f *fakeStore) stored(id string) Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.sessions[id]
}

func (f *fakeStore) Get(_ context.Context, id string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStore) Create(_ context.Context, s *Session) error {
	f.put(*s)
	return nil
}

func (f *fakeStore) SetState(_ context.Context, id string, from []State, to State, reason RevokeReason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return nil
	}
	for _, fs := range from {
		if s.State == fs {
			s.State = to
			s.RevokedReason = reason
			return nil
		}
	}
	return nil
}

func (f *fakeStore) Touch(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchErr != nil {
		return f.touchErr
	}
	if s, ok := f.sessions[id]; ok {
		s.LastActivityAt = time.Now().UTC()
	}
	return nil
}

func (f *fakeStore) RevokeLive(_ context.Context, userID string, reason RevokeReason, _ string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.sessions {
		if s.UserID == userID && (s.State == StateActive || s.State == StateIdle) {
			s.State = StateRevoked
			s.RevokedReason = reason
			n++
		}
	}
	return n, nil
}

// fakeTimeline records transitions and can simulate write failures.
type fakeTimeline struct {
	mu          sync.Mutex
	transitions []Transition
	err         error
}

func (f *fakeTimeline) LogTransition(_ context.Context, t Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.transitions = append(f.transitions, t)
	return nil
}

func (f *fakeTimeline) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transitions)
}

func testResolver(store Store, timeline TimelineLogger, now time.Time) *Resolver {
	return NewResolver(store, timeline, slog.Default(), WithClock(func() time.Time { return now }))
}

func TestResolve_Anonymous(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	r := testResolver(store, &fakeTimeline{}, time.Now())

	if got := r.Resolve(context.Background(), "", "req-1"); got != nil {
		t.Errorf("empty session id should resolve to nil, got %+v", got)
	}
	if got := r.Resolve(context.Background(), "missing", "req-1"); got != nil {
		t.Errorf("unknown session id should resolve to nil, got %+v", got)
	}

	store.getErr = errors.New("directory down")
	store.put(Session{ID: "s1", State: StateActive})
	if got := r.Resolve(context.Background(), "s1", "req-1"); got != nil {
		t.Errorf("lookup failure should fail closed to anonymous, got %+v", got)
	}
}

func TestResolve_AbsoluteTTLDominates(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := newFakeStore()
	timeline := &fakeTimeline{}
	// Just-touched activity must not save a session past its absolute TTL.
	store.put(Session{
		ID:             "s1",
		UserID:         "u1",
		State:          StateActive,
		CreatedAt:      now.Add(-AbsoluteTTL),
		LastActivityAt: now.Add(-time.Second),
	})
	r := testResolver(store, timeline, now)

	out := r.Resolve(context.Background(), "s1", "req-1")
	if out == nil || !out.Terminal {
		t.Fatalf("expected terminal outcome, got %+v", out)
	}
	if out.Code != CodeAbsoluteTimeout {
		t.Errorf("Code = %q, want %q", out.Code, CodeAbsoluteTimeout)
	}
	if got := store.stored("s1").State; got != StateExpired {
		t.Errorf("stored state = %q, want EXPIRED", got)
	}
	if timeline.count() != 1 {
		t.Errorf("timeline transitions = %d, want 1", timeline.count())
	}
}

func TestResolve_AbsoluteTTLPersistFailureStillTerminal(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := newFakeStore()
	store.put(Session{
		ID:             "s1",
		State:          StateActive,
		CreatedAt:      now.Add(-9 * time.Hour),
		LastActivityAt: now,
	})
	store.setErr = errors.New("write timeout")
	r := testResolver(store, &fakeTimeline{err: errors.New("timeline down")}, now)

	out := r.Resolve(context.Background(), "s1", "req-1")
	if out == nil || !out.Terminal || out.Code != CodeAbsoluteTimeout {
		t.Fatalf("in-memory decision must hold despite write failures, got %+v", out)
	}
}

func TestResolve_TTLWarningBands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		age  time.Duration
		want []Warning
	}{
		{"below soft band", 5 * time.Hour, nil},
		{"soft band", 6*time.Hour + 30*time.Minute, []Warning{WarnTTLSoft}},
		{"final band wins", 7*time.Hour + 40*time.Minute, []Warning{WarnTTLFinal}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			now := time.Now().UTC()
			store := newFakeStore()
			store.put(Session{
				ID:             "s1",
				State:          StateActive,
				CreatedAt:      now.Add(-tt.age),
				LastActivityAt: now.Add(-time.Minute),
			})
			out := testResolver(store, &fakeTimeline{}, now).Resolve(context.Background(), "s1", "req-1")
			if out == nil || out.Terminal {
				t.Fatalf("expected non-terminal outcome, got %+v", out)
			}
			if len(out.Warnings) != len(tt.want) {
				t.Fatalf("Warnings = %v, want %v", out.Warnings, tt.want)
			}
			for i, w := range tt.want {
				if out.Warnings[i] != w {
					t.Errorf("Warnings[%d] = %q, want %q", i, out.Warnings[i], w)
				}
			}
		})
	}
}

func TestResolve_IdleEscalation_ScenarioA(t *testing.T) {
	t.Parallel()

	// Fresh login, then 21 minutes of silence: next resolution demotes to
	// IDLE and succeeds with activity refreshed.
	now := time.Now().UTC()
	store := newFakeStore()
	timeline := &fakeTimeline{}
	store.put(Session{
		ID:             "s1",
		UserID:         "u1",
		State:          StateActive,
		CreatedAt:      now.Add(-21 * time.Minute),
		LastActivityAt: now.Add(-21 * time.Minute),
	})
	r := testResolver(store, timeline, now)

	out := r.Resolve(context.Background(), "s1", "req-1")
	if out == nil || out.Terminal {
		t.Fatalf("expected non-terminal outcome, got %+v", out)
	}
	if out.State != StateIdle {
		t.Errorf("State = %q, want IDLE", out.State)
	}
	if got := store.stored("s1").State; got != StateIdle {
		t.Errorf("stored state = %q, want IDLE", got)
	}
	if !store.stored("s1").LastActivityAt.After(now.Add(-time.Minute)) {
		t.Error("activity should have been refreshed")
	}
}

func TestResolve_IdleWarningBand(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := newFakeStore()
	store.put(Session{
		ID:             "s1",
		State:          StateActive,
		CreatedAt:      now.Add(-time.Hour),
		LastActivityAt: now.Add(-19 * time.Minute),
	})
	out := testResolver(store, &fakeTimeline{}, now).Resolve(context.Background(), "s1", "req-1")
	if out == nil || out.Terminal {
		t.Fatalf("expected non-terminal outcome, got %+v", out)
	}
	if out.State != StateActive {
		t.Errorf("State = %q, want ACTIVE inside the warning band", out.State)
	}
	if len(out.Warnings) != 1 || out.Warnings[0] != WarnIdleSoon {
		t.Errorf("Warnings = %v, want [IDLE_SOON]", out.Warnings)
	}
}

func TestResolve_IdleHardLimit_ScenarioB(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := newFakeStore()
	store.put(Session{
		ID:             "s1",
		State:          StateIdle,
		CreatedAt:      now.Add(-2 * time.Hour),
		LastActivityAt: now.Add(-31 * time.Minute),
	})
	out := testResolver(store, &fakeTimeline{}, now).Resolve(context.Background(), "s1", "req-1")
	if out == nil || !out.Terminal {
		t.Fatalf("expected terminal outcome, got %+v", out)
	}
	if out.Code != CodeIdleTimeout {
		t.Errorf("Code = %q, want %q", out.Code, CodeIdleTimeout)
	}
	if got := store.stored("s1").State; got != StateExpired {
		t.Errorf("stored state = %q, want EXPIRED", got)
	}
}

func TestResolve_ActiveStraightToExpired(t *testing.T) {
	t.Parallel()

	// 31 minutes of silence from ACTIVE: demotion and hard limit both fire
	// in one resolution, measured from the same anchor.
	now := time.Now().UTC()
	store := newFakeStore()
	store.put(Session{
		ID:             "s1",
		State:          StateActive,
		CreatedAt:      now.Add(-time.Hour),
		LastActivityAt: now.Add(-31 * time.Minute),
	})
	out := testResolver(store, &fakeTimeline{}, now).Resolve(context.Background(), "s1", "req-1")
	if out == nil || !out.Terminal || out.Code != CodeIdleTimeout {
		t.Fatalf("expected SESSION_IDLE_TIMEOUT, got %+v", out)
	}
}

func TestResolve_Revoked(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		reason   RevokeReason
		wantCode string
	}{
		{"generic revoke", ReasonNewLogin, CodeRevoked},
		{"logout revoke", ReasonLogout, CodeRevoked},
		{"admin force revoke", ReasonAdminForce, CodeRevokedAdmin},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			now := time.Now().UTC()
			store := newFakeStore()
			store.put(Session{
				ID:             "s1",
				State:          StateRevoked,
				RevokedReason:  tt.reason,
				CreatedAt:      now.Add(-time.Hour),
				LastActivityAt: now.Add(-time.Minute),
			})
			out := testResolver(store, &fakeTimeline{}, now).Resolve(context.Background(), "s1", "req-1")
			if out == nil || !out.Terminal {
				t.Fatalf("expected terminal outcome, got %+v", out)
			}
			if out.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", out.Code, tt.wantCode)
			}
		})
	}
}

func TestResolve_TerminalStateMonotonicity(t *testing.T) {
	t.Parallel()

	// Once EXPIRED or REVOKED, no sequence of resolutions may ever surface
	// the session as live again.
	for _, terminal := range []State{StateExpired, StateRevoked} {
		terminal := terminal
		t.Run(string(terminal), func(t *testing.T) {
			t.Parallel()
			now := time.Now().UTC()
			store := newFakeStore()
			store.put(Session{
				ID:             "s1",
				State:          terminal,
				CreatedAt:      now.Add(-time.Minute),
				LastActivityAt: now,
			})
			r := testResolver(store, &fakeTimeline{}, now)
			for i := 0; i < 3; i++ {
				out := r.Resolve(context.Background(), "s1", "req-1")
				if out == nil || !out.Terminal {
					t.Fatalf("resolution %d: expected terminal, got %+v", i, out)
				}
				if out.State == StateActive || out.State == StateIdle {
					t.Fatalf("resolution %d: terminal session surfaced as live: %+v", i, out)
				}
			}
			if got := store.stored("s1").State; got != terminal {
				t.Errorf("stored state mutated from %q to %q", terminal, got)
			}
		})
	}
}

func TestResolve_UnknownStateFailsClosed(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := newFakeStore()
	store.put(Session{
		ID:             "s1",
		State:          State("LIMBO"),
		CreatedAt:      now.Add(-time.Minute),
		LastActivityAt: now,
	})
	out := testResolver(store, &fakeTimeline{}, now).Resolve(context.Background(), "s1", "req-1")
	if out == nil || !out.Terminal {
		t.Fatalf("unknown state must deny, got %+v", out)
	}
	if out.Code != CodeInvalidState {
		t.Errorf("Code = %q, want %q", out.Code, CodeInvalidState)
	}
}

func TestResolve_PassThroughTouches(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	store := newFakeStore()
	store.put(Session{
		ID:             "s1",
		State:          StateActive,
		CreatedAt:      now.Add(-time.Hour),
		LastActivityAt: now.Add(-5 * time.Minute),
	})
	out := testResolver(store, &fakeTimeline{}, now).Resolve(context.Background(), "s1", "req-1")
	if out == nil || out.Terminal {
		t.Fatalf("expected pass-through, got %+v", out)
	}
	if out.State != StateActive || len(out.Warnings) != 0 {
		t.Errorf("outcome = %+v, want clean ACTIVE", out)
	}
	if !store.stored("s1").LastActivityAt.After(now.Add(-time.Minute)) {
		t.Error("pass-through should refresh activity")
	}

	// A touch failure must not fail the resolution.
	store.touchErr = errors.New("write timeout")
	out = testResolver(store, &fakeTimeline{}, now).Resolve(context.Background(), "s1", "req-1")
	if out == nil || out.Terminal {
		t.Errorf("touch failure must not deny, got %+v", out)
	}
}
