package directory

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/pace-erp/pace-gate/internal/domain/identity"
	"github.com/pace-erp/pace-gate/internal/domain/session"
	"github.com/pace-erp/pace-gate/internal/service/audit"
)

func testDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := Open(":memory:", slog.Default())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func seedUser(t *testing.T, d *Directory, id, identifier, secret string, role identity.Role) {
	t.Helper()
	err := d.CreateUser(context.Background(), identity.User{
		ID:         id,
		Identifier: identifier,
		Role:       role,
		State:      identity.AccountActive,
	}, secret)
	if err != nil {
		t.Fatalf("CreateUser() error: %v", err)
	}
}

func TestDirectory_UserLookup(t *testing.T) {
	t.Parallel()

	d := testDirectory(t)
	seedUser(t, d, "u1", "alice@pace.in", "s3cret", identity.RoleManager)

	byID, err := d.UserByID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("UserByID() error: %v", err)
	}
	if byID.Identifier != "alice@pace.in" || byID.Role != identity.RoleManager {
		t.Errorf("UserByID() = %+v", byID)
	}

	byIdent, err := d.UserByIdentifier(context.Background(), "alice@pace.in")
	if err != nil {
		t.Fatalf("UserByIdentifier() error: %v", err)
	}
	if byIdent.ID != "u1" {
		t.Errorf("UserByIdentifier().ID = %q", byIdent.ID)
	}

	if _, err := d.UserByID(context.Background(), "ghost"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Errorf("UserByID(ghost) error = %v, want ErrUserNotFound", err)
	}
}

func TestDirectory_VerifyCredential(t *testing.T) {
	t.Parallel()

	d := testDirectory(t)
	seedUser(t, d, "u1", "alice@pace.in", "s3cret", identity.RoleEmployee)

	match, err := d.VerifyCredential(context.Background(), "u1", "s3cret")
	if err != nil {
		t.Fatalf("VerifyCredential() error: %v", err)
	}
	if !match {
		t.Error("correct secret did not match")
	}

	match, err = d.VerifyCredential(context.Background(), "u1", "wrong")
	if err != nil {
		t.Fatalf("VerifyCredential() error: %v", err)
	}
	if match {
		t.Error("wrong secret matched")
	}

	if _, err := d.VerifyCredential(context.Background(), "ghost", "x"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Errorf("VerifyCredential(ghost) error = %v, want ErrUserNotFound", err)
	}
}

func TestDirectory_SessionRoundTrip(t *testing.T) {
	t.Parallel()

	d := testDirectory(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	sess := &session.Session{
		ID:             "sess-1",
		UserID:         "u1",
		State:          session.StateActive,
		CreatedAt:      now,
		LastActivityAt: now,
		DeviceTag:      "dt_abc",
	}
	if err := d.Create(context.Background(), sess); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	got, err := d.Get(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.UserID != "u1" || got.State != session.StateActive || got.DeviceTag != "dt_abc" {
		t.Errorf("Get() = %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}

	if _, err := d.Get(context.Background(), "ghost"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get(ghost) error = %v, want ErrSessionNotFound", err)
	}
}

func TestDirectory_SetStateGuarded(t *testing.T) {
	t.Parallel()

	d := testDirectory(t)
	now := time.Now().UTC()
	live := []session.State{session.StateActive, session.StateIdle}
	d.Create(context.Background(), &session.Session{
		ID: "s1", UserID: "u1", State: session.StateActive,
		CreatedAt: now, LastActivityAt: now,
	})

	if err := d.SetState(context.Background(), "s1", live, session.StateRevoked, session.ReasonLogout); err != nil {
		t.Fatalf("SetState() error: %v", err)
	}
	got, _ := d.Get(context.Background(), "s1")
	if got.State != session.StateRevoked || got.RevokedReason != session.ReasonLogout {
		t.Errorf("after SetState: %+v", got)
	}

	// A second transition must not match the now-terminal row, and must not
	// error either.
	if err := d.SetState(context.Background(), "s1", live, session.StateExpired, session.ReasonIdleTimeout); err != nil {
		t.Fatalf("guarded no-match SetState() error: %v", err)
	}
	got, _ = d.Get(context.Background(), "s1")
	if got.State != session.StateRevoked {
		t.Errorf("terminal row reactivated to %q", got.State)
	}
}

func TestDirectory_Touch(t *testing.T) {
	t.Parallel()

	d := testDirectory(t)
	created := time.Now().UTC().Add(-time.Hour)
	d.Create(context.Background(), &session.Session{
		ID: "s1", UserID: "u1", State: session.StateActive,
		CreatedAt: created, LastActivityAt: created,
	})

	if err := d.Touch(context.Background(), "s1"); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}
	got, _ := d.Get(context.Background(), "s1")
	if !got.LastActivityAt.After(created) {
		t.Error("Touch() did not refresh LastActivityAt")
	}
	if !got.CreatedAt.Equal(created) {
		t.Error("Touch() must not move CreatedAt")
	}
}

func TestDirectory_RevokeLive(t *testing.T) {
	t.Parallel()

	d := testDirectory(t)
	now := time.Now().UTC()
	for _, s := range []*session.Session{
		{ID: "a", UserID: "u1", State: session.StateActive, CreatedAt: now, LastActivityAt: now},
		{ID: "b", UserID: "u1", State: session.StateIdle, CreatedAt: now, LastActivityAt: now},
		{ID: "c", UserID: "u1", State: session.StateExpired, CreatedAt: now, LastActivityAt: now},
		{ID: "d", UserID: "u2", State: session.StateActive, CreatedAt: now, LastActivityAt: now},
	} {
		if err := d.Create(context.Background(), s); err != nil {
			t.Fatalf("Create(%s) error: %v", s.ID, err)
		}
	}

	n, err := d.RevokeLive(context.Background(), "u1", session.ReasonAdminForce, "SA:admin-1")
	if err != nil {
		t.Fatalf("RevokeLive() error: %v", err)
	}
	if n != 2 {
		t.Errorf("RevokeLive() = %d, want 2", n)
	}
	for _, id := range []string{"a", "b"} {
		got, _ := d.Get(context.Background(), id)
		if got.State != session.StateRevoked || got.RevokedReason != session.ReasonAdminForce {
			t.Errorf("session %s = %q/%q", id, got.State, got.RevokedReason)
		}
	}
	if got, _ := d.Get(context.Background(), "c"); got.State != session.StateExpired {
		t.Errorf("expired session mutated to %q", got.State)
	}
	if got, _ := d.Get(context.Background(), "d"); got.State != session.StateActive {
		t.Errorf("other user's session mutated to %q", got.State)
	}
}

func TestDirectory_TimelineAndAudit(t *testing.T) {
	t.Parallel()

	d := testDirectory(t)
	err := d.LogTransition(context.Background(), session.Transition{
		SessionID: "s1",
		UserID:    "u1",
		From:      session.StateActive,
		To:        session.StateIdle,
		Event:     "IDLE_ESCALATION",
		RequestID: "req-1",
		Source:    "resolver",
	})
	if err != nil {
		t.Fatalf("LogTransition() error: %v", err)
	}

	err = d.AppendAuthEvent(context.Background(), audit.Event{
		Timestamp:      time.Now(),
		EventType:      audit.EventLoginSuccess,
		IdentifierHash: audit.HashIdentifier("alice@pace.in"),
		IP:             "10.0.0.1",
		RequestID:      "req-1",
		Result:         audit.ResultOK,
	})
	if err != nil {
		t.Fatalf("AppendAuthEvent() error: %v", err)
	}
}

func TestDirectory_SignupRequests(t *testing.T) {
	t.Parallel()

	d := testDirectory(t)

	state, err := d.LatestSignupState(context.Background(), "nobody@pace.in")
	if err != nil {
		t.Fatalf("LatestSignupState() error: %v", err)
	}
	if state != identity.SignupUnknown {
		t.Errorf("state for unknown identifier = %q, want unknown", state)
	}

	err = d.CreateSignupRequest(context.Background(), identity.SignupRequest{
		Name:       "Alice",
		Identifier: "alice@pace.in",
	})
	if err != nil {
		t.Fatalf("CreateSignupRequest() error: %v", err)
	}

	state, err = d.LatestSignupState(context.Background(), "alice@pace.in")
	if err != nil {
		t.Fatalf("LatestSignupState() error: %v", err)
	}
	if state != identity.SignupRequested {
		t.Errorf("state = %q, want REQUESTED", state)
	}
}
