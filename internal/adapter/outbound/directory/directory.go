// Package directory is the SQLite-backed adapter for the identity/session
// store ("the Directory"). It owns credential verification, the append-only
// session table, the session timeline and the auth audit trail.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alexedwards/argon2id"
	_ "modernc.org/sqlite"

	"github.com/pace-erp/pace-gate/internal/domain/identity"
	"github.com/pace-erp/pace-gate/internal/domain/session"
	"github.com/pace-erp/pace-gate/internal/service/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id              TEXT PRIMARY KEY,
	identifier      TEXT NOT NULL UNIQUE,
	credential_hash TEXT NOT NULL,
	role            TEXT NOT NULL,
	state           TEXT NOT NULL DEFAULT 'ACTIVE'
);

CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	state            TEXT NOT NULL,
	created_at       TEXT NOT NULL,
	last_activity_at TEXT NOT NULL,
	revoked_at       TEXT,
	revoked_reason   TEXT,
	revoked_by       TEXT,
	device_tag       TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_state ON sessions (user_id, state);

CREATE TABLE IF NOT EXISTS session_timeline (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	user_id    TEXT,
	from_state TEXT,
	to_state   TEXT NOT NULL,
	event      TEXT NOT NULL,
	request_id TEXT,
	source     TEXT NOT NULL,
	at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_audit (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type      TEXT NOT NULL,
	identifier_hash TEXT,
	ip              TEXT,
	request_id      TEXT,
	result          TEXT NOT NULL,
	at              TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS signup_requests (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	name         TEXT NOT NULL,
	identifier   TEXT NOT NULL,
	state        TEXT NOT NULL DEFAULT 'REQUESTED',
	requested_at TEXT NOT NULL
);
`

// Directory wraps the SQLite database behind the identity, session, timeline
// and audit ports.
type Directory struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for tests.
func Open(path string, logger *slog.Logger) (*Directory, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open directory db: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY on concurrent transitions.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply directory schema: %w", err)
	}
	return &Directory{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// SetClock injects a clock, for deterministic tests.
func (d *Directory) SetClock(now func() time.Time) { d.now = now }

// Close releases the database handle.
func (d *Directory) Close() error { return d.db.Close() }

// --- identity.Directory ---

// UserByID retrieves a user by primary key.
func (d *Directory) UserByID(ctx context.Context, id string) (*identity.User, error) {
	return d.user(ctx, `SELECT id, identifier, role, state FROM users WHERE id = ?`, id)
}

// UserByIdentifier retrieves a user by canonical login identifier.
func (d *Directory) UserByIdentifier(ctx context.Context, identifier string) (*identity.User, error) {
	return d.user(ctx, `SELECT id, identifier, role, state FROM users WHERE identifier = ?`, identifier)
}

func (d *Directory) user(ctx context.Context, query, arg string) (*identity.User, error) {
	var u identity.User
	var role, state string
	err := d.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Identifier, &role, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, identity.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.Role = identity.Role(role)
	u.State = identity.AccountState(state)
	return &u, nil
}

// VerifyCredential compares a plaintext secret against the stored argon2id
// hash. The hash never leaves this adapter.
func (d *Directory) VerifyCredential(ctx context.Context, userID, secret string) (bool, error) {
	var hash string
	err := d.db.QueryRowContext(ctx,
		`SELECT credential_hash FROM users WHERE id = ?`, userID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, identity.ErrUserNotFound
	}
	if err != nil {
		return false, fmt.Errorf("query credential: %w", err)
	}
	match, err := argon2id.ComparePasswordAndHash(secret, hash)
	if err != nil {
		return false, fmt.Errorf("compare credential: %w", err)
	}
	return match, nil
}

// CreateUser inserts a user row with an argon2id-hashed credential.
// Exposed for seeding and tests; user lifecycle management is otherwise
// outside this service.
func (d *Directory) CreateUser(ctx context.Context, u identity.User, secret string) error {
	hash, err := argon2id.CreateHash(secret, argon2id.DefaultParams)
	if err != nil {
		return fmt.Errorf("hash credential: %w", err)
	}
	state := u.State
	if state == "" {
		state = identity.AccountActive
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO users (id, identifier, credential_hash, role, state) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Identifier, hash, string(u.Role), string(state))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// --- identity.SignupStore ---

// CreateSignupRequest records a new pending signup request.
func (d *Directory) CreateSignupRequest(ctx context.Context, req identity.SignupRequest) error {
	at := req.RequestedAt
	if at.IsZero() {
		at = d.now()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO signup_requests (name, identifier, state, requested_at) VALUES (?, ?, ?, ?)`,
		req.Name, req.Identifier, string(identity.SignupRequested), at.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert signup request: %w", err)
	}
	return nil
}

// LatestSignupState returns the state of the most recent signup request for
// the identifier, or SignupUnknown if none exists.
func (d *Directory) LatestSignupState(ctx context.Context, identifier string) (identity.SignupState, error) {
	var state string
	err := d.db.QueryRowContext(ctx,
		`SELECT state FROM signup_requests WHERE identifier = ? ORDER BY requested_at DESC, id DESC LIMIT 1`,
		identifier).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.SignupUnknown, nil
	}
	if err != nil {
		return identity.SignupUnknown, fmt.Errorf("query signup state: %w", err)
	}
	return identity.SignupState(state), nil
}

// --- session.Store ---

// Get retrieves a session by ID.
func (d *Directory) Get(ctx context.Context, id string) (*session.Session, error) {
	var s session.Session
	var state, createdAt, lastActivityAt string
	var revokedReason, deviceTag sql.NullString
	err := d.db.QueryRowContext(ctx,
		`SELECT id, user_id, state, created_at, last_activity_at, revoked_reason, device_tag
		   FROM sessions WHERE id = ?`, id).
		Scan(&s.ID, &s.UserID, &state, &createdAt, &lastActivityAt, &revokedReason, &deviceTag)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	s.State = session.State(state)
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if s.LastActivityAt, err = time.Parse(time.RFC3339Nano, lastActivityAt); err != nil {
		return nil, fmt.Errorf("parse last_activity_at: %w", err)
	}
	s.RevokedReason = session.RevokeReason(revokedReason.String)
	s.DeviceTag = deviceTag.String
	return &s, nil
}

// Create persists a new session row.
func (d *Directory) Create(ctx context.Context, s *session.Session) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, state, created_at, last_activity_at, device_tag)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, string(s.State),
		s.CreatedAt.Format(time.RFC3339Nano),
		s.LastActivityAt.Format(time.RFC3339Nano),
		s.DeviceTag)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SetState transitions a session guarded by its current state. A row already
// moved by a concurrent request matches nothing, which is not an error.
func (d *Directory) SetState(ctx context.Context, id string, from []session.State, to session.State, reason session.RevokeReason) error {
	query := fmt.Sprintf(
		`UPDATE sessions SET state = ?, revoked_at = ?, revoked_reason = ? WHERE id = ? AND state IN (%s)`,
		placeholders(len(from)))
	args := []any{string(to), d.now().Format(time.RFC3339Nano), nullable(string(reason)), id}
	for _, f := range from {
		args = append(args, string(f))
	}
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	return nil
}

// Touch refreshes LastActivityAt. Last-writer-wins by design.
func (d *Directory) Touch(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = ? WHERE id = ?`,
		d.now().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// RevokeLive revokes every ACTIVE/IDLE session of the user.
func (d *Directory) RevokeLive(ctx context.Context, userID string, reason session.RevokeReason, revokedBy string) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, revoked_at = ?, revoked_reason = ?, revoked_by = ?
		  WHERE user_id = ? AND state IN (?, ?)`,
		string(session.StateRevoked), d.now().Format(time.RFC3339Nano),
		string(reason), nullable(revokedBy), userID,
		string(session.StateActive), string(session.StateIdle))
	if err != nil {
		return 0, fmt.Errorf("revoke live sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke live sessions: %w", err)
	}
	return n, nil
}

// --- session.TimelineLogger ---

// LogTransition appends one timeline row. Callers treat failures as
// best-effort; this method only reports them.
func (d *Directory) LogTransition(ctx context.Context, t session.Transition) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO session_timeline (session_id, user_id, from_state, to_state, event, request_id, source, at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, nullable(t.UserID), nullable(string(t.From)), string(t.To),
		t.Event, nullable(t.RequestID), t.Source, d.now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert timeline row: %w", err)
	}
	return nil
}

// --- audit.Sink ---

// AppendAuthEvent appends one auth audit row.
func (d *Directory) AppendAuthEvent(ctx context.Context, e audit.Event) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO auth_audit (event_type, identifier_hash, ip, request_id, result, at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.EventType, nullable(e.IdentifierHash), nullable(e.IP), nullable(e.RequestID),
		e.Result, e.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

// placeholders returns "?, ?, ..." for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// nullable maps "" to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Compile-time interface verification.
var (
	_ identity.Directory     = (*Directory)(nil)
	_ identity.SignupStore   = (*Directory)(nil)
	_ session.Store          = (*Directory)(nil)
	_ session.TimelineLogger = (*Directory)(nil)
	_ audit.Sink             = (*Directory)(nil)
)
