package challenge

import (
	"sync"
	"time"
)

// Tracker parameters. The tracker is independent of and additive to the
// answer check: it knows neither the question nor the answer.
const (
	// MaxAttempts hard-blocks the key inside the rolling window.
	MaxAttempts = 7
	// MinHumanDelay rejects retries faster than a human plausibly types.
	MinHumanDelay = 300 * time.Millisecond
	// TrackerWindow is the rolling window after which a key resets.
	TrackerWindow = 5 * time.Minute
)

type attemptRecord struct {
	count         int
	lastAttemptAt time.Time
}

// Tracker applies the per-(endpoint, IP) retry heuristic. State is a
// process-local map; under horizontal scaling each instance enforces its own
// ceilings, an accepted limitation.
type Tracker struct {
	mu       sync.Mutex
	attempts map[string]*attemptRecord
	now      func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTrackerClock injects a clock, for deterministic tests.
func WithTrackerClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a Tracker.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		attempts: make(map[string]*attemptRecord),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Allow records an attempt for (endpoint, ip) and reports whether the caller
// may proceed. Denials: retry faster than MinHumanDelay, or MaxAttempts
// reached inside the rolling window.
func (t *Tracker) Allow(endpoint, ip string) bool {
	key := endpoint + ":" + ip
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, exists := t.attempts[key]
	if !exists || now.Sub(rec.lastAttemptAt) > TrackerWindow {
		t.attempts[key] = &attemptRecord{count: 1, lastAttemptAt: now}
		return true
	}

	delta := now.Sub(rec.lastAttemptAt)
	rec.lastAttemptAt = now
	rec.count++

	if delta < MinHumanDelay {
		return false
	}
	if rec.count >= MaxAttempts {
		return false
	}
	return true
}

// Size returns the number of tracked keys, for monitoring and tests.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.attempts)
}
