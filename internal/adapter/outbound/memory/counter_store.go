// Package memory provides in-process implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pace-erp/pace-gate/internal/domain/ratelimit"
)

type bucket struct {
	count       int64
	windowStart time.Time
}

// CounterStore implements ratelimit.CounterStore with a mutex-guarded map of
// fixed-window buckets. Suitable for single-instance deployments; counters
// are never persisted and never shared across processes.
// Includes background cleanup to prevent unbounded memory growth.
type CounterStore struct {
	buckets         map[string]*bucket
	mu              sync.Mutex
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxTTL          time.Duration
	logger          *slog.Logger
	now             func() time.Time
}

// NewCounterStore creates an in-memory counter store with default cleanup
// settings: sweep every 5 minutes, drop buckets idle for over an hour.
func NewCounterStore(logger *slog.Logger) *CounterStore {
	return NewCounterStoreWithConfig(logger, 5*time.Minute, time.Hour)
}

// NewCounterStoreWithConfig creates an in-memory counter store with custom
// cleanup settings.
func NewCounterStoreWithConfig(logger *slog.Logger, cleanupInterval, maxTTL time.Duration) *CounterStore {
	return &CounterStore{
		buckets:         make(map[string]*bucket),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
		maxTTL:          maxTTL,
		logger:          logger,
		now:             time.Now,
	}
}

// SetClock injects a clock, for deterministic tests.
func (s *CounterStore) SetClock(now func() time.Time) { s.now = now }

// Increment advances the counter for key. The bucket resets whenever the
// elapsed time since its window started exceeds the window size; otherwise
// the count increments and the post-increment value is returned.
func (s *CounterStore) Increment(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[key]
	if !ok || now.Sub(b.windowStart) > window {
		s.buckets[key] = &bucket{count: 1, windowStart: now}
		return 1, nil
	}
	b.count++
	return b.count, nil
}

// StartCleanup starts the background goroutine that sweeps stale buckets.
// It stops when ctx is cancelled or Stop is called.
func (s *CounterStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

// cleanup removes buckets whose window started before the TTL cutoff.
func (s *CounterStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.maxTTL)
	cleaned := 0
	for key, b := range s.buckets {
		if b.windowStart.Before(cutoff) {
			delete(s.buckets, key)
			cleaned++
		}
	}
	if cleaned > 0 {
		s.logger.Debug("counter store cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(s.buckets))
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *CounterStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Size returns the current number of tracked keys.
func (s *CounterStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Compile-time interface verification.
var _ ratelimit.CounterStore = (*CounterStore)(nil)
