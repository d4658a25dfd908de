package ratelimit

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// CounterStore is the injected counter backend.
//
// Increment advances the counter for key inside a fixed window and returns
// the post-increment count. A counter resets whenever the elapsed time since
// its window started exceeds the window size. Implementations must be safe
// for arbitrary concurrent use; cross-instance consistency is explicitly not
// guaranteed for in-process backends.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)
}

// Limiter applies the two independent fixed windows. The request that pushes
// a count over its ceiling is itself rejected: the comparison happens after
// the increment.
type Limiter struct {
	store  CounterStore
	cfg    Config
	logger *slog.Logger
}

// NewLimiter creates a Limiter over the given store.
func NewLimiter(store CounterStore, cfg Config, logger *slog.Logger) *Limiter {
	if cfg.Window <= 0 {
		cfg = DefaultConfig()
	}
	return &Limiter{store: store, cfg: cfg, logger: logger}
}

// Check counts the request against the IP window and, when a hint is
// present, the account window. The account hint comes out-of-band (header),
// never from the request body. A store failure is logged and the request
// allowed: the limiter is a best-effort abuse brake, not an authorization
// gate.
func (l *Limiter) Check(ctx context.Context, ip, accountHint string) Decision {
	if count, denied := l.count(ctx, ScopeIP, ip, l.cfg.MaxIPRequests); denied {
		return Decision{Allowed: false, Scope: ScopeIP, Count: count}
	}

	hint := strings.ToLower(strings.TrimSpace(accountHint))
	if hint != "" {
		if count, denied := l.count(ctx, ScopeAccount, hint, l.cfg.MaxAccountRequests); denied {
			return Decision{Allowed: false, Scope: ScopeAccount, Count: count}
		}
	}
	return Decision{Allowed: true}
}

func (l *Limiter) count(ctx context.Context, scope Scope, value string, max int64) (int64, bool) {
	if value == "" {
		return 0, false
	}
	count, err := l.store.Increment(ctx, FormatKey(scope, value), l.cfg.Window)
	if err != nil {
		l.logger.Warn("rate limit counter unavailable, allowing request",
			"scope", string(scope), "error", err)
		return 0, false
	}
	return count, count > max
}
