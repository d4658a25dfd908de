package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pace-erp/pace-gate/internal/ctxkey"
)

// RequestIDMiddleware extracts or generates the per-request correlation ID,
// enriches the logger with it and echoes it back to the client. It runs
// before any gate: every log line and every denial carries the ID.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enriched := logger.With("request_id", requestID)
			ctx := context.WithValue(r.Context(), ctxkey.RequestIDKey{}, requestID)
			ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, enriched)

			w.Header().Set("X-Request-Id", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RealIPMiddleware resolves the client IP and stores it in context for the
// rate limiter and audit trail. Only the first X-Forwarded-For entry is
// trusted to avoid spoofed chains.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), ctxkey.ClientIPKey{}, extractRealIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractRealIP picks the client address from proxy headers, falling back to
// the socket peer.
func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// MetricsMiddleware records request counts and latency. Outermost in the
// chain so the duration covers the whole pipeline.
func MetricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			path := metricPath(r.URL.Path)
			m.RequestsTotal.WithLabelValues(path, strconv.Itoa(rec.status)).Inc()
			m.RequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		})
	}
}

// metricPath collapses unknown paths into one label value so label
// cardinality stays bounded under path scanning.
func metricPath(path string) string {
	if _, ok := publicPaths[path]; ok {
		return path
	}
	switch path {
	case "/auth/logout", "/auth/me", "/admin/sessions/revoke":
		return path
	}
	return "other"
}

// statusRecorder captures the status code written downstream.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestIDFromContext returns the correlation ID, or "" outside the
// middleware chain.
func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxkey.RequestIDKey{}).(string)
	return id
}

// clientIPFromContext returns the resolved client IP, or "" outside the
// middleware chain.
func clientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ctxkey.ClientIPKey{}).(string)
	return ip
}
