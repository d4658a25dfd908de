package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pace-erp/pace-gate/internal/ctxkey"
	"github.com/pace-erp/pace-gate/internal/domain/challenge"
	"github.com/pace-erp/pace-gate/internal/domain/identity"
	"github.com/pace-erp/pace-gate/internal/domain/origin"
	"github.com/pace-erp/pace-gate/internal/domain/ratelimit"
	"github.com/pace-erp/pace-gate/internal/domain/session"
	"github.com/pace-erp/pace-gate/internal/service/audit"
)

// HandlerFunc is a terminal route handler. It always returns a Response; the
// pipeline owns every write to the client.
type HandlerFunc func(r *http.Request, st RequestState) *Response

// route is one entry of the fixed route table.
type route struct {
	method      string
	handler     HandlerFunc
	rateLimited bool
}

// Pipeline composes the ordered gate sequence and the route table. The gate
// order is fixed and total: request-id (middleware) → public branch → security
// headers → CORS → CSRF → rate limit → session → context → ACL → handler.
// Every response, terminal or not, passes through the single finalization
// step that owns headers, cookies and the envelope.
type Pipeline struct {
	policy     *origin.Policy
	resolver   *session.Resolver
	sessions   *session.Service
	directory  identity.Directory
	signups    identity.SignupStore
	limiter    *ratelimit.Limiter
	engine     *challenge.Engine
	tracker    *challenge.Tracker
	audit      *audit.Service
	metrics    *Metrics
	logger     *slog.Logger
	csrfBypass []string
	cookieDom  string
	production bool
	routes     map[string]route
	now        func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithCSRFBypassPrefixes sets the trusted internal path prefixes exempt from
// CSRF origin validation.
func WithCSRFBypassPrefixes(prefixes []string) PipelineOption {
	return func(p *Pipeline) { p.csrfBypass = prefixes }
}

// WithProduction toggles production behavior: Secure cookies on, the dev
// session header off.
func WithProduction(production bool) PipelineOption {
	return func(p *Pipeline) { p.production = production }
}

// WithPipelineClock injects a clock, for deterministic tests.
func WithPipelineClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline wires the gates, services and route table together.
func NewPipeline(
	policy *origin.Policy,
	resolver *session.Resolver,
	sessions *session.Service,
	directory identity.Directory,
	signups identity.SignupStore,
	limiter *ratelimit.Limiter,
	engine *challenge.Engine,
	tracker *challenge.Tracker,
	auditSvc *audit.Service,
	metrics *Metrics,
	cookieDomain string,
	logger *slog.Logger,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		policy:    policy,
		resolver:  resolver,
		sessions:  sessions,
		directory: directory,
		signups:   signups,
		limiter:   limiter,
		engine:    engine,
		tracker:   tracker,
		audit:     auditSvc,
		metrics:   metrics,
		logger:    logger,
		cookieDom: cookieDomain,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	p.routes = map[string]route{
		"/health":               {method: http.MethodGet, handler: p.handleHealth},
		"/auth/login":           {method: http.MethodPost, handler: p.handleLogin, rateLimited: true},
		"/auth/signup-request":  {method: http.MethodPost, handler: p.handleSignupRequest, rateLimited: true},
		"/auth/status-check":    {method: http.MethodPost, handler: p.handleStatusCheck},
		"/auth/human-challenge": {method: http.MethodGet, handler: p.handleHumanChallenge},
		"/auth/logout":          {method: http.MethodPost, handler: p.handleLogout},
		"/auth/me":              {method: http.MethodGet, handler: p.handleMe},
		"/admin/sessions/revoke": {
			method: http.MethodPost, handler: p.handleAdminRevoke,
		},
	}
	return p
}

// ServeHTTP runs one request through the pipeline.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	st := RequestState{
		RequestID: requestIDFromContext(r.Context()),
		ClientIP:  clientIPFromContext(r.Context()),
	}

	var resp *Response
	if isPublicPath(r.URL.Path) {
		st, resp = p.runPublic(r, st)
	} else {
		st, resp = p.runGuarded(r, st)
	}
	if resp == nil {
		resp = p.dispatch(r, st)
	}
	p.finalize(w, st, resp)
}

// runPublic is the short branch for allow-listed public paths: CORS plus the
// rate limit when the route opts in. No session machinery runs.
func (p *Pipeline) runPublic(r *http.Request, st RequestState) (RequestState, *Response) {
	st, resp := p.corsGate(r, st)
	if resp != nil {
		return st, resp
	}
	if rt, ok := p.routes[r.URL.Path]; ok && rt.rateLimited {
		if st, resp = p.rateLimitGate(r, st); resp != nil {
			return st, resp
		}
	}
	return st, nil
}

// runGuarded is the full ordered gate sequence for everything else.
func (p *Pipeline) runGuarded(r *http.Request, st RequestState) (RequestState, *Response) {
	gates := []func(*http.Request, RequestState) (RequestState, *Response){
		p.corsGate,
		p.csrfGate,
		p.sessionGate,
		p.contextGate,
		p.aclGate,
	}
	for _, gate := range gates {
		var resp *Response
		if st, resp = gate(r, st); resp != nil {
			return st, resp
		}
	}
	return st, nil
}

// dispatch invokes the route handler, enforcing path and method.
func (p *Pipeline) dispatch(r *http.Request, st RequestState) *Response {
	rt, ok := p.routes[r.URL.Path]
	if !ok {
		return ErrorResponse(http.StatusNotFound, CodeNotFound, "No such resource.")
	}
	if r.Method != rt.method {
		return ErrorResponse(http.StatusMethodNotAllowed, CodeMethodNotAllowed, "Method not allowed.")
	}
	return rt.handler(r, st)
}

// finalize is the single exit point. It strips whatever headers accumulated,
// re-applies the security and CORS sets, attaches cookies and warnings, and
// writes the envelope. A wildcard allow-origin at this point is a fatal
// configuration error, never downgraded.
func (p *Pipeline) finalize(w http.ResponseWriter, st RequestState, resp *Response) {
	h := w.Header()
	for _, name := range strippedHeaders {
		h.Del(name)
	}

	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("X-XSS-Protection", "0")
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Security-Policy", p.policy.BuildCSP())
	if st.RequestID != "" {
		h.Set("X-Request-Id", st.RequestID)
	}

	if st.Origin != "" {
		h.Set("Access-Control-Allow-Origin", st.Origin)
		h.Set("Access-Control-Allow-Credentials", "true")
		h.Add("Vary", "Origin")
		if resp.Preflight {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, "+AccountHintHeader+", X-Request-ID")
			h.Set("Access-Control-Max-Age", "600")
		}
	}

	if h.Get("Access-Control-Allow-Origin") == "*" {
		p.logger.Error("wildcard allow-origin with credentialed CORS, refusing response")
		h.Del("Access-Control-Allow-Origin")
		h.Del("Access-Control-Allow-Credentials")
		resp = ErrorResponse(http.StatusInternalServerError, CodeCORSWildcard, "Server configuration error.")
	}

	if resp.SetSessionCookie != nil {
		http.SetCookie(w, resp.SetSessionCookie)
	} else if resp.ClearSessionCookie {
		http.SetCookie(w, expiredSessionCookie(p.cookieDom, p.production))
	}
	if len(resp.Warnings) > 0 {
		h.Set("X-Session-Warning", strings.Join(resp.Warnings, ","))
	}

	if resp.Preflight {
		w.WriteHeader(resp.HTTPStatus)
		return
	}

	h.Set("Content-Type", "application/json")
	w.WriteHeader(resp.HTTPStatus)
	if err := json.NewEncoder(w).Encode(finalizeEnvelope(resp.Envelope, p.now())); err != nil {
		p.logger.Error("response write failed", "error", err)
	}
}

// strippedHeaders are removed before re-application so no handler can leak an
// inconsistent security or CORS header set.
var strippedHeaders = []string{
	"X-Content-Type-Options",
	"X-Frame-Options",
	"Referrer-Policy",
	"X-XSS-Protection",
	"Cache-Control",
	"Content-Security-Policy",
	"Access-Control-Allow-Origin",
	"Access-Control-Allow-Credentials",
	"Access-Control-Allow-Methods",
	"Access-Control-Allow-Headers",
	"Access-Control-Max-Age",
}

// denied records a gate denial metric.
func (p *Pipeline) denied(gate, code string) {
	p.metrics.GateDenialsTotal.WithLabelValues(gate, code).Inc()
}

// log returns the request-enriched logger.
func (p *Pipeline) log(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return l
	}
	return p.logger
}

// warningsOf stringifies resolver warnings for the response header.
func warningsOf(outcome *session.Outcome) []string {
	if outcome == nil || len(outcome.Warnings) == 0 {
		return nil
	}
	out := make([]string, len(outcome.Warnings))
	for i, warn := range outcome.Warnings {
		out[i] = string(warn)
	}
	return out
}
