package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/pace-erp/pace-gate/internal/domain/identity"
	"github.com/pace-erp/pace-gate/internal/domain/session"
	"github.com/pace-erp/pace-gate/internal/service/audit"
)

// RequestState is the per-request annotation threaded through the gate chain
// by value. Gates return an updated copy; nothing mutates the http.Request.
type RequestState struct {
	// RequestID is the correlation ID attached before any gate runs.
	RequestID string
	// ClientIP is the resolved client address.
	ClientIP string
	// Origin is the validated browser origin to echo back, or "" when the
	// request carried no Origin header.
	Origin string
	// Outcome is the resolved session, nil for anonymous.
	Outcome *session.Outcome
	// Identity is the resolved request identity, nil until the context gate.
	Identity *identity.RequestContext
}

// DevSessionHeader carries a session ID out-of-band for local testing.
// Honored only when the production flag is off.
const DevSessionHeader = "X-Pace-Session"

// AccountHintHeader carries the rate-limit account hint out-of-band so the
// limiter never has to consume a request body a handler still needs.
const AccountHintHeader = "X-Auth-Identifier"

// safe methods bypass CSRF entirely.
func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// corsGate validates the Origin header against the allow-list. No Origin
// means same-origin or non-browser traffic and passes unannotated. An allowed
// OPTIONS request terminates here as a preflight.
func (p *Pipeline) corsGate(r *http.Request, st RequestState) (RequestState, *Response) {
	orig := r.Header.Get("Origin")
	if orig == "" {
		return st, nil
	}
	if !p.policy.Allowed(orig) {
		p.denied("cors", CodeCORSOriginDenied)
		return st, ErrorResponse(http.StatusForbidden, CodeCORSOriginDenied, "Origin not allowed.")
	}
	st.Origin = orig
	if r.Method == http.MethodOptions {
		return st, &Response{HTTPStatus: http.StatusNoContent, Preflight: true}
	}
	return st, nil
}

// csrfGate validates the effective origin of state-changing requests.
// Safe methods and trusted internal prefixes bypass the check.
func (p *Pipeline) csrfGate(r *http.Request, st RequestState) (RequestState, *Response) {
	if safeMethod(r.Method) {
		return st, nil
	}
	for _, prefix := range p.csrfBypass {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return st, nil
		}
	}

	effective := r.Header.Get("Origin")
	if effective == "" {
		effective = originFromReferer(r.Header.Get("Referer"))
	}
	if effective == "" {
		p.denied("csrf", CodeCSRFMissingOrigin)
		return st, ErrorResponse(http.StatusForbidden, CodeCSRFMissingOrigin, "Request origin could not be determined.")
	}
	if !p.policy.Allowed(effective) {
		p.denied("csrf", CodeCSRFOriginMismatch)
		return st, ErrorResponse(http.StatusForbidden, CodeCSRFOriginMismatch, "Request origin is not allowed.")
	}
	return st, nil
}

// originFromReferer extracts "scheme://host[:port]" from a Referer URL.
// Returns "" for anything unparsable.
func originFromReferer(referer string) string {
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// rateLimitGate counts the request against the abuse limiter. Applied only to
// routes explicitly marked rate-limited; a denial emits a best-effort audit
// event.
func (p *Pipeline) rateLimitGate(r *http.Request, st RequestState) (RequestState, *Response) {
	hint := r.Header.Get(AccountHintHeader)
	decision := p.limiter.Check(r.Context(), st.ClientIP, hint)
	if decision.Allowed {
		return st, nil
	}
	p.denied("ratelimit", CodeRateLimited)
	p.metrics.RateLimitedTotal.WithLabelValues(string(decision.Scope)).Inc()
	p.audit.Record(audit.Event{
		EventType:      audit.EventRateLimited,
		IdentifierHash: audit.HashIdentifier(identity.CanonicalIdentifier(hint)),
		IP:             st.ClientIP,
		RequestID:      st.RequestID,
		Result:         audit.ResultBlocked,
	})
	return st, ErrorResponse(http.StatusTooManyRequests, CodeRateLimited, "Too many requests. Try again shortly.")
}

// sessionGate resolves the presented session through the state machine.
// A terminal outcome ends the request with the lifecycle code and clears the
// cookie; an anonymous outcome passes through for the context gate to judge.
func (p *Pipeline) sessionGate(r *http.Request, st RequestState) (RequestState, *Response) {
	sid := p.sessionID(r)
	outcome := p.resolver.Resolve(r.Context(), sid, st.RequestID)
	if outcome != nil && outcome.Terminal {
		p.denied("session", outcome.Code)
		p.metrics.SessionTransitionsTotal.WithLabelValues(outcome.Code).Inc()
		resp := ErrorResponse(http.StatusUnauthorized, outcome.Code, "Your session has ended. Please sign in again.")
		resp.ClearSessionCookie = true
		return st, resp
	}
	if outcome != nil && outcome.Session != nil &&
		outcome.Session.State == session.StateActive && outcome.State == session.StateIdle {
		p.metrics.SessionTransitionsTotal.WithLabelValues("IDLE_ESCALATION").Inc()
	}
	st.Outcome = outcome
	return st, nil
}

// sessionID extracts the session token from the cookie, with a header
// override for local development only.
func (p *Pipeline) sessionID(r *http.Request) string {
	if !p.production {
		if sid := r.Header.Get(DevSessionHeader); sid != "" {
			return sid
		}
	}
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// contextGate maps the resolved session to a Directory identity. Anonymous
// requests and Directory read failures both end here: fail-closed.
func (p *Pipeline) contextGate(r *http.Request, st RequestState) (RequestState, *Response) {
	if st.Outcome == nil || st.Outcome.Session == nil {
		p.denied("context", CodeNotLoggedIn)
		resp := ErrorResponse(http.StatusUnauthorized, CodeNotLoggedIn, "You are not signed in.")
		resp.Envelope.Action = ActionLogout
		resp.ClearSessionCookie = true
		return st, resp
	}

	user, err := p.directory.UserByID(r.Context(), st.Outcome.Session.UserID)
	if err != nil {
		p.log(r).Warn("identity lookup failed, denying",
			"user_id", st.Outcome.Session.UserID, "error", err)
		p.denied("context", CodeNotLoggedIn)
		resp := ErrorResponse(http.StatusUnauthorized, CodeNotLoggedIn, "You are not signed in.")
		resp.Envelope.Action = ActionLogout
		resp.ClearSessionCookie = true
		return st, resp
	}

	switch user.State {
	case identity.AccountLocked, identity.AccountDisabled:
		p.denied("context", CodeAccountBlocked)
		resp := ErrorResponse(http.StatusForbidden, CodeAccountBlocked, "This account is not available.")
		resp.Envelope.Action = ActionLogout
		resp.ClearSessionCookie = true
		return st, resp
	}

	st.Identity = &identity.RequestContext{
		UserID:     user.ID,
		Identifier: user.Identifier,
		Role:       user.Role,
		RoleRank:   user.Role.Rank(),
	}
	return st, nil
}

// aclGate is the binary allow gate: any recognized role passes, the admin
// namespace additionally requires the top administrative rank. Unknown roles
// rank zero and never pass.
func (p *Pipeline) aclGate(r *http.Request, st RequestState) (RequestState, *Response) {
	if st.Identity == nil || st.Identity.RoleRank < 1 {
		p.denied("acl", CodeForbidden)
		return st, ErrorResponse(http.StatusForbidden, CodeForbidden, "You do not have access to this resource.")
	}
	if strings.HasPrefix(r.URL.Path, adminPrefix) && st.Identity.RoleRank < identity.TopRank() {
		p.denied("acl", CodeForbidden)
		return st, ErrorResponse(http.StatusForbidden, CodeForbidden, "You do not have access to this resource.")
	}
	return st, nil
}
