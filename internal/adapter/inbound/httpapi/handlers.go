package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pace-erp/pace-gate/internal/domain/identity"
	"github.com/pace-erp/pace-gate/internal/domain/session"
	"github.com/pace-erp/pace-gate/internal/service/audit"
)

// maxBodyBytes bounds every request body read by the handlers.
const maxBodyBytes = 1 << 20

var payloadValidator = validator.New()

// decodePayload reads and validates a JSON request body into dst.
func decodePayload(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return payloadValidator.Struct(dst)
}

// verifyHuman runs the attempt tracker and the challenge answer check.
// Callers collapse a false return into their own generic error so the caller
// can never distinguish which check failed.
func (p *Pipeline) verifyHuman(r *http.Request, st RequestState, attemptID string, answer int) bool {
	if !p.tracker.Allow(r.URL.Path, st.ClientIP) {
		p.log(r).Warn("human verification throttled", "path", r.URL.Path, "ip", st.ClientIP)
		return false
	}
	return p.engine.Validate(attemptID, answer)
}

type loginPayload struct {
	Identifier string `json:"identifier" validate:"required,max=254"`
	Password   string `json:"password" validate:"required,max=512"`
}

// handleLogin verifies credentials and establishes the single active session.
// Every failure mode the caller can observe collapses to one generic code;
// the real reason only reaches the server log and the audit trail.
func (p *Pipeline) handleLogin(r *http.Request, st RequestState) *Response {
	var payload loginPayload
	decodeErr := decodePayload(r, &payload)
	canonical := identity.CanonicalIdentifier(payload.Identifier)
	idHash := audit.HashIdentifier(canonical)

	fail := func(reason string) *Response {
		p.log(r).Info("login rejected", "reason", reason, "identifier_hash", idHash)
		p.audit.Record(audit.Event{
			EventType:      audit.EventLoginFailed,
			IdentifierHash: idHash,
			IP:             st.ClientIP,
			RequestID:      st.RequestID,
			Result:         audit.ResultFailed,
		})
		return ErrorResponse(http.StatusUnauthorized, CodeLoginFailed, "Login failed.")
	}
	if decodeErr != nil {
		return fail("bad input")
	}

	user, err := p.directory.UserByIdentifier(r.Context(), canonical)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return fail("unknown identifier")
		}
		p.log(r).Error("directory lookup failed", "error", err)
		return fail("directory unavailable")
	}

	match, err := p.directory.VerifyCredential(r.Context(), user.ID, payload.Password)
	if err != nil {
		p.log(r).Error("credential verification failed", "error", err)
		return fail("verification error")
	}
	if !match {
		return fail("credential mismatch")
	}

	switch user.State {
	case identity.AccountActive:
	default:
		// FIRST_LOGIN_REQUIRED, RESET_REQUIRED, LOCKED, DISABLED and anything
		// unrecognized: indistinguishable from a bad credential. The status
		// endpoint is where a client learns it has setup pending.
		return fail("account state " + string(user.State))
	}

	sess, err := p.sessions.Create(r.Context(), user.ID,
		session.DeviceTag(r.UserAgent(), st.ClientIP), st.RequestID)
	if err != nil {
		p.log(r).Error("session creation failed", "user_id", user.ID, "error", err)
		return ErrorResponse(http.StatusInternalServerError, CodeInternal, "Could not sign you in. Try again.")
	}

	p.audit.Record(audit.Event{
		EventType:      audit.EventLoginSuccess,
		IdentifierHash: idHash,
		IP:             st.ClientIP,
		RequestID:      st.RequestID,
		Result:         audit.ResultOK,
	})

	resp := OKResponse(CodeLoginSuccess, "Signed in.", map[string]any{
		"user": map[string]any{
			"id":         user.ID,
			"identifier": user.Identifier,
			"role":       string(user.Role),
		},
	})
	resp.SetSessionCookie = newSessionCookie(sess.ID, p.cookieDom, p.production)
	return resp
}

// handleLogout revokes the caller's session and clears the cookie. The gates
// guarantee a live resolved session by the time this runs.
func (p *Pipeline) handleLogout(r *http.Request, st RequestState) *Response {
	if err := p.sessions.Revoke(r.Context(), st.Outcome.Session, st.RequestID); err != nil {
		p.log(r).Error("logout revoke failed", "session_id", st.Outcome.Session.ID, "error", err)
	}
	p.audit.Record(audit.Event{
		EventType:      audit.EventLogout,
		IdentifierHash: audit.HashIdentifier(st.Identity.Identifier),
		IP:             st.ClientIP,
		RequestID:      st.RequestID,
		Result:         audit.ResultOK,
	})
	resp := OKResponse(CodeLogoutSuccess, "Signed out.", nil)
	resp.Envelope.Action = ActionLogout
	resp.ClearSessionCookie = true
	return resp
}

// handleMe returns the resolved identity and session state, with any
// lifecycle warnings surfaced in the warning header.
func (p *Pipeline) handleMe(_ *http.Request, st RequestState) *Response {
	resp := OKResponse(CodeMeSuccess, "", map[string]any{
		"user": map[string]any{
			"id":         st.Identity.UserID,
			"identifier": st.Identity.Identifier,
			"role":       string(st.Identity.Role),
		},
		"session": map[string]any{
			"state":     string(st.Outcome.State),
			"createdAt": st.Outcome.Session.CreatedAt,
		},
	})
	resp.Warnings = warningsOf(st.Outcome)
	return resp
}

// handleHumanChallenge issues a fresh challenge.
func (p *Pipeline) handleHumanChallenge(_ *http.Request, _ RequestState) *Response {
	return OKResponse(CodeOK, "", p.engine.Generate())
}

type signupPayload struct {
	Name        string `json:"name" validate:"required,max=200"`
	Identifier  string `json:"identifier" validate:"required,max=254"`
	HVAttemptID string `json:"hv_attempt_id" validate:"required"`
	HVAnswer    int    `json:"hv_answer"`
}

// handleSignupRequest records an access request after human verification.
// All failures collapse to one generic code.
func (p *Pipeline) handleSignupRequest(r *http.Request, st RequestState) *Response {
	var payload signupPayload
	if err := decodePayload(r, &payload); err != nil {
		return ErrorResponse(http.StatusBadRequest, CodeSignupFailed, "Could not process the request.")
	}
	if !p.verifyHuman(r, st, payload.HVAttemptID, payload.HVAnswer) {
		return ErrorResponse(http.StatusBadRequest, CodeSignupFailed, "Could not process the request.")
	}

	canonical := identity.CanonicalIdentifier(payload.Identifier)
	err := p.signups.CreateSignupRequest(r.Context(), identity.SignupRequest{
		Name:       payload.Name,
		Identifier: canonical,
	})
	if err != nil {
		p.log(r).Error("signup request write failed", "error", err)
		return ErrorResponse(http.StatusBadRequest, CodeSignupFailed, "Could not process the request.")
	}

	p.audit.Record(audit.Event{
		EventType:      audit.EventSignupRequest,
		IdentifierHash: audit.HashIdentifier(canonical),
		IP:             st.ClientIP,
		RequestID:      st.RequestID,
		Result:         audit.ResultOK,
	})
	return OKResponse(CodeSignupAccepted, "Request received. You will be contacted once it is reviewed.", nil)
}

type statusCheckPayload struct {
	Identifier string `json:"identifier" validate:"max=254"`
}

// Client-side next steps reported by the status check. These travel in the
// data payload; the envelope action enum stays frozen.
const (
	nextWait       = "WAIT"
	nextStop       = "STOP"
	nextFirstLogin = "FIRST_LOGIN"
	nextGoToLogin  = "GO_TO_LOGIN"
)

func statusResponse(code, message, next string) *Response {
	return OKResponse(code, message, map[string]any{"next": next})
}

// handleStatusCheck reports where an applicant or user stands in the
// onboarding and recovery lifecycle. Enumeration-safe by design: every path,
// including malformed input and backend failures, answers 200 with a status
// code. The user table wins when a user exists; the signup lifecycle is
// consulted only as a fallback.
func (p *Pipeline) handleStatusCheck(r *http.Request, st RequestState) *Response {
	var payload statusCheckPayload
	if err := decodePayload(r, &payload); err != nil || strings.TrimSpace(payload.Identifier) == "" {
		p.recordStatusCheck(st, "")
		return statusResponse(CodeStatusUnknown, "If your request exists, you will be notified.", nextWait)
	}

	canonical := identity.CanonicalIdentifier(payload.Identifier)
	p.recordStatusCheck(st, canonical)

	user, err := p.directory.UserByIdentifier(r.Context(), canonical)
	if err != nil && !errors.Is(err, identity.ErrUserNotFound) {
		p.log(r).Error("directory lookup failed", "error", err)
	}
	if err == nil {
		switch user.State {
		case identity.AccountFirstLoginRequired, identity.AccountResetRequired:
			return statusResponse(CodeStatusFirstLogin, "First login setup required.", nextFirstLogin)
		case identity.AccountActive:
			return statusResponse(CodeStatusCompleted, "Account setup complete. Please login.", nextGoToLogin)
		case identity.AccountLocked, identity.AccountDisabled:
			return statusResponse(CodeStatusBlocked, "Account is not active.", nextStop)
		default:
			return statusResponse(CodeStatusUnknown, "If your request exists, you will be notified.", nextWait)
		}
	}

	state, err := p.signups.LatestSignupState(r.Context(), canonical)
	if err != nil {
		p.log(r).Error("signup state lookup failed", "error", err)
		state = identity.SignupUnknown
	}
	switch state {
	case identity.SignupRequested:
		return statusResponse(CodeStatusPending, "Your request is under review.", nextWait)
	case identity.SignupRejected:
		return statusResponse(CodeStatusRejected, "Your request was rejected.", nextStop)
	case identity.SignupSetFirstLogin:
		return statusResponse(CodeStatusFirstLogin, "First login setup pending.", nextFirstLogin)
	case identity.SignupConsumed:
		return statusResponse(CodeStatusCompleted, "Account setup complete. Please login.", nextGoToLogin)
	default:
		return statusResponse(CodeStatusUnknown, "If your request exists, you will be notified.", nextWait)
	}
}

func (p *Pipeline) recordStatusCheck(st RequestState, canonical string) {
	p.audit.Record(audit.Event{
		EventType:      audit.EventStatusCheck,
		IdentifierHash: audit.HashIdentifier(canonical),
		IP:             st.ClientIP,
		RequestID:      st.RequestID,
		Result:         audit.ResultOK,
	})
}

type adminRevokePayload struct {
	UserID string `json:"user_id" validate:"required,max=128"`
}

// handleAdminRevoke force-revokes every live session of the target user.
// The ACL gate has already required the top administrative rank.
func (p *Pipeline) handleAdminRevoke(r *http.Request, st RequestState) *Response {
	var payload adminRevokePayload
	if err := decodePayload(r, &payload); err != nil {
		return ErrorResponse(http.StatusBadRequest, CodeInvalidRequest, "Malformed request.")
	}
	revoked, err := p.sessions.AdminRevokeAll(r.Context(), payload.UserID, st.Identity.UserID, st.RequestID)
	if err != nil {
		p.log(r).Error("admin revoke failed", "target_user_id", payload.UserID, "error", err)
		return ErrorResponse(http.StatusInternalServerError, CodeInternal, "Revocation failed.")
	}
	return OKResponse(CodeOK, "Sessions revoked.", map[string]any{"revoked": revoked})
}

// handleHealth is the unauthenticated liveness probe.
func (p *Pipeline) handleHealth(_ *http.Request, _ RequestState) *Response {
	return OKResponse(CodeOK, "", map[string]any{"status": "healthy"})
}
