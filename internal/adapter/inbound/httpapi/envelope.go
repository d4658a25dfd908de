// Package httpapi is the inbound HTTP adapter: the ordered gate pipeline,
// the response envelope, and the auth route handlers.
package httpapi

import (
	"net/http"
	"strings"
	"time"
)

// Action tells the client what to do mechanically after reading the response.
type Action string

const (
	ActionNone     Action = "NONE"
	ActionLogout   Action = "LOGOUT"
	ActionRedirect Action = "REDIRECT"
	ActionReload   Action = "RELOAD"
)

// Envelope is the uniform JSON body of every response.
type Envelope struct {
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Action    Action `json:"action"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Stable response codes outside the session lifecycle set. These are part of
// the external API contract; renaming one breaks clients.
const (
	CodeOK                 = "OK"
	CodeRateLimited        = "AUTH_RATE_LIMITED"
	CodeCORSOriginDenied   = "CORS_ORIGIN_DENIED"
	CodeCORSWildcard       = "CORS_WILDCARD_FORBIDDEN"
	CodeCSRFMissingOrigin  = "CSRF_MISSING_ORIGIN"
	CodeCSRFOriginMismatch = "CSRF_ORIGIN_MISMATCH"
	CodeNotLoggedIn        = "AUTH_NOT_LOGGED_IN"
	CodeForbidden          = "FORBIDDEN"
	CodeAccountBlocked     = "AUTH_ACCOUNT_BLOCKED"
	CodeLoginSuccess       = "AUTH_LOGIN_SUCCESS"
	CodeLoginFailed        = "AUTH_LOGIN_FAILED"
	CodeLogoutSuccess      = "AUTH_LOGOUT_SUCCESS"
	CodeMeSuccess          = "AUTH_ME_SUCCESS"
	CodeSignupAccepted     = "SIGNUP_REQUEST_ACCEPTED"
	CodeSignupFailed       = "SIGNUP_REQUEST_FAILED"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeInternal           = "INTERNAL_ERROR"
)

// Status-check lifecycle codes. The status endpoint is enumeration-safe:
// every path answers 200 with one of these.
const (
	CodeStatusPending    = "STATUS_PENDING"
	CodeStatusRejected   = "STATUS_REJECTED"
	CodeStatusFirstLogin = "STATUS_FIRST_LOGIN_REQUIRED"
	CodeStatusCompleted  = "STATUS_COMPLETED"
	CodeStatusBlocked    = "STATUS_BLOCKED"
	CodeStatusUnknown    = "STATUS_UNKNOWN"
)

// Response is a gate or handler outcome carried to the single finalization
// step. A nil Response from a gate means "continue".
type Response struct {
	// HTTPStatus is the status code to write.
	HTTPStatus int
	// Envelope is the JSON body. Ignored when Preflight is set.
	Envelope Envelope
	// Preflight marks a CORS preflight: 204, headers only, no body.
	Preflight bool
	// SetSessionCookie, when non-nil, is attached to the response.
	SetSessionCookie *http.Cookie
	// ClearSessionCookie expires the session cookie on the client.
	ClearSessionCookie bool
	// Warnings are surfaced in the X-Session-Warning header.
	Warnings []string
}

// OKResponse builds a success response.
func OKResponse(code, message string, data any) *Response {
	return &Response{
		HTTPStatus: http.StatusOK,
		Envelope: Envelope{
			Status:  "OK",
			Code:    code,
			Message: message,
			Action:  ActionNone,
			Data:    data,
		},
	}
}

// ErrorResponse builds a denial response.
func ErrorResponse(httpStatus int, code, message string) *Response {
	return &Response{
		HTTPStatus: httpStatus,
		Envelope: Envelope{
			Status:  "ERROR",
			Code:    code,
			Message: message,
			Action:  ActionNone,
		},
	}
}

// finalizeEnvelope stamps the timestamp and applies the frozen cross-cutting
// rule: any SESSION_-prefixed code forces action=LOGOUT no matter what the
// producing handler asked for.
func finalizeEnvelope(e Envelope, now time.Time) Envelope {
	if e.Action == "" {
		e.Action = ActionNone
	}
	if strings.HasPrefix(e.Code, "SESSION_") {
		e.Action = ActionLogout
	}
	e.Timestamp = now.UTC().Format(time.RFC3339)
	return e
}
