package httpapi

import (
	"net/http"

	"github.com/pace-erp/pace-gate/internal/domain/session"
)

// SessionCookieName is the sole transport of the session bearer token.
const SessionCookieName = "pace_session"

// newSessionCookie builds the cookie issued on successful login. Secure is
// tied to the production flag so local HTTP development still works.
func newSessionCookie(sessionID, domain string, production bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   domain,
		MaxAge:   int(session.AbsoluteTTL.Seconds()),
		HttpOnly: true,
		Secure:   production,
		SameSite: http.SameSiteLaxMode,
	}
}

// expiredSessionCookie clears the cookie on logout or forced logout.
func expiredSessionCookie(domain string, production bool) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   production,
		SameSite: http.SameSiteLaxMode,
	}
}
