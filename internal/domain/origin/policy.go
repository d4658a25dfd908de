// Package origin holds the single source of truth for allowed browser origins.
// CORS, CSRF and CSP construction all consume the same Policy so the three
// can never drift apart.
package origin

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNoOrigins is returned when a Policy is constructed without any origins.
// There is deliberately no default: an empty allow-list must stop startup,
// never degrade to a wildcard.
var ErrNoOrigins = errors.New("origin: allow-list is empty")

// Policy is an immutable origin allow-list.
type Policy struct {
	allowed map[string]struct{}
	ordered []string
}

// NewPolicy builds a Policy from the configured origin list.
// Entries are trimmed; empty entries are dropped. A literal "*" entry or an
// unparsable origin is rejected outright.
func NewPolicy(origins []string) (*Policy, error) {
	p := &Policy{allowed: make(map[string]struct{}, len(origins))}
	for _, raw := range origins {
		o := strings.TrimSpace(raw)
		if o == "" {
			continue
		}
		if o == "*" {
			return nil, fmt.Errorf("origin: wildcard origin is forbidden")
		}
		u, err := url.Parse(o)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("origin: invalid origin %q", o)
		}
		if _, dup := p.allowed[o]; dup {
			continue
		}
		p.allowed[o] = struct{}{}
		p.ordered = append(p.ordered, o)
	}
	if len(p.ordered) == 0 {
		return nil, ErrNoOrigins
	}
	return p, nil
}

// Allowed reports whether the given Origin header value is on the allow-list.
func (p *Policy) Allowed(origin string) bool {
	_, ok := p.allowed[origin]
	return ok
}

// Origins returns the allow-list in configuration order.
func (p *Policy) Origins() []string {
	out := make([]string, len(p.ordered))
	copy(out, p.ordered)
	return out
}

// BuildCSP composes the Content-Security-Policy header from the allow-list.
// The policy is explicit allow-list only: default-src 'none', frame-ancestors
// 'none', and every resource directive limited to 'self' plus the configured
// origins.
func (p *Policy) BuildCSP() string {
	sources := "'self' " + strings.Join(p.ordered, " ")
	directives := []string{
		"default-src 'none'",
		"script-src " + sources,
		"style-src " + sources,
		"img-src " + sources + " data:",
		"font-src " + sources,
		"connect-src " + sources,
		"frame-ancestors 'none'",
		"base-uri 'none'",
		"form-action " + sources,
	}
	return strings.Join(directives, "; ")
}
