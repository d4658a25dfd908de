package httpapi

import "strings"

// adminPrefix is the namespace that may never be public, no matter what the
// allow-list says.
const adminPrefix = "/admin"

// publicPaths is the exhaustive public allow-list. Membership is exact-path
// only; there is deliberately no prefix matching.
var publicPaths = map[string]struct{}{
	"/health":               {},
	"/auth/login":           {},
	"/auth/signup-request":  {},
	"/auth/status-check":    {},
	"/auth/human-challenge": {},
}

// isPublicPath classifies a request path. The admin ban runs before the
// allow-list lookup so a misconfigured list can never expose the namespace.
func isPublicPath(path string) bool {
	if path == adminPrefix || strings.HasPrefix(path, adminPrefix+"/") {
		return false
	}
	_, ok := publicPaths[path]
	return ok
}
