package http

import (
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// extractBearerToken pulls the bearer token from the Authorization
// header, or the access_token query parameter for WebSocket clients
// that cannot set headers.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

// tokenMatch compares a provided token against the expected token in
// constant time. An empty expected token means auth is not configured
// and everything passes.
func tokenMatch(provided, expected string) bool {
	if expected == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// clientKey is the rate-limit key for a request: the remote IP without
// the ephemeral port.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// guard wraps a handler with auth and rate limiting.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !tokenMatch(extractBearerToken(r), s.token) {
			slog.Warn("http: unauthorized", "path", r.URL.Path, "remote", clientKey(r))
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		if s.limiter != nil && !s.limiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}
