// HTTP Basic auth middleware.
//
// Credential comparison is constant-time. When no password is
// configured auth is disabled entirely, a development-only mode.

package server

import (
	"crypto/subtle"
	"net/http"
)

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	if !s.settings.AuthEnabled() {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.settings.AuthUsername)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.settings.AuthPassword)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="model-comparison"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
