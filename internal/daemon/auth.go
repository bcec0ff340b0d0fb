package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"ballotscan/internal/logging"
)

const bearerPrefix = "Bearer "

// requireToken guards an operator route with a bearer token. An empty token
// leaves the route open.
func (s *apiServer) requireToken(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	want := []byte(token)
	return func(w http.ResponseWriter, r *http.Request) {
		got, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			logging.WarnWithContext(s.log(), "operator api request rejected", "api_unauthorized",
				logging.String("path", r.URL.Path),
				logging.String("remote_addr", r.RemoteAddr),
				logging.String(logging.FieldImpact, "request not served"),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="ballotscan"`)
			s.writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "unauthorized",
				"hint":  "send Authorization: Bearer <api_token>",
			})
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, bearerPrefix) {
		return "", false
	}
	return strings.TrimPrefix(auth, bearerPrefix), true
}
