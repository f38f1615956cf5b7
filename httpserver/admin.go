package httpserver

import (
	"crypto/subtle"
	"net/http"
)

// AdminTokenHeader carries the shared admin secret on admin requests.
const AdminTokenHeader = "X-Admin-Token"

// adminAuth gates the admin routes behind a shared token. The comparison
// is constant-time so response timing does not leak prefix matches. An
// empty configured token disables the admin API entirely rather than
// leaving it open.
func adminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				writeError(w, http.StatusForbidden, "admin API disabled")
				return
			}

			presented := r.Header.Get(AdminTokenHeader)
			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid admin token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
