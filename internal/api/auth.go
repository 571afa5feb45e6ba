package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"net/http"
	"strings"
)

// AdminTokenHeader is the alternative to an Authorization bearer token
const AdminTokenHeader = "X-Admin-Token"

// AdminAuth guards administrative commands with a shared token.
// A zero-value or empty-token AdminAuth lets every request through.
type AdminAuth struct {
	digest []byte
}

// NewAdminAuth creates a guard for the given token
func NewAdminAuth(token string) *AdminAuth {
	if token == "" {
		return &AdminAuth{}
	}
	sum := sha256.Sum256([]byte(token))
	return &AdminAuth{digest: sum[:]}
}

// Enabled reports whether a token is required
func (a *AdminAuth) Enabled() bool {
	return len(a.digest) > 0
}

// Check verifies the token carried by a request.
// Digests are compared so the comparison time does not depend on the token length.
func (a *AdminAuth) Check(r *http.Request) bool {
	if !a.Enabled() {
		return true
	}
	provided := r.Header.Get(AdminTokenHeader)
	if provided == "" {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			provided = strings.TrimPrefix(auth, "Bearer ")
		}
	}
	if provided == "" {
		return false
	}
	sum := sha256.Sum256([]byte(provided))
	return hmac.Equal(sum[:], a.digest)
}

// Middleware rejects requests without a valid admin token
func (a *AdminAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Check(r) {
			RecordConnectionRejected("unauthorized")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":   "unauthorized",
				"message": "Admin token required",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
