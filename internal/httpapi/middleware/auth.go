package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Keys holds the two credential tiers: public keys may read, admin keys may
// also mutate targets and trigger probes or redeploys.
type Keys struct {
	Public []string
	Admin  []string
}

// readAuth accepts either "Authorization: Bearer <key>" or "X-API-Key".
func readAuth(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(h), "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if k := r.Header.Get("X-API-Key"); k != "" {
		return strings.TrimSpace(k)
	}
	return ""
}

// hasKey compares in constant time per candidate so a request cannot probe
// key prefixes through response timing.
func hasKey(given string, set []string) bool {
	if given == "" {
		return false
	}
	ok := false
	for _, k := range set {
		if subtle.ConstantTimeCompare([]byte(k), []byte(given)) == 1 {
			ok = true
		}
	}
	return ok
}

func deny(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}

// RequireAny allows requests that present either a public or admin key.
// With no keys configured the instance runs open, for local development.
func RequireAny(keys Keys) func(http.Handler) http.Handler {
	enabled := len(keys.Public) > 0 || len(keys.Admin) > 0
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := readAuth(r)
			if hasKey(key, keys.Public) || hasKey(key, keys.Admin) {
				next.ServeHTTP(w, r)
				return
			}
			deny(w, http.StatusUnauthorized, "unauthorized")
		})
	}
}

// RequireAdmin only permits requests that present an admin key. With no
// admin keys configured mutations run open, for local development.
func RequireAdmin(keys Keys) func(http.Handler) http.Handler {
	enabled := len(keys.Admin) > 0
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hasKey(readAuth(r), keys.Admin) {
				next.ServeHTTP(w, r)
				return
			}
			deny(w, http.StatusForbidden, "forbidden")
		})
	}
}
