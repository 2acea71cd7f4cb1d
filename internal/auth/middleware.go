package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
)

// QueryParam is the query-string fallback for clients that cannot set headers.
const QueryParam = "api_key"

// APIKey returns middleware that enforces API key authentication on every
// request before calling next.
func APIKey(mode, header, key string, next http.Handler) http.Handler {
	// Non-apikey modes or unconfigured key → allow everything.
	if mode != "apikey" || key == "" {
		return next
	}
	want := []byte(key)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(header)
		if got == "" {
			got = r.URL.Query().Get(QueryParam)
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"}) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}
