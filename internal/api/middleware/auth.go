// internal/api/middleware/auth.go
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/newthinker/dataview/internal/api/response"
	"github.com/newthinker/dataview/internal/core"
)

// APIKeyQueryParam carries the key on plain links, where a browser
// cannot set headers (file downloads).
const APIKeyQueryParam = "api_key"

// providedKey returns the key from X-API-Key, a Bearer token, or the
// api_key query parameter, in that order.
func providedKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return r.URL.Query().Get(APIKeyQueryParam)
}

// APIKeyAuth returns middleware that checks the request's API key.
// If apiKey is empty, authentication is disabled.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := providedKey(r)
			if key == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="dataview"`)
				response.Error(w, http.StatusUnauthorized,
					core.Errorf(core.ErrConfigMissing, "api key required"))
				return
			}

			// Constant-time comparison to prevent timing attacks
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="dataview", error="invalid_token"`)
				response.Error(w, http.StatusUnauthorized,
					core.Errorf(core.ErrPermissionDenied, "invalid api key"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
