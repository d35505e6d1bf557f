package admin

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/maxpert/ripple/cfg"
)

// AuthMiddleware validates the admin secret when one is configured
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.IsAdminAuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		// Check X-Ripple-Secret header
		providedSecret := r.Header.Get("X-Ripple-Secret")
		if providedSecret == "" {
			// Check Authorization: Bearer header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeErrorResponse(w, http.StatusUnauthorized, "missing authentication header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeErrorResponse(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}
			providedSecret = parts[1]
		}

		if subtle.ConstantTimeCompare([]byte(providedSecret), []byte(cfg.Config.Admin.Secret)) != 1 {
			writeErrorResponse(w, http.StatusUnauthorized, "invalid secret")
			return
		}

		next.ServeHTTP(w, r)
	})
}
