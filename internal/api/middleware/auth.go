package middleware

import (
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"vidgateway/internal/api/shared"
	"vidgateway/internal/config"
)

// APIKeyMiddleware guards task creation with configured API keys. Keys are
// presented as "Authorization: Bearer <key>" and compared against bcrypt
// hashes from configuration; the matching key's name becomes the owner
// reference on created tasks. When auth is disabled the middleware passes
// everything through with an empty owner.
func APIKeyMiddleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			key, ok := bearerToken(r)
			if !ok {
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Missing API key")
				return
			}

			for _, ref := range cfg.APIKeys {
				if bcrypt.CompareHashAndPassword([]byte(ref.Hash), []byte(key)) == nil {
					ctx := shared.SetOwner(r.Context(), ref.Name)
					next.ServeHTTP(w, r.WithContext(ctx))
					return
				}
			}

			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid API key")
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
