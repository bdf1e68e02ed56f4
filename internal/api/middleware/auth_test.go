package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"vidgateway/internal/api/shared"
	"vidgateway/internal/config"
)

func hashKey(t *testing.T, key string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func echoOwner() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(shared.GetOwner(r.Context())))
	})
}

func TestAPIKeyMiddlewareDisabledPassesThrough(t *testing.T) {
	handler := APIKeyMiddleware(config.AuthConfig{Enabled: false})(echoOwner())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tasks", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestAPIKeyMiddlewareAcceptsValidKey(t *testing.T) {
	cfg := config.AuthConfig{
		Enabled: true,
		APIKeys: []config.APIKeyRef{
			{Name: "render-farm", Hash: hashKey(t, "key-one")},
			{Name: "studio", Hash: hashKey(t, "key-two")},
		},
	}
	handler := APIKeyMiddleware(cfg)(echoOwner())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer key-two")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "studio", rec.Body.String())
}

func TestAPIKeyMiddlewareRejectsBadKey(t *testing.T) {
	cfg := config.AuthConfig{
		Enabled: true,
		APIKeys: []config.APIKeyRef{{Name: "render-farm", Hash: hashKey(t, "key-one")}},
	}
	handler := APIKeyMiddleware(cfg)(echoOwner())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPIKeyMiddlewareRejectsMissingHeader(t *testing.T) {
	cfg := config.AuthConfig{
		Enabled: true,
		APIKeys: []config.APIKeyRef{{Name: "render-farm", Hash: hashKey(t, "key-one")}},
	}
	handler := APIKeyMiddleware(cfg)(echoOwner())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tasks", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
