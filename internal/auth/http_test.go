// ABOUTME: Tests for the HTTP auth middleware
// ABOUTME: Covers public scope, bearer tokens, query tokens, and rejections

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scopeEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := MustFromContext(r.Context())
		if id.Authenticated {
			w.Header().Set("X-Authenticated", "true")
		}
		_, _ = w.Write([]byte(id.Scope))
	})
}

func TestHTTPAuthMiddleware_PublicScope(t *testing.T) {
	h := HTTPAuthMiddleware(nil, "public")(scopeEcho())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat/c1/stream", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public", rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Authenticated"))
}

func TestHTTPAuthMiddleware_BearerToken(t *testing.T) {
	v := NewJWTVerifier(testSecret, "")
	token, err := v.Generate("user-9", time.Hour)
	require.NoError(t, err)

	h := HTTPAuthMiddleware(v, "public")(scopeEcho())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-9", rec.Body.String())
	assert.Equal(t, "true", rec.Header().Get("X-Authenticated"))
}

func TestHTTPAuthMiddleware_QueryToken(t *testing.T) {
	v := NewJWTVerifier(testSecret, "")
	token, err := v.Generate("user-9", time.Hour)
	require.NoError(t, err)

	h := HTTPAuthMiddleware(v, "public")(scopeEcho())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?access_token="+token, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-9", rec.Body.String())
}

func TestHTTPAuthMiddleware_Rejections(t *testing.T) {
	v := NewJWTVerifier(testSecret, "")
	expired, err := v.Generate("user-9", -time.Hour)
	require.NoError(t, err)
	colon, err := v.Generate("a:b", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized, body: "missing authorization header"},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized, body: "invalid authorization header format"},
		{name: "empty bearer", header: "Bearer ", status: http.StatusUnauthorized, body: "empty token"},
		{name: "garbage", header: "Bearer nope", status: http.StatusUnauthorized, body: "invalid token"},
		{name: "expired", header: "Bearer " + expired, status: http.StatusUnauthorized, body: "invalid token"},
		{name: "colon subject", header: "Bearer " + colon, status: http.StatusForbidden, body: "scope"},
	}

	h := HTTPAuthMiddleware(v, "public")(scopeEcho())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestFromContext_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, FromContext(req.Context()))
	assert.Panics(t, func() { MustFromContext(req.Context()) })
}
