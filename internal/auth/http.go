// ABOUTME: HTTP middleware resolving the tenant scope of API requests
// ABOUTME: Verifies bearer JWTs, or assigns the public scope when auth is disabled

package auth

import (
	"net/http"
	"strings"
)

// accessTokenParam carries the token for clients that cannot set headers,
// such as browser EventSource streams.
const accessTokenParam = "access_token"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

func requestToken(r *http.Request) (string, string) {
	if r.Header.Get("Authorization") == "" {
		if token := r.URL.Query().Get(accessTokenParam); token != "" {
			return token, ""
		}
	}
	return extractBearerToken(r.Header.Get("Authorization"))
}

// validScope reports whether a subject can be used as a stream key scope.
func validScope(scope string) bool {
	return scope != "" && !strings.Contains(scope, ":")
}

// HTTPAuthMiddleware creates an HTTP middleware that attaches an Identity to
// the request context. With a nil verifier every request gets publicScope;
// otherwise a valid bearer token is required and its subject is the scope.
func HTTPAuthMiddleware(verifier TokenVerifier, publicScope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				id := &Identity{Scope: publicScope}
				next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
				return
			}

			token, errMsg := requestToken(r)
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			if !validScope(subject) {
				http.Error(w, `{"error":"token subject cannot be used as a scope"}`, http.StatusForbidden)
				return
			}

			id := &Identity{Scope: subject, Authenticated: true}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
