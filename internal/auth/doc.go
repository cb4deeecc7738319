// Package auth resolves the tenant scope of chat API requests.
//
// # Overview
//
// Every conversation and stream is keyed by a scope. When auth is enabled
// the scope is the "sub" claim of an HS256 bearer JWT signed with the
// configured jwt_secret; when it is disabled every request shares the
// configured public scope.
//
// # JWT Tokens
//
//	verifier := auth.NewJWTVerifier([]byte(secret), issuer)
//	subject, err := verifier.Verify(token)
//
// Errors: ErrInvalidToken, ErrExpiredToken, ErrMissingClaim.
//
// # HTTP Middleware
//
// HTTPAuthMiddleware attaches an Identity to the request context:
//
//	handler = auth.HTTPAuthMiddleware(verifier, "public")(handler)
//
//	id := auth.FromContext(r.Context())
//	key := session.Key{Scope: id.Scope, ConversationID: convID}
//
// Tokens are read from the Authorization header ("Bearer <token>"). Clients
// that cannot set headers, like browser EventSource, may pass
// ?access_token=<token> instead.
//
// Responses:
//
//   - 401: missing, malformed, invalid, or expired token
//   - 403: subject contains ':' and cannot be used as a scope
package auth
