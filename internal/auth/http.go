// ABOUTME: HTTP middleware for bearer credential authentication on API endpoints
// ABOUTME: Extracts the credential from the Authorization header and adds the key to context

package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey struct{}

// WithPublicKey returns a context carrying the authenticated public key.
func WithPublicKey(ctx context.Context, publicKey string) context.Context {
	return context.WithValue(ctx, contextKey{}, publicKey)
}

// PublicKeyFromContext extracts the authenticated public key, if any.
func PublicKeyFromContext(ctx context.Context) (string, bool) {
	publicKey, ok := ctx.Value(contextKey{}).(string)
	return publicKey, ok
}

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

// Middleware validates the bearer credential on incoming requests and puts
// the authenticated public key on the request context. Failures return 401
// with a generic body.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
		if errMsg != "" {
			http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
			return
		}

		publicKey, err := a.ValidateCredential(token)
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPublicKey(r.Context(), publicKey)))
	})
}
