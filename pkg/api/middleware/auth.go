// Package middleware provides HTTP middleware for the AudioVault API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/audiovault/audiovault/pkg/api/auth"
	"github.com/audiovault/audiovault/pkg/models"
)

// Context key type for storing claims
type contextKey string

const claimsContextKey contextKey = "claims"

// SessionStore resolves bearer claims to live login sessions. Every request
// hits the database: a revoked session dies immediately even though the JWT
// signature stays valid until expiry.
type SessionStore interface {
	GetLiveSession(ctx context.Context, id string) (*models.Session, error)
}

// GetClaimsFromContext retrieves JWT claims from the request context.
// Returns nil if no claims are present.
//
// This function should only be called within handler code that runs after
// the Authenticate middleware has processed the request.
func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, ok := ctx.Value(claimsContextKey).(*auth.Claims)
	if !ok {
		return nil
	}
	return claims
}

// WithClaims returns a context carrying the given claims. Exported for
// handler tests.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// extractBearerToken extracts the token from a Bearer Authorization header.
func extractBearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	return parts[1], true
}

// Authenticate validates the Bearer token, resolves its login session, and
// enforces the device binding. Valid requests proceed with claims in
// context; everything else gets 401.
func Authenticate(jwtService *auth.JWTService, sessions SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := extractBearerToken(r)
			if !ok {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			claims, err := jwtService.ValidateToken(tokenString)
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			session, err := sessions.GetLiveSession(r.Context(), claims.SessionID)
			if err != nil {
				http.Error(w, "Session is no longer valid", http.StatusUnauthorized)
				return
			}
			if session.UserID != claims.UserID || session.DeviceID != claims.DeviceID {
				http.Error(w, "Session is no longer valid", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireAdmin blocks non-admin users. Must be used after Authenticate.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaimsFromContext(r.Context())
			if claims == nil {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			if !claims.IsAdmin() {
				http.Error(w, "Admin access required", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
