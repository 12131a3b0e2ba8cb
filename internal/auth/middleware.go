// internal/auth/middleware.go

package auth

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
)

type contextKey string

const (
	userIDKey   contextKey = "userID"
	usernameKey contextKey = "username"
	claimsKey   contextKey = "claims"
)

// Middleware provides authentication middleware
type Middleware struct {
	service Service
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(service Service) *Middleware {
	return &Middleware{
		service: service,
	}
}

// Authenticate verifies the bearer token and adds the user to the request context
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Extract token from Authorization header
		token := ExtractBearerToken(r)
		if token == "" {
			utils.ErrorResponse(w, "Missing or invalid authorization header", http.StatusUnauthorized)
			return
		}

		// 2. Validate token (signature, expiry, revocation)
		claims, err := m.service.ValidateToken(r.Context(), token)
		if err != nil {
			errorID := uuid.NewString()
			if !errors.Is(err, utils.ErrTokenInvalid) && !errors.Is(err, utils.ErrTokenExpired) && !errors.Is(err, ErrTokenRevoked) {
				log.Printf("❌ [%s] token validation unavailable: %v", errorID, err)
				writeAuthError(w, "Authentication temporarily unavailable", errorID, http.StatusServiceUnavailable)
				return
			}
			log.Printf("⚠️  [%s] rejected token from %s: %v", errorID, r.RemoteAddr, err)
			writeAuthError(w, "Invalid or expired token", errorID, http.StatusUnauthorized)
			return
		}

		// 3. Add user information to request context
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func writeAuthError(w http.ResponseWriter, message, errorID string, status int) {
	w.Header().Set("X-Error-Id", errorID)
	utils.ErrorResponse(w, message, status)
}

// ExtractBearerToken extracts the token from "Authorization: Bearer <token>"
func ExtractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}

// WithClaims stores verified claims on the context
func WithClaims(ctx context.Context, claims *utils.JWTClaims) context.Context {
	ctx = context.WithValue(ctx, userIDKey, claims.UserID)
	ctx = context.WithValue(ctx, usernameKey, claims.Username)
	return context.WithValue(ctx, claimsKey, claims)
}

// Helper functions for handlers to get user info from context

// GetUserIDFromContext extracts user ID from request context
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDKey).(int64)
	return userID, ok
}

// GetUsernameFromContext extracts username from request context
func GetUsernameFromContext(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(usernameKey).(string)
	return username, ok
}

// GetClaimsFromContext extracts the verified token claims
func GetClaimsFromContext(ctx context.Context) (*utils.JWTClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*utils.JWTClaims)
	return claims, ok
}
