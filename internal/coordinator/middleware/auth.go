// Package middleware contains HTTP middleware for the coordinator.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/adimian/kabuto/internal/auth"
	"github.com/adimian/kabuto/internal/store"
	"github.com/adimian/kabuto/pkg/api"
)

// userKey is the context key for the authenticated user.
type userKey struct{}

// KeyResolver resolves a hashed API key to a user.
type KeyResolver interface {
	GetUserByAPIKeyHash(ctx context.Context, hash string) (*store.User, error)
}

// Auth authenticates requests by bearer API key. Keys are stored hashed,
// so the middleware hashes the presented key before lookup.
func Auth(resolver KeyResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "Missing authorization header")
				return
			}
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				unauthorized(w, "Invalid authorization header")
				return
			}

			user, err := resolver.GetUserByAPIKeyHash(r.Context(), auth.HashKey(parts[1]))
			if err != nil {
				unauthorized(w, "Invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), userKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewContextWithUser returns a context carrying an authenticated user.
func NewContextWithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext extracts the authenticated user from the context.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	u, ok := ctx.Value(userKey{}).(*store.User)
	return u, ok
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: message, Code: "401"})
}
