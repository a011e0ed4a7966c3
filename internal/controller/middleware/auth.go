// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"crewflow/internal/auth"
	"crewflow/internal/store"

	"crewflow/pkg/api"
)

// userKey is the context key for the authenticated user.
type userKey struct{}

// AuthMiddleware validates the Bearer API key and loads the owning user.
// Every operation downstream is scoped by the authenticated user's ID.
func AuthMiddleware(users store.UserStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				unauthorized(w, "invalid authorization header")
				return
			}

			user, err := users.GetUserByAPIKeyHash(r.Context(), auth.HashKey(parts[1]))
			if err != nil {
				unauthorized(w, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), userKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext extracts the authenticated user from the context.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	user, ok := ctx.Value(userKey{}).(*store.User)
	return user, ok
}

// ContextWithUser returns a context carrying an authenticated user.
func ContextWithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(api.ErrorResponse{Error: message, Code: "401"})
}
