package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const userIDKey contextKey = "user_id"

// UserIDHeader carries the id issued by the hosted auth provider. Session
// verification happens at the edge; this service only trusts the header.
const UserIDHeader = "X-User-ID"

// AuthMiddleware rejects requests without a valid user id and stores the
// canonical form in the request context.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(UserIDHeader)
		if raw == "" {
			// browsers cannot set headers on websocket upgrades
			raw = r.URL.Query().Get("user_id")
		}

		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "missing or invalid user id", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, id.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserID returns the authenticated user id, or "" outside AuthMiddleware
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(userIDKey).(string); ok {
		return id
	}
	return ""
}
