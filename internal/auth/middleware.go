package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type contextKey string

const identityKey contextKey = "identity"

// Claims carries the clinic role alongside the registered JWT claims. The
// subject is the caller's user id.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Middleware verifies the Bearer token with the given HS256 secret and stores
// the resolved Identity in the request context. Requests without a valid
// token are rejected with 401 before reaching any handler.
func Middleware(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || tokenStr == "" {
				unauthorized(w)
				return
			}

			var claims Claims
			token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				unauthorized(w)
				return
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil || claims.Role == "" {
				unauthorized(w)
				return
			}

			identity := Identity{UserID: userID, Role: Role(claims.Role)}
			ctx := context.WithValue(r.Context(), identityKey, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the authenticated caller stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"unauthorized","details":"missing or invalid bearer token"}`))
}
