// Package auth validates the bearer tokens protecting user-facing routes.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/voxgate/voxgate/internal/httperr"
)

type contextKey string

const claimsKey contextKey = "claims"

type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Middleware rejects requests without a valid HMAC-signed bearer token and
// stashes the claims in the request context.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				httperr.Write(w, httperr.Unauthorized("missing bearer token"))
				return
			}

			claims := &Claims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !parsed.Valid {
				httperr.Write(w, httperr.Unauthorized("invalid token"))
				return
			}
			if claims.Subject == "" {
				httperr.Write(w, httperr.Unauthorized("token missing subject"))
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the authenticated claims, or nil on public routes.
func FromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// UserID returns the authenticated subject, or "" when unauthenticated.
func UserID(ctx context.Context) string {
	if claims := FromContext(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}
