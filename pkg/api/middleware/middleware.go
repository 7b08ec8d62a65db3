package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	authproviders "github.com/cbodonnell/fomo/pkg/auth/providers"
	"github.com/cbodonnell/fomo/pkg/log"
)

type ContextKey int

const (
	// PlayerContextKey is the key used to store the player id in the request context
	PlayerContextKey ContextKey = iota
)

// PlayerFromContext returns the authenticated player id.
func PlayerFromContext(ctx context.Context) (string, bool) {
	player, ok := ctx.Value(PlayerContextKey).(string)
	return player, ok && player != ""
}

func NewAuthMiddleware(authProvider authproviders.AuthProvider) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearerToken, err := parseBearerToken(r)
			if err != nil {
				log.Debug("failed to parse bearer token: %v", err)
				http.Error(w, "failed to parse bearer token", http.StatusUnauthorized)
				return
			}

			token, err := authProvider.VerifyToken(r.Context(), bearerToken)
			if err != nil {
				log.Debug("failed to verify ID token: %v", err)
				http.Error(w, "failed to verify ID token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), PlayerContextKey, token.UID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewOracleMiddleware admits requests carrying the shared oracle token. With
// an empty token every request is refused.
func NewOracleMiddleware(oracleToken string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if oracleToken == "" {
				http.Error(w, "oracle endpoints are disabled", http.StatusForbidden)
				return
			}
			bearerToken, err := parseBearerToken(r)
			if err != nil {
				http.Error(w, "failed to parse bearer token", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(bearerToken), []byte(oracleToken)) != 1 {
				log.Warn("rejected oracle request from %s", r.RemoteAddr)
				http.Error(w, "invalid oracle token", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseBearerToken parses the bearer token from the Authorization header
func parseBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("authorization header is missing")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	return parts[1], nil
}
