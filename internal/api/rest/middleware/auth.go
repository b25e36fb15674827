package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/davidmoltin/ai-action-queue/pkg/auth"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
	"github.com/davidmoltin/ai-action-queue/pkg/metrics"
)

type contextKey string

const claimsKey contextKey = "claims"

// TokenValidator validates bearer tokens
type TokenValidator interface {
	ValidateAccessToken(tokenString string) (*auth.JWTClaims, error)
}

// KeyAuthenticator resolves API keys to tenants
type KeyAuthenticator interface {
	Authenticate(apiKey string) (string, error)
}

// Authenticator checks bearer tokens first and API keys second
type Authenticator struct {
	tokens  TokenValidator
	keys    KeyAuthenticator
	metrics *metrics.Metrics
	logger  *logger.Logger
}

// NewAuthenticator creates an authenticator. keys and m may be nil.
func NewAuthenticator(tokens TokenValidator, keys KeyAuthenticator, m *metrics.Metrics, log *logger.Logger) *Authenticator {
	return &Authenticator{tokens: tokens, keys: keys, metrics: m, logger: log}
}

// Auth requires a valid JWT or API key and stores the resulting claims in the request context
func Auth(a *Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Try JWT first
			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				parts := strings.SplitN(authHeader, " ", 2)
				if len(parts) != 2 || parts[0] != "Bearer" {
					a.metrics.IncAuthFailure("malformed_header")
					respondError(w, http.StatusUnauthorized, "Invalid authorization header format")
					return
				}

				claims, err := a.tokens.ValidateAccessToken(parts[1])
				if err != nil {
					a.logger.Warn("Invalid JWT token", logger.Err(err))
					a.metrics.IncAuthFailure("invalid_token")
					respondError(w, http.StatusUnauthorized, "Invalid or expired token")
					return
				}

				next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
				return
			}

			// Try API key
			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" && a.keys != nil {
				tenantID, err := a.keys.Authenticate(apiKey)
				if err != nil {
					a.logger.Warn("Invalid API key", logger.Err(err))
					a.metrics.IncAuthFailure("invalid_api_key")
					respondError(w, http.StatusUnauthorized, "Invalid API key")
					return
				}

				claims := &auth.JWTClaims{
					TenantID:    tenantID,
					UserID:      "apikey:" + tenantID,
					Permissions: auth.DefaultPermissions,
				}
				next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
				return
			}

			a.metrics.IncAuthFailure("missing_credentials")
			respondError(w, http.StatusUnauthorized, "Authentication required")
		})
	}
}

// respondError sends an error response with proper JSON encoding
func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]string{"error": message}
	json.NewEncoder(w).Encode(response)
}

// WithClaims returns a context carrying claims
func WithClaims(ctx context.Context, claims *auth.JWTClaims) context.Context {
	if claims != nil {
		annotate(ctx, claims.TenantID, claims.UserID)
	}
	return context.WithValue(ctx, claimsKey, claims)
}

// GetClaims extracts JWT claims from request context
func GetClaims(ctx context.Context) *auth.JWTClaims {
	if claims, ok := ctx.Value(claimsKey).(*auth.JWTClaims); ok {
		return claims
	}
	return nil
}

// TenantID returns the authenticated tenant, or "" when unauthenticated
func TenantID(ctx context.Context) string {
	if claims := GetClaims(ctx); claims != nil {
		return claims.TenantID
	}
	return ""
}

// Actor returns the authenticated user for audit records, or "" when unauthenticated
func Actor(ctx context.Context) string {
	if claims := GetClaims(ctx); claims != nil {
		return claims.UserID
	}
	return ""
}
