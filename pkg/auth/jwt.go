package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Token expiration times
	AccessTokenDuration = 15 * time.Minute

	defaultIssuer = "ai-action-queue"
)

// Permissions understood by the API
const (
	PermissionActionsRead    = "actions:read"
	PermissionActionsWrite   = "actions:write"
	PermissionActionsExecute = "actions:execute"
	PermissionQueueAdmin     = "queue:admin"
	PermissionAuditRead      = "audit:read"
)

// DevelopmentSecret signs tokens when JWT_SECRET is unset outside production
const DevelopmentSecret = "default-secret-change-this-in-production"

// DefaultPermissions is granted to tenant API keys
var DefaultPermissions = []string{
	PermissionActionsRead,
	PermissionActionsWrite,
	PermissionActionsExecute,
	PermissionAuditRead,
}

// JWTManager handles JWT token operations
type JWTManager struct {
	secretKey      []byte
	accessTokenTTL time.Duration
	issuer         string
}

// JWTClaims represents the claims in our JWT token
type JWTClaims struct {
	TenantID    string   `json:"tenant_id"`
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// HasPermission reports whether the claims grant perm
func (c *JWTClaims) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secretKey string) *JWTManager {
	return NewJWTManagerWithTTL(secretKey, AccessTokenDuration, defaultIssuer)
}

// NewJWTManagerWithTTL creates a new JWT manager with custom TTL and issuer
func NewJWTManagerWithTTL(secretKey string, accessTTL time.Duration, issuer string) *JWTManager {
	if issuer == "" {
		issuer = defaultIssuer
	}
	return &JWTManager{
		secretKey:      []byte(secretKey),
		accessTokenTTL: accessTTL,
		issuer:         issuer,
	}
}

// GenerateAccessToken generates a new JWT access token scoped to a tenant
func (m *JWTManager) GenerateAccessToken(tenantID, userID string, permissions []string) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("tenant id is required")
	}
	now := time.Now()

	claims := &JWTClaims{
		TenantID:    tenantID,
		UserID:      userID,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    m.issuer,
			Subject:   userID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secretKey)
}

// ValidateAccessToken validates and parses a JWT access token
func (m *JWTManager) ValidateAccessToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secretKey, nil
	}, jwt.WithIssuer(m.issuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if claims.TenantID == "" {
		return nil, fmt.Errorf("token has no tenant")
	}

	return claims, nil
}

// GetAccessTokenTTL returns the access token TTL in seconds
func (m *JWTManager) GetAccessTokenTTL() int {
	return int(m.accessTokenTTL.Seconds())
}
