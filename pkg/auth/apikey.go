package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// BcryptCost is the cost factor for bcrypt hashing
	BcryptCost = 12
)

// ErrInvalidAPIKey is returned when a key does not match any configured tenant
var ErrInvalidAPIKey = errors.New("invalid api key")

// GenerateAPIKey generates a secure API key for a tenant. Keys have the form "<tenant>.<secret>".
func GenerateAPIKey(tenantID string) (string, error) {
	if tenantID == "" || strings.Contains(tenantID, ".") {
		return "", fmt.Errorf("invalid tenant id %q", tenantID)
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	return tenantID + "." + base64.RawURLEncoding.EncodeToString(b), nil
}

// HashAPIKey hashes an API key using bcrypt
func HashAPIKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash api key: %w", err)
	}
	return string(hash), nil
}

// APIKeyStore resolves API keys to tenants using bcrypt hashes
type APIKeyStore struct {
	hashes map[string][]string // tenantID -> hashes
}

// NewAPIKeyStore creates an empty store
func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{hashes: make(map[string][]string)}
}

// ParseAPIKeyStore builds a store from "tenant:hash,tenant:hash" pairs
func ParseAPIKeyStore(spec string) (*APIKeyStore, error) {
	store := NewAPIKeyStore()
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tenant, hash, ok := strings.Cut(pair, ":")
		if !ok || tenant == "" || hash == "" {
			return nil, fmt.Errorf("malformed api key entry %q", pair)
		}
		store.Add(tenant, hash)
	}
	return store, nil
}

// Add registers a bcrypt hash for a tenant
func (s *APIKeyStore) Add(tenantID, hash string) {
	s.hashes[tenantID] = append(s.hashes[tenantID], hash)
}

// Len returns the number of configured tenants
func (s *APIKeyStore) Len() int {
	return len(s.hashes)
}

// Authenticate returns the tenant that owns apiKey
func (s *APIKeyStore) Authenticate(apiKey string) (string, error) {
	tenant, _, ok := strings.Cut(apiKey, ".")
	if !ok {
		return "", ErrInvalidAPIKey
	}
	for _, hash := range s.hashes[tenant] {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)) == nil {
			return tenant, nil
		}
	}
	return "", ErrInvalidAPIKey
}
