package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestJWTManager(t *testing.T) {
	m := NewJWTManager("test-secret")

	t.Run("round trip keeps tenant and permissions", func(t *testing.T) {
		token, err := m.GenerateAccessToken("tenant-456", "user-1", []string{PermissionQueueAdmin})
		require.NoError(t, err)

		claims, err := m.ValidateAccessToken(token)
		require.NoError(t, err)
		assert.Equal(t, "tenant-456", claims.TenantID)
		assert.Equal(t, "user-1", claims.UserID)
		assert.True(t, claims.HasPermission(PermissionQueueAdmin))
		assert.False(t, claims.HasPermission(PermissionAuditRead))
	})

	t.Run("rejects other secret", func(t *testing.T) {
		token, err := NewJWTManager("other").GenerateAccessToken("tenant-1", "u", nil)
		require.NoError(t, err)

		_, err = m.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		short := NewJWTManagerWithTTL("test-secret", -time.Minute, "")
		token, err := short.GenerateAccessToken("tenant-1", "u", nil)
		require.NoError(t, err)

		_, err = m.ValidateAccessToken(token)
		assert.Error(t, err)
	})

	t.Run("requires tenant", func(t *testing.T) {
		_, err := m.GenerateAccessToken("", "u", nil)
		assert.Error(t, err)
	})
}

func TestAPIKeyStore(t *testing.T) {
	key, err := GenerateAPIKey("tenant-456")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "tenant-456."))

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)

	store, err := ParseAPIKeyStore("tenant-456:" + string(hash))
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	tenant, err := store.Authenticate(key)
	require.NoError(t, err)
	assert.Equal(t, "tenant-456", tenant)

	_, err = store.Authenticate("tenant-456.wrong")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = store.Authenticate("garbage")
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	_, err = ParseAPIKeyStore("no-colon")
	assert.Error(t, err)
}
