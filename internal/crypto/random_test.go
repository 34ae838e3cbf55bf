package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	token2, err := GenerateSecureToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)

	// 32 bytes, unpadded base64url
	assert.Len(t, token, 43)
	assert.NotContains(t, token, "=")
}

func TestDeriveKey(t *testing.T) {
	k1, err := DeriveKey([]byte("client-secret"), "oauth-state")
	require.NoError(t, err)
	assert.Len(t, k1, 32)

	k2, err := DeriveKey([]byte("client-secret"), "oauth-state")
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "derivation must be deterministic")

	k3, err := DeriveKey([]byte("client-secret"), "other-purpose")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	_, err = DeriveKey(nil, "oauth-state")
	assert.Error(t, err)
}

func TestSignData(t *testing.T) {
	key := []byte("k")
	sig := SignData("payload", key)
	assert.True(t, ValidateSignedData("payload", sig, key))
	assert.False(t, ValidateSignedData("payload2", sig, key))
	assert.False(t, ValidateSignedData("payload", sig, []byte("other")))
	assert.False(t, ValidateSignedData("payload", "!!not-base64", key))
}
