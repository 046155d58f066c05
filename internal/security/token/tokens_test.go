package token

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateOpaqueToken(t *testing.T) {
	a, err := GenerateOpaqueToken(32)
	require.NoError(t, err)
	b, err := GenerateOpaqueToken(32)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)

	raw, err := base64.RawURLEncoding.DecodeString(a)
	require.NoError(t, err, "el token debe ser base64url sin padding")
	assert.Len(t, raw, 32)
}

func TestSHA256Base64URL(t *testing.T) {
	h := SHA256Base64URL("stride")
	assert.Equal(t, h, SHA256Base64URL("stride"))
	assert.NotEqual(t, h, SHA256Base64URL("stridex"))

	raw, err := base64.RawURLEncoding.DecodeString(h)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("abc", "abc"))
	assert.False(t, ConstantTimeEqual("abc", "abd"))
	assert.False(t, ConstantTimeEqual("abc", "abcd"))
	assert.True(t, ConstantTimeEqual("", ""))
}
