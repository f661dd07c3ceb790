// ABOUTME: Tests for refresh token generation and hashing
// ABOUTME: Checks token shape, uniqueness and a stable digest

package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRefreshToken(t *testing.T) {
	tok, digest, err := NewRefreshToken()
	require.NoError(t, err)
	assert.Len(t, tok, 2*refreshTokenBytes)
	assert.Len(t, digest, 64)
	assert.NotEqual(t, tok, digest)
	assert.Equal(t, digest, HashRefreshToken(tok))

	other, _, err := NewRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, tok, other)
}
