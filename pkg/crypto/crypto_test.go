package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPasswordHashAndVerify(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.NotEqual(t, "correct horse battery staple", hash)

	require.True(t, VerifyPassword(hash, "correct horse battery staple"))
	require.False(t, VerifyPassword(hash, "wrong password"))
	require.False(t, VerifyPassword("not-a-bcrypt-hash", "anything"))
}

func TestGenerateTokenLengthAndUniqueness(t *testing.T) {
	a, err := GenerateToken(32)
	require.NoError(t, err)
	b, err := GenerateToken(32)
	require.NoError(t, err)

	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}

func TestSealOpenRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	sealed, err := Seal([]byte("oauth-access-token"), key)
	require.NoError(t, err)
	require.NotContains(t, sealed, "oauth-access-token")

	opened, err := Open(sealed, key)
	require.NoError(t, err)
	require.Equal(t, "oauth-access-token", string(opened))

	// Nonces are random, so sealing twice never repeats.
	again, err := Seal([]byte("oauth-access-token"), key)
	require.NoError(t, err)
	require.NotEqual(t, sealed, again)
}

func TestOpenRejectsBadInput(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	otherKey := []byte("fedcba9876543210fedcba9876543210")

	sealed, err := Seal([]byte("secret"), key)
	require.NoError(t, err)

	_, err = Open(sealed, otherKey)
	require.Error(t, err)

	_, err = Open("not base64!!", key)
	require.Error(t, err)

	_, err = Open("c2hvcnQ=", key) // valid base64, shorter than a nonce
	require.Error(t, err)

	_, err = Seal([]byte("x"), []byte("short-key"))
	require.Error(t, err)
}
