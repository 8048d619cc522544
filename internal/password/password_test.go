package password_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ruuderie/directory-auth/internal/password"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := password.Hash("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$"))

	ok, err := password.Verify("correct horse battery staple", hash)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = password.Verify("wrong password", hash)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHashIsSaltedPerCall(t *testing.T) {
	first, err := password.Hash("same input")
	require.NoError(t, err)
	second, err := password.Hash("same input")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	ok, err := password.Verify("same input", first)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = password.Verify("same input", second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyRejectsMalformedHash(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=65536,t=3$short$parts",
		"$bcrypt$v=19$m=65536,t=3,p=2$c2FsdHNhbHQ$aGFzaA",
	} {
		_, err := password.Verify("anything", encoded)
		require.Error(t, err, "encoded=%q", encoded)
	}
}

func TestHasherHonorsContext(t *testing.T) {
	h := password.NewHasher(1)

	hash, err := h.Hash(context.Background(), "secret")
	require.NoError(t, err)
	ok, err := h.Verify(context.Background(), "secret", hash)
	require.NoError(t, err)
	require.True(t, ok)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Hash(cancelled, "secret")
	require.Error(t, err)
}
