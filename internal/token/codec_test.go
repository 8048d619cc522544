package token_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ruuderie/directory-auth/internal/token"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func TestNewCodecRejectsShortSecret(t *testing.T) {
	_, err := token.NewCodec([]byte("too short"), time.Hour)
	require.Error(t, err)
}

func TestTenantRoundTrip(t *testing.T) {
	codec, err := token.NewCodec(testSecret, time.Hour)
	require.NoError(t, err)

	userID := uuid.New()
	profileID := uuid.New()
	directoryID := uuid.New()

	serialized, expiry, err := codec.IssueTenant(userID, profileID, directoryID)
	require.NoError(t, err)
	require.True(t, expiry.After(time.Now()))

	claims, err := codec.ValidateTenant(serialized)
	require.NoError(t, err)
	require.Equal(t, userID, claims.UserID)
	require.Equal(t, profileID, claims.ProfileID)
	require.Equal(t, directoryID, claims.DirectoryID)
	require.True(t, claims.Expiry.Equal(expiry))
}

func TestAdminRoundTrip(t *testing.T) {
	codec, err := token.NewCodec(testSecret, time.Hour)
	require.NoError(t, err)

	userID := uuid.New()
	serialized, _, err := codec.IssueAdmin(userID)
	require.NoError(t, err)

	claims, err := codec.ValidateAdmin(serialized)
	require.NoError(t, err)
	require.Equal(t, userID, claims.UserID)
}

func TestClaimShapesAreDisjoint(t *testing.T) {
	codec, err := token.NewCodec(testSecret, time.Hour)
	require.NoError(t, err)

	tenant, _, err := codec.IssueTenant(uuid.New(), uuid.New(), uuid.New())
	require.NoError(t, err)
	admin, _, err := codec.IssueAdmin(uuid.New())
	require.NoError(t, err)

	_, err = codec.ValidateAdmin(tenant)
	require.ErrorIs(t, err, token.ErrClaimShapeMismatch)

	_, err = codec.ValidateTenant(admin)
	require.ErrorIs(t, err, token.ErrClaimShapeMismatch)
}

func TestExpiryBoundaryIsStrict(t *testing.T) {
	issuedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := issuedAt
	codec, err := token.NewCodec(testSecret, time.Hour, token.WithClock(func() time.Time { return clock }))
	require.NoError(t, err)

	serialized, expiry, err := codec.IssueTenant(uuid.New(), uuid.New(), uuid.New())
	require.NoError(t, err)

	clock = expiry.Add(-time.Second)
	_, err = codec.ValidateTenant(serialized)
	require.NoError(t, err)

	// Exactly at expiry the token is already invalid.
	clock = expiry
	_, err = codec.ValidateTenant(serialized)
	require.ErrorIs(t, err, token.ErrTokenExpired)

	clock = expiry.Add(time.Second)
	_, err = codec.ValidateTenant(serialized)
	require.ErrorIs(t, err, token.ErrTokenExpired)
}

func TestWrongSecretFailsSignature(t *testing.T) {
	codec, err := token.NewCodec(testSecret, time.Hour)
	require.NoError(t, err)
	other, err := token.NewCodec([]byte("ffffffffffffffffffffffffffffffff"), time.Hour)
	require.NoError(t, err)

	serialized, _, err := codec.IssueTenant(uuid.New(), uuid.New(), uuid.New())
	require.NoError(t, err)

	_, err = other.ValidateTenant(serialized)
	require.ErrorIs(t, err, token.ErrSignatureInvalid)
}

func TestMalformedTokenRejected(t *testing.T) {
	codec, err := token.NewCodec(testSecret, time.Hour)
	require.NoError(t, err)

	for _, serialized := range []string{"", "not-a-jwt", "a.b", "a.b.c.d"} {
		_, err := codec.ValidateTenant(serialized)
		require.ErrorIs(t, err, token.ErrTokenMalformed, "token=%q", serialized)
	}
}
