package integrity_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ruuderie/directory-auth/internal/domain"
	"github.com/ruuderie/directory-auth/internal/integrity"
)

func sampleSession() domain.Session {
	now := time.Now().UTC().Truncate(time.Second)
	return domain.Session{
		ID:                     uuid.New(),
		UserID:                 uuid.New(),
		BearerToken:            "bearer-token-value",
		RefreshToken:           "refresh-token-value",
		TokenExpiration:        now.Add(time.Hour),
		RefreshTokenExpiration: now.Add(7 * 24 * time.Hour),
		CreatedAt:              now,
		LastAccessedAt:         now,
		IsAdmin:                false,
		IsActive:               true,
	}
}

func TestSealThenVerify(t *testing.T) {
	session := sampleSession()
	integrity.Seal(&session)
	require.NotEmpty(t, session.IntegrityHash)
	require.True(t, integrity.Verify(session))
}

func TestVerifyDetectsTamperedFields(t *testing.T) {
	base := sampleSession()
	integrity.Seal(&base)

	tampered := base
	tampered.ID = uuid.New()
	require.False(t, integrity.Verify(tampered), "id")

	tampered = base
	tampered.UserID = uuid.New()
	require.False(t, integrity.Verify(tampered), "user id")

	tampered = base
	tampered.BearerToken = "forged-bearer"
	require.False(t, integrity.Verify(tampered), "bearer token")

	tampered = base
	tampered.TokenExpiration = base.TokenExpiration.Add(24 * time.Hour)
	require.False(t, integrity.Verify(tampered), "token expiration")

	tampered = base
	tampered.IsAdmin = true
	require.False(t, integrity.Verify(tampered), "admin flag")
}

func TestVerifyIgnoresUncoveredFields(t *testing.T) {
	session := sampleSession()
	integrity.Seal(&session)

	// Activity bumps and revocation flips must not invalidate the digest.
	session.LastAccessedAt = session.LastAccessedAt.Add(time.Minute)
	session.IsActive = false
	require.True(t, integrity.Verify(session))
}

func TestDigestStableAcrossTimezones(t *testing.T) {
	session := sampleSession()
	integrity.Seal(&session)

	loc := time.FixedZone("UTC+7", 7*3600)
	session.TokenExpiration = session.TokenExpiration.In(loc)
	require.True(t, integrity.Verify(session))
}

func TestResealAfterRotation(t *testing.T) {
	session := sampleSession()
	integrity.Seal(&session)

	session.BearerToken = "rotated-bearer"
	session.TokenExpiration = session.TokenExpiration.Add(time.Hour)
	require.False(t, integrity.Verify(session))

	integrity.Seal(&session)
	require.True(t, integrity.Verify(session))
}
