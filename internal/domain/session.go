package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session represents one authenticated login. The bearer token is a signed
// JWT, the refresh token an opaque random string. IntegrityHash covers the
// security-relevant fields and must match the recomputed digest before the
// session is trusted for anything.
type Session struct {
	ID                     uuid.UUID
	UserID                 uuid.UUID
	BearerToken            string
	RefreshToken           string
	TokenExpiration        time.Time
	RefreshTokenExpiration time.Time
	CreatedAt              time.Time
	LastAccessedAt         time.Time
	IsAdmin                bool
	IsActive               bool
	IntegrityHash          string
}
