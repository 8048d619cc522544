package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ruuderie/directory-auth/internal/domain"
)

// UserRepository exposes persistence for identity records.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// SessionRepository persists login sessions. Every write that touches a
// security-relevant field carries the recomputed integrity digest in the
// same statement; there is no separate "update digest" call.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByBearerToken(ctx context.Context, bearer string) (domain.Session, error)
	GetByRefreshToken(ctx context.Context, refresh string) (domain.Session, error)
	TouchLastAccessed(ctx context.Context, id uuid.UUID, at time.Time) error
	// RotateBearerToken replaces the bearer token, expiry and digest only if
	// the stored bearer token still equals prevBearer. Returns false when the
	// conditional write matched no row, i.e. a concurrent refresh won.
	RotateBearerToken(ctx context.Context, id uuid.UUID, prevBearer, newBearer string, expiry, accessedAt time.Time, digest string) (bool, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	// Delete removes the session row. Deleting an absent session is not an
	// error; the bool reports whether a row existed.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	ListActive(ctx context.Context, limit int) ([]domain.Session, error)
}

// MembershipRepository reads the user→profile/account→directory associations
// that tenant scope is derived from.
type MembershipRepository interface {
	PrimaryMembership(ctx context.Context, userID uuid.UUID) (domain.Membership, error)
	ListDirectoryIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	CreateProfileMembership(ctx context.Context, userID, directoryID uuid.UUID) (domain.Membership, error)
}

// RequestLogRepository appends to the authentication audit trail.
type RequestLogRepository interface {
	Append(ctx context.Context, entry domain.RequestLog) error
}
