package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is an identity record. Users gain access to directories only through
// profile/account memberships, never directly.
type User struct {
	ID           uuid.UUID
	Username     string
	Email        string
	PasswordHash string
	IsAdmin      bool
	IsActive     bool
	LastLoginAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
