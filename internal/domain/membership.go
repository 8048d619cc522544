package domain

import "github.com/google/uuid"

// Membership is the read model linking a user to a directory through a
// profile or an account. It is the only path by which tenant scope is
// derived.
type Membership struct {
	ProfileID   uuid.UUID
	DirectoryID uuid.UUID
}

// RequestLog is an append-only audit record of an authentication attempt.
type RequestLog struct {
	ID            int64
	UserID        *uuid.UUID
	RequestType   string
	Status        string
	FailureReason string
	IPAddress     string
	UserAgent     string
}

// Request log types and statuses.
const (
	RequestTypeLogin    = "login"
	RequestTypeRefresh  = "refresh"
	RequestTypeLogout   = "logout"
	RequestTypeRegister = "register"

	RequestStatusSuccess = "success"
	RequestStatusFailure = "failure"
)
