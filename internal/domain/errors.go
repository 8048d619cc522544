package domain

import "errors"

// Error taxonomy for the authentication core. The HTTP boundary collapses
// most of these to a generic 401 so callers cannot distinguish unknown
// email, wrong password, expired token, or bad signature.
var (
	// ErrUnauthorized covers every authentication failure: missing, invalid
	// or expired credentials, unknown or inactive users.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden means the caller authenticated but lacks privilege.
	ErrForbidden = errors.New("forbidden")

	// ErrIntegrityViolation means a stored session's digest no longer matches
	// its security-relevant fields. The session is rejected, never repaired.
	ErrIntegrityViolation = errors.New("session integrity violation")

	// ErrRefreshConflict means a concurrent refresh won the rotation race.
	ErrRefreshConflict = errors.New("refresh conflict")

	// ErrNotFound means the requested user or session does not exist.
	ErrNotFound = errors.New("not found")
)
