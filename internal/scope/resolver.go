// Package scope derives a caller's tenant scope: the set of directory ids
// reachable through the user's current profile and account memberships.
package scope

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruuderie/directory-auth/internal/repository"
)

// Resolver recomputes tenant scope from live membership state. The bearer
// token is treated as proof of identity only; the scope it was issued with
// may be stale relative to membership changes, so it is never trusted here.
type Resolver struct {
	memberships repository.MembershipRepository
}

// NewResolver creates a scope resolver.
func NewResolver(memberships repository.MembershipRepository) *Resolver {
	return &Resolver{memberships: memberships}
}

// DirectoryIDs returns the directories the user can currently access. An
// empty set is a valid result, not an error: a user removed from every
// membership still authenticates but sees no tenant data.
func (r *Resolver) DirectoryIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ids, err := r.memberships.ListDirectoryIDs(ctx, userID)
	if err != nil {
		zap.L().Error("failed to resolve tenant scope", zap.String("user_id", userID.String()), zap.Error(err))
		return nil, fmt.Errorf("resolve tenant scope: %w", err)
	}

	zap.L().Debug("tenant scope resolved", zap.String("user_id", userID.String()), zap.Int("directories", len(ids)))
	return ids, nil
}

// Contains reports whether the directory is inside the resolved scope.
func Contains(scope []uuid.UUID, directoryID uuid.UUID) bool {
	for _, id := range scope {
		if id == directoryID {
			return true
		}
	}
	return false
}
