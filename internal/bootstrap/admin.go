package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ruuderie/directory-auth/internal/config"
	"github.com/ruuderie/directory-auth/internal/domain"
	"github.com/ruuderie/directory-auth/internal/password"
	"github.com/ruuderie/directory-auth/internal/repository"
)

// EnsureAdmin creates the default admin user on startup if missing. Admin
// users carry no profile membership; their sessions are never tenant scoped.
func EnsureAdmin(lc fx.Lifecycle, cfg config.Config, users repository.UserRepository, hasher *password.Hasher, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return ensureAdmin(ctx, cfg, users, hasher, logger)
		},
	})
}

func ensureAdmin(ctx context.Context, cfg config.Config, users repository.UserRepository, hasher *password.Hasher, logger *zap.Logger) error {
	email := strings.TrimSpace(cfg.AdminEmail)
	if email == "" || cfg.AdminPassword == "" {
		// No seed configured; an existing deployment already has its admins.
		return nil
	}

	if _, err := users.GetByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("bootstrap lookup admin: %w", err)
	}

	hashed, err := hasher.Hash(ctx, cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("bootstrap hash password: %w", err)
	}

	created, err := users.Create(ctx, domain.User{
		ID:           uuid.New(),
		Username:     "admin",
		Email:        email,
		PasswordHash: hashed,
		IsAdmin:      true,
		IsActive:     true,
	})
	if err != nil {
		return fmt.Errorf("bootstrap create admin: %w", err)
	}

	if logger != nil {
		logger.Info("bootstrap admin user created",
			zap.String("email", created.Email),
			zap.String("user_id", created.ID.String()),
		)
	}
	return nil
}
