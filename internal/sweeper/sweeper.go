// Package sweeper runs background garbage collection of fully expired
// sessions. Live request validation never depends on the sweep; it only
// keeps the sessions table from accumulating dead rows.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ruuderie/directory-auth/internal/config"
	"github.com/ruuderie/directory-auth/internal/service"
)

// Sweeper periodically deletes sessions whose refresh window has elapsed.
type Sweeper struct {
	auth     *service.AuthService
	interval time.Duration
	logger   *zap.Logger
}

// New creates a sweeper. A non-positive interval disables it.
func New(auth *service.AuthService, cfg config.Config, logger *zap.Logger) *Sweeper {
	return &Sweeper{auth: auth, interval: cfg.SessionSweepInterval, logger: logger}
}

// Run blocks, sweeping once per interval until ctx is cancelled. The first
// sweep happens immediately so restarts do not postpone collection by a
// full interval.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	count, err := s.auth.SweepExpired(ctx)
	if err != nil {
		s.logger.Warn("session sweep failed", zap.Error(err))
		return
	}
	if count > 0 {
		s.logger.Info("session sweep completed", zap.Int64("deleted", count))
	}
}

// Start hooks the sweeper into the fx lifecycle.
func Start(lc fx.Lifecycle, s *Sweeper) {
	var cancel context.CancelFunc
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			go func() {
				s.Run(runCtx)
				close(done)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
