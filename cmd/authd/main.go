package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/ruuderie/directory-auth/internal/adapter/cache"
	"github.com/ruuderie/directory-auth/internal/bootstrap"
	"github.com/ruuderie/directory-auth/internal/config"
	httptransport "github.com/ruuderie/directory-auth/internal/http"
	"github.com/ruuderie/directory-auth/internal/http/handler"
	httpmiddleware "github.com/ruuderie/directory-auth/internal/http/middleware"
	apimiddleware "github.com/ruuderie/directory-auth/internal/middleware"
	"github.com/ruuderie/directory-auth/internal/password"
	"github.com/ruuderie/directory-auth/internal/repository"
	"github.com/ruuderie/directory-auth/internal/scope"
	"github.com/ruuderie/directory-auth/internal/server"
	"github.com/ruuderie/directory-auth/internal/service"
	"github.com/ruuderie/directory-auth/internal/sweeper"
	"github.com/ruuderie/directory-auth/internal/telemetry"
	"github.com/ruuderie/directory-auth/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newRedisClient,
			newUserRepository,
			newSessionRepository,
			newMembershipRepository,
			newRequestLogRepository,
			newHasher,
			newCodec,
			newLockoutStore,
			newRateLimiter,
			scope.NewResolver,
			newAuthService,
			handler.NewAuthHandler,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
			sweeper.New,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureAdmin, sweeper.Start, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newUserRepository(pool *pgxpool.Pool) repository.UserRepository {
	return repository.NewPostgresUserRepo(pool)
}

func newSessionRepository(pool *pgxpool.Pool) repository.SessionRepository {
	return repository.NewPostgresSessionRepo(pool)
}

func newMembershipRepository(pool *pgxpool.Pool) repository.MembershipRepository {
	return repository.NewPostgresMembershipRepo(pool)
}

func newRequestLogRepository(pool *pgxpool.Pool) repository.RequestLogRepository {
	return repository.NewPostgresRequestLogRepo(pool)
}

func newHasher(cfg config.Config) *password.Hasher {
	return password.NewHasher(cfg.HashWorkers)
}

func newCodec(cfg config.Config) (*token.Codec, error) {
	return token.NewCodec([]byte(cfg.SigningSecret), cfg.BearerTokenTTL)
}

func newLockoutStore(client redis.UniversalClient, cfg config.Config) service.LockoutStore {
	return cacheadapter.NewRedisLockoutStore(client, cfg.LockoutAttempts, cfg.LockoutWindow)
}

func newRateLimiter(cfg config.Config) *apimiddleware.RateLimiter {
	return apimiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	memberships repository.MembershipRepository,
	requestLogs repository.RequestLogRepository,
	hasher *password.Hasher,
	codec *token.Codec,
	lockout service.LockoutStore,
	node *snowflake.Node,
	cfg config.Config,
	logger *zap.Logger,
) *service.AuthService {
	return service.NewAuthService(users, sessions, memberships, requestLogs, hasher, codec, lockout, node, cfg, logger)
}

func newAuthMiddleware(authService *service.AuthService, codec *token.Codec, resolver *scope.Resolver) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Service: authService, Codec: codec, Scope: resolver}
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
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

func useTelemetry(*telemetry.Provider) {}
