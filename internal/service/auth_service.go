package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ruuderie/directory-auth/internal/config"
	"github.com/ruuderie/directory-auth/internal/domain"
	"github.com/ruuderie/directory-auth/internal/integrity"
	"github.com/ruuderie/directory-auth/internal/password"
	"github.com/ruuderie/directory-auth/internal/repository"
	"github.com/ruuderie/directory-auth/internal/token"
)

// ErrEmailTaken is returned by Register when the email is already in use.
var ErrEmailTaken = errors.New("email already registered")

// LockoutStore throttles repeated login failures before password
// verification is attempted.
type LockoutStore interface {
	Locked(ctx context.Context, email, ip string) (bool, error)
	RecordFailure(ctx context.Context, email, ip string) error
	Reset(ctx context.Context, email, ip string) error
}

// RequestMeta carries client metadata into the audit trail.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// LoginResult is the outcome of a successful login or refresh.
type LoginResult struct {
	Session      domain.Session
	BearerToken  string
	RefreshToken string
	User         domain.User
}

// RegisterInput describes a new user joining a directory.
type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	DirectoryID uuid.UUID
}

// AuthService orchestrates login, session validation, refresh, logout and
// session garbage collection.
type AuthService struct {
	users       repository.UserRepository
	sessions    repository.SessionRepository
	memberships repository.MembershipRepository
	requestLogs repository.RequestLogRepository
	hasher      *password.Hasher
	codec       *token.Codec
	lockout     LockoutStore
	node        *snowflake.Node
	cfg         config.Config
	logger      *zap.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// Option customizes an AuthService.
type Option func(*AuthService)

// WithClock overrides the time source, used by expiry tests.
func WithClock(now func() time.Time) Option {
	return func(s *AuthService) { s.now = now }
}

// NewAuthService wires dependencies.
func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	memberships repository.MembershipRepository,
	requestLogs repository.RequestLogRepository,
	hasher *password.Hasher,
	codec *token.Codec,
	lockout LockoutStore,
	node *snowflake.Node,
	cfg config.Config,
	logger *zap.Logger,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		users:       users,
		sessions:    sessions,
		memberships: memberships,
		requestLogs: requestLogs,
		hasher:      hasher,
		codec:       codec,
		lockout:     lockout,
		node:        node,
		cfg:         cfg,
		logger:      logger,
		tracer:      otel.Tracer("github.com/ruuderie/directory-auth/internal/service"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login authenticates email/password credentials and opens a new session.
// All credential failures collapse to ErrUnauthorized; the caller can never
// tell an unknown email from a wrong password.
func (s *AuthService) Login(ctx context.Context, email, plaintext string, meta RequestMeta) (*LoginResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Login")
	defer span.End()

	if s.lockout != nil {
		locked, err := s.lockout.Locked(ctx, email, meta.IPAddress)
		if err != nil {
			s.log().Warn("lockout lookup failed", zap.Error(err))
		} else if locked {
			s.logAttempt(ctx, domain.RequestTypeLogin, nil, "locked_out", meta)
			return nil, domain.ErrUnauthorized
		}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.recordFailure(ctx, email, meta, domain.RequestTypeLogin, nil, "unknown_user")
			return nil, domain.ErrUnauthorized
		}
		span.RecordError(err)
		return nil, fmt.Errorf("login lookup user: %w", err)
	}
	if !user.IsActive {
		s.recordFailure(ctx, email, meta, domain.RequestTypeLogin, &user.ID, "inactive_user")
		return nil, domain.ErrUnauthorized
	}

	ok, err := s.hasher.Verify(ctx, plaintext, user.PasswordHash)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		s.recordFailure(ctx, email, meta, domain.RequestTypeLogin, &user.ID, "invalid_password")
		return nil, domain.ErrUnauthorized
	}

	bearer, expiry, err := s.issueBearer(ctx, user)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := s.now().UTC().Truncate(time.Second)
	session := domain.Session{
		ID:                     uuid.New(),
		UserID:                 user.ID,
		BearerToken:            bearer,
		RefreshToken:           randomToken(s.cfg.RefreshTokenBytes),
		TokenExpiration:        expiry,
		RefreshTokenExpiration: now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt:              now,
		LastAccessedAt:         now,
		IsAdmin:                user.IsAdmin,
		IsActive:               true,
	}
	integrity.Seal(&session)

	// The insert must land even if the client disconnects mid-login; an
	// orphaned session is swept later, a half-created one is not.
	insertCtx := context.WithoutCancel(ctx)
	if err := s.sessions.Create(insertCtx, session); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("create session: %w", err)
	}

	if err := s.users.TouchLastLogin(insertCtx, user.ID, now); err != nil {
		s.log().Warn("touch last login failed", zap.String("user_id", user.ID.String()), zap.Error(err))
	}
	if s.lockout != nil {
		if err := s.lockout.Reset(ctx, email, meta.IPAddress); err != nil {
			s.log().Warn("lockout reset failed", zap.Error(err))
		}
	}

	s.logAttempt(ctx, domain.RequestTypeLogin, &user.ID, "", meta)
	s.audit("session.created", "user_id", user.ID, "session_id", session.ID, "admin", user.IsAdmin)

	return &LoginResult{
		Session:      session,
		BearerToken:  bearer,
		RefreshToken: session.RefreshToken,
		User:         user,
	}, nil
}

// ValidateSession checks a bearer token against its stored session: the row
// must exist, be active, pass the integrity check, and not be past its
// bearer expiry. On success the last-accessed timestamp is bumped; nothing
// else mutates.
func (s *AuthService) ValidateSession(ctx context.Context, bearer string) (domain.Session, error) {
	ctx, span := s.startSpan(ctx, "AuthService.ValidateSession")
	defer span.End()

	session, err := s.sessions.GetByBearerToken(ctx, bearer)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Session{}, domain.ErrUnauthorized
		}
		span.RecordError(err)
		return domain.Session{}, fmt.Errorf("load session: %w", err)
	}

	if !session.IsActive {
		return domain.Session{}, domain.ErrUnauthorized
	}
	if !integrity.Verify(session) {
		s.flagIntegrityViolation(ctx, session)
		return domain.Session{}, domain.ErrIntegrityViolation
	}
	now := s.now().UTC()
	if !now.Before(session.TokenExpiration) {
		return domain.Session{}, domain.ErrUnauthorized
	}

	if err := s.sessions.TouchLastAccessed(ctx, session.ID, now.Truncate(time.Second)); err != nil {
		span.RecordError(err)
		return domain.Session{}, fmt.Errorf("touch session: %w", err)
	}
	session.LastAccessedAt = now.Truncate(time.Second)
	return session, nil
}

// Refresh exchanges a still-valid refresh token for a new bearer token. The
// rotation is conditional on the previous bearer token, so of two racing
// refreshes exactly one wins and the loser gets ErrRefreshConflict. The
// refresh window is fixed at session creation and never extended here.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*LoginResult, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Refresh")
	defer span.End()

	session, err := s.sessions.GetByRefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		span.RecordError(err)
		return nil, fmt.Errorf("load session: %w", err)
	}

	if !session.IsActive {
		return nil, domain.ErrUnauthorized
	}
	if !integrity.Verify(session) {
		s.flagIntegrityViolation(ctx, session)
		return nil, domain.ErrIntegrityViolation
	}
	now := s.now().UTC()
	if !now.Before(session.RefreshTokenExpiration) {
		return nil, domain.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		span.RecordError(err)
		return nil, fmt.Errorf("refresh load user: %w", err)
	}
	if !user.IsActive {
		return nil, domain.ErrUnauthorized
	}

	bearer, expiry, err := s.issueBearer(ctx, user)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	rotated := session
	rotated.BearerToken = bearer
	rotated.TokenExpiration = expiry
	rotated.LastAccessedAt = now.Truncate(time.Second)
	integrity.Seal(&rotated)

	ok, err := s.sessions.RotateBearerToken(ctx, session.ID, session.BearerToken, bearer, expiry, rotated.LastAccessedAt, rotated.IntegrityHash)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("rotate bearer token: %w", err)
	}
	if !ok {
		s.logAttempt(ctx, domain.RequestTypeRefresh, &user.ID, "refresh_conflict", meta)
		return nil, domain.ErrRefreshConflict
	}

	s.logAttempt(ctx, domain.RequestTypeRefresh, &user.ID, "", meta)
	s.audit("session.refreshed", "user_id", user.ID, "session_id", session.ID)

	return &LoginResult{
		Session:      rotated,
		BearerToken:  bearer,
		RefreshToken: rotated.RefreshToken,
		User:         user,
	}, nil
}

// Logout deletes the session addressed by the bearer token. Logging out a
// session that no longer exists is not an error.
func (s *AuthService) Logout(ctx context.Context, bearer string, meta RequestMeta) error {
	ctx, span := s.startSpan(ctx, "AuthService.Logout")
	defer span.End()

	session, err := s.sessions.GetByBearerToken(ctx, bearer)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("load session: %w", err)
	}

	if !integrity.Verify(session) {
		s.flagIntegrityViolation(ctx, session)
		return domain.ErrIntegrityViolation
	}

	existed, err := s.sessions.Delete(ctx, session.ID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete session: %w", err)
	}
	if existed {
		s.logAttempt(ctx, domain.RequestTypeLogout, &session.UserID, "", meta)
		s.audit("session.deleted", "user_id", session.UserID, "session_id", session.ID)
	}
	return nil
}

// SweepExpired deletes every session whose refresh window has fully elapsed.
// It is garbage collection only; live validation never depends on it.
func (s *AuthService) SweepExpired(ctx context.Context) (int64, error) {
	ctx, span := s.startSpan(ctx, "AuthService.SweepExpired")
	defer span.End()

	count, err := s.sessions.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	if count > 0 {
		s.audit("sessions.swept", "count", count)
	}
	return count, nil
}

// Register creates a user with a profile membership in the given directory.
func (s *AuthService) Register(ctx context.Context, input RegisterInput, meta RequestMeta) (domain.User, error) {
	ctx, span := s.startSpan(ctx, "AuthService.Register")
	defer span.End()

	hash, err := s.hasher.Hash(ctx, input.Password)
	if err != nil {
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := domain.User{
		ID:           uuid.New(),
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
		IsAdmin:      false,
		IsActive:     true,
	}
	created, err := s.users.Create(ctx, user)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.User{}, ErrEmailTaken
		}
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("register user: %w", err)
	}

	if _, err := s.memberships.CreateProfileMembership(ctx, created.ID, input.DirectoryID); err != nil {
		span.RecordError(err)
		return domain.User{}, fmt.Errorf("register membership: %w", err)
	}

	s.logAttempt(ctx, domain.RequestTypeRegister, &created.ID, "", meta)
	s.audit("user.registered", "user_id", created.ID, "directory_id", input.DirectoryID)
	return created, nil
}

// GetUser loads a user by id.
func (s *AuthService) GetUser(ctx context.Context, id uuid.UUID) (domain.User, error) {
	return s.users.GetByID(ctx, id)
}

// ListSessions returns active sessions, newest activity first.
func (s *AuthService) ListSessions(ctx context.Context, limit int) ([]domain.Session, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.sessions.ListActive(ctx, limit)
}

// RevokeSession soft-revokes a session without deleting its row, so the
// record stays visible to investigation until the sweep collects it.
func (s *AuthService) RevokeSession(ctx context.Context, id uuid.UUID) error {
	ctx, span := s.startSpan(ctx, "AuthService.RevokeSession")
	defer span.End()

	if err := s.sessions.Deactivate(ctx, id); err != nil {
		span.RecordError(err)
		return fmt.Errorf("revoke session: %w", err)
	}
	s.audit("session.revoked", "session_id", id)
	return nil
}

func (s *AuthService) issueBearer(ctx context.Context, user domain.User) (string, time.Time, error) {
	if user.IsAdmin {
		bearer, expiry, err := s.codec.IssueAdmin(user.ID)
		if err != nil {
			return "", time.Time{}, fmt.Errorf("issue admin token: %w", err)
		}
		return bearer, expiry, nil
	}

	membership, err := s.memberships.PrimaryMembership(ctx, user.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", time.Time{}, domain.ErrUnauthorized
		}
		return "", time.Time{}, fmt.Errorf("load membership: %w", err)
	}
	bearer, expiry, err := s.codec.IssueTenant(user.ID, membership.ProfileID, membership.DirectoryID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issue tenant token: %w", err)
	}
	return bearer, expiry, nil
}

func (s *AuthService) recordFailure(ctx context.Context, email string, meta RequestMeta, requestType string, userID *uuid.UUID, reason string) {
	if s.lockout != nil {
		if err := s.lockout.RecordFailure(ctx, email, meta.IPAddress); err != nil {
			s.log().Warn("lockout record failed", zap.Error(err))
		}
	}
	s.logAttempt(ctx, requestType, userID, reason, meta)
}

// flagIntegrityViolation records the security event at high severity. The
// session is never repaired.
func (s *AuthService) flagIntegrityViolation(ctx context.Context, session domain.Session) {
	s.log().Error("session integrity violation",
		zap.String("session_id", session.ID.String()),
		zap.String("user_id", session.UserID.String()),
	)
	s.logAttempt(ctx, domain.RequestTypeLogin, &session.UserID, "integrity_violation", RequestMeta{})
}

func (s *AuthService) logAttempt(ctx context.Context, requestType string, userID *uuid.UUID, failureReason string, meta RequestMeta) {
	if s.requestLogs == nil {
		return
	}
	status := domain.RequestStatusSuccess
	if failureReason != "" {
		status = domain.RequestStatusFailure
	}
	entry := domain.RequestLog{
		ID:            s.node.Generate().Int64(),
		UserID:        userID,
		RequestType:   requestType,
		Status:        status,
		FailureReason: failureReason,
		IPAddress:     meta.IPAddress,
		UserAgent:     meta.UserAgent,
	}
	if err := s.requestLogs.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.log().Warn("request log append failed", zap.Error(err))
	}
}

func (s *AuthService) audit(event string, attrs ...any) {
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", s.now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	s.log().Info("audit", fields...)
}

func (s *AuthService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *AuthService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func randomToken(n int) string {
	if n <= 0 {
		n = 32
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// isUniqueViolation detects a PostgreSQL unique constraint violation without
// tying the service to a driver.
func isUniqueViolation(err error) bool {
	type sqlStater interface{ SQLState() string }
	var pgErr sqlStater
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
