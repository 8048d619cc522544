package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ruuderie/directory-auth/internal/config"
	"github.com/ruuderie/directory-auth/internal/domain"
	httptransport "github.com/ruuderie/directory-auth/internal/http"
	"github.com/ruuderie/directory-auth/internal/http/handler"
	httpmiddleware "github.com/ruuderie/directory-auth/internal/http/middleware"
	"github.com/ruuderie/directory-auth/internal/password"
	"github.com/ruuderie/directory-auth/internal/scope"
	"github.com/ruuderie/directory-auth/internal/service"
	"github.com/ruuderie/directory-auth/internal/token"
)

type routerEnv struct {
	router      *gin.Engine
	svc         *service.AuthService
	users       *stubUserRepo
	memberships *stubMembershipRepo
	directoryID uuid.UUID
	clock       *stubClock
}

func newRouterEnv(t *testing.T) *routerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	clock := &stubClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	codec, err := token.NewCodec([]byte("0123456789abcdef0123456789abcdef"), time.Hour, token.WithClock(clock.Now))
	require.NoError(t, err)

	users := newStubUserRepo()
	sessions := newStubSessionRepo()
	memberships := newStubMembershipRepo()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{
		ServiceName:        "directory-auth-test",
		BearerTokenTTL:     time.Hour,
		RefreshTokenTTL:    7 * 24 * time.Hour,
		RefreshTokenBytes:  32,
		CORSAllowedOrigins: []string{"*"},
		CORSAllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		CORSAllowedHeaders: []string{"Authorization", "Content-Type"},
	}

	svc := service.NewAuthService(
		users, sessions, memberships, nil,
		password.NewHasher(2), codec, nil, node, cfg, zap.NewNop(),
		service.WithClock(clock.Now),
	)

	auth := &httpmiddleware.Auth{Service: svc, Codec: codec, Scope: scope.NewResolver(memberships)}
	router := httptransport.NewRouter(cfg, handler.NewAuthHandler(svc), auth, nil)

	return &routerEnv{
		router:      router,
		svc:         svc,
		users:       users,
		memberships: memberships,
		directoryID: uuid.New(),
		clock:       clock,
	}
}

func (e *routerEnv) seedUser(t *testing.T, email string, admin bool) domain.User {
	t.Helper()
	hash, err := password.Hash("hunter22secret")
	require.NoError(t, err)
	user := domain.User{
		ID:           uuid.New(),
		Username:     email,
		Email:        email,
		PasswordHash: hash,
		IsAdmin:      admin,
		IsActive:     true,
	}
	e.users.put(user)
	if !admin {
		e.memberships.add(user.ID, domain.Membership{ProfileID: uuid.New(), DirectoryID: e.directoryID})
	}
	return user
}

func (e *routerEnv) do(method, path, bearer string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *routerEnv) login(t *testing.T, email string) (bearer, refresh string) {
	t.Helper()
	rec := e.do(http.MethodPost, "/auth/login", "", gin.H{"email": email, "password": "hunter22secret"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		BearerToken  string `json:"bearer_token"`
		RefreshToken string `json:"refresh_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.BearerToken)
	require.NotEmpty(t, resp.RefreshToken)
	return resp.BearerToken, resp.RefreshToken
}

func TestHealthz(t *testing.T) {
	env := newRouterEnv(t)
	rec := env.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginThenMe(t *testing.T) {
	env := newRouterEnv(t)
	env.seedUser(t, "owner@example.com", false)

	bearer, _ := env.login(t, "owner@example.com")

	rec := env.do(http.MethodGet, "/auth/me", bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var me struct {
		IsAdmin      bool     `json:"is_admin"`
		DirectoryIDs []string `json:"directory_ids"`
		User         struct {
			Email string `json:"email"`
		} `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	require.False(t, me.IsAdmin)
	require.Equal(t, "owner@example.com", me.User.Email)
	require.Equal(t, []string{env.directoryID.String()}, me.DirectoryIDs)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newRouterEnv(t)
	env.seedUser(t, "owner@example.com", false)

	rec := env.do(http.MethodPost, "/auth/login", "", gin.H{"email": "owner@example.com", "password": "nope"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/auth/login", "", gin.H{"email": "ghost@example.com", "password": "hunter22secret"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/auth/login", "", gin.H{"email": "owner@example.com"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExpiredBearerIsUnauthorized(t *testing.T) {
	env := newRouterEnv(t)
	env.seedUser(t, "owner@example.com", false)

	bearer, _ := env.login(t, "owner@example.com")
	env.clock.Advance(time.Hour)

	rec := env.do(http.MethodGet, "/auth/me", bearer, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshRotatesBearer(t *testing.T) {
	env := newRouterEnv(t)
	env.seedUser(t, "owner@example.com", false)

	bearer, refresh := env.login(t, "owner@example.com")
	env.clock.Advance(30 * time.Minute)

	rec := env.do(http.MethodPost, "/auth/refresh", refresh, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		BearerToken string `json:"bearer_token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEqual(t, bearer, resp.BearerToken)

	rec = env.do(http.MethodGet, "/auth/me", bearer, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.do(http.MethodGet, "/auth/me", resp.BearerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestLogoutInvalidatesBearer(t *testing.T) {
	env := newRouterEnv(t)
	env.seedUser(t, "owner@example.com", false)

	bearer, _ := env.login(t, "owner@example.com")

	rec := env.do(http.MethodPost, "/auth/logout", bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/auth/me", bearer, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newRouterEnv(t)
	env.seedUser(t, "owner@example.com", false)
	env.seedUser(t, "root@example.com", true)

	tenantBearer, _ := env.login(t, "owner@example.com")
	adminBearer, _ := env.login(t, "root@example.com")

	// An authenticated non-admin is forbidden, not unauthorized.
	rec := env.do(http.MethodGet, "/admin/sessions", tenantBearer, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodGet, "/admin/sessions", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodGet, "/admin/sessions", adminBearer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
			IsAdmin   bool   `json:"is_admin"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 2)
}

func TestAdminRevokeSession(t *testing.T) {
	env := newRouterEnv(t)
	env.seedUser(t, "owner@example.com", false)
	env.seedUser(t, "root@example.com", true)

	tenantBearer, _ := env.login(t, "owner@example.com")
	adminBearer, _ := env.login(t, "root@example.com")

	rec := env.do(http.MethodGet, "/admin/sessions", adminBearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
			IsAdmin   bool   `json:"is_admin"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))

	var target string
	for _, s := range listed.Sessions {
		if !s.IsAdmin {
			target = s.SessionID
		}
	}
	require.NotEmpty(t, target)

	rec = env.do(http.MethodDelete, "/admin/sessions/"+target, adminBearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/auth/me", tenantBearer, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegisterThenLogin(t *testing.T) {
	env := newRouterEnv(t)

	payload := gin.H{
		"username":     "newbie",
		"email":        "newbie@example.com",
		"password":     "hunter22secret",
		"directory_id": env.directoryID.String(),
	}
	rec := env.do(http.MethodPost, "/auth/register", "", payload)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	bearer, _ := env.login(t, "newbie@example.com")
	rec = env.do(http.MethodGet, "/auth/session", bearer, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, "/auth/register", "", payload)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

type stubClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type stubUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]domain.User
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{users: make(map[uuid.UUID]domain.User)}
}

func (s *stubUserRepo) put(user domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

func (s *stubUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return domain.User{}, domain.ErrNotFound
}

func (s *stubUserRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return user, nil
}

func (s *stubUserRepo) Create(ctx context.Context, user domain.User) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return domain.User{}, stubUniqueViolation{}
		}
	}
	s.users[user.ID] = user
	return user, nil
}

func (s *stubUserRepo) TouchLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	user.LastLoginAt = &at
	s.users[id] = user
	return nil
}

type stubUniqueViolation struct{}

func (stubUniqueViolation) Error() string    { return "duplicate key value violates unique constraint" }
func (stubUniqueViolation) SQLState() string { return "23505" }

type stubSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]domain.Session
}

func newStubSessionRepo() *stubSessionRepo {
	return &stubSessionRepo{sessions: make(map[uuid.UUID]domain.Session)}
}

func (s *stubSessionRepo) Create(ctx context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *stubSessionRepo) GetByBearerToken(ctx context.Context, bearer string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if session.BearerToken == bearer {
			return session, nil
		}
	}
	return domain.Session{}, domain.ErrNotFound
}

func (s *stubSessionRepo) GetByRefreshToken(ctx context.Context, refresh string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if session.RefreshToken == refresh {
			return session, nil
		}
	}
	return domain.Session{}, domain.ErrNotFound
}

func (s *stubSessionRepo) TouchLastAccessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	session.LastAccessedAt = at
	s.sessions[id] = session
	return nil
}

func (s *stubSessionRepo) RotateBearerToken(ctx context.Context, id uuid.UUID, prevBearer, newBearer string, expiry, accessedAt time.Time, digest string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || !session.IsActive || session.BearerToken != prevBearer {
		return false, nil
	}
	session.BearerToken = newBearer
	session.TokenExpiration = expiry
	session.LastAccessedAt = accessedAt
	session.IntegrityHash = digest
	s.sessions[id] = session
	return true, nil
}

func (s *stubSessionRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	session.IsActive = false
	s.sessions[id] = session
	return nil
}

func (s *stubSessionRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok, nil
}

func (s *stubSessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for id, session := range s.sessions {
		if !now.Before(session.RefreshTokenExpiration) {
			delete(s.sessions, id)
			count++
		}
	}
	return count, nil
}

func (s *stubSessionRepo) ListActive(ctx context.Context, limit int) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Session
	for _, session := range s.sessions {
		if session.IsActive && len(out) < limit {
			out = append(out, session)
		}
	}
	return out, nil
}

type stubMembershipRepo struct {
	mu          sync.Mutex
	memberships map[uuid.UUID][]domain.Membership
}

func newStubMembershipRepo() *stubMembershipRepo {
	return &stubMembershipRepo{memberships: make(map[uuid.UUID][]domain.Membership)}
}

func (s *stubMembershipRepo) add(userID uuid.UUID, membership domain.Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[userID] = append(s.memberships[userID], membership)
}

func (s *stubMembershipRepo) PrimaryMembership(ctx context.Context, userID uuid.UUID) (domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.memberships[userID]
	if len(list) == 0 {
		return domain.Membership{}, fmt.Errorf("membership for %s: %w", userID, domain.ErrNotFound)
	}
	return list[0], nil
}

func (s *stubMembershipRepo) ListDirectoryIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for _, membership := range s.memberships[userID] {
		ids = append(ids, membership.DirectoryID)
	}
	return ids, nil
}

func (s *stubMembershipRepo) CreateProfileMembership(ctx context.Context, userID, directoryID uuid.UUID) (domain.Membership, error) {
	membership := domain.Membership{ProfileID: uuid.New(), DirectoryID: directoryID}
	s.add(userID, membership)
	return membership, nil
}
