package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ruuderie/directory-auth/internal/domain"
	"github.com/ruuderie/directory-auth/internal/http/middleware"
	"github.com/ruuderie/directory-auth/internal/service"
)

// AuthHandler exposes the session lifecycle over HTTP.
type AuthHandler struct {
	Auth *service.AuthService
}

// NewAuthHandler creates the handler.
func NewAuthHandler(auth *service.AuthService) *AuthHandler {
	return &AuthHandler{Auth: auth}
}

type sessionResponse struct {
	BearerToken            string      `json:"bearer_token"`
	RefreshToken           string      `json:"refresh_token"`
	TokenExpiration        time.Time   `json:"token_expiration"`
	RefreshTokenExpiration time.Time   `json:"refresh_token_expiration"`
	User                   userPayload `json:"user"`
}

type userPayload struct {
	ID          uuid.UUID  `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	IsAdmin     bool       `json:"is_admin"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toUserPayload(u domain.User) userPayload {
	return userPayload{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		IsAdmin:     u.IsAdmin,
		LastLoginAt: u.LastLoginAt,
		CreatedAt:   u.CreatedAt,
	}
}

func toSessionResponse(result *service.LoginResult) sessionResponse {
	return sessionResponse{
		BearerToken:            result.BearerToken,
		RefreshToken:           result.RefreshToken,
		TokenExpiration:        result.Session.TokenExpiration,
		RefreshTokenExpiration: result.Session.RefreshTokenExpiration,
		User:                   toUserPayload(result.User),
	}
}

func requestMeta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// Register creates a user and a profile membership in the target directory.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Username    string `json:"username"`
		Email       string `json:"email"`
		Password    string `json:"password"`
		DirectoryID string `json:"directory_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Username, email and password are required."})
		return
	}
	directoryID, err := uuid.Parse(strings.TrimSpace(req.DirectoryID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "directory_id must be a valid uuid."})
		return
	}

	user, err := h.Auth.Register(c.Request.Context(), service.RegisterInput{
		Username:    strings.TrimSpace(req.Username),
		Email:       strings.TrimSpace(req.Email),
		Password:    req.Password,
		DirectoryID: directoryID,
	}, requestMeta(c))
	if err != nil {
		respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toUserPayload(user))
}

// Login opens a new session for valid credentials. Every credential failure
// is a uniform 401.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Email and password are required."})
		return
	}

	result, err := h.Auth.Login(c.Request.Context(), strings.TrimSpace(req.Email), req.Password, requestMeta(c))
	if err != nil {
		respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(result))
}

// Refresh rotates the bearer token. The refresh token is presented in the
// Authorization header; the refresh window is never extended.
func (h *AuthHandler) Refresh(c *gin.Context) {
	refreshToken, ok := middleware.BearerFromHeader(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Refresh token required."})
		return
	}

	result, err := h.Auth.Refresh(c.Request.Context(), refreshToken, requestMeta(c))
	if err != nil {
		respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(result))
}

// Logout deletes the caller's session. Runs behind RequireAuth.
func (h *AuthHandler) Logout(c *gin.Context) {
	bearer, ok := middleware.GetBearer(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Bearer token required."})
		return
	}

	if err := h.Auth.Logout(c.Request.Context(), bearer, requestMeta(c)); err != nil {
		respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Logged out."})
}

// Me returns the authenticated identity with its current tenant scope.
func (h *AuthHandler) Me(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}

	resp := gin.H{
		"user":     toUserPayload(identity.User),
		"is_admin": identity.IsAdmin,
	}
	if !identity.IsAdmin {
		resp["profile_id"] = identity.ProfileID
		resp["directory_id"] = identity.DirectoryID
		resp["directory_ids"] = directoryIDStrings(identity.DirectoryIDs)
	}
	c.JSON(http.StatusOK, resp)
}

// ValidateSession reports the session the bearer token resolves to. Runs
// behind RequireAuth, so reaching the handler already proves validity.
func (h *AuthHandler) ValidateSession(c *gin.Context) {
	identity, ok := middleware.GetIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Authentication required."})
		return
	}

	session := identity.Session
	c.JSON(http.StatusOK, gin.H{
		"session_id":               session.ID,
		"user_id":                  session.UserID,
		"token_expiration":         session.TokenExpiration,
		"refresh_token_expiration": session.RefreshTokenExpiration,
		"last_accessed_at":         session.LastAccessedAt,
		"is_admin":                 session.IsAdmin,
	})
}

// ListSessions returns active sessions for admin review, newest first.
func (h *AuthHandler) ListSessions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "limit must be an integer."})
			return
		}
		limit = n
	}

	sessions, err := h.Auth.ListSessions(c.Request.Context(), limit)
	if err != nil {
		respondAuthError(c, err)
		return
	}

	out := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, gin.H{
			"session_id":               s.ID,
			"user_id":                  s.UserID,
			"created_at":               s.CreatedAt,
			"last_accessed_at":         s.LastAccessedAt,
			"token_expiration":         s.TokenExpiration,
			"refresh_token_expiration": s.RefreshTokenExpiration,
			"is_admin":                 s.IsAdmin,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

// RevokeSession deactivates a session by id without deleting its row.
func (h *AuthHandler) RevokeSession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Session id must be a valid uuid."})
		return
	}

	if err := h.Auth.RevokeSession(c.Request.Context(), id); err != nil {
		respondAuthError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session revoked."})
}

// Healthz is a liveness probe.
func (h *AuthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func directoryIDStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

// respondAuthError maps domain errors onto HTTP statuses. Credential and
// token failures stay a uniform 401 so callers learn nothing about which
// check failed.
func respondAuthError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrIntegrityViolation):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_token", "error_description": "Invalid credentials or token."})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "error_description": "Admin privileges required."})
	case errors.Is(err, domain.ErrRefreshConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "refresh_conflict", "error_description": "Session was refreshed concurrently."})
	case errors.Is(err, service.ErrEmailTaken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Email already registered."})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": "Resource not found."})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal error."})
	}
}
