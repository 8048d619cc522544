package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ruuderie/directory-auth/internal/domain"
	"github.com/ruuderie/directory-auth/internal/scope"
	"github.com/ruuderie/directory-auth/internal/service"
	"github.com/ruuderie/directory-auth/internal/token"
)

const (
	identityKey = "authIdentity"
	bearerKey   = "bearerToken"
)

// Identity is the authenticated caller attached to the request context. For
// tenant callers DirectoryIDs holds the freshly resolved scope; admin callers
// carry no tenant scope.
type Identity struct {
	User         domain.User
	Session      domain.Session
	IsAdmin      bool
	ProfileID    uuid.UUID
	DirectoryID  uuid.UUID
	DirectoryIDs []uuid.UUID
}

// Auth validates the Authorization header against both the signed token and
// the stored session, loads the user, and re-derives the tenant scope from
// live membership state.
type Auth struct {
	Service *service.AuthService
	Codec   *token.Codec
	Scope   *scope.Resolver
}

// RequireAuth rejects the request unless the bearer token verifies and its
// session is active, untampered, and unexpired. On success the caller
// identity is attached for downstream handlers.
func (m *Auth) RequireAuth(c *gin.Context) {
	bearer, ok := BearerFromHeader(c)
	if !ok {
		abortUnauthorized(c, "Bearer token required.")
		return
	}

	session, err := m.Service.ValidateSession(c.Request.Context(), bearer)
	if err != nil {
		abortUnauthorized(c, "Invalid or expired token.")
		return
	}

	identity := Identity{Session: session}
	if session.IsAdmin {
		claims, err := m.Codec.ValidateAdmin(bearer)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token.")
			return
		}
		identity.IsAdmin = true
		identity.User, err = m.Service.GetUser(c.Request.Context(), claims.UserID)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token.")
			return
		}
	} else {
		claims, err := m.Codec.ValidateTenant(bearer)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token.")
			return
		}
		identity.ProfileID = claims.ProfileID
		identity.DirectoryID = claims.DirectoryID
		identity.User, err = m.Service.GetUser(c.Request.Context(), claims.UserID)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token.")
			return
		}
		// Scope comes from current memberships, not the token. An empty
		// scope still authenticates.
		identity.DirectoryIDs, err = m.Scope.DirectoryIDs(c.Request.Context(), identity.User.ID)
		if err != nil {
			abortUnauthorized(c, "Invalid or expired token.")
			return
		}
	}

	if !identity.User.IsActive {
		abortUnauthorized(c, "Invalid or expired token.")
		return
	}

	c.Set(identityKey, identity)
	c.Set(bearerKey, bearer)
	c.Next()
}

// GetIdentity exposes the authenticated caller to handlers.
func GetIdentity(c *gin.Context) (Identity, bool) {
	value, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	identity, ok := value.(Identity)
	return identity, ok
}

// GetUser returns the authenticated user, when one is attached.
func GetUser(c *gin.Context) (domain.User, bool) {
	identity, ok := GetIdentity(c)
	if !ok {
		return domain.User{}, false
	}
	return identity.User, true
}

// GetBearer returns the raw bearer token the request authenticated with.
func GetBearer(c *gin.Context) (string, bool) {
	value, ok := c.Get(bearerKey)
	if !ok {
		return "", false
	}
	bearer, ok := value.(string)
	return bearer, ok
}

// BearerFromHeader extracts the token from an Authorization: Bearer header.
func BearerFromHeader(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	if tok == "" {
		return "", false
	}
	return tok, true
}

func abortUnauthorized(c *gin.Context, description string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error":             "invalid_token",
		"error_description": description,
	})
}
