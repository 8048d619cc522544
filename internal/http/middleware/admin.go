package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireAdmin gates admin endpoints. It runs after RequireAuth; a caller
// who authenticated but is not an admin gets 403, never 401.
func RequireAdmin(c *gin.Context) {
	identity, ok := GetIdentity(c)
	if !ok {
		abortUnauthorized(c, "Authentication required.")
		return
	}
	if !identity.IsAdmin || !identity.User.IsAdmin {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error":             "forbidden",
			"error_description": "Admin privileges required.",
		})
		return
	}
	c.Next()
}
