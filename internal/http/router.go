package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ruuderie/directory-auth/internal/config"
	"github.com/ruuderie/directory-auth/internal/http/handler"
	httpmiddleware "github.com/ruuderie/directory-auth/internal/http/middleware"
	"github.com/ruuderie/directory-auth/internal/middleware"
)

// NewRouter wires Gin routes and middleware. Register, login, refresh and
// the health probe bypass authentication; everything else sits behind the
// auth middleware, and the admin group additionally behind the admin guard.
func NewRouter(cfg config.Config, authHandler *handler.AuthHandler, auth *httpmiddleware.Auth, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(middleware.CORS(cfg))
	r.Use(otelgin.Middleware(cfg.ServiceName))

	r.GET("/healthz", authHandler.Healthz)

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/refresh", authHandler.Refresh)

		authGroup.POST("/logout", auth.RequireAuth, authHandler.Logout)
		authGroup.GET("/session", auth.RequireAuth, authHandler.ValidateSession)
		authGroup.GET("/me", auth.RequireAuth, authHandler.Me)
	}

	admin := r.Group("/admin", auth.RequireAuth, httpmiddleware.RequireAdmin)
	{
		admin.GET("/sessions", authHandler.ListSessions)
		admin.DELETE("/sessions/:id", authHandler.RevokeSession)
	}

	return r
}
