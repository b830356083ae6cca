package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance.  Currently it exposes only a health check
// for load balancers and monitoring.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers authentication routes.  Unauthenticated
// operations live under /v1/auth; the protected /v1/me endpoint accepts
// both roles.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string, mws ...echo.MiddlewareFunc) {
	// The unauthenticated routes take the extra middlewares (the rate
	// limiter) directly, keyed by ip for guests.
	g := e.Group("/v1/auth", mws...)
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)
	// Logout accepts either a refresh_token body or a bearer token; it
	// therefore runs without the JWT middleware and resolves identity
	// itself when needed.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole("STAFF", "MEMBER"))
	auth.Use(mws...)
	auth.GET("/me", a.Me)
	// Authenticated logout without a body revokes every session the
	// member has; the /v1/auth variant revokes the single supplied token.
	auth.POST("/logout", a.Logout)
}
