package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/middleware"
)

// RegisterStaff registers STAFF-scoped endpoints under /v1: the
// circulation desk operations and catalog administration.
func RegisterStaff(e *echo.Echo, s *handler.StaffHandler, a *handler.AdminBookHandler, jwtSecret string, mws ...echo.MiddlewareFunc) {
	// Extra middlewares (the rate limiter) run after JWTAuth so they
	// see the authenticated member identity.
	g := e.Group(
		"/v1",
		append([]echo.MiddlewareFunc{
			middleware.JWTAuth(jwtSecret),
			middleware.RequireRole("STAFF"),
		}, mws...)...,
	)

	// ---- Circulation desk ----
	g.POST("/loans/:id/return", s.Return)
	g.POST("/loans/bulk-return", s.BulkReturn)
	g.POST("/admin/sweep", s.Sweep)

	// ---- Catalog administration ----
	g.POST("/admin/books", a.Create)
	g.PUT("/admin/books/:id", a.Update)
	g.DELETE("/admin/books/:id", a.Delete)
	g.PUT("/admin/books/:id/status", a.OverrideStatus)
}
