package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/handler"
	"github.com/iliyamo/library-circulation/internal/middleware"
)

// RegisterMember registers member-scoped circulation endpoints under
// /v1.  All routes require a valid JWT; staff may use them too, for
// example to borrow on their own account, so both roles are accepted.
func RegisterMember(e *echo.Echo, h *handler.MemberHandler, jwtSecret string, mws ...echo.MiddlewareFunc) {
	// Extra middlewares (the rate limiter) run after JWTAuth so they
	// see the authenticated member identity.
	g := e.Group(
		"/v1",
		append([]echo.MiddlewareFunc{
			middleware.JWTAuth(jwtSecret),
			middleware.RequireRole("MEMBER", "STAFF"),
		}, mws...)...,
	)
	g.POST("/books/:id/borrow", h.Borrow)
	g.POST("/books/:id/reserve", h.Reserve)
	g.DELETE("/reservations/:id", h.CancelReservation)
	g.GET("/my-loans", h.ListLoans)
	g.GET("/my-reservations", h.ListReservations)
}
