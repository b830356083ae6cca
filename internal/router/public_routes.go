package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/handler"
)

// RegisterPublic registers the unauthenticated catalog endpoints.
// Guests can browse and search books and inspect a single book,
// including its reservation queue length, without signing in.  The
// optional middlewares (response cache, rate limiter) are passed in by
// the caller so that main decides whether Redis is in play.
func RegisterPublic(e *echo.Echo, p *handler.CatalogHandler, mws ...echo.MiddlewareFunc) {
	g := e.Group("/v1", mws...)
	g.GET("/books", p.List)
	g.GET("/books/:id", p.Get)
}
