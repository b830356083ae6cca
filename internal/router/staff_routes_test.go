package router

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/iliyamo/library-circulation/internal/handler"
)

// The desk endpoints are part of the public API surface; renaming one
// breaks every client, so the registered set is pinned here.
func TestStaffRouteSurface(t *testing.T) {
	e := echo.New()
	RegisterStaff(e, &handler.StaffHandler{}, &handler.AdminBookHandler{}, "secret")

	registered := make(map[string]bool)
	for _, r := range e.Routes() {
		registered[r.Method+" "+r.Path] = true
	}

	for _, want := range []string{
		http.MethodPost + " /v1/loans/:id/return",
		http.MethodPost + " /v1/loans/bulk-return",
		http.MethodPost + " /v1/admin/sweep",
		http.MethodPost + " /v1/admin/books",
		http.MethodPut + " /v1/admin/books/:id",
		http.MethodDelete + " /v1/admin/books/:id",
		http.MethodPut + " /v1/admin/books/:id/status",
	} {
		assert.True(t, registered[want], "missing route %s", want)
	}
}
