package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository"
)

// CatalogHandler serves the unauthenticated catalog: listing, searching
// and inspecting books.  Responses are safe to cache; the router wraps
// these routes with the Redis response cache when one is configured.
type CatalogHandler struct {
	BookRepo        *repository.BookRepo
	ReservationRepo *repository.ReservationRepo
}

// NewCatalogHandler constructs a CatalogHandler.
func NewCatalogHandler(bookRepo *repository.BookRepo, reservationRepo *repository.ReservationRepo) *CatalogHandler {
	if bookRepo == nil || reservationRepo == nil {
		panic("nil repository passed to NewCatalogHandler")
	}
	return &CatalogHandler{BookRepo: bookRepo, ReservationRepo: reservationRepo}
}

// bookItem is the wire shape of a catalog entry.
type bookItem struct {
	ID        uint64  `json:"id"`
	Title     string  `json:"title"`
	Author    string  `json:"author"`
	ISBN      string  `json:"isbn"`
	Publisher *string `json:"publisher,omitempty"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
}

func toBookItem(b model.Book) bookItem {
	return bookItem{
		ID:        b.ID,
		Title:     b.Title,
		Author:    b.Author,
		ISBN:      b.ISBN,
		Publisher: b.Publisher,
		Status:    string(b.Status),
		CreatedAt: b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// List handles GET /v1/books.  Query parameters: title and author for
// case-insensitive substring match, status for an exact status filter,
// page and page_size for pagination.  An unknown status value is a 400
// rather than an empty result.
func (h *CatalogHandler) List(c echo.Context) error {
	q := repository.BookSearchQuery{
		Title:  strings.TrimSpace(c.QueryParam("title")),
		Author: strings.TrimSpace(c.QueryParam("author")),
	}
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		if _, err := model.ParseBookStatus(raw); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status filter"})
		}
		q.Status = raw
	}
	if raw := c.QueryParam("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			q.Page = n
		}
	}
	if raw := c.QueryParam("page_size"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			q.PageSize = n
		}
	}
	books, total, err := h.BookRepo.Search(c.Request().Context(), q)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to search books"})
	}
	items := make([]bookItem, 0, len(books))
	for _, b := range books {
		items = append(items, toBookItem(b))
	}
	return c.JSON(http.StatusOK, echo.Map{
		"items": items,
		"total": total,
	})
}

// Get handles GET /v1/books/:id.  Alongside the catalog fields the
// response carries queue_length, the number of Pending reservations,
// so a member can judge the wait before reserving.
func (h *CatalogHandler) Get(c echo.Context) error {
	bookID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid book id"})
	}
	ctx := c.Request().Context()
	book, err := h.BookRepo.GetByID(ctx, bookID)
	if err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "book not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	queueLen, err := h.ReservationRepo.PendingCount(ctx, bookID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"item":         toBookItem(book),
		"queue_length": queueLen,
	})
}
