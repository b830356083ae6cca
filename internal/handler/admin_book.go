package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/model"
	"github.com/iliyamo/library-circulation/internal/repository"
	"github.com/iliyamo/library-circulation/internal/service"
)

// AdminBookHandler lets staff maintain the catalog: create, update and
// delete books, and force a book's availability status when the stored
// state has drifted from the shelves.  Role middleware guarantees the
// caller is STAFF.
type AdminBookHandler struct {
	BookRepo *repository.BookRepo
	Engine   *service.Circulation
}

// NewAdminBookHandler constructs an AdminBookHandler.
func NewAdminBookHandler(bookRepo *repository.BookRepo, engine *service.Circulation) *AdminBookHandler {
	if bookRepo == nil || engine == nil {
		panic("nil dependency passed to NewAdminBookHandler")
	}
	return &AdminBookHandler{BookRepo: bookRepo, Engine: engine}
}

type bookReq struct {
	Title     string  `json:"title"`
	Author    string  `json:"author"`
	ISBN      string  `json:"isbn"`
	Publisher *string `json:"publisher"`
}

func (r *bookReq) normalize() error {
	r.Title = strings.TrimSpace(r.Title)
	r.Author = strings.TrimSpace(r.Author)
	r.ISBN = strings.TrimSpace(r.ISBN)
	if r.Publisher != nil {
		p := strings.TrimSpace(*r.Publisher)
		if p == "" {
			r.Publisher = nil
		} else {
			r.Publisher = &p
		}
	}
	if r.Title == "" || r.Author == "" || r.ISBN == "" {
		return errors.New("title, author and isbn are required")
	}
	return nil
}

// Create handles POST /v1/admin/books.  New books always enter the
// catalog as Available.
func (h *AdminBookHandler) Create(c echo.Context) error {
	var req bookReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := req.normalize(); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	book := model.Book{Title: req.Title, Author: req.Author, ISBN: req.ISBN, Publisher: req.Publisher}
	if err := h.BookRepo.Create(c.Request().Context(), &book); err != nil {
		if isDuplicateEntry(err) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "isbn already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create book"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"item": toBookItem(book)})
}

// Update handles PUT /v1/admin/books/:id.  Only descriptive fields are
// writable here; the status column belongs to circulation and to the
// explicit override endpoint.
func (h *AdminBookHandler) Update(c echo.Context) error {
	bookID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid book id"})
	}
	var req bookReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := req.normalize(); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	ctx := c.Request().Context()
	book := model.Book{ID: bookID, Title: req.Title, Author: req.Author, ISBN: req.ISBN, Publisher: req.Publisher}
	if err := h.BookRepo.Update(ctx, book); err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "book not found"})
		}
		if isDuplicateEntry(err) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "isbn already exists"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update book"})
	}
	updated, err := h.BookRepo.GetByID(ctx, bookID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load book"})
	}
	return c.JSON(http.StatusOK, echo.Map{"item": toBookItem(updated)})
}

// Delete handles DELETE /v1/admin/books/:id.  A book with an open loan
// cannot be deleted; live reservations on it are cancelled as part of
// the same transaction.
func (h *AdminBookHandler) Delete(c echo.Context) error {
	bookID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid book id"})
	}
	if err := h.BookRepo.Delete(c.Request().Context(), bookID); err != nil {
		return circulationError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// OverrideStatus handles PUT /v1/admin/books/:id/status.  The engine
// still validates the requested status against the book's loan and
// reservation rows, so an override that would corrupt the invariants is
// refused with 409.
func (h *AdminBookHandler) OverrideStatus(c echo.Context) error {
	memberID, err := getMemberID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid book id"})
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	status, err := model.ParseBookStatus(strings.TrimSpace(req.Status))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid status"})
	}
	actor := service.Actor{MemberID: memberID, Staff: isStaff(c)}
	if err := h.Engine.OverrideBookStatus(c.Request().Context(), bookID, status, actor); err != nil {
		return circulationError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"book_id": bookID, "status": status})
}

// isDuplicateEntry reports whether err is the MySQL duplicate key error
// (1062), raised here when an ISBN collides with an existing book.
func isDuplicateEntry(err error) bool {
	return err != nil && strings.Contains(err.Error(), "1062")
}
