package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/repository"
	"github.com/iliyamo/library-circulation/internal/service"
)

// MemberHandler exposes the circulation operations a member performs on
// their own account: borrowing, reserving, cancelling a reservation and
// listing loans and reservations.  JWT authentication has already run;
// methods return 401 only when the member id cannot be read from the
// context.
type MemberHandler struct {
	Engine          *service.Circulation
	LoanRepo        *repository.LoanRepo
	ReservationRepo *repository.ReservationRepo
}

// NewMemberHandler constructs a MemberHandler.  All dependencies must
// be non-nil.
func NewMemberHandler(engine *service.Circulation, loanRepo *repository.LoanRepo, reservationRepo *repository.ReservationRepo) *MemberHandler {
	if engine == nil || loanRepo == nil || reservationRepo == nil {
		panic("nil dependency passed to NewMemberHandler")
	}
	return &MemberHandler{Engine: engine, LoanRepo: loanRepo, ReservationRepo: reservationRepo}
}

// Borrow handles POST /v1/books/:id/borrow.  On success the member
// receives the new loan with its due date.  A book that is Reserved can
// only be borrowed by the member whose reservation is Ready; the hold
// is then marked Fulfilled in the same transaction.
func (h *MemberHandler) Borrow(c echo.Context) error {
	memberID, err := getMemberID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid book id"})
	}
	loan, err := h.Engine.BorrowBook(c.Request().Context(), bookID, memberID, time.Now().UTC())
	if err != nil {
		return circulationError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"loan_id":  loan.ID,
		"book_id":  loan.BookID,
		"due_date": loan.DueDate.UTC().Format(time.RFC3339),
		"status":   loan.Status,
	})
}

// Reserve handles POST /v1/books/:id/reserve.  The book must currently
// be OnLoan or Reserved; the response carries the member's position in
// the queue.
func (h *MemberHandler) Reserve(c echo.Context) error {
	memberID, err := getMemberID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid book id"})
	}
	res, position, err := h.Engine.ReserveBook(c.Request().Context(), bookID, memberID, time.Now().UTC())
	if err != nil {
		return circulationError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"reservation_id":   res.ID,
		"book_id":          res.BookID,
		"status":           res.Status,
		"queue_position":   position,
		"reservation_date": res.ReservationDate.UTC().Format(time.RFC3339),
	})
}

// CancelReservation handles DELETE /v1/reservations/:id.  A member may
// cancel only their own live reservation.  Cancelling a Ready hold
// promotes the next member in the queue within the same transaction.
func (h *MemberHandler) CancelReservation(c echo.Context) error {
	memberID, err := getMemberID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	resID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	actor := service.Actor{MemberID: memberID, Staff: isStaff(c)}
	if err := h.Engine.CancelReservation(c.Request().Context(), resID, actor, time.Now().UTC()); err != nil {
		return circulationError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ListLoans handles GET /v1/my-loans.  It returns the member's loans
// newest first, with book titles joined in.  An empty history yields an
// empty array.
func (h *MemberHandler) ListLoans(c echo.Context) error {
	memberID, err := getMemberID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.LoanRepo.ListByMember(c.Request().Context(), memberID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load loans"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}

// ListReservations handles GET /v1/my-reservations.  Pending entries
// include the member's current position in the book's queue.
func (h *MemberHandler) ListReservations(c echo.Context) error {
	memberID, err := getMemberID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	items, err := h.ReservationRepo.ListByMember(c.Request().Context(), memberID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load reservations"})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": items})
}
