package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/service"
)

// StaffHandler exposes the desk-side circulation operations: returning
// books, bulk check-in and running the reconciliation sweep on demand.
// Role middleware guarantees the caller is STAFF before any method runs.
type StaffHandler struct {
	Engine *service.Circulation
}

// NewStaffHandler constructs a StaffHandler.
func NewStaffHandler(engine *service.Circulation) *StaffHandler {
	if engine == nil {
		panic("nil engine passed to NewStaffHandler")
	}
	return &StaffHandler{Engine: engine}
}

// Return handles POST /v1/loans/:id/return.  The response includes the
// closed loan and, when the queue was non-empty, the reservation that
// was promoted to Ready by the cascade.
func (h *StaffHandler) Return(c echo.Context) error {
	loanID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid loan id"})
	}
	res, err := h.Engine.ReturnBook(c.Request().Context(), loanID, time.Now().UTC())
	if err != nil {
		return circulationError(c, err)
	}
	body := echo.Map{
		"loan_id": res.Loan.ID,
		"book_id": res.Loan.BookID,
		"status":  res.Loan.Status,
	}
	if res.Loan.ReturnDate != nil {
		body["return_date"] = res.Loan.ReturnDate.UTC().Format(time.RFC3339)
	}
	if res.Promoted != nil {
		body["promoted_reservation_id"] = res.Promoted.ID
		body["promoted_member_id"] = res.Promoted.MemberID
	}
	return c.JSON(http.StatusOK, body)
}

// BulkReturn handles POST /v1/loans/bulk-return.  The body carries a
// "loan_ids" array; each loan is returned in its own transaction, so a
// bad id in the batch does not undo the rest.  The response reports the
// outcome per loan.
func (h *StaffHandler) BulkReturn(c echo.Context) error {
	var body struct {
		LoanIDs []uint64 `json:"loan_ids"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.LoanIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "loan_ids is required"})
	}
	// deduplicate so the same loan is not returned twice in one batch
	unique := make([]uint64, 0, len(body.LoanIDs))
	seen := make(map[uint64]struct{})
	for _, id := range body.LoanIDs {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
	}
	if len(unique) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no valid loan IDs provided"})
	}
	result := h.Engine.BulkReturn(c.Request().Context(), unique, time.Now().UTC())
	return c.JSON(http.StatusOK, result)
}

// Sweep handles POST /v1/admin/sweep.  It runs the same pass as
// the background sweeper and reports what changed, which is useful
// after restoring data or adjusting clocks.
func (h *StaffHandler) Sweep(c echo.Context) error {
	result, err := h.Engine.Sweep(c.Request().Context(), time.Now().UTC())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "sweep failed"})
	}
	return c.JSON(http.StatusOK, result)
}
