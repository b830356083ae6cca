package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/library-circulation/internal/repository"
)

// getMemberID extracts the member id placed in the context by the JWT
// middleware and converts it to uint64.
func getMemberID(c echo.Context) (uint64, error) {
	v := c.Get("user_id")
	switch t := v.(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// isStaff reports whether the authenticated caller carries the STAFF role.
func isStaff(c echo.Context) bool {
	role, _ := c.Get("role").(string)
	return role == "STAFF"
}

// pathID parses a positive uint64 path parameter.
func pathID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

// policyMessages maps each circulation rule to the message returned to
// the client alongside the rule code.
var policyMessages = map[repository.PolicyRule]string{
	repository.RuleBookUnavailable:      "book is not available for borrowing",
	repository.RuleBookNotReservable:    "book is available, borrow it instead of reserving",
	repository.RuleLoanLimit:            "member has reached the open loan limit",
	repository.RuleOverdueBlock:         "member has an overdue loan",
	repository.RuleDuplicateLoan:        "member already has this book on loan",
	repository.RuleDuplicateReservation: "member already has a live reservation for this book",
	repository.RuleBookQueueFull:        "reservation queue for this book is full",
	repository.RuleMemberQueueLimit:     "member has reached the pending reservation limit",
	repository.RuleHoldNotReady:         "book is reserved for another member",
}

// circulationError translates engine errors into HTTP responses.  Rule
// violations come back as 409 with a machine-readable rule code so
// clients can distinguish, say, a full queue from an overdue block.
func circulationError(c echo.Context, err error) error {
	if pe, ok := repository.AsPolicy(err); ok {
		msg := policyMessages[pe.Rule]
		if msg == "" {
			msg = "operation not allowed"
		}
		return c.JSON(http.StatusConflict, echo.Map{"error": msg, "rule": string(pe.Rule)})
	}
	switch {
	case errors.Is(err, repository.ErrBookNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "book not found"})
	case errors.Is(err, repository.ErrLoanNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "loan not found"})
	case errors.Is(err, repository.ErrReservationNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
	case errors.Is(err, repository.ErrMemberNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "member not found"})
	case errors.Is(err, repository.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, repository.ErrConflict):
		return c.JSON(http.StatusConflict, echo.Map{"error": "conflicting update, retry the request"})
	}
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
}
