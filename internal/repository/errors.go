// Package repository defines error values shared across the repositories.
// These sentinels let higher layers such as the circulation service and
// the HTTP handlers distinguish failure scenarios without string
// matching.  Policy violations carry the specific rule that was broken
// so handlers can surface a precise message to the member.
package repository

import (
	"errors"
	"fmt"
)

// ErrBookNotFound is returned when no book row exists for the given id.
var ErrBookNotFound = errors.New("book not found")

// ErrLoanNotFound is returned when no loan row exists for the given id.
var ErrLoanNotFound = errors.New("loan not found")

// ErrReservationNotFound is returned when no reservation row exists for
// the given id.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrMemberNotFound is returned when no member row exists for the given
// id or email.
var ErrMemberNotFound = errors.New("member not found")

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own, such as cancelling another member's
// reservation.  Handlers should translate this into an HTTP 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an operation loses a race against a
// concurrent state change and the bounded retry did not resolve it, or
// when conflicting dependent records block a mutation (e.g. deleting a
// book that is still on loan).  Handlers should translate this into an
// HTTP 409.
var ErrConflict = errors.New("conflict")

// PolicyRule identifies which circulation rule a PolicyError refers to.
type PolicyRule string

const (
	RuleBookUnavailable      PolicyRule = "book_unavailable"      // book is not in a borrowable state
	RuleBookNotReservable    PolicyRule = "book_not_reservable"   // available books cannot be reserved
	RuleLoanLimit            PolicyRule = "loan_limit"            // member at max open loans
	RuleOverdueBlock         PolicyRule = "overdue_block"         // member has an overdue loan
	RuleDuplicateLoan        PolicyRule = "duplicate_loan"        // member already has this book on loan
	RuleDuplicateReservation PolicyRule = "duplicate_reservation" // member already queued for this book
	RuleBookQueueFull        PolicyRule = "book_queue_full"       // book at max pending reservations
	RuleMemberQueueLimit     PolicyRule = "member_queue_limit"    // member at max pending reservations
	RuleHoldNotReady         PolicyRule = "hold_not_ready"        // reserved book may only be borrowed by its Ready holder
)

// PolicyError reports that a circulation request was rejected by one of
// the lending rules.  It is user-visible and never retried.
type PolicyError struct {
	Rule PolicyRule
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("policy violation: %s", e.Rule)
}

// Policy builds a PolicyError for the given rule.
func Policy(rule PolicyRule) error { return &PolicyError{Rule: rule} }

// AsPolicy reports whether err wraps a PolicyError and returns it.
func AsPolicy(err error) (*PolicyError, bool) {
	var pe *PolicyError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
