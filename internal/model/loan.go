package model

import (
	"fmt"
	"time"
)

// LoanStatus enumerates the lifecycle states of a loan.  Active and
// Overdue are the open states; Returned is terminal.  The Active→Overdue
// transition is written only by the reconciliation sweep.
type LoanStatus string

const (
	LoanActive   LoanStatus = "Active"   // open, due date not yet passed (or sweep not yet run)
	LoanOverdue  LoanStatus = "Overdue"  // open, past due date; blocks new borrows for the member
	LoanReturned LoanStatus = "Returned" // terminal
)

// ParseLoanStatus validates a raw status string and returns the typed value.
func ParseLoanStatus(s string) (LoanStatus, error) {
	switch LoanStatus(s) {
	case LoanActive, LoanOverdue, LoanReturned:
		return LoanStatus(s), nil
	}
	return "", fmt.Errorf("unknown loan status %q", s)
}

// Open reports whether the loan still counts against the member's limits.
func (s LoanStatus) Open() bool { return s == LoanActive || s == LoanOverdue }

// Loan represents a row of the `loans` table.  At most one loan with an
// open status may exist per book at any time.
//
// Fields:
//
//	ID         – primary key identifier.
//	BookID     – book on loan.
//	MemberID   – borrowing member.
//	LoanDate   – when the loan was created.
//	DueDate    – LoanDate plus the configured loan period.
//	ReturnDate – when the book came back (nil while open).
//	Status     – lifecycle state (Active, Overdue, Returned).
type Loan struct {
	ID         uint64     // loans.id
	BookID     uint64     // loans.book_id
	MemberID   uint64     // loans.member_id
	LoanDate   time.Time  // loans.loan_date
	DueDate    time.Time  // loans.due_date
	ReturnDate *time.Time // loans.return_date (nullable)
	Status     LoanStatus // loans.status
}
