package model

import (
	"fmt"
	"time"
)

// BookStatus is the closed set of availability states a book can be in.
// Values are stored verbatim in the books.status column.  Unknown strings
// coming from the database or from clients must be rejected with
// ParseBookStatus rather than compared ad hoc.
type BookStatus string

const (
	BookAvailable BookStatus = "Available" // no open loan and no live reservation
	BookOnLoan    BookStatus = "OnLoan"    // exactly one Active or Overdue loan exists
	BookReserved  BookStatus = "Reserved"  // no open loan, at least one Pending or Ready reservation
)

// ParseBookStatus validates a raw status string and returns the typed value.
// It is the single entry point for status strings crossing the boundary.
func ParseBookStatus(s string) (BookStatus, error) {
	switch BookStatus(s) {
	case BookAvailable, BookOnLoan, BookReserved:
		return BookStatus(s), nil
	}
	return "", fmt.Errorf("unknown book status %q", s)
}

// Valid reports whether the status is one of the three known values.
func (s BookStatus) Valid() bool {
	_, err := ParseBookStatus(string(s))
	return err == nil
}

// Book represents a catalog record as stored in the `books` table.  The
// status column is the serialization point for all circulation
// transactions on the book: any operation touching the book's loan or
// reservation rows locks this row first.
//
// Fields:
//
//	ID        – primary key identifier.
//	Title     – book title.
//	Author    – author name.
//	ISBN      – unique ISBN string.
//	Publisher – publisher name (nullable).
//	Status    – availability state (Available, OnLoan, Reserved).
//	CreatedAt – timestamp of creation.
type Book struct {
	ID        uint64     // books.id
	Title     string     // books.title
	Author    string     // books.author
	ISBN      string     // books.isbn
	Publisher *string    // books.publisher (nullable)
	Status    BookStatus // books.status
	CreatedAt time.Time  // books.created_at
}
