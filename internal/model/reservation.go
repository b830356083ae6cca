package model

import (
	"fmt"
	"time"
)

// ReservationStatus enumerates the lifecycle states of a reservation.
// Pending and Ready are the live states; Fulfilled, Expired and Cancelled
// are terminal.  A Ready reservation carries a pickup deadline and is
// converted to a loan only by its holder.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "Pending"   // queued, waiting for the book to free up
	ReservationReady     ReservationStatus = "Ready"     // promoted; holder must borrow before the pickup deadline
	ReservationFulfilled ReservationStatus = "Fulfilled" // terminal; converted into a loan by the holder
	ReservationExpired   ReservationStatus = "Expired"   // terminal; pickup deadline passed
	ReservationCancelled ReservationStatus = "Cancelled" // terminal; cancelled by the member or staff
)

// ParseReservationStatus validates a raw status string and returns the
// typed value.
func ParseReservationStatus(s string) (ReservationStatus, error) {
	switch ReservationStatus(s) {
	case ReservationPending, ReservationReady, ReservationFulfilled,
		ReservationExpired, ReservationCancelled:
		return ReservationStatus(s), nil
	}
	return "", fmt.Errorf("unknown reservation status %q", s)
}

// Live reports whether the reservation still occupies a queue slot.
func (s ReservationStatus) Live() bool {
	return s == ReservationPending || s == ReservationReady
}

// Reservation represents a row of the `reservations` table.  Pending rows
// form a per-book FIFO queue ordered by (reservation_date, id) ascending.
//
// Fields:
//
//	ID              – primary key identifier.
//	BookID          – book being reserved.
//	MemberID        – member in the queue.
//	ReservationDate – when the request was queued; first ordering key.
//	Status          – lifecycle state.
//	PickupDeadline  – set once promoted to Ready; nil otherwise.
type Reservation struct {
	ID              uint64            // reservations.id
	BookID          uint64            // reservations.book_id
	MemberID        uint64            // reservations.member_id
	ReservationDate time.Time         // reservations.reservation_date
	Status          ReservationStatus // reservations.status
	PickupDeadline  *time.Time        // reservations.pickup_deadline (nullable)
}
