// Package queue defines message payloads exchanged over the message broker.
package queue

// Event names used as the routing discriminator inside the
// circulation.notifications queue.
const (
	EventReservationCreated = "reservation.created"
	EventReservationReady   = "reservation.ready"
	EventReservationExpired = "reservation.expired"
)

// Envelope wraps every circulation event with an identifier and a type
// tag so a single consumer can dispatch on Kind without sniffing the
// payload shape.
type Envelope struct {
	EventID string `json:"event_id"`
	Kind    string `json:"kind"`
	SentAt  string `json:"sent_at"`

	ReservationCreated *ReservationCreatedEvent `json:"reservation_created,omitempty"`
	ReservationReady   *ReservationReadyEvent   `json:"reservation_ready,omitempty"`
	ReservationExpired *ReservationExpiredEvent `json:"reservation_expired,omitempty"`
}

// ReservationCreatedEvent is published when a member joins a book's
// reservation queue.  It carries enough information for downstream
// consumers to notify the member without querying the primary database.
type ReservationCreatedEvent struct {
	ReservationID uint64 `json:"reservation_id"`
	MemberID      uint64 `json:"member_id"`
	BookID        uint64 `json:"book_id"`
	BookTitle     string `json:"book_title"`
	QueuePosition int    `json:"queue_position"`
}

// ReservationReadyEvent is published when a reservation is promoted to
// Ready and the member gains a pickup window.
type ReservationReadyEvent struct {
	ReservationID  uint64 `json:"reservation_id"`
	MemberID       uint64 `json:"member_id"`
	BookID         uint64 `json:"book_id"`
	BookTitle      string `json:"book_title"`
	PickupDeadline string `json:"pickup_deadline"`
}

// ReservationExpiredEvent is published when a Ready reservation lapses
// because its pickup deadline passed.
type ReservationExpiredEvent struct {
	ReservationID uint64 `json:"reservation_id"`
	MemberID      uint64 `json:"member_id"`
	BookID        uint64 `json:"book_id"`
	BookTitle     string `json:"book_title"`
}
