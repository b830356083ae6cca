package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/library-circulation/internal/model"
)

// ReservationRepo provides data access to the reservations table.  The
// Pending rows for a book form a FIFO queue ordered by
// (reservation_date, id) ascending; promotion always pops the head.  As
// with loans, every mutating method runs inside a transaction that
// holds the owning book's row lock, taken by the circulation service.
type ReservationRepo struct {
	db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

const reservationColumns = `id, book_id, member_id, reservation_date, status, pickup_deadline`

func scanReservation(scan func(dest ...any) error) (model.Reservation, error) {
	var res model.Reservation
	var deadline sql.NullTime
	var status string
	err := scan(&res.ID, &res.BookID, &res.MemberID, &res.ReservationDate, &status, &deadline)
	if err != nil {
		return model.Reservation{}, err
	}
	if deadline.Valid {
		t := deadline.Time
		res.PickupDeadline = &t
	}
	res.Status, err = model.ParseReservationStatus(status)
	if err != nil {
		return model.Reservation{}, err
	}
	return res, nil
}

// EnqueueTx appends a Pending reservation to the book's queue and
// returns the stored row together with its queue position (1 + the
// pending count ahead of it).  Limit checks are the circulation
// service's job.
func (r *ReservationRepo) EnqueueTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64, now time.Time) (model.Reservation, int, error) {
	ahead, err := r.PendingCountByBookTx(ctx, tx, bookID)
	if err != nil {
		return model.Reservation{}, 0, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO reservations (book_id, member_id, reservation_date, status) VALUES (?, ?, ?, 'Pending')`,
		bookID, memberID, now.UTC())
	if err != nil {
		return model.Reservation{}, 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Reservation{}, 0, err
	}
	const sel = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	stored, err := scanReservation(tx.QueryRowContext(ctx, sel, uint64(id)).Scan)
	if err != nil {
		return model.Reservation{}, 0, err
	}
	return stored, ahead + 1, nil
}

// PendingCountByBookTx returns the number of Pending reservations queued
// on the book.
func (r *ReservationRepo) PendingCountByBookTx(ctx context.Context, tx *sql.Tx, bookID uint64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE book_id = ? AND status = 'Pending'`,
		bookID).Scan(&n)
	return n, err
}

// PendingCountByMemberTx returns the member's Pending reservation count
// across all books.
func (r *ReservationRepo) PendingCountByMemberTx(ctx context.Context, tx *sql.Tx, memberID uint64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE member_id = ? AND status = 'Pending'`,
		memberID).Scan(&n)
	return n, err
}

// HasLiveByBookAndMemberTx reports whether the member already has a
// Pending or Ready reservation on the book.
func (r *ReservationRepo) HasLiveByBookAndMemberTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE book_id = ? AND member_id = ? AND status IN ('Pending','Ready')`,
		bookID, memberID).Scan(&n)
	return n > 0, err
}

// HasLiveTx reports whether any Pending or Ready reservation exists on
// the book.  Cascades use this to decide between Reserved and Available.
func (r *ReservationRepo) HasLiveTx(ctx context.Context, tx *sql.Tx, bookID uint64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE book_id = ? AND status IN ('Pending','Ready')`,
		bookID).Scan(&n)
	return n > 0, err
}

// PromoteNextTx pops the head of the book's Pending queue: the earliest
// reservation by (reservation_date, id) becomes Ready with the given
// pickup deadline.  It returns nil when the queue is empty.
func (r *ReservationRepo) PromoteNextTx(ctx context.Context, tx *sql.Tx, bookID uint64, deadline time.Time) (*model.Reservation, error) {
	const head = `SELECT id FROM reservations
                  WHERE book_id = ? AND status = 'Pending'
                  ORDER BY reservation_date ASC, id ASC
                  LIMIT 1
                  FOR UPDATE`
	var id uint64
	err := tx.QueryRowContext(ctx, head, bookID).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = 'Ready', pickup_deadline = ? WHERE id = ? AND status = 'Pending'`,
		deadline.UTC(), id); err != nil {
		return nil, err
	}
	const sel = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ?`
	promoted, err := scanReservation(tx.QueryRowContext(ctx, sel, id).Scan)
	if err != nil {
		return nil, err
	}
	return &promoted, nil
}

// ReadyByBookAndMemberTx returns the member's Ready hold on the book, or
// nil when none exists.  Borrowing a Reserved book is restricted to the
// holder returned here.
func (r *ReservationRepo) ReadyByBookAndMemberTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64) (*model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations
               WHERE book_id = ? AND member_id = ? AND status = 'Ready'
               LIMIT 1
               FOR UPDATE`
	res, err := scanReservation(tx.QueryRowContext(ctx, q, bookID, memberID).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// GetForUpdateTx fetches a reservation with an exclusive row lock.
// Returns ErrReservationNotFound when no row exists.
func (r *ReservationRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ? FOR UPDATE`
	res, err := scanReservation(tx.QueryRowContext(ctx, q, id).Scan)
	if err == sql.ErrNoRows {
		return model.Reservation{}, ErrReservationNotFound
	}
	return res, err
}

// CancelTx transitions a live reservation to Cancelled.  The update is
// conditioned on the row still being Pending or Ready; zero affected
// rows surfaces ErrConflict so a double cancel aborts cleanly.
func (r *ReservationRepo) CancelTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = 'Cancelled' WHERE id = ? AND status IN ('Pending','Ready')`,
		id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// MarkFulfilledTx transitions a Ready reservation to Fulfilled when the
// holder converts it into a loan.
func (r *ReservationRepo) MarkFulfilledTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = 'Fulfilled' WHERE id = ? AND status = 'Ready'`,
		id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// ExpireReadyTx transitions every Ready reservation on the book whose
// pickup deadline has passed to Expired and returns the expired rows so
// the caller can cascade promotion and notifications.
func (r *ReservationRepo) ExpireReadyTx(ctx context.Context, tx *sql.Tx, bookID uint64, now time.Time) ([]model.Reservation, error) {
	const q = `SELECT ` + reservationColumns + ` FROM reservations
               WHERE book_id = ? AND status = 'Ready' AND pickup_deadline < ?
               FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, bookID, now.UTC())
	if err != nil {
		return nil, err
	}
	var expired []model.Reservation
	for rows.Next() {
		res, scanErr := scanReservation(rows.Scan)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		expired = append(expired, res)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = 'Expired' WHERE book_id = ? AND status = 'Ready' AND pickup_deadline < ?`,
		bookID, now.UTC()); err != nil {
		return nil, err
	}
	for i := range expired {
		expired[i].Status = model.ReservationExpired
	}
	return expired, nil
}

// BooksWithExpiredReady lists the distinct books holding at least one
// Ready reservation whose pickup deadline has passed.  The sweep uses
// this outside any transaction and then processes each book in its own
// book-locked transaction.
func (r *ReservationRepo) BooksWithExpiredReady(ctx context.Context, now time.Time) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT book_id FROM reservations WHERE status = 'Ready' AND pickup_deadline < ?`,
		now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

// ReservationDetail is a reservation joined with its book for
// member-facing listings.  QueuePosition is populated only for Pending
// rows: 1 plus the number of pending reservations ahead in the queue.
type ReservationDetail struct {
	ID              uint64     `json:"id"`
	BookID          uint64     `json:"book_id"`
	Title           string     `json:"title"`
	Author          string     `json:"author"`
	ReservationDate time.Time  `json:"reservation_date"`
	Status          string     `json:"status"`
	PickupDeadline  *time.Time `json:"pickup_deadline,omitempty"`
	QueuePosition   *int       `json:"queue_position,omitempty"`
}

// ListByMember returns all reservations for the given member, newest
// first, with book info and live queue positions joined in.
func (r *ReservationRepo) ListByMember(ctx context.Context, memberID uint64) ([]ReservationDetail, error) {
	const q = `SELECT res.id, res.book_id, b.title, b.author, res.reservation_date, res.status, res.pickup_deadline,
                      (SELECT COUNT(*) FROM reservations ahead
                       WHERE ahead.book_id = res.book_id AND ahead.status = 'Pending'
                         AND (ahead.reservation_date < res.reservation_date
                              OR (ahead.reservation_date = res.reservation_date AND ahead.id < res.id)))
               FROM reservations res
               JOIN books b ON b.id = res.book_id
               WHERE res.member_id = ?
               ORDER BY res.reservation_date DESC, res.id DESC`
	rows, err := r.db.QueryContext(ctx, q, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]ReservationDetail, 0)
	for rows.Next() {
		var d ReservationDetail
		var deadline sql.NullTime
		var ahead int
		if err := rows.Scan(&d.ID, &d.BookID, &d.Title, &d.Author, &d.ReservationDate, &d.Status, &deadline, &ahead); err != nil {
			return nil, err
		}
		if deadline.Valid {
			t := deadline.Time
			d.PickupDeadline = &t
		}
		if d.Status == string(model.ReservationPending) {
			pos := ahead + 1
			d.QueuePosition = &pos
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PendingCount returns the book's pending queue length outside any
// transaction, for catalog detail pages.
func (r *ReservationRepo) PendingCount(ctx context.Context, bookID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE book_id = ? AND status = 'Pending'`,
		bookID).Scan(&n)
	return n, err
}
