package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/model"
	q "github.com/iliyamo/library-circulation/internal/queue"
	"github.com/iliyamo/library-circulation/internal/repository"
)

// BookStore is the slice of the book repository the circulation engine
// writes through.  GetForUpdateTx takes the per-book serialization lock;
// SetStatusTx re-validates the requested status against the loan and
// reservation rows inside the same transaction.
type BookStore interface {
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Book, error)
	SetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.BookStatus) error
}

// LoanStore is the ledger surface used by the engine.
type LoanStore interface {
	CreateTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64, loanDate, dueDate time.Time) (model.Loan, error)
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Loan, error)
	ReturnTx(ctx context.Context, tx *sql.Tx, id uint64, now time.Time) (model.Loan, error)
	CountOpenByMemberTx(ctx context.Context, tx *sql.Tx, memberID uint64) (int, error)
	CountOverdueByMemberTx(ctx context.Context, tx *sql.Tx, memberID uint64) (int, error)
	HasOpenByBookAndMemberTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64) (bool, error)
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
}

// ReservationStore is the queue surface used by the engine.
type ReservationStore interface {
	EnqueueTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64, now time.Time) (model.Reservation, int, error)
	PendingCountByBookTx(ctx context.Context, tx *sql.Tx, bookID uint64) (int, error)
	PendingCountByMemberTx(ctx context.Context, tx *sql.Tx, memberID uint64) (int, error)
	HasLiveByBookAndMemberTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64) (bool, error)
	HasLiveTx(ctx context.Context, tx *sql.Tx, bookID uint64) (bool, error)
	PromoteNextTx(ctx context.Context, tx *sql.Tx, bookID uint64, deadline time.Time) (*model.Reservation, error)
	ReadyByBookAndMemberTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64) (*model.Reservation, error)
	GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Reservation, error)
	CancelTx(ctx context.Context, tx *sql.Tx, id uint64) error
	MarkFulfilledTx(ctx context.Context, tx *sql.Tx, id uint64) error
	ExpireReadyTx(ctx context.Context, tx *sql.Tx, bookID uint64, now time.Time) ([]model.Reservation, error)
	BooksWithExpiredReady(ctx context.Context, now time.Time) ([]uint64, error)
}

// Actor identifies who is performing a circulation request.  Handlers
// build it from the verified JWT claims; the engine never reads ambient
// session state.
type Actor struct {
	MemberID uint64
	Staff    bool
}

// Circulation orchestrates books, loans and reservations into atomic,
// policy-checked operations.  Every mutation runs in one transaction
// that first locks the affected book row, so concurrent operations on
// the same book serialize and operations on different books never block
// each other.  A transaction that loses a deadlock race is retried once
// before surfacing ErrConflict.
type Circulation struct {
	db           *sql.DB
	policy       config.Policy
	books        BookStore
	loans        LoanStore
	reservations ReservationStore
	notifier     Notifier
}

// NewCirculation constructs the engine.  All dependencies must be
// non-nil; pass NopNotifier{} when no broker is configured.
func NewCirculation(db *sql.DB, policy config.Policy, books BookStore, loans LoanStore, reservations ReservationStore, notifier Notifier) *Circulation {
	if db == nil || books == nil || loans == nil || reservations == nil || notifier == nil {
		panic("nil dependency passed to NewCirculation")
	}
	return &Circulation{
		db:           db,
		policy:       policy,
		books:        books,
		loans:        loans,
		reservations: reservations,
		notifier:     notifier,
	}
}

// pendingEvents accumulates notifications during a transaction; they are
// published only after the commit succeeds so an aborted transaction
// never notifies anyone.
type pendingEvents struct {
	created []q.ReservationCreatedEvent
	ready   []q.ReservationReadyEvent
	expired []q.ReservationExpiredEvent
}

func (s *Circulation) emit(ctx context.Context, ev *pendingEvents) {
	for _, e := range ev.created {
		if err := s.notifier.ReservationCreated(ctx, e); err != nil {
			log.Printf("circulation: reservation.created notify failed: %v", err)
		}
	}
	for _, e := range ev.ready {
		if err := s.notifier.ReservationReady(ctx, e); err != nil {
			log.Printf("circulation: reservation.ready notify failed: %v", err)
		}
	}
	for _, e := range ev.expired {
		if err := s.notifier.ReservationExpired(ctx, e); err != nil {
			log.Printf("circulation: reservation.expired notify failed: %v", err)
		}
	}
}

// withTx runs fn inside a transaction that is rolled back on any error
// or panic and committed only on full success.  A deadlock or lock-wait
// timeout is retried once; exhaustion surfaces ErrConflict.
func (s *Circulation) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: retry exhausted: %v", repository.ErrConflict, lastErr)
}

func (s *Circulation) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// retryable reports whether err is a transient MySQL serialization
// failure: 1213 (deadlock victim) or 1205 (lock wait timeout).
func retryable(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1213 || me.Number == 1205
	}
	return false
}

func (s *Circulation) pickupDeadline(now time.Time) time.Time {
	return now.UTC().AddDate(0, 0, s.policy.PickupWindowDays)
}

// expireHoldsTx lapses any Ready reservation on the locked book whose
// pickup deadline has passed, then cascades: the next Pending member is
// promoted, or the book reverts to Available when the queue is empty
// and no loan is open.  Mutating operations call this before acting so
// a stale hold never blocks a live request between sweeps.
func (s *Circulation) expireHoldsTx(ctx context.Context, tx *sql.Tx, book model.Book, now time.Time, ev *pendingEvents) error {
	expired, err := s.reservations.ExpireReadyTx(ctx, tx, book.ID, now)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}
	for _, res := range expired {
		ev.expired = append(ev.expired, q.ReservationExpiredEvent{
			ReservationID: res.ID,
			MemberID:      res.MemberID,
			BookID:        book.ID,
			BookTitle:     book.Title,
		})
	}
	for range expired {
		promoted, err := s.reservations.PromoteNextTx(ctx, tx, book.ID, s.pickupDeadline(now))
		if err != nil {
			return err
		}
		if promoted == nil {
			break
		}
		ev.ready = append(ev.ready, q.ReservationReadyEvent{
			ReservationID:  promoted.ID,
			MemberID:       promoted.MemberID,
			BookID:         book.ID,
			BookTitle:      book.Title,
			PickupDeadline: promoted.PickupDeadline.UTC().Format(time.RFC3339),
		})
	}
	if book.Status != model.BookReserved {
		return nil
	}
	live, err := s.reservations.HasLiveTx(ctx, tx, book.ID)
	if err != nil {
		return err
	}
	if !live {
		return s.books.SetStatusTx(ctx, tx, book.ID, model.BookAvailable)
	}
	return nil
}

// BorrowBook creates an Active loan for the member and moves the book
// to OnLoan.  An Available book may be borrowed by anyone eligible; a
// Reserved book only by the holder of its Ready reservation, whose hold
// is then marked Fulfilled.  Eligibility: fewer than the maximum open
// loans, no overdue loan, and no open loan on this same book.
func (s *Circulation) BorrowBook(ctx context.Context, bookID, memberID uint64, now time.Time) (model.Loan, error) {
	var loan model.Loan
	var ev pendingEvents
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev = pendingEvents{}
		book, err := s.books.GetForUpdateTx(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if err := s.expireHoldsTx(ctx, tx, book, now, &ev); err != nil {
			return err
		}
		// re-read: the lazy expiry may have changed the status
		book, err = s.books.GetForUpdateTx(ctx, tx, bookID)
		if err != nil {
			return err
		}

		var fulfilled *model.Reservation
		switch book.Status {
		case model.BookAvailable:
			// plain borrow
		case model.BookReserved:
			hold, err := s.reservations.ReadyByBookAndMemberTx(ctx, tx, bookID, memberID)
			if err != nil {
				return err
			}
			if hold == nil {
				return repository.Policy(repository.RuleHoldNotReady)
			}
			fulfilled = hold
		default:
			return repository.Policy(repository.RuleBookUnavailable)
		}

		if dup, err := s.loans.HasOpenByBookAndMemberTx(ctx, tx, bookID, memberID); err != nil {
			return err
		} else if dup {
			return repository.Policy(repository.RuleDuplicateLoan)
		}
		if open, err := s.loans.CountOpenByMemberTx(ctx, tx, memberID); err != nil {
			return err
		} else if open >= s.policy.MaxActiveLoans {
			return repository.Policy(repository.RuleLoanLimit)
		}
		if overdue, err := s.loans.CountOverdueByMemberTx(ctx, tx, memberID); err != nil {
			return err
		} else if overdue > 0 {
			return repository.Policy(repository.RuleOverdueBlock)
		}

		if fulfilled != nil {
			if err := s.reservations.MarkFulfilledTx(ctx, tx, fulfilled.ID); err != nil {
				return err
			}
		}
		loan, err = s.loans.CreateTx(ctx, tx, bookID, memberID, now.UTC(), now.UTC().AddDate(0, 0, s.policy.LoanPeriodDays))
		if err != nil {
			return err
		}
		return s.books.SetStatusTx(ctx, tx, bookID, model.BookOnLoan)
	})
	if err != nil {
		return model.Loan{}, err
	}
	s.emit(ctx, &ev)
	return loan, nil
}

// ReturnResult reports the outcome of a return: the terminated loan and
// the reservation promoted by the cascade, if any.
type ReturnResult struct {
	Loan     model.Loan
	Promoted *model.Reservation
}

// ReturnBook terminates an open loan and cascades: the earliest Pending
// reservation is promoted to Ready and the book becomes Reserved, or,
// with an empty queue, Available.  All writes are one transaction.
func (s *Circulation) ReturnBook(ctx context.Context, loanID uint64, now time.Time) (ReturnResult, error) {
	var out ReturnResult
	var ev pendingEvents
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev = pendingEvents{}
		loan, err := s.loans.GetForUpdateTx(ctx, tx, loanID)
		if err != nil {
			return err
		}
		if !loan.Status.Open() {
			return fmt.Errorf("%w: loan %d already returned", repository.ErrConflict, loanID)
		}
		book, err := s.books.GetForUpdateTx(ctx, tx, loan.BookID)
		if err != nil {
			return err
		}
		out.Loan, err = s.loans.ReturnTx(ctx, tx, loanID, now)
		if err != nil {
			return err
		}
		promoted, err := s.reservations.PromoteNextTx(ctx, tx, book.ID, s.pickupDeadline(now))
		if err != nil {
			return err
		}
		out.Promoted = promoted
		if promoted != nil {
			ev.ready = append(ev.ready, q.ReservationReadyEvent{
				ReservationID:  promoted.ID,
				MemberID:       promoted.MemberID,
				BookID:         book.ID,
				BookTitle:      book.Title,
				PickupDeadline: promoted.PickupDeadline.UTC().Format(time.RFC3339),
			})
			return s.books.SetStatusTx(ctx, tx, book.ID, model.BookReserved)
		}
		return s.books.SetStatusTx(ctx, tx, book.ID, model.BookAvailable)
	})
	if err != nil {
		return ReturnResult{}, err
	}
	s.emit(ctx, &ev)
	return out, nil
}

// ReserveBook queues a Pending reservation on a book that is not
// currently Available.  Limits: at most MaxPendingPerBook pending holds
// per book, MaxPendingPerMember per member, and one live reservation or
// open loan per member per book.  The book's status does not change.
func (s *Circulation) ReserveBook(ctx context.Context, bookID, memberID uint64, now time.Time) (model.Reservation, int, error) {
	var res model.Reservation
	var position int
	var ev pendingEvents
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev = pendingEvents{}
		book, err := s.books.GetForUpdateTx(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if err := s.expireHoldsTx(ctx, tx, book, now, &ev); err != nil {
			return err
		}
		book, err = s.books.GetForUpdateTx(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if book.Status == model.BookAvailable {
			return repository.Policy(repository.RuleBookNotReservable)
		}
		if dup, err := s.reservations.HasLiveByBookAndMemberTx(ctx, tx, bookID, memberID); err != nil {
			return err
		} else if dup {
			return repository.Policy(repository.RuleDuplicateReservation)
		}
		if onLoan, err := s.loans.HasOpenByBookAndMemberTx(ctx, tx, bookID, memberID); err != nil {
			return err
		} else if onLoan {
			return repository.Policy(repository.RuleDuplicateLoan)
		}
		if n, err := s.reservations.PendingCountByBookTx(ctx, tx, bookID); err != nil {
			return err
		} else if n >= s.policy.MaxPendingPerBook {
			return repository.Policy(repository.RuleBookQueueFull)
		}
		if n, err := s.reservations.PendingCountByMemberTx(ctx, tx, memberID); err != nil {
			return err
		} else if n >= s.policy.MaxPendingPerMember {
			return repository.Policy(repository.RuleMemberQueueLimit)
		}
		res, position, err = s.reservations.EnqueueTx(ctx, tx, bookID, memberID, now)
		if err != nil {
			return err
		}
		ev.created = append(ev.created, q.ReservationCreatedEvent{
			ReservationID: res.ID,
			MemberID:      memberID,
			BookID:        bookID,
			BookTitle:     book.Title,
			QueuePosition: position,
		})
		return nil
	})
	if err != nil {
		return model.Reservation{}, 0, err
	}
	s.emit(ctx, &ev)
	return res, position, nil
}

// CancelReservation cancels a live reservation.  Members may cancel
// only their own; staff may cancel any.  Cancelling a Ready hold
// cascades exactly like an expiry: the next Pending member is promoted,
// or the book reverts to Available when the queue empties with no open
// loan.
func (s *Circulation) CancelReservation(ctx context.Context, reservationID uint64, actor Actor, now time.Time) error {
	var ev pendingEvents
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ev = pendingEvents{}
		res, err := s.reservations.GetForUpdateTx(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if !actor.Staff && res.MemberID != actor.MemberID {
			return repository.ErrForbidden
		}
		if !res.Status.Live() {
			return fmt.Errorf("%w: reservation %d is not cancellable", repository.ErrConflict, reservationID)
		}
		book, err := s.books.GetForUpdateTx(ctx, tx, res.BookID)
		if err != nil {
			return err
		}
		wasReady := res.Status == model.ReservationReady
		if err := s.reservations.CancelTx(ctx, tx, reservationID); err != nil {
			return err
		}
		if wasReady {
			promoted, err := s.reservations.PromoteNextTx(ctx, tx, book.ID, s.pickupDeadline(now))
			if err != nil {
				return err
			}
			if promoted != nil {
				ev.ready = append(ev.ready, q.ReservationReadyEvent{
					ReservationID:  promoted.ID,
					MemberID:       promoted.MemberID,
					BookID:         book.ID,
					BookTitle:      book.Title,
					PickupDeadline: promoted.PickupDeadline.UTC().Format(time.RFC3339),
				})
				return nil
			}
		}
		if book.Status != model.BookReserved {
			return nil
		}
		live, err := s.reservations.HasLiveTx(ctx, tx, book.ID)
		if err != nil {
			return err
		}
		if !live {
			return s.books.SetStatusTx(ctx, tx, book.ID, model.BookAvailable)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.emit(ctx, &ev)
	return nil
}

// BulkReturnItem reports the outcome for one loan in a batch return.
type BulkReturnItem struct {
	LoanID uint64 `json:"loan_id"`
	Error  string `json:"error,omitempty"`
}

// BulkReturnResult aggregates a batch return.
type BulkReturnResult struct {
	Returned int              `json:"returned"`
	Items    []BulkReturnItem `json:"items"`
}

// BulkReturn applies ReturnBook independently per loan id.  Each loan's
// transaction is isolated: one failure does not roll back the others,
// and the caller receives a per-loan report plus the success count.
func (s *Circulation) BulkReturn(ctx context.Context, loanIDs []uint64, now time.Time) BulkReturnResult {
	out := BulkReturnResult{Items: make([]BulkReturnItem, 0, len(loanIDs))}
	for _, id := range loanIDs {
		item := BulkReturnItem{LoanID: id}
		if _, err := s.ReturnBook(ctx, id, now); err != nil {
			item.Error = err.Error()
		} else {
			out.Returned++
		}
		out.Items = append(out.Items, item)
	}
	return out
}

// SweepResult reports what a reconciliation pass changed.
type SweepResult struct {
	LoansMarkedOverdue int64 `json:"loans_marked_overdue"`
	HoldsExpired       int   `json:"holds_expired"`
	HoldsPromoted      int   `json:"holds_promoted"`
}

// Sweep runs the periodic reconciliation: every Active loan past its
// due date becomes Overdue, then every lapsed Ready hold is expired
// with the same cascade as a return.  The pass is idempotent and safe
// to run concurrently with live requests because every row transition
// is conditioned on the row's current state.  Per-book failures are
// logged and skipped; the next sweep picks them up.
func (s *Circulation) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var out SweepResult
	marked, err := s.loans.MarkOverdue(ctx, now)
	if err != nil {
		return out, err
	}
	out.LoansMarkedOverdue = marked

	bookIDs, err := s.reservations.BooksWithExpiredReady(ctx, now)
	if err != nil {
		return out, err
	}
	for _, bookID := range bookIDs {
		var ev pendingEvents
		err := s.withTx(ctx, func(tx *sql.Tx) error {
			ev = pendingEvents{}
			book, err := s.books.GetForUpdateTx(ctx, tx, bookID)
			if err != nil {
				return err
			}
			return s.expireHoldsTx(ctx, tx, book, now, &ev)
		})
		if err != nil {
			if errors.Is(err, repository.ErrBookNotFound) {
				continue
			}
			log.Printf("circulation: sweep of book %d failed: %v", bookID, err)
			continue
		}
		out.HoldsExpired += len(ev.expired)
		out.HoldsPromoted += len(ev.ready)
		s.emit(ctx, &ev)
	}
	return out, nil
}

// OverrideBookStatus lets staff force a book's availability status, for
// example after repairing drifted data.  The write still goes through
// SetStatusTx, so an override that contradicts the loan and reservation
// rows is refused.
func (s *Circulation) OverrideBookStatus(ctx context.Context, bookID uint64, status model.BookStatus, actor Actor) error {
	if !actor.Staff {
		return repository.ErrForbidden
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := s.books.GetForUpdateTx(ctx, tx, bookID); err != nil {
			return err
		}
		return s.books.SetStatusTx(ctx, tx, bookID, status)
	})
}
