package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/library-circulation/internal/config"
	"github.com/iliyamo/library-circulation/internal/model"
	q "github.com/iliyamo/library-circulation/internal/queue"
	"github.com/iliyamo/library-circulation/internal/repository"
)

// fakeStore is an in-memory stand-in for the three repositories.  It
// enforces the same row-level rules the SQL layer does (conditional
// transitions, status validation) so ordering mistakes in the engine
// surface as test failures rather than passing silently.
type fakeStore struct {
	mu sync.Mutex

	books        map[uint64]*model.Book
	loans        map[uint64]*model.Loan
	reservations map[uint64]*model.Reservation

	nextLoanID uint64
	nextResID  uint64

	// failLocks makes the next N GetForUpdateTx calls fail with failErr,
	// simulating deadlock victims for the retry path.
	failLocks int
	failErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		books:        map[uint64]*model.Book{},
		loans:        map[uint64]*model.Loan{},
		reservations: map[uint64]*model.Reservation{},
	}
}

func (f *fakeStore) addBook(id uint64, status model.BookStatus) {
	f.books[id] = &model.Book{ID: id, Title: fmt.Sprintf("Book %d", id), Author: "Author", ISBN: fmt.Sprintf("isbn-%d", id), Status: status}
}

func (f *fakeStore) addLoan(bookID, memberID uint64, status model.LoanStatus, due time.Time) uint64 {
	f.nextLoanID++
	f.loans[f.nextLoanID] = &model.Loan{
		ID: f.nextLoanID, BookID: bookID, MemberID: memberID,
		LoanDate: due.AddDate(0, 0, -14), DueDate: due, Status: status,
	}
	return f.nextLoanID
}

func (f *fakeStore) addReservation(bookID, memberID uint64, status model.ReservationStatus, date time.Time, deadline *time.Time) uint64 {
	f.nextResID++
	f.reservations[f.nextResID] = &model.Reservation{
		ID: f.nextResID, BookID: bookID, MemberID: memberID,
		ReservationDate: date, Status: status, PickupDeadline: deadline,
	}
	return f.nextResID
}

// ---- BookStore ----

func (f *fakeStore) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Book, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLocks > 0 {
		f.failLocks--
		return model.Book{}, f.failErr
	}
	b, ok := f.books[id]
	if !ok {
		return model.Book{}, repository.ErrBookNotFound
	}
	return *b, nil
}

func (f *fakeStore) SetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.BookStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[id]
	if !ok {
		return repository.ErrBookNotFound
	}
	open := 0
	for _, l := range f.loans {
		if l.BookID == id && l.Status.Open() {
			open++
		}
	}
	live := 0
	for _, r := range f.reservations {
		if r.BookID == id && r.Status.Live() {
			live++
		}
	}
	switch status {
	case model.BookOnLoan:
		if open != 1 {
			return fmt.Errorf("%w: OnLoan needs exactly one open loan, have %d", repository.ErrConflict, open)
		}
	case model.BookReserved:
		if open != 0 || live == 0 {
			return fmt.Errorf("%w: Reserved needs no open loan and a live reservation", repository.ErrConflict)
		}
	case model.BookAvailable:
		if open != 0 || live != 0 {
			return fmt.Errorf("%w: Available needs no open loan and no live reservation", repository.ErrConflict)
		}
	default:
		return fmt.Errorf("%w: unknown status %q", repository.ErrConflict, status)
	}
	b.Status = status
	return nil
}

// ---- LoanStore ----

func (f *fakeStore) CreateTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64, loanDate, dueDate time.Time) (model.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextLoanID++
	l := &model.Loan{ID: f.nextLoanID, BookID: bookID, MemberID: memberID, LoanDate: loanDate, DueDate: dueDate, Status: model.LoanActive}
	f.loans[l.ID] = l
	return *l, nil
}

func (f *fakeStore) loanForUpdate(id uint64) (*model.Loan, error) {
	l, ok := f.loans[id]
	if !ok {
		return nil, repository.ErrLoanNotFound
	}
	return l, nil
}

func (f *fakeStore) GetLoanForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, err := f.loanForUpdate(id)
	if err != nil {
		return model.Loan{}, err
	}
	return *l, nil
}

func (f *fakeStore) ReturnTx(ctx context.Context, tx *sql.Tx, id uint64, now time.Time) (model.Loan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, err := f.loanForUpdate(id)
	if err != nil {
		return model.Loan{}, err
	}
	if !l.Status.Open() {
		return model.Loan{}, fmt.Errorf("%w: loan %d is not open", repository.ErrConflict, id)
	}
	ret := now.UTC()
	l.Status = model.LoanReturned
	l.ReturnDate = &ret
	return *l, nil
}

func (f *fakeStore) CountOpenByMemberTx(ctx context.Context, tx *sql.Tx, memberID uint64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.loans {
		if l.MemberID == memberID && l.Status.Open() {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountOverdueByMemberTx(ctx context.Context, tx *sql.Tx, memberID uint64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.loans {
		if l.MemberID == memberID && l.Status == model.LoanOverdue {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) HasOpenByBookAndMemberTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.loans {
		if l.BookID == bookID && l.MemberID == memberID && l.Status.Open() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, l := range f.loans {
		if l.Status == model.LoanActive && l.DueDate.Before(now) {
			l.Status = model.LoanOverdue
			n++
		}
	}
	return n, nil
}

// ---- ReservationStore ----

func (f *fakeStore) EnqueueTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64, now time.Time) (model.Reservation, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextResID++
	r := &model.Reservation{ID: f.nextResID, BookID: bookID, MemberID: memberID, ReservationDate: now.UTC(), Status: model.ReservationPending}
	f.reservations[r.ID] = r
	pos := 0
	for _, other := range f.reservations {
		if other.BookID != bookID || other.Status != model.ReservationPending {
			continue
		}
		if other.ReservationDate.Before(r.ReservationDate) ||
			(other.ReservationDate.Equal(r.ReservationDate) && other.ID <= r.ID) {
			pos++
		}
	}
	return *r, pos, nil
}

func (f *fakeStore) PendingCountByBookTx(ctx context.Context, tx *sql.Tx, bookID uint64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.reservations {
		if r.BookID == bookID && r.Status == model.ReservationPending {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) PendingCountByMemberTx(ctx context.Context, tx *sql.Tx, memberID uint64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.reservations {
		if r.MemberID == memberID && r.Status == model.ReservationPending {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) HasLiveByBookAndMemberTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reservations {
		if r.BookID == bookID && r.MemberID == memberID && r.Status.Live() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) HasLiveTx(ctx context.Context, tx *sql.Tx, bookID uint64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reservations {
		if r.BookID == bookID && r.Status.Live() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) PromoteNextTx(ctx context.Context, tx *sql.Tx, bookID uint64, deadline time.Time) (*model.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []*model.Reservation
	for _, r := range f.reservations {
		if r.BookID == bookID && r.Status == model.ReservationPending {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].ReservationDate.Equal(pending[j].ReservationDate) {
			return pending[i].ID < pending[j].ID
		}
		return pending[i].ReservationDate.Before(pending[j].ReservationDate)
	})
	head := pending[0]
	d := deadline.UTC()
	head.Status = model.ReservationReady
	head.PickupDeadline = &d
	cp := *head
	return &cp, nil
}

func (f *fakeStore) ReadyByBookAndMemberTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64) (*model.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reservations {
		if r.BookID == bookID && r.MemberID == memberID && r.Status == model.ReservationReady {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetReservationForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return model.Reservation{}, repository.ErrReservationNotFound
	}
	return *r, nil
}

func (f *fakeStore) CancelTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return repository.ErrReservationNotFound
	}
	if !r.Status.Live() {
		return fmt.Errorf("%w: reservation %d is not live", repository.ErrConflict, id)
	}
	r.Status = model.ReservationCancelled
	return nil
}

func (f *fakeStore) MarkFulfilledTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reservations[id]
	if !ok {
		return repository.ErrReservationNotFound
	}
	if r.Status != model.ReservationReady {
		return fmt.Errorf("%w: reservation %d is not Ready", repository.ErrConflict, id)
	}
	r.Status = model.ReservationFulfilled
	return nil
}

func (f *fakeStore) ExpireReadyTx(ctx context.Context, tx *sql.Tx, bookID uint64, now time.Time) ([]model.Reservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Reservation
	for _, r := range f.reservations {
		if r.BookID == bookID && r.Status == model.ReservationReady &&
			r.PickupDeadline != nil && r.PickupDeadline.Before(now) {
			r.Status = model.ReservationExpired
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) BooksWithExpiredReady(ctx context.Context, now time.Time) ([]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[uint64]struct{}{}
	var out []uint64
	for _, r := range f.reservations {
		if r.Status == model.ReservationReady && r.PickupDeadline != nil && r.PickupDeadline.Before(now) {
			if _, ok := seen[r.BookID]; !ok {
				seen[r.BookID] = struct{}{}
				out = append(out, r.BookID)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// loanStoreAdapter bridges the naming difference between the fake's
// loan and reservation lock methods and the two interfaces, which both
// declare GetForUpdateTx.
type loanStoreAdapter struct{ f *fakeStore }

func (a loanStoreAdapter) CreateTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64, loanDate, dueDate time.Time) (model.Loan, error) {
	return a.f.CreateTx(ctx, tx, bookID, memberID, loanDate, dueDate)
}
func (a loanStoreAdapter) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Loan, error) {
	return a.f.GetLoanForUpdateTx(ctx, tx, id)
}
func (a loanStoreAdapter) ReturnTx(ctx context.Context, tx *sql.Tx, id uint64, now time.Time) (model.Loan, error) {
	return a.f.ReturnTx(ctx, tx, id, now)
}
func (a loanStoreAdapter) CountOpenByMemberTx(ctx context.Context, tx *sql.Tx, memberID uint64) (int, error) {
	return a.f.CountOpenByMemberTx(ctx, tx, memberID)
}
func (a loanStoreAdapter) CountOverdueByMemberTx(ctx context.Context, tx *sql.Tx, memberID uint64) (int, error) {
	return a.f.CountOverdueByMemberTx(ctx, tx, memberID)
}
func (a loanStoreAdapter) HasOpenByBookAndMemberTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64) (bool, error) {
	return a.f.HasOpenByBookAndMemberTx(ctx, tx, bookID, memberID)
}
func (a loanStoreAdapter) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	return a.f.MarkOverdue(ctx, now)
}

type reservationStoreAdapter struct{ f *fakeStore }

func (a reservationStoreAdapter) EnqueueTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64, now time.Time) (model.Reservation, int, error) {
	return a.f.EnqueueTx(ctx, tx, bookID, memberID, now)
}
func (a reservationStoreAdapter) PendingCountByBookTx(ctx context.Context, tx *sql.Tx, bookID uint64) (int, error) {
	return a.f.PendingCountByBookTx(ctx, tx, bookID)
}
func (a reservationStoreAdapter) PendingCountByMemberTx(ctx context.Context, tx *sql.Tx, memberID uint64) (int, error) {
	return a.f.PendingCountByMemberTx(ctx, tx, memberID)
}
func (a reservationStoreAdapter) HasLiveByBookAndMemberTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64) (bool, error) {
	return a.f.HasLiveByBookAndMemberTx(ctx, tx, bookID, memberID)
}
func (a reservationStoreAdapter) HasLiveTx(ctx context.Context, tx *sql.Tx, bookID uint64) (bool, error) {
	return a.f.HasLiveTx(ctx, tx, bookID)
}
func (a reservationStoreAdapter) PromoteNextTx(ctx context.Context, tx *sql.Tx, bookID uint64, deadline time.Time) (*model.Reservation, error) {
	return a.f.PromoteNextTx(ctx, tx, bookID, deadline)
}
func (a reservationStoreAdapter) ReadyByBookAndMemberTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64) (*model.Reservation, error) {
	return a.f.ReadyByBookAndMemberTx(ctx, tx, bookID, memberID)
}
func (a reservationStoreAdapter) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Reservation, error) {
	return a.f.GetReservationForUpdateTx(ctx, tx, id)
}
func (a reservationStoreAdapter) CancelTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	return a.f.CancelTx(ctx, tx, id)
}
func (a reservationStoreAdapter) MarkFulfilledTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	return a.f.MarkFulfilledTx(ctx, tx, id)
}
func (a reservationStoreAdapter) ExpireReadyTx(ctx context.Context, tx *sql.Tx, bookID uint64, now time.Time) ([]model.Reservation, error) {
	return a.f.ExpireReadyTx(ctx, tx, bookID, now)
}
func (a reservationStoreAdapter) BooksWithExpiredReady(ctx context.Context, now time.Time) ([]uint64, error) {
	return a.f.BooksWithExpiredReady(ctx, now)
}

// recordingNotifier captures events instead of publishing them.
type recordingNotifier struct {
	mu      sync.Mutex
	created []q.ReservationCreatedEvent
	ready   []q.ReservationReadyEvent
	expired []q.ReservationExpiredEvent
}

func (n *recordingNotifier) ReservationCreated(ctx context.Context, ev q.ReservationCreatedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, ev)
	return nil
}
func (n *recordingNotifier) ReservationReady(ctx context.Context, ev q.ReservationReadyEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ready = append(n.ready, ev)
	return nil
}
func (n *recordingNotifier) ReservationExpired(ctx context.Context, ev q.ReservationExpiredEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.expired = append(n.expired, ev)
	return nil
}

var _ BookStore = (*fakeStore)(nil)
var _ LoanStore = loanStoreAdapter{}
var _ ReservationStore = reservationStoreAdapter{}
var _ Notifier = (*recordingNotifier)(nil)

// testPolicy keeps limits small so tests can hit them quickly.
func testPolicy() config.Policy {
	return config.Policy{
		LoanPeriodDays:      14,
		MaxActiveLoans:      5,
		MaxPendingPerMember: 5,
		MaxPendingPerBook:   3,
		PickupWindowDays:    3,
	}
}
