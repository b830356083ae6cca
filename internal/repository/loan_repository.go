package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/library-circulation/internal/model"
)

// LoanRepo provides data access to the loans table.  Loan rows are
// created and terminated only from within a circulation transaction
// that holds the lock on the owning book row; the standalone methods are
// read paths and the reconciliation sweep.  All timestamps are UTC.
type LoanRepo struct {
	db *sql.DB
}

// NewLoanRepo returns a new LoanRepo bound to the given database.
func NewLoanRepo(db *sql.DB) *LoanRepo { return &LoanRepo{db: db} }

const loanColumns = `id, book_id, member_id, loan_date, due_date, return_date, status`

func scanLoan(scan func(dest ...any) error) (model.Loan, error) {
	var l model.Loan
	var returnDate sql.NullTime
	var status string
	err := scan(&l.ID, &l.BookID, &l.MemberID, &l.LoanDate, &l.DueDate, &returnDate, &status)
	if err != nil {
		return model.Loan{}, err
	}
	if returnDate.Valid {
		t := returnDate.Time
		l.ReturnDate = &t
	}
	l.Status, err = model.ParseLoanStatus(status)
	if err != nil {
		return model.Loan{}, err
	}
	return l, nil
}

// CreateTx inserts a new Active loan within the enclosing transaction
// and returns the stored row.  Policy checks (limits, overdue block,
// duplicate holds) are the circulation service's job; this method only
// persists.  The caller must commit or roll back.
func (r *LoanRepo) CreateTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64, loanDate, dueDate time.Time) (model.Loan, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO loans (book_id, member_id, loan_date, due_date, status) VALUES (?, ?, ?, ?, 'Active')`,
		bookID, memberID, loanDate.UTC(), dueDate.UTC())
	if err != nil {
		return model.Loan{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Loan{}, err
	}
	const sel = `SELECT ` + loanColumns + ` FROM loans WHERE id = ?`
	return scanLoan(tx.QueryRowContext(ctx, sel, uint64(id)).Scan)
}

// GetForUpdateTx fetches a loan with an exclusive row lock.  Returns
// ErrLoanNotFound when no row exists.
func (r *LoanRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Loan, error) {
	const q = `SELECT ` + loanColumns + ` FROM loans WHERE id = ? FOR UPDATE`
	l, err := scanLoan(tx.QueryRowContext(ctx, q, id).Scan)
	if err == sql.ErrNoRows {
		return model.Loan{}, ErrLoanNotFound
	}
	return l, err
}

// ReturnTx terminates an open loan: status becomes Returned and the
// return date is recorded.  The update is conditioned on the loan still
// being open, so a repeated return affects zero rows and surfaces
// ErrConflict instead of silently rewriting a terminal row.
func (r *LoanRepo) ReturnTx(ctx context.Context, tx *sql.Tx, id uint64, now time.Time) (model.Loan, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE loans SET status = 'Returned', return_date = ? WHERE id = ? AND status IN ('Active','Overdue')`,
		now.UTC(), id)
	if err != nil {
		return model.Loan{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Loan{}, err
	}
	if n == 0 {
		return model.Loan{}, ErrConflict
	}
	const sel = `SELECT ` + loanColumns + ` FROM loans WHERE id = ?`
	return scanLoan(tx.QueryRowContext(ctx, sel, id).Scan)
}

// CountOpenByMemberTx returns the member's Active+Overdue loan count.
func (r *LoanRepo) CountOpenByMemberTx(ctx context.Context, tx *sql.Tx, memberID uint64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE member_id = ? AND status IN ('Active','Overdue')`,
		memberID).Scan(&n)
	return n, err
}

// CountOverdueByMemberTx returns the member's Overdue loan count.
func (r *LoanRepo) CountOverdueByMemberTx(ctx context.Context, tx *sql.Tx, memberID uint64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE member_id = ? AND status = 'Overdue'`,
		memberID).Scan(&n)
	return n, err
}

// HasOpenByBookAndMemberTx reports whether the member already has this
// book on loan.
func (r *LoanRepo) HasOpenByBookAndMemberTx(ctx context.Context, tx *sql.Tx, bookID, memberID uint64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE book_id = ? AND member_id = ? AND status IN ('Active','Overdue')`,
		bookID, memberID).Scan(&n)
	return n > 0, err
}

// MarkOverdue flips every Active loan past its due date to Overdue and
// returns the number of rows changed.  Each row transition is
// conditioned on the current status, so the sweep is idempotent and
// safe to interleave with live borrows and returns; this is the single
// writer of the Active→Overdue transition.
func (r *LoanRepo) MarkOverdue(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE loans SET status = 'Overdue' WHERE status = 'Active' AND due_date < ?`,
		now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// LoanDetail is a loan joined with its book for member-facing listings.
type LoanDetail struct {
	ID         uint64     `json:"id"`
	BookID     uint64     `json:"book_id"`
	Title      string     `json:"title"`
	Author     string     `json:"author"`
	LoanDate   time.Time  `json:"loan_date"`
	DueDate    time.Time  `json:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty"`
	Status     string     `json:"status"`
}

// ListByMember returns all loans for the given member, newest first,
// with book title and author joined in for display.
func (r *LoanRepo) ListByMember(ctx context.Context, memberID uint64) ([]LoanDetail, error) {
	const q = `SELECT l.id, l.book_id, b.title, b.author, l.loan_date, l.due_date, l.return_date, l.status
               FROM loans l
               JOIN books b ON b.id = l.book_id
               WHERE l.member_id = ?
               ORDER BY l.loan_date DESC, l.id DESC`
	rows, err := r.db.QueryContext(ctx, q, memberID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]LoanDetail, 0)
	for rows.Next() {
		var d LoanDetail
		var returnDate sql.NullTime
		if err := rows.Scan(&d.ID, &d.BookID, &d.Title, &d.Author, &d.LoanDate, &d.DueDate, &returnDate, &d.Status); err != nil {
			return nil, err
		}
		if returnDate.Valid {
			t := returnDate.Time
			d.ReturnDate = &t
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
