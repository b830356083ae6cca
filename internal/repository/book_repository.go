package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/iliyamo/library-circulation/internal/model"
)

// BookRepo provides data access to the books table.  Every circulation
// transaction serializes on the book row: callers lock it with
// GetForUpdateTx before touching the book's loans or reservations, so
// operations on different books never block each other.  Status writes
// go through SetStatusTx, which re-checks the loan and reservation rows
// inside the same transaction and refuses a status that contradicts
// them.
type BookRepo struct {
	db *sql.DB
}

// NewBookRepo returns a new BookRepo bound to the given database.
func NewBookRepo(db *sql.DB) *BookRepo { return &BookRepo{db: db} }

const bookColumns = `id, title, author, isbn, publisher, status, created_at`

func scanBook(row *sql.Row) (model.Book, error) {
	var b model.Book
	var publisher sql.NullString
	var status string
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &publisher, &status, &b.CreatedAt)
	if err != nil {
		return model.Book{}, err
	}
	if publisher.Valid {
		p := publisher.String
		b.Publisher = &p
	}
	b.Status, err = model.ParseBookStatus(status)
	if err != nil {
		return model.Book{}, err
	}
	return b, nil
}

// GetByID fetches a single book.  It returns ErrBookNotFound when no row
// exists.
func (r *BookRepo) GetByID(ctx context.Context, id uint64) (model.Book, error) {
	const q = `SELECT ` + bookColumns + ` FROM books WHERE id = ?`
	b, err := scanBook(r.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return model.Book{}, ErrBookNotFound
	}
	return b, err
}

// GetForUpdateTx fetches a book with an exclusive row lock.  All
// circulation operations call this first so that concurrent borrows,
// returns and queue changes on the same book serialize on the row lock
// for the duration of the transaction.
func (r *BookRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Book, error) {
	const q = `SELECT ` + bookColumns + ` FROM books WHERE id = ? FOR UPDATE`
	b, err := scanBook(tx.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return model.Book{}, ErrBookNotFound
	}
	return b, err
}

// SetStatusTx writes a new availability status for the book.  The status
// must be consistent with the loan and reservation rows visible inside
// the transaction: OnLoan requires an open loan, Reserved requires no
// open loan and at least one live reservation, Available requires
// neither.  An inconsistent request returns ErrConflict so the enclosing
// transaction aborts with no partial write.
func (r *BookRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, id uint64, status model.BookStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: invalid book status %q", ErrConflict, status)
	}
	var openLoans, liveReservations int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE book_id = ? AND status IN ('Active','Overdue')`,
		id).Scan(&openLoans)
	if err != nil {
		return err
	}
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reservations WHERE book_id = ? AND status IN ('Pending','Ready')`,
		id).Scan(&liveReservations)
	if err != nil {
		return err
	}
	switch status {
	case model.BookOnLoan:
		if openLoans == 0 {
			return fmt.Errorf("%w: no open loan backs OnLoan for book %d", ErrConflict, id)
		}
	case model.BookReserved:
		if openLoans > 0 || liveReservations == 0 {
			return fmt.Errorf("%w: loan/reservation rows contradict Reserved for book %d", ErrConflict, id)
		}
	case model.BookAvailable:
		if openLoans > 0 || liveReservations > 0 {
			return fmt.Errorf("%w: open records contradict Available for book %d", ErrConflict, id)
		}
	}
	res, err := tx.ExecContext(ctx, `UPDATE books SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// row may match already; confirm existence
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM books WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrBookNotFound
		}
	}
	return nil
}

// Create inserts a new catalog record.  New books always start as
// Available; circulation transactions are the only writers after that.
// The generated ID and timestamps are populated on the passed book.
func (r *BookRepo) Create(ctx context.Context, b *model.Book) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO books (title, author, isbn, publisher, status) VALUES (?, ?, ?, ?, 'Available')`,
		b.Title, b.Author, b.ISBN, b.Publisher)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	const sel = `SELECT ` + bookColumns + ` FROM books WHERE id = ?`
	*b, err = scanBook(r.db.QueryRowContext(ctx, sel, b.ID))
	return err
}

// Update rewrites the descriptive fields of a book.  The status column
// is deliberately excluded; it belongs to circulation transactions and
// the explicit admin override.
func (r *BookRepo) Update(ctx context.Context, b model.Book) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE books SET title = ?, author = ?, isbn = ?, publisher = ? WHERE id = ?`,
		b.Title, b.Author, b.ISBN, b.Publisher, b.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, getErr := r.GetByID(ctx, b.ID); getErr != nil {
			return getErr
		}
	}
	return nil
}

// Delete removes a book that has no open loan.  The check and the
// delete run in one transaction with the book row locked, so a borrow
// racing the delete either sees the book gone or blocks until the
// delete aborts.  Live reservations on the book are cancelled rather
// than orphaned.
func (r *BookRepo) Delete(ctx context.Context, id uint64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := r.GetForUpdateTx(ctx, tx, id); err != nil {
		return err
	}
	var openLoans int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM loans WHERE book_id = ? AND status IN ('Active','Overdue')`,
		id).Scan(&openLoans); err != nil {
		return err
	}
	if openLoans > 0 {
		return fmt.Errorf("%w: book %d still has an open loan", ErrConflict, id)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE reservations SET status = 'Cancelled' WHERE book_id = ? AND status IN ('Pending','Ready')`,
		id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// BookSearchQuery defines filters and pagination for catalog browsing.
type BookSearchQuery struct {
	Title    string
	Author   string
	Status   string
	Page     int
	PageSize int
}

// Search lists catalog books matching the query.  Filters are combined
// with AND; title and author match case-insensitive substrings.  Results
// are ordered by title then id for stable pagination, and the total
// match count is returned alongside the page.
func (r *BookRepo) Search(ctx context.Context, q BookSearchQuery) ([]model.Book, int64, error) {
	where := []string{}
	args := []any{}

	if q.Title != "" {
		where = append(where, "LOWER(title) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Title)+"%")
	}
	if q.Author != "" {
		where = append(where, "LOWER(author) LIKE ?")
		args = append(args, "%"+strings.ToLower(q.Author)+"%")
	}
	if q.Status != "" {
		st, err := model.ParseBookStatus(q.Status)
		if err != nil {
			return nil, 0, err
		}
		where = append(where, "status = ?")
		args = append(args, string(st))
	}

	cond := "1=1"
	if len(where) > 0 {
		cond = strings.Join(where, " AND ")
	}

	var total int64
	countSQL := `SELECT COUNT(*) FROM books WHERE ` + cond
	if err := r.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		q.PageSize = 20
	}
	limit := q.PageSize
	offset := (q.Page - 1) * q.PageSize

	dataSQL := `SELECT ` + bookColumns + ` FROM books WHERE ` + cond + `
        ORDER BY title ASC, id ASC
        LIMIT ? OFFSET ?`
	argsData := append(append([]any{}, args...), limit, offset)

	rows, err := r.db.QueryContext(ctx, dataSQL, argsData...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]model.Book, 0, limit)
	for rows.Next() {
		var b model.Book
		var publisher sql.NullString
		var status string
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.ISBN, &publisher, &status, &b.CreatedAt); err != nil {
			return nil, 0, err
		}
		if publisher.Valid {
			p := publisher.String
			b.Publisher = &p
		}
		if b.Status, err = model.ParseBookStatus(status); err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
