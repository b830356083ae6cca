package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-circulation/internal/model"
)

func newMockDB(t *testing.T) (*LoanRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewLoanRepo(db), mock
}

var repoNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func loanRows(id, bookID, memberID uint64, status string, returnDate any) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "book_id", "member_id", "loan_date", "due_date", "return_date", "status"}).
		AddRow(id, bookID, memberID, repoNow.AddDate(0, 0, -14), repoNow, returnDate, status)
}

func TestReturnTxClosesOpenLoan(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE loans SET status = 'Returned'").
		WithArgs(repoNow, uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM loans WHERE id = ?").
		WithArgs(uint64(7)).
		WillReturnRows(loanRows(7, 1, 10, "Returned", repoNow))

	tx, err := repo.db.Begin()
	require.NoError(t, err)

	loan, err := repo.ReturnTx(context.Background(), tx, 7, repoNow)
	require.NoError(t, err)
	assert.Equal(t, model.LoanReturned, loan.Status)
	require.NotNil(t, loan.ReturnDate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReturnTxRefusesClosedLoan(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectBegin()
	// the conditional update matches no rows when the loan is terminal
	mock.ExpectExec("UPDATE loans SET status = 'Returned'").
		WithArgs(repoNow, uint64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	tx, err := repo.db.Begin()
	require.NoError(t, err)

	_, err = repo.ReturnTx(context.Background(), tx, 7, repoNow)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetForUpdateTxMissingLoan(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM loans WHERE id = (.+) FOR UPDATE").
		WithArgs(uint64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "book_id", "member_id", "loan_date", "due_date", "return_date", "status"}))

	tx, err := repo.db.Begin()
	require.NoError(t, err)

	_, err = repo.GetForUpdateTx(context.Background(), tx, 99)
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestMarkOverdueOnlyTouchesActivePastDue(t *testing.T) {
	repo, mock := newMockDB(t)
	mock.ExpectExec("UPDATE loans SET status = 'Overdue' WHERE status = 'Active' AND due_date <").
		WithArgs(repoNow).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.MarkOverdue(context.Background(), repoNow)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListByMemberScansNullableReturnDate(t *testing.T) {
	repo, mock := newMockDB(t)
	rows := sqlmock.NewRows([]string{"id", "book_id", "title", "author", "loan_date", "due_date", "return_date", "status"}).
		AddRow(2, 5, "Dune", "Frank Herbert", repoNow.AddDate(0, 0, -3), repoNow.AddDate(0, 0, 11), nil, "Active").
		AddRow(1, 4, "Solaris", "Stanislaw Lem", repoNow.AddDate(0, 0, -30), repoNow.AddDate(0, 0, -16), repoNow.AddDate(0, 0, -20), "Returned")
	mock.ExpectQuery("SELECT l.id, l.book_id, b.title").
		WithArgs(uint64(10)).
		WillReturnRows(rows)

	out, err := repo.ListByMember(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Nil(t, out[0].ReturnDate)
	require.NotNil(t, out[1].ReturnDate)
	assert.Equal(t, "Returned", out[1].Status)
}
