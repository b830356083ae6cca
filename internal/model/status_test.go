package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBookStatus(t *testing.T) {
	for _, s := range []string{"Available", "OnLoan", "Reserved"} {
		got, err := ParseBookStatus(s)
		require.NoError(t, err)
		assert.Equal(t, BookStatus(s), got)
		assert.True(t, got.Valid())
	}
	for _, s := range []string{"", "available", "ONLOAN", "Lost"} {
		_, err := ParseBookStatus(s)
		assert.Error(t, err, "status %q must be rejected", s)
	}
}

func TestParseLoanStatus(t *testing.T) {
	for _, s := range []string{"Active", "Overdue", "Returned"} {
		got, err := ParseLoanStatus(s)
		require.NoError(t, err)
		assert.Equal(t, LoanStatus(s), got)
	}
	_, err := ParseLoanStatus("Open")
	assert.Error(t, err)
}

func TestLoanStatusOpen(t *testing.T) {
	assert.True(t, LoanActive.Open())
	assert.True(t, LoanOverdue.Open())
	assert.False(t, LoanReturned.Open())
}

func TestParseReservationStatus(t *testing.T) {
	for _, s := range []string{"Pending", "Ready", "Fulfilled", "Expired", "Cancelled"} {
		got, err := ParseReservationStatus(s)
		require.NoError(t, err)
		assert.Equal(t, ReservationStatus(s), got)
	}
	_, err := ParseReservationStatus("Queued")
	assert.Error(t, err)
}

func TestReservationStatusLive(t *testing.T) {
	assert.True(t, ReservationPending.Live())
	assert.True(t, ReservationReady.Live())
	assert.False(t, ReservationFulfilled.Live())
	assert.False(t, ReservationExpired.Live())
	assert.False(t, ReservationCancelled.Live())
}
