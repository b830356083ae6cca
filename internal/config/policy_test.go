package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 14, p.LoanPeriodDays)
	assert.Equal(t, 5, p.MaxActiveLoans)
	assert.Equal(t, 5, p.MaxPendingPerMember)
	assert.Equal(t, 3, p.MaxPendingPerBook)
	assert.Equal(t, 3, p.PickupWindowDays)
}

func TestLoadPolicyOverrides(t *testing.T) {
	t.Setenv("LOAN_PERIOD_DAYS", "21")
	t.Setenv("MAX_PENDING_PER_BOOK", "10")

	p := LoadPolicy()
	assert.Equal(t, 21, p.LoanPeriodDays)
	assert.Equal(t, 10, p.MaxPendingPerBook)
	assert.Equal(t, 5, p.MaxActiveLoans)
}

func TestLoadPolicyIgnoresBadValues(t *testing.T) {
	t.Setenv("PICKUP_WINDOW_DAYS", "-2")
	t.Setenv("MAX_ACTIVE_LOANS", "zero")

	p := LoadPolicy()
	assert.Equal(t, 3, p.PickupWindowDays)
	assert.Equal(t, 5, p.MaxActiveLoans)
}
