package config

// policy.go defines the static circulation rule set.  The values mirror
// the library's lending terms: a two week loan period, at most five open
// loans and five pending reservations per member, at most three pending
// reservations per book, and a three day pickup window once a
// reservation is promoted.  Defaults can be overridden through
// environment variables for testing or per-deployment tuning.

// Policy holds the circulation limits enforced by the service.  All
// durations are expressed in whole days because due dates and pickup
// deadlines are date-granular in the schema.
type Policy struct {
	LoanPeriodDays      int // days a borrowed book may be kept
	MaxActiveLoans      int // max Active+Overdue loans per member
	MaxPendingPerMember int // max Pending reservations per member
	MaxPendingPerBook   int // max Pending reservations per book
	PickupWindowDays    int // days a Ready hold stays claimable
}

// DefaultPolicy returns the library's standard lending terms.
func DefaultPolicy() Policy {
	return Policy{
		LoanPeriodDays:      14,
		MaxActiveLoans:      5,
		MaxPendingPerMember: 5,
		MaxPendingPerBook:   3,
		PickupWindowDays:    3,
	}
}

// LoadPolicy builds a Policy from environment variables, falling back to
// DefaultPolicy for anything unset.  Non-positive overrides are ignored.
func LoadPolicy() Policy {
	def := DefaultPolicy()
	if v := envInt("LOAN_PERIOD_DAYS", def.LoanPeriodDays); v > 0 {
		def.LoanPeriodDays = v
	}
	if v := envInt("MAX_ACTIVE_LOANS", def.MaxActiveLoans); v > 0 {
		def.MaxActiveLoans = v
	}
	if v := envInt("MAX_PENDING_PER_MEMBER", def.MaxPendingPerMember); v > 0 {
		def.MaxPendingPerMember = v
	}
	if v := envInt("MAX_PENDING_PER_BOOK", def.MaxPendingPerBook); v > 0 {
		def.MaxPendingPerBook = v
	}
	if v := envInt("PICKUP_WINDOW_DAYS", def.PickupWindowDays); v > 0 {
		def.PickupWindowDays = v
	}
	return def
}
