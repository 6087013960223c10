// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package posdata

import (
	"time"
)

// ApplyLoanRule recomputes the derived fields of a loan: the remaining balance
// is loan_amount - amount_paid, and the status is paid when nothing remains,
// overdue when the due date has passed, active otherwise.
func ApplyLoanRule(l *Loan, now time.Time) {
	l.RemainingBalance = l.LoanAmount.Sub(l.AmountPaid)
	switch {
	case l.RemainingBalance.LessOrEqualZero():
		l.Status = LoanPaid
	case l.DueDate != nil && dueDatePassed(*l.DueDate, now):
		l.Status = LoanOverdue
	default:
		l.Status = LoanActive
	}
}

func dueDatePassed(due string, now time.Time) bool {
	t, err := ParseTimestamp(due)
	if err != nil {
		return false
	}
	return t.Before(now)
}

// ParseTimestamp accepts the timestamp layouts the remote store and the
// clients produce: RFC 3339 with or without fraction, Postgres text output
// and plain dates.
func ParseTimestamp(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05.999999999Z07",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02",
	}
	var firstErr error
	for _, layout := range layouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
