package posdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplyLoanRule(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	loan := &Loan{LoanAmount: MoneyFromInt(1000), AmountPaid: MoneyFromInt(200)}
	ApplyLoanRule(loan, now)
	require.True(t, loan.RemainingBalance.Equal(MoneyFromInt(800)))
	require.Equal(t, LoanActive, loan.Status)

	loan.AmountPaid = loan.AmountPaid.Add(MoneyFromInt(800))
	ApplyLoanRule(loan, now)
	require.True(t, loan.RemainingBalance.IsZero())
	require.Equal(t, LoanPaid, loan.Status)
}

func TestApplyLoanRuleOverdue(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	past := "2025-03-01"
	future := "2025-04-01T00:00:00Z"

	loan := &Loan{LoanAmount: MoneyFromInt(50), AmountPaid: MoneyFromInt(10), DueDate: &past}
	ApplyLoanRule(loan, now)
	require.Equal(t, LoanOverdue, loan.Status)

	loan.DueDate = &future
	ApplyLoanRule(loan, now)
	require.Equal(t, LoanActive, loan.Status)

	// Paid wins over overdue.
	loan.DueDate = &past
	loan.AmountPaid = MoneyFromInt(60)
	ApplyLoanRule(loan, now)
	require.Equal(t, LoanPaid, loan.Status)
	require.True(t, loan.RemainingBalance.Equal(MoneyFromInt(-10)))
}

func TestParseTimestamp(t *testing.T) {
	for _, s := range []string{
		"2025-01-02T03:04:05Z",
		"2025-01-02T03:04:05.123456+00:00",
		"2025-01-02 03:04:05.123+00",
		"2025-01-02",
	} {
		_, err := ParseTimestamp(s)
		require.NoError(t, err, s)
	}
	_, err := ParseTimestamp("yesterday")
	require.Error(t, err)
}
