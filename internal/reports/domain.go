package reports

import (
	"time"

	"github.com/commonwealth-builders/treasury/internal/shared"
)

// Period is a half-open reporting window [From, To).
type Period struct {
	From time.Time `json:"periodStart"`
	To   time.Time `json:"periodEnd"`
}

// DefaultPeriod is the month ending with today, aligned to whole UTC days so
// repeated requests share a cache entry.
func DefaultPeriod(now time.Time) Period {
	now = now.UTC()
	to := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return Period{From: to.AddDate(0, -1, 0), To: to}
}

// MonthPeriod covers one calendar month.
func MonthPeriod(year int, month time.Month) Period {
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return Period{From: from, To: from.AddDate(0, 1, 0)}
}

func (p Period) key() string {
	return p.From.Format("20060102") + "-" + p.To.Format("20060102")
}

// PaymentTotals aggregates payments dated inside a period.
type PaymentTotals struct {
	Total          shared.Money `json:"totalPayments"`
	Verified       shared.Money `json:"verifiedPayments"`
	Pending        shared.Money `json:"pendingPayments"`
	Count          int          `json:"totalCount"`
	VerifiedCount  int          `json:"verifiedCount"`
	PendingCount   int          `json:"pendingCount"`
	RejectedCount  int          `json:"rejectedCount"`
	CancelledCount int          `json:"cancelledCount"`
}

// ExpenseTotals aggregates approved expenses dated inside a period.
type ExpenseTotals struct {
	Approved      shared.Money            `json:"totalExpenses"`
	ApprovedCount int                     `json:"approvedCount"`
	Pending       shared.Money            `json:"pendingExpenses"`
	PendingCount  int                     `json:"pendingCount"`
	ByCategory    map[string]shared.Money `json:"expensesByCategory"`
}

// Summary is the financial position for a period.
type Summary struct {
	Period
	TotalIncome        shared.Money            `json:"totalIncome"`
	TotalExpenses      shared.Money            `json:"totalExpenses"`
	NetBalance         shared.Money            `json:"netBalance"`
	PendingPayments    shared.Money            `json:"pendingPayments"`
	TotalPaymentCount  int                     `json:"totalPaymentCount"`
	ApprovedCount      int                     `json:"approvedExpenseCount"`
	ExpensesByCategory map[string]shared.Money `json:"expensesByCategory"`
	GeneratedAt        time.Time               `json:"reportGeneratedAt"`
}

// PaymentReport lists payment totals for a period.
type PaymentReport struct {
	Period
	PaymentTotals
	GeneratedAt time.Time `json:"reportGeneratedAt"`
}

// ExpenseReport lists expense totals for a period.
type ExpenseReport struct {
	Period
	ExpenseTotals
	GeneratedAt time.Time `json:"reportGeneratedAt"`
}

// ContributionTotals aggregates one member's payments.
type ContributionTotals struct {
	Verified      shared.Money `json:"verifiedContributions"`
	Pending       shared.Money `json:"pendingContributions"`
	VerifiedCount int          `json:"paymentCount"`
	First         *time.Time   `json:"firstPaymentDate,omitempty"`
	Last          *time.Time   `json:"lastPaymentDate,omitempty"`
}

// Contribution is a member's standing.
type Contribution struct {
	UserID   int64  `json:"userId"`
	Email    string `json:"userEmail"`
	FullName string `json:"userFullName"`
	ContributionTotals
	GeneratedAt time.Time `json:"reportGeneratedAt"`
}

var ErrInvalidPeriod = shared.NewError(shared.KindValidationFailure, "INVALID_PERIOD", "report period is invalid")
