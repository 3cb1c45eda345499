package reports

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// Store computes report aggregates.
type Store interface {
	PaymentTotals(ctx context.Context, period Period) (PaymentTotals, error)
	ExpenseTotals(ctx context.Context, period Period) (ExpenseTotals, error)
	Contribution(ctx context.Context, userID int64) (ContributionTotals, error)
}

// Repository runs aggregates in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) PaymentTotals(ctx context.Context, period Period) (PaymentTotals, error) {
	const q = `SELECT
    COALESCE(SUM(amount), 0),
    COALESCE(SUM(amount) FILTER (WHERE is_verified), 0),
    COALESCE(SUM(amount) FILTER (WHERE status = 'PENDING'), 0),
    COUNT(*),
    COUNT(*) FILTER (WHERE is_verified),
    COUNT(*) FILTER (WHERE status = 'PENDING'),
    COUNT(*) FILTER (WHERE status = 'REJECTED'),
    COUNT(*) FILTER (WHERE status = 'CANCELLED')
FROM payments
WHERE NOT deleted AND payment_date >= $1 AND payment_date < $2`
	var (
		out                      PaymentTotals
		total, verified, pending pgtype.Numeric
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, q, period.From, period.To).Scan(&total, &verified, &pending,
		&out.Count, &out.VerifiedCount, &out.PendingCount, &out.RejectedCount, &out.CancelledCount)
	if err != nil {
		return PaymentTotals{}, fmt.Errorf("reports: payment totals: %w", err)
	}
	if out.Total, err = db.Money(total); err != nil {
		return PaymentTotals{}, err
	}
	if out.Verified, err = db.Money(verified); err != nil {
		return PaymentTotals{}, err
	}
	out.Pending, err = db.Money(pending)
	return out, err
}

func (r *Repository) ExpenseTotals(ctx context.Context, period Period) (ExpenseTotals, error) {
	conn := db.Conn(ctx, r.pool)
	var (
		out               ExpenseTotals
		approved, pending pgtype.Numeric
	)
	err := conn.QueryRow(ctx, `SELECT
    COALESCE(SUM(amount) FILTER (WHERE is_approved), 0),
    COUNT(*) FILTER (WHERE is_approved),
    COALESCE(SUM(amount) FILTER (WHERE NOT is_approved), 0),
    COUNT(*) FILTER (WHERE NOT is_approved)
FROM expenses
WHERE NOT deleted AND expense_date >= $1 AND expense_date < $2`, period.From, period.To).
		Scan(&approved, &out.ApprovedCount, &pending, &out.PendingCount)
	if err != nil {
		return ExpenseTotals{}, fmt.Errorf("reports: expense totals: %w", err)
	}
	if out.Approved, err = db.Money(approved); err != nil {
		return ExpenseTotals{}, err
	}
	if out.Pending, err = db.Money(pending); err != nil {
		return ExpenseTotals{}, err
	}
	rows, err := conn.Query(ctx, `SELECT category, SUM(amount)
FROM expenses
WHERE NOT deleted AND is_approved AND expense_date >= $1 AND expense_date < $2
GROUP BY category`, period.From, period.To)
	if err != nil {
		return ExpenseTotals{}, fmt.Errorf("reports: expenses by category: %w", err)
	}
	defer rows.Close()
	out.ByCategory = map[string]shared.Money{}
	for rows.Next() {
		var (
			category string
			sum      pgtype.Numeric
		)
		if err := rows.Scan(&category, &sum); err != nil {
			return ExpenseTotals{}, err
		}
		if out.ByCategory[category], err = db.Money(sum); err != nil {
			return ExpenseTotals{}, err
		}
	}
	return out, rows.Err()
}

func (r *Repository) Contribution(ctx context.Context, userID int64) (ContributionTotals, error) {
	var (
		out               ContributionTotals
		verified, pending pgtype.Numeric
	)
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT
    COALESCE(SUM(amount) FILTER (WHERE is_verified), 0),
    COALESCE(SUM(amount) FILTER (WHERE status = 'PENDING'), 0),
    COUNT(*) FILTER (WHERE is_verified),
    MIN(payment_date) FILTER (WHERE is_verified),
    MAX(payment_date) FILTER (WHERE is_verified)
FROM payments
WHERE NOT deleted AND user_id = $1`, userID).Scan(&verified, &pending, &out.VerifiedCount, &out.First, &out.Last)
	if err != nil {
		return ContributionTotals{}, fmt.Errorf("reports: contribution: %w", err)
	}
	if out.Verified, err = db.Money(verified); err != nil {
		return ContributionTotals{}, err
	}
	out.Pending, err = db.Money(pending)
	return out, err
}
