package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// Store persists payments. Implementations join the transaction carried by
// ctx.
type Store interface {
	FindByID(ctx context.Context, id int64) (Payment, error)
	ExistsByReference(ctx context.Context, reference string) (bool, error)
	Create(ctx context.Context, p *Payment) error
	// Save persists p when its version is unchanged and bumps the version.
	Save(ctx context.Context, p *Payment) error
	List(ctx context.Context, filter ListFilter, page shared.PageRequest) ([]Payment, int, error)
}

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const paymentColumns = `id, user_id, amount, payment_date, reference, bank_name, account_number, description, proof_url,
status, is_verified, verified_at, verified_by, remarks,
created_at, updated_at, created_by, updated_by, version, deleted, deleted_at, deleted_by`

func scanPayment(row pgx.Row) (Payment, error) {
	var (
		p      Payment
		amount pgtype.Numeric
	)
	err := row.Scan(&p.ID, &p.UserID, &amount, &p.PaymentDate, &p.Reference, &p.BankName, &p.AccountNumber, &p.Description, &p.ProofURL,
		&p.Status, &p.IsVerified, &p.VerifiedAt, &p.VerifiedBy, &p.Remarks,
		&p.CreatedAt, &p.UpdatedAt, &p.CreatedBy, &p.UpdatedBy, &p.Version, &p.Deleted, &p.DeletedAt, &p.DeletedBy)
	if err != nil {
		return Payment{}, err
	}
	p.Amount, err = db.Money(amount)
	return p, err
}

func (r *Repository) FindByID(ctx context.Context, id int64) (Payment, error) {
	p, err := scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND NOT deleted`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrPaymentNotFound.Withf("payment %d not found", id)
	}
	if err != nil {
		return Payment{}, fmt.Errorf("payments: find: %w", err)
	}
	return p, nil
}

func (r *Repository) ExistsByReference(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payments WHERE reference = $1 AND NOT deleted)`, reference).Scan(&exists)
	return exists, err
}

func (r *Repository) Create(ctx context.Context, p *Payment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO payments (user_id, amount, payment_date, reference, bank_name, account_number, description,
    status, is_verified, created_at, updated_at, created_by, updated_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING id, version`,
		p.UserID, db.Numeric(p.Amount), p.PaymentDate, p.Reference, p.BankName, p.AccountNumber, p.Description,
		p.Status, p.IsVerified, p.CreatedAt, p.UpdatedAt, p.CreatedBy, p.UpdatedBy,
	).Scan(&p.ID, &p.Version)
	switch {
	case db.IsUniqueViolation(err, "payments_reference_uniq"):
		return ErrReferenceTaken.Withf("payment reference %s already exists", p.Reference)
	case err != nil:
		return fmt.Errorf("payments: create: %w", err)
	}
	return nil
}

func (r *Repository) Save(ctx context.Context, p *Payment) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE payments SET
    proof_url = $3, status = $4, is_verified = $5, verified_at = $6, verified_by = $7, remarks = $8,
    updated_at = $9, updated_by = $10, deleted = $11, deleted_at = $12, deleted_by = $13, version = version + 1
WHERE id = $1 AND version = $2`,
		p.ID, p.Version, p.ProofURL, p.Status, p.IsVerified, p.VerifiedAt, p.VerifiedBy, p.Remarks,
		p.UpdatedAt, p.UpdatedBy, p.Deleted, p.DeletedAt, p.DeletedBy)
	if err != nil {
		if db.IsRetryable(err) {
			return shared.ErrConcurrentModification.Wrap(err)
		}
		return fmt.Errorf("payments: save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrentModification.Withf("payment %d was modified concurrently, retry the operation", p.ID)
	}
	p.Version++
	return nil
}

func (r *Repository) List(ctx context.Context, filter ListFilter, page shared.PageRequest) ([]Payment, int, error) {
	page = page.Normalize()
	conds := []string{"NOT deleted"}
	var args []any
	if filter.UserID > 0 {
		args = append(args, filter.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Verified != nil {
		args = append(args, *filter.Verified)
		conds = append(conds, fmt.Sprintf("is_verified = $%d", len(args)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+strings.ToLower(q)+"%")
		conds = append(conds, fmt.Sprintf("(LOWER(reference) LIKE $%[1]d OR LOWER(description) LIKE $%[1]d)", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("payment_date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("payment_date < $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conds, " AND ")
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM payments`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("payments: count: %w", err)
	}
	args = append(args, page.Size, page.Offset())
	rows, err := conn.Query(ctx, fmt.Sprintf(`SELECT `+paymentColumns+` FROM payments%s ORDER BY payment_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("payments: list: %w", err)
	}
	defer rows.Close()
	out := []Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
