package expenses

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

// Store persists expenses. Implementations join the transaction carried by
// ctx.
type Store interface {
	FindByID(ctx context.Context, id int64) (Expense, error)
	Create(ctx context.Context, e *Expense) error
	// Save persists e when its version is unchanged and bumps the version.
	Save(ctx context.Context, e *Expense) error
	List(ctx context.Context, filter ListFilter, page shared.PageRequest) ([]Expense, int, error)
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

const expenseColumns = `id, title, description, amount, category, expense_date, vendor, receipt_number, receipt_url,
is_approved, approved_at, approved_by, approval_remarks,
created_at, updated_at, created_by, updated_by, version, deleted, deleted_at, deleted_by`

func scanExpense(row pgx.Row) (Expense, error) {
	var (
		e      Expense
		amount pgtype.Numeric
	)
	err := row.Scan(&e.ID, &e.Title, &e.Description, &amount, &e.Category, &e.ExpenseDate, &e.Vendor, &e.ReceiptNumber, &e.ReceiptURL,
		&e.IsApproved, &e.ApprovedAt, &e.ApprovedBy, &e.ApprovalRemarks,
		&e.CreatedAt, &e.UpdatedAt, &e.CreatedBy, &e.UpdatedBy, &e.Version, &e.Deleted, &e.DeletedAt, &e.DeletedBy)
	if err != nil {
		return Expense{}, err
	}
	e.Amount, err = db.Money(amount)
	return e, err
}

func (r *Repository) FindByID(ctx context.Context, id int64) (Expense, error) {
	e, err := scanExpense(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = $1 AND NOT deleted`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Expense{}, ErrExpenseNotFound.Withf("expense %d not found", id)
	}
	if err != nil {
		return Expense{}, fmt.Errorf("expenses: find: %w", err)
	}
	return e, nil
}

func (r *Repository) Create(ctx context.Context, e *Expense) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO expenses (title, description, amount, category, expense_date, vendor, receipt_number,
    is_approved, created_at, updated_at, created_by, updated_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $9, $10, $11)
RETURNING id, version`,
		e.Title, e.Description, db.Numeric(e.Amount), e.Category, e.ExpenseDate, e.Vendor, e.ReceiptNumber,
		e.CreatedAt, e.UpdatedAt, e.CreatedBy, e.UpdatedBy,
	).Scan(&e.ID, &e.Version)
	if err != nil {
		return fmt.Errorf("expenses: create: %w", err)
	}
	return nil
}

func (r *Repository) Save(ctx context.Context, e *Expense) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE expenses SET
    title = $3, description = $4, amount = $5, category = $6, expense_date = $7, vendor = $8, receipt_number = $9,
    receipt_url = $10, is_approved = $11, approved_at = $12, approved_by = $13, approval_remarks = $14,
    updated_at = $15, updated_by = $16, deleted = $17, deleted_at = $18, deleted_by = $19, version = version + 1
WHERE id = $1 AND version = $2`,
		e.ID, e.Version, e.Title, e.Description, db.Numeric(e.Amount), e.Category, e.ExpenseDate, e.Vendor, e.ReceiptNumber,
		e.ReceiptURL, e.IsApproved, e.ApprovedAt, e.ApprovedBy, e.ApprovalRemarks,
		e.UpdatedAt, e.UpdatedBy, e.Deleted, e.DeletedAt, e.DeletedBy)
	if err != nil {
		if db.IsRetryable(err) {
			return shared.ErrConcurrentModification.Wrap(err)
		}
		return fmt.Errorf("expenses: save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrentModification.Withf("expense %d was modified concurrently, retry the operation", e.ID)
	}
	e.Version++
	return nil
}

func (r *Repository) List(ctx context.Context, filter ListFilter, page shared.PageRequest) ([]Expense, int, error) {
	page = page.Normalize()
	conds := []string{"NOT deleted"}
	var args []any
	if filter.Category != "" {
		args = append(args, filter.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Approved != nil {
		args = append(args, *filter.Approved)
		conds = append(conds, fmt.Sprintf("is_approved = $%d", len(args)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+strings.ToLower(q)+"%")
		conds = append(conds, fmt.Sprintf("(LOWER(title) LIKE $%[1]d OR LOWER(description) LIKE $%[1]d OR LOWER(vendor) LIKE $%[1]d)", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conds = append(conds, fmt.Sprintf("expense_date >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conds = append(conds, fmt.Sprintf("expense_date < $%d", len(args)))
	}
	where := " WHERE " + strings.Join(conds, " AND ")
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM expenses`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("expenses: count: %w", err)
	}
	args = append(args, page.Size, page.Offset())
	rows, err := conn.Query(ctx, fmt.Sprintf(`SELECT `+expenseColumns+` FROM expenses%s ORDER BY expense_date DESC, id DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("expenses: list: %w", err)
	}
	defer rows.Close()
	out := []Expense{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}
