package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commonwealth-builders/treasury/internal/platform/db"
)

// Store persists and reads audit entries.
type Store interface {
	// Append inserts entry unless its event id is already stored. It returns
	// ErrUnknownActor when the user does not exist.
	Append(ctx context.Context, entry Entry) (bool, error)
	List(ctx context.Context, filter Filter, limit, offset int) ([]Entry, error)
	CountEntries(ctx context.Context, action Action, from, to time.Time) (int64, error)
	CountTransitions(ctx context.Context, action Action, from, to time.Time) (int64, error)
}

// Repository is the PostgreSQL Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the audit repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// Append runs in a savepoint of the ambient transaction so a failed insert
// leaves the caller's transaction usable.
func (r *Repository) Append(ctx context.Context, entry Entry) (bool, error) {
	var inserted bool
	err := db.Savepoint(ctx, func(ctx context.Context) error {
		conn := db.Conn(ctx, r.pool)
		var exists bool
		if err := conn.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, entry.UserID).Scan(&exists); err != nil {
			return fmt.Errorf("audit: resolve user: %w", err)
		}
		if !exists {
			return ErrUnknownActor.Withf("audit actor %d does not resolve to a user", entry.UserID)
		}
		tag, err := conn.Exec(ctx, `INSERT INTO audit_entries (event_id, user_id, action, module, description, ip_address, user_agent, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (event_id) DO NOTHING`,
			entry.EventID, entry.UserID, string(entry.Action), string(entry.Module), entry.Description,
			entry.IPAddress, entry.UserAgent, entry.CreatedAt)
		if err != nil {
			if db.IsForeignKeyViolation(err) {
				return ErrUnknownActor.Wrap(err)
			}
			return fmt.Errorf("audit: insert entry: %w", err)
		}
		inserted = tag.RowsAffected() == 1
		return nil
	})
	return inserted, err
}

// List returns entries newest first.
func (r *Repository) List(ctx context.Context, filter Filter, limit, offset int) ([]Entry, error) {
	where, args := filterClause(filter)
	args = append(args, limit, offset)
	sql := fmt.Sprintf(`SELECT id, event_id, user_id, action, module, description, ip_address, user_agent, created_at
FROM audit_entries%s
ORDER BY created_at DESC, id DESC
LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list entries: %w", err)
	}
	defer rows.Close()
	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e      Entry
			action string
			module string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.UserID, &action, &module, &e.Description, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = Action(action)
		e.Module = Module(module)
		e.EventID = strings.TrimSpace(e.EventID)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func filterClause(filter Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.UserID > 0 {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Module != "" {
		add("module = $%d", string(filter.Module))
	}
	if filter.Action != "" {
		add("action = $%d", string(filter.Action))
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "\nWHERE " + strings.Join(conds, " AND "), args
}

// CountEntries counts entries of action created within [from, to).
func (r *Repository) CountEntries(ctx context.Context, action Action, from, to time.Time) (int64, error) {
	var n int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM audit_entries WHERE action = $1 AND created_at >= $2 AND created_at < $3`,
		string(action), from, to).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("audit: count entries: %w", err)
	}
	return n, nil
}

// transitionQueries counts aggregate transitions that must each carry one
// audit entry of the keyed action.
var transitionQueries = map[Action]string{
	ActionPaymentCreated:  `SELECT COUNT(*) FROM payments WHERE created_at >= $1 AND created_at < $2`,
	ActionPaymentVerified: `SELECT COUNT(*) FROM payments WHERE status = 'VERIFIED' AND verified_at >= $1 AND verified_at < $2`,
	ActionPaymentRejected: `SELECT COUNT(*) FROM payments WHERE status = 'REJECTED' AND verified_at >= $1 AND verified_at < $2`,
	ActionExpenseCreated:  `SELECT COUNT(*) FROM expenses WHERE created_at >= $1 AND created_at < $2`,
	ActionExpenseApproved: `SELECT COUNT(*) FROM expenses WHERE is_approved AND approved_at >= $1 AND approved_at < $2`,
}

// ReconciledActions lists the actions the integrity check can reconcile.
func ReconciledActions() []Action {
	return []Action{
		ActionPaymentCreated,
		ActionPaymentVerified,
		ActionPaymentRejected,
		ActionExpenseCreated,
		ActionExpenseApproved,
	}
}

// CountTransitions counts state changes that imply an entry of action.
func (r *Repository) CountTransitions(ctx context.Context, action Action, from, to time.Time) (int64, error) {
	sql, ok := transitionQueries[action]
	if !ok {
		return 0, fmt.Errorf("audit: no transition query for %s", action)
	}
	var n int64
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, sql, from, to).Scan(&n); err != nil {
		return 0, fmt.Errorf("audit: count transitions: %w", err)
	}
	return n, nil
}
