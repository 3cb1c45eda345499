package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// Store defines user persistence. Implementations join the transaction
// carried by ctx.
type Store interface {
	FindByID(ctx context.Context, id int64) (User, error)
	FindByIDs(ctx context.Context, ids []int64) ([]User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	Create(ctx context.Context, user *User) error
	// Save persists user when its version is unchanged and bumps the version.
	Save(ctx context.Context, user *User) error
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	List(ctx context.Context, filter ListFilter, page shared.PageRequest) ([]User, int, error)
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

const userColumns = `id, first_name, last_name, email, username, COALESCE(phone_number, ''), password_hash, enabled, locked,
failed_login_attempts, locked_until, last_login_at, COALESCE(last_login_ip, ''), version, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Username, &u.PhoneNumber, &u.PasswordHash,
		&u.Enabled, &u.Locked, &u.FailedLoginAttempts, &u.LockedUntil, &u.LastLoginAt, &u.LastLoginIP,
		&u.Version, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (r *Repository) findOne(ctx context.Context, where string, arg any, missing string) (User, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrUserNotFound.Withf("user %s not found", missing)
	}
	if err != nil {
		return User{}, fmt.Errorf("users: find: %w", err)
	}
	return u, nil
}

func (r *Repository) FindByID(ctx context.Context, id int64) (User, error) {
	return r.findOne(ctx, "id = $1", id, fmt.Sprint(id))
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.findOne(ctx, "LOWER(email) = LOWER($1)", email, email)
}

func (r *Repository) FindByUsername(ctx context.Context, username string) (User, error) {
	return r.findOne(ctx, "LOWER(username) = LOWER($1)", username, username)
}

func (r *Repository) FindByIDs(ctx context.Context, ids []int64) ([]User, error) {
	if len(ids) == 0 {
		return []User{}, nil
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, fmt.Errorf("users: find by ids: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]User, error) {
	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *Repository) Create(ctx context.Context, user *User) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO users (first_name, last_name, email, username, phone_number, password_hash, enabled, created_at, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $8)
RETURNING id, version`,
		user.FirstName, user.LastName, user.Email, user.Username, user.PhoneNumber, user.PasswordHash, user.Enabled, user.CreatedAt,
	).Scan(&user.ID, &user.Version)
	switch {
	case db.IsUniqueViolation(err, "users_email_key"):
		return ErrEmailTaken.Wrap(err)
	case db.IsUniqueViolation(err, "users_username_key"):
		return ErrUsernameTaken.Wrap(err)
	case err != nil:
		return fmt.Errorf("users: create: %w", err)
	}
	user.UpdatedAt = user.CreatedAt
	return nil
}

func (r *Repository) Save(ctx context.Context, user *User) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE users SET
    first_name = $3, last_name = $4, phone_number = NULLIF($5, ''), password_hash = $6, enabled = $7, locked = $8,
    failed_login_attempts = $9, locked_until = $10, last_login_at = $11, last_login_ip = NULLIF($12, ''),
    updated_at = $13, version = version + 1
WHERE id = $1 AND version = $2`,
		user.ID, user.Version, user.FirstName, user.LastName, user.PhoneNumber, user.PasswordHash, user.Enabled, user.Locked,
		user.FailedLoginAttempts, user.LockedUntil, user.LastLoginAt, user.LastLoginIP, user.UpdatedAt)
	if err != nil {
		if db.IsRetryable(err) {
			return shared.ErrConcurrentModification.Wrap(err)
		}
		return fmt.Errorf("users: save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrentModification.Withf("user %d was modified concurrently, retry the operation", user.ID)
	}
	user.Version++
	return nil
}

func (r *Repository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`, email).Scan(&exists)
	return exists, err
}

func (r *Repository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(username) = LOWER($1))`, username).Scan(&exists)
	return exists, err
}

func (r *Repository) List(ctx context.Context, filter ListFilter, page shared.PageRequest) ([]User, int, error) {
	page = page.Normalize()
	var (
		conds []string
		args  []any
	)
	if q := strings.TrimSpace(filter.Query); q != "" {
		args = append(args, "%"+strings.ToLower(q)+"%")
		conds = append(conds, fmt.Sprintf("(LOWER(first_name || ' ' || last_name) LIKE $%[1]d OR LOWER(email) LIKE $%[1]d OR LOWER(username) LIKE $%[1]d)", len(args)))
	}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		conds = append(conds, fmt.Sprintf("enabled = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM users`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("users: count: %w", err)
	}
	args = append(args, page.Size, page.Offset())
	rows, err := conn.Query(ctx, fmt.Sprintf(`SELECT `+userColumns+` FROM users%s ORDER BY id LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()
	out, err := collectUsers(rows)
	return out, total, err
}
