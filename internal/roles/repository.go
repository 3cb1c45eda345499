package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// Store persists the role catalog and the assignment ledger. Implementations
// join the transaction carried by ctx.
type Store interface {
	FindByID(ctx context.Context, id int64) (Role, error)
	FindByName(ctx context.Context, name string) (Role, error)
	List(ctx context.Context, activeOnly bool) ([]Role, error)
	Create(ctx context.Context, role *Role) error
	// Save persists role when its version is unchanged and bumps the version.
	Save(ctx context.Context, role *Role) error
	ExistsByName(ctx context.Context, name string) (bool, error)
	CountActiveAssignments(ctx context.Context, roleID int64) (int64, error)

	ActiveAssignment(ctx context.Context, userID, roleID int64) (Assignment, bool, error)
	LatestInactiveAssignment(ctx context.Context, userID, roleID int64) (Assignment, bool, error)
	// InsertAssignment returns ErrAlreadyAssigned when an active row exists.
	InsertAssignment(ctx context.Context, a *Assignment) error
	// UpdateAssignment rewrites a row whose active flag still equals wasActive.
	UpdateAssignment(ctx context.Context, a *Assignment, wasActive bool) error
	ListActiveRoles(ctx context.Context, userID int64) ([]Role, error)
	ListActiveUserIDs(ctx context.Context, roleID int64) ([]int64, error)
	ListAssignments(ctx context.Context, userID int64) ([]Assignment, error)
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

const roleColumns = `r.id, r.name, r.display_name, r.description, r.is_system_role, r.is_active,
r.created_at, r.updated_at, r.created_by, r.updated_by, r.version, r.deleted, r.deleted_at, r.deleted_by`

func scanRole(row pgx.Row) (Role, error) {
	var r Role
	err := row.Scan(&r.ID, &r.Name, &r.DisplayName, &r.Description, &r.IsSystemRole, &r.IsActive,
		&r.CreatedAt, &r.UpdatedAt, &r.CreatedBy, &r.UpdatedBy, &r.Version, &r.Deleted, &r.DeletedAt, &r.DeletedBy)
	return r, err
}

func collectRoles(rows pgx.Rows) ([]Role, error) {
	defer rows.Close()
	out := []Role{}
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (r *Repository) FindByID(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1 AND NOT r.deleted`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrRoleNotFound.Withf("role %d not found", id)
	}
	if err != nil {
		return Role{}, fmt.Errorf("roles: find: %w", err)
	}
	return role, nil
}

func (r *Repository) FindByName(ctx context.Context, name string) (Role, error) {
	role, err := scanRole(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.name = $1 AND NOT r.deleted`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrRoleNotFound.Withf("role %s not found", name)
	}
	if err != nil {
		return Role{}, fmt.Errorf("roles: find by name: %w", err)
	}
	return role, nil
}

func (r *Repository) List(ctx context.Context, activeOnly bool) ([]Role, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+roleColumns+` FROM roles r
WHERE NOT r.deleted AND (r.is_active OR NOT $1)
ORDER BY r.is_system_role DESC, r.name`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	return collectRoles(rows)
}

func (r *Repository) Create(ctx context.Context, role *Role) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO roles (name, display_name, description, is_system_role, is_active, created_at, updated_at, created_by, updated_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id, version`,
		role.Name, role.DisplayName, role.Description, role.IsSystemRole, role.IsActive,
		role.CreatedAt, role.UpdatedAt, role.CreatedBy, role.UpdatedBy,
	).Scan(&role.ID, &role.Version)
	if db.IsUniqueViolation(err, "roles_name_uniq") {
		return ErrRoleExists.Withf("role %s already exists", role.Name)
	}
	if err != nil {
		return fmt.Errorf("roles: create: %w", err)
	}
	return nil
}

func (r *Repository) Save(ctx context.Context, role *Role) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE roles SET
    display_name = $3, description = $4, is_active = $5, updated_at = $6, updated_by = $7,
    deleted = $8, deleted_at = $9, deleted_by = $10, version = version + 1
WHERE id = $1 AND version = $2`,
		role.ID, role.Version, role.DisplayName, role.Description, role.IsActive, role.UpdatedAt, role.UpdatedBy,
		role.Deleted, role.DeletedAt, role.DeletedBy)
	if err != nil {
		if db.IsRetryable(err) {
			return shared.ErrConcurrentModification.Wrap(err)
		}
		return fmt.Errorf("roles: save: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrConcurrentModification.Withf("role %d was modified concurrently, retry the operation", role.ID)
	}
	role.Version++
	return nil
}

func (r *Repository) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1 AND NOT deleted)`, name).Scan(&exists)
	return exists, err
}

func (r *Repository) CountActiveAssignments(ctx context.Context, roleID int64) (int64, error) {
	var n int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE role_id = $1 AND active`, roleID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("roles: count assignments: %w", err)
	}
	return n, nil
}

const assignmentColumns = `ur.id, ur.user_id, ur.role_id, r.name, ur.assigned_at, ur.assigned_by, ur.revoked_at, ur.revoked_by, ur.active, ur.remarks`

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	err := row.Scan(&a.ID, &a.UserID, &a.RoleID, &a.RoleName, &a.AssignedAt, &a.AssignedBy, &a.RevokedAt, &a.RevokedBy, &a.Active, &a.Remarks)
	return a, err
}

func (r *Repository) findAssignment(ctx context.Context, where string, userID, roleID int64) (Assignment, bool, error) {
	a, err := scanAssignment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+assignmentColumns+`
FROM user_roles ur JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id = $1 AND ur.role_id = $2 AND `+where+`
ORDER BY ur.assigned_at DESC, ur.id DESC
LIMIT 1
FOR UPDATE OF ur`, userID, roleID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, false, nil
	}
	if db.IsRetryable(err) {
		return Assignment{}, false, shared.ErrConcurrentModification.Wrap(err)
	}
	if err != nil {
		return Assignment{}, false, fmt.Errorf("roles: find assignment: %w", err)
	}
	return a, true, nil
}

func (r *Repository) ActiveAssignment(ctx context.Context, userID, roleID int64) (Assignment, bool, error) {
	return r.findAssignment(ctx, "ur.active", userID, roleID)
}

func (r *Repository) LatestInactiveAssignment(ctx context.Context, userID, roleID int64) (Assignment, bool, error) {
	return r.findAssignment(ctx, "NOT ur.active", userID, roleID)
}

func (r *Repository) InsertAssignment(ctx context.Context, a *Assignment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `INSERT INTO user_roles (user_id, role_id, assigned_at, assigned_by, active, remarks)
VALUES ($1, $2, $3, $4, TRUE, $5)
RETURNING id`, a.UserID, a.RoleID, a.AssignedAt, a.AssignedBy, a.Remarks).Scan(&a.ID)
	if db.IsUniqueViolation(err, "user_roles_active_uniq") {
		return ErrAlreadyAssigned.Withf("role %d is already assigned to user %d", a.RoleID, a.UserID)
	}
	if err != nil {
		return fmt.Errorf("roles: insert assignment: %w", err)
	}
	a.Active = true
	return nil
}

func (r *Repository) UpdateAssignment(ctx context.Context, a *Assignment, wasActive bool) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE user_roles SET
    assigned_at = $3, assigned_by = $4, revoked_at = $5, revoked_by = $6, active = $7, remarks = $8
WHERE id = $1 AND active = $2`,
		a.ID, wasActive, a.AssignedAt, a.AssignedBy, a.RevokedAt, a.RevokedBy, a.Active, a.Remarks)
	switch {
	case db.IsUniqueViolation(err, "user_roles_active_uniq"):
		return ErrAlreadyAssigned.Withf("role %d is already assigned to user %d", a.RoleID, a.UserID)
	case err != nil && db.IsRetryable(err):
		return shared.ErrConcurrentModification.Wrap(err)
	case err != nil:
		return fmt.Errorf("roles: update assignment: %w", err)
	case tag.RowsAffected() == 0:
		return shared.ErrConcurrentModification.Withf("assignment %d was modified concurrently, retry the operation", a.ID)
	}
	return nil
}

func (r *Repository) ListActiveRoles(ctx context.Context, userID int64) ([]Role, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+roleColumns+`
FROM user_roles ur JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id = $1 AND ur.active AND r.is_active AND NOT r.deleted
ORDER BY r.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("roles: list active roles: %w", err)
	}
	return collectRoles(rows)
}

func (r *Repository) ListActiveUserIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1 AND active ORDER BY user_id`, roleID)
	if err != nil {
		return nil, fmt.Errorf("roles: list role users: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("roles: list role users: %w", err)
	}
	return ids, nil
}

func (r *Repository) ListAssignments(ctx context.Context, userID int64) ([]Assignment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+assignmentColumns+`
FROM user_roles ur JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id = $1
ORDER BY ur.assigned_at DESC, ur.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("roles: list assignments: %w", err)
	}
	defer rows.Close()
	out := []Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
