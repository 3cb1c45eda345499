package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/commonwealth-builders/treasury/internal/audit"
	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/shared"
	"github.com/commonwealth-builders/treasury/internal/users"
)

// UserLookup resolves users referenced by the ledger.
type UserLookup interface {
	FindByID(ctx context.Context, id int64) (users.User, error)
	FindByIDs(ctx context.Context, ids []int64) ([]users.User, error)
}

// CacheInvalidator drops cached role sets after a committed grant change.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, userID int64)
}

// Ledger owns the user/role relation. Every grant change runs in one
// transaction together with its audit entry.
type Ledger struct {
	store       Store
	users       UserLookup
	tx          db.Transactor
	audit       audit.Recorder
	clock       shared.Clock
	invalidator CacheInvalidator
	logger      *slog.Logger
}

// NewLedger constructs the assignment ledger.
func NewLedger(store Store, userLookup UserLookup, tx db.Transactor, recorder audit.Recorder, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, users: userLookup, tx: tx, audit: recorder, clock: shared.SystemClock, logger: logger}
}

// WithClock overrides the time source.
func (l *Ledger) WithClock(clock shared.Clock) *Ledger {
	l.clock = clock
	return l
}

// WithInvalidator registers the role cache to evict after commits.
func (l *Ledger) WithInvalidator(inv CacheInvalidator) *Ledger {
	l.invalidator = inv
	return l
}

// AssignRole grants roleID to userID.
func (l *Ledger) AssignRole(ctx context.Context, userID, roleID int64, actor shared.Actor, remark string) (Assignment, error) {
	if err := checkRemark(remark); err != nil {
		return Assignment{}, err
	}
	var out Assignment
	err := l.tx.RunInTx(ctx, func(ctx context.Context) error {
		user, role, err := l.resolve(ctx, userID, roleID)
		if err != nil {
			return err
		}
		out, err = l.grant(ctx, user, role, actor, remark)
		return err
	})
	if err != nil {
		return Assignment{}, err
	}
	return out, nil
}

// AssignRoles grants every role in roleIDs to userID, all or nothing. Every
// role is resolved before the first row is written.
func (l *Ledger) AssignRoles(ctx context.Context, userID int64, roleIDs []int64, actor shared.Actor, remark string) ([]Assignment, error) {
	if err := checkRemark(remark); err != nil {
		return nil, err
	}
	ids := dedupe(roleIDs)
	if len(ids) == 0 {
		return nil, shared.Validation("no roles to assign", map[string]string{"roleIds": "must contain at least one role"})
	}
	var out []Assignment
	err := l.tx.RunInTx(ctx, func(ctx context.Context) error {
		user, err := l.users.FindByID(ctx, userID)
		if err != nil {
			return err
		}
		resolved := make([]Role, 0, len(ids))
		for _, id := range ids {
			role, err := l.activeRole(ctx, id)
			if err != nil {
				return err
			}
			resolved = append(resolved, role)
		}
		out = make([]Assignment, 0, len(resolved))
		for _, role := range resolved {
			a, err := l.grant(ctx, user, role, actor, remark)
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RevokeRole deactivates the active grant of roleID to userID. The row stays
// as history.
func (l *Ledger) RevokeRole(ctx context.Context, userID, roleID int64, actor shared.Actor) error {
	return l.tx.RunInTx(ctx, func(ctx context.Context) error {
		user, err := l.users.FindByID(ctx, userID)
		if err != nil {
			return err
		}
		role, err := l.store.FindByID(ctx, roleID)
		if err != nil {
			return err
		}
		a, ok, err := l.store.ActiveAssignment(ctx, userID, roleID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotAssigned.Withf("role %s is not assigned to user %s", role.Name, user.Username)
		}
		now := l.clock.Now()
		a.Active = false
		a.RevokedAt = &now
		a.RevokedBy = actor.String()
		if err := l.store.UpdateAssignment(ctx, &a, true); err != nil {
			return err
		}
		l.record(ctx, audit.ActionRoleRevoked, actor, user,
			fmt.Sprintf("Role %s revoked from user %s by %s", role.Name, user.Username, actor))
		return nil
	})
}

// ReactivateRole re-stamps the most recent revoked grant instead of adding a
// new row.
func (l *Ledger) ReactivateRole(ctx context.Context, userID, roleID int64, actor shared.Actor) (Assignment, error) {
	var out Assignment
	err := l.tx.RunInTx(ctx, func(ctx context.Context) error {
		user, role, err := l.resolve(ctx, userID, roleID)
		if err != nil {
			return err
		}
		if _, ok, err := l.store.ActiveAssignment(ctx, userID, roleID); err != nil {
			return err
		} else if ok {
			return ErrAlreadyAssigned.Withf("role %s is already assigned to user %s", role.Name, user.Username)
		}
		a, ok, err := l.store.LatestInactiveAssignment(ctx, userID, roleID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoHistory.Withf("user %s has never held role %s", user.Username, role.Name)
		}
		a.Active = true
		a.AssignedAt = l.clock.Now()
		a.AssignedBy = actor.String()
		a.RevokedAt = nil
		a.RevokedBy = ""
		if err := l.store.UpdateAssignment(ctx, &a, false); err != nil {
			return err
		}
		l.record(ctx, audit.ActionRoleReactivated, actor, user,
			fmt.Sprintf("Role %s reactivated for user %s by %s", role.Name, user.Username, actor))
		out = a
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}
	return out, nil
}

// ListActiveRoles returns the roles that currently grant userID permissions.
// A deactivated role grants nothing even while its row is active.
func (l *Ledger) ListActiveRoles(ctx context.Context, userID int64) ([]Role, error) {
	if _, err := l.users.FindByID(ctx, userID); err != nil {
		return nil, err
	}
	return l.store.ListActiveRoles(ctx, userID)
}

// ActiveRoleNames lists the names of ListActiveRoles. It backs the rbac cache.
func (l *Ledger) ActiveRoleNames(ctx context.Context, userID int64) ([]string, error) {
	roles, err := l.store.ListActiveRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names, nil
}

// ListUsersForRole returns the users holding an active grant of roleID.
func (l *Ledger) ListUsersForRole(ctx context.Context, roleID int64) ([]users.User, error) {
	if _, err := l.store.FindByID(ctx, roleID); err != nil {
		return nil, err
	}
	ids, err := l.store.ListActiveUserIDs(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return l.users.FindByIDs(ctx, ids)
}

// History returns every ledger row of userID, newest first.
func (l *Ledger) History(ctx context.Context, userID int64) ([]Assignment, error) {
	if _, err := l.users.FindByID(ctx, userID); err != nil {
		return nil, err
	}
	return l.store.ListAssignments(ctx, userID)
}

func (l *Ledger) resolve(ctx context.Context, userID, roleID int64) (users.User, Role, error) {
	user, err := l.users.FindByID(ctx, userID)
	if err != nil {
		return users.User{}, Role{}, err
	}
	role, err := l.activeRole(ctx, roleID)
	if err != nil {
		return users.User{}, Role{}, err
	}
	return user, role, nil
}

func (l *Ledger) activeRole(ctx context.Context, roleID int64) (Role, error) {
	role, err := l.store.FindByID(ctx, roleID)
	if err != nil {
		return Role{}, err
	}
	if !role.IsActive {
		return Role{}, ErrRoleInactive.Withf("role %s is not active", role.Name)
	}
	return role, nil
}

func (l *Ledger) grant(ctx context.Context, user users.User, role Role, actor shared.Actor, remark string) (Assignment, error) {
	if _, ok, err := l.store.ActiveAssignment(ctx, user.ID, role.ID); err != nil {
		return Assignment{}, err
	} else if ok {
		return Assignment{}, ErrAlreadyAssigned.Withf("role %s is already assigned to user %s", role.Name, user.Username)
	}
	a := Assignment{
		UserID:     user.ID,
		RoleID:     role.ID,
		RoleName:   role.Name,
		AssignedAt: l.clock.Now(),
		AssignedBy: actor.String(),
		Remarks:    strings.TrimSpace(remark),
	}
	if err := l.store.InsertAssignment(ctx, &a); err != nil {
		return Assignment{}, err
	}
	l.record(ctx, audit.ActionRoleAssigned, actor, user,
		fmt.Sprintf("Role %s assigned to user %s by %s", role.Name, user.Username, actor))
	return a, nil
}

func (l *Ledger) record(ctx context.Context, action audit.Action, actor shared.Actor, user users.User, description string) {
	l.audit.Log(ctx, audit.Entry{
		UserID:      audit.ActorUserID(actor, user.ID),
		Action:      action,
		Module:      audit.ModuleRoles,
		Description: description,
	})
	if l.invalidator != nil {
		userID := user.ID
		db.AfterCommit(ctx, func(ctx context.Context) {
			l.invalidator.Invalidate(ctx, userID)
		})
	}
}

func checkRemark(remark string) error {
	if len(remark) > maxRemarkLength {
		return shared.Validation("remark too long", map[string]string{"remarks": fmt.Sprintf("must be at most %d characters", maxRemarkLength)})
	}
	return nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
