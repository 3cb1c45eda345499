package roles

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/commonwealth-builders/treasury/internal/audit"
	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// Service manages the role catalog.
type Service struct {
	store       Store
	tx          db.Transactor
	audit       audit.Recorder
	clock       shared.Clock
	invalidator CacheInvalidator
	logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(store Store, tx db.Transactor, recorder audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, tx: tx, audit: recorder, clock: shared.SystemClock, logger: logger}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock shared.Clock) *Service {
	s.clock = clock
	return s
}

// WithInvalidator registers the role cache evicted when a role stops or
// resumes granting permissions.
func (s *Service) WithInvalidator(inv CacheInvalidator) *Service {
	s.invalidator = inv
	return s
}

// GetRole returns a role by id.
func (s *Service) GetRole(ctx context.Context, id int64) (Role, error) {
	return s.store.FindByID(ctx, id)
}

// FindByName returns a role by its normalized name.
func (s *Service) FindByName(ctx context.Context, name string) (Role, error) {
	return s.store.FindByName(ctx, NormalizeName(name))
}

// ListRoles returns all roles, system roles first.
func (s *Service) ListRoles(ctx context.Context, activeOnly bool) ([]Role, error) {
	return s.store.List(ctx, activeOnly)
}

// CreateRole adds a role to the catalog. Only bootstrap creates system roles.
func (s *Service) CreateRole(ctx context.Context, input CreateRoleInput, actor shared.Actor) (Role, error) {
	if err := shared.Validate(input); err != nil {
		return Role{}, err
	}
	name := NormalizeName(input.Name)
	var role Role
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		exists, err := s.store.ExistsByName(ctx, name)
		if err != nil {
			return err
		}
		if exists {
			return ErrRoleExists.Withf("role %s already exists", name)
		}
		role = Role{
			Name:         name,
			DisplayName:  strings.TrimSpace(input.DisplayName),
			Description:  strings.TrimSpace(input.Description),
			IsSystemRole: input.IsSystem,
			IsActive:     true,
		}
		role.Stamp(actor.String(), s.clock.Now())
		if err := s.store.Create(ctx, &role); err != nil {
			return err
		}
		s.record(ctx, audit.ActionRoleCreated, actor, fmt.Sprintf("Role %s created by %s", role.Name, actor))
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// UpdateRole edits the display fields of a custom role.
func (s *Service) UpdateRole(ctx context.Context, id int64, input UpdateRoleInput, actor shared.Actor) (Role, error) {
	if err := shared.Validate(input); err != nil {
		return Role{}, err
	}
	return s.mutate(ctx, id, actor, func(role *Role) (audit.Action, string, error) {
		if role.IsSystemRole {
			return "", "", ErrProtectedRole.Withf("system role %s cannot be modified", role.Name)
		}
		role.DisplayName = strings.TrimSpace(input.DisplayName)
		role.Description = strings.TrimSpace(input.Description)
		return audit.ActionRoleUpdated, fmt.Sprintf("Role %s updated by %s", role.Name, actor), nil
	})
}

// ActivateRole lets a role grant permissions again.
func (s *Service) ActivateRole(ctx context.Context, id int64, actor shared.Actor) (Role, error) {
	return s.mutate(ctx, id, actor, func(role *Role) (audit.Action, string, error) {
		if role.IsActive {
			return "", "", ErrAlreadyActive.Withf("role %s is already active", role.Name)
		}
		role.IsActive = true
		return audit.ActionRoleActivated, fmt.Sprintf("Role %s activated by %s", role.Name, actor), nil
	})
}

// DeactivateRole stops a custom role from granting permissions. Ledger rows
// stay active so that reactivating the role restores the grants.
func (s *Service) DeactivateRole(ctx context.Context, id int64, actor shared.Actor) (Role, error) {
	return s.mutate(ctx, id, actor, func(role *Role) (audit.Action, string, error) {
		if role.IsSystemRole {
			return "", "", ErrProtectedRole.Withf("system role %s cannot be deactivated", role.Name)
		}
		if !role.IsActive {
			return "", "", ErrRoleInactive.Withf("role %s is already inactive", role.Name)
		}
		role.IsActive = false
		return audit.ActionRoleDeactivated, fmt.Sprintf("Role %s deactivated by %s", role.Name, actor), nil
	})
}

// DeleteRole soft deletes a custom role nobody holds.
func (s *Service) DeleteRole(ctx context.Context, id int64, actor shared.Actor) error {
	_, err := s.mutate(ctx, id, actor, func(role *Role) (audit.Action, string, error) {
		if role.IsSystemRole {
			return "", "", ErrProtectedRole.Withf("system role %s cannot be deleted", role.Name)
		}
		n, err := s.store.CountActiveAssignments(ctx, role.ID)
		if err != nil {
			return "", "", err
		}
		if n > 0 {
			return "", "", ErrRoleInUse.Withf("cannot delete role assigned to %d users", n)
		}
		role.MarkDeleted(actor.String(), s.clock.Now())
		return audit.ActionRoleDeleted, fmt.Sprintf("Role %s deleted by %s", role.Name, actor), nil
	})
	return err
}

func (s *Service) mutate(ctx context.Context, id int64, actor shared.Actor, apply func(*Role) (audit.Action, string, error)) (Role, error) {
	var role Role
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		role, err = s.store.FindByID(ctx, id)
		if err != nil {
			return err
		}
		wasActive := role.IsActive
		action, description, err := apply(&role)
		if err != nil {
			return err
		}
		role.Touch(actor.String(), s.clock.Now())
		if err := s.store.Save(ctx, &role); err != nil {
			return err
		}
		s.record(ctx, action, actor, description)
		if wasActive != role.IsActive {
			s.invalidateHolders(ctx, role.ID)
		}
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

func (s *Service) invalidateHolders(ctx context.Context, roleID int64) {
	if s.invalidator == nil {
		return
	}
	ids, err := s.store.ListActiveUserIDs(ctx, roleID)
	if err != nil {
		s.logger.Warn("list role holders for cache eviction", slog.Int64("role_id", roleID), slog.Any("error", err))
		return
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		for _, id := range ids {
			s.invalidator.Invalidate(ctx, id)
		}
	})
}

// record writes a catalog audit entry. Catalog changes made by SYSTEM have
// no user to attribute the entry to; once committed they are logged at Info
// with audit=false so reconciliation can pick them up.
func (s *Service) record(ctx context.Context, action audit.Action, actor shared.Actor, description string) {
	if actor.IsSystem() {
		db.AfterCommit(ctx, func(ctx context.Context) {
			s.logger.InfoContext(ctx, "role catalog change without audit entry",
				slog.String("action", string(action)),
				slog.String("actor", actor.String()),
				slog.String("description", description),
				slog.Bool("audit", false))
		})
		return
	}
	s.audit.Log(ctx, audit.Entry{
		UserID:      actor.UserID,
		Action:      action,
		Module:      audit.ModuleRoles,
		Description: description,
	})
}
