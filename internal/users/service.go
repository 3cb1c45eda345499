package users

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/commonwealth-builders/treasury/internal/audit"
	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// SessionRevoker ends every session of a user.
type SessionRevoker interface {
	DestroyAll(ctx context.Context, userID int64) error
}

// Service handles user administration.
type Service struct {
	store    Store
	tx       db.Transactor
	audit    audit.Recorder
	sessions SessionRevoker
	clock    shared.Clock
	logger   *slog.Logger
}

// NewService builds Service instance. sessions may be nil.
func NewService(store Store, tx db.Transactor, recorder audit.Recorder, sessions SessionRevoker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, tx: tx, audit: recorder, sessions: sessions, clock: shared.SystemClock, logger: logger}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock shared.Clock) *Service {
	s.clock = clock
	return s
}

// Get returns one user.
func (s *Service) Get(ctx context.Context, id int64) (User, error) {
	return s.store.FindByID(ctx, id)
}

// List returns a page of users matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter, page shared.PageRequest) (shared.Page[User], error) {
	page = page.Normalize()
	items, total, err := s.store.List(ctx, filter, page)
	if err != nil {
		return shared.Page[User]{}, err
	}
	return shared.NewPage(items, page, total), nil
}

// Enable re-admits a disabled user.
func (s *Service) Enable(ctx context.Context, id int64, actor shared.Actor) (User, error) {
	return s.setEnabled(ctx, id, actor, true)
}

// Disable blocks a user from signing in and ends their sessions.
func (s *Service) Disable(ctx context.Context, id int64, actor shared.Actor) (User, error) {
	if actor.UserID == id {
		return User{}, ErrSelfDisable
	}
	user, err := s.setEnabled(ctx, id, actor, false)
	if err != nil {
		return User{}, err
	}
	if s.sessions != nil {
		if err := s.sessions.DestroyAll(ctx, id); err != nil {
			s.logger.Warn("revoke sessions of disabled user", slog.Int64("user_id", id), slog.Any("error", err))
		}
	}
	return user, nil
}

func (s *Service) setEnabled(ctx context.Context, id int64, actor shared.Actor, enabled bool) (User, error) {
	var user User
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.store.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if user.Enabled == enabled {
			if enabled {
				return ErrAlreadyEnabled.Withf("user %d is already enabled", id)
			}
			return ErrAlreadyDisabled.Withf("user %d is already disabled", id)
		}
		user.Enabled = enabled
		user.UpdatedAt = s.clock.Now()
		if err := s.store.Save(ctx, &user); err != nil {
			return err
		}
		action, verb := audit.ActionUserEnabled, "enabled"
		if !enabled {
			action, verb = audit.ActionUserDisabled, "disabled"
		}
		s.audit.Log(ctx, audit.Entry{
			UserID:      audit.ActorUserID(actor, id),
			Action:      action,
			Module:      audit.ModuleUsers,
			Description: fmt.Sprintf("User %s %s by %s", user.Username, verb, actor),
		})
		return nil
	})
	if err != nil {
		return User{}, err
	}
	return user, nil
}
