package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/commonwealth-builders/treasury/internal/platform/cache"
)

// RoleSource lists the names of the roles a user actively holds.
type RoleSource interface {
	ActiveRoleNames(ctx context.Context, userID int64) ([]string, error)
}

// Service resolves a user's effective roles through a Redis cache in front of
// the assignment ledger.
type Service struct {
	source RoleSource
	cache  *cache.JSON
	group  singleflight.Group
	logger *slog.Logger
}

// NewService constructs a Service. A nil cache disables caching.
func NewService(source RoleSource, roleCache *cache.JSON, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, cache: roleCache, logger: logger}
}

// RoleNames returns the sorted role names held by userID. Concurrent misses
// for the same user share one ledger read.
func (s *Service) RoleNames(ctx context.Context, userID int64) ([]string, error) {
	key := strconv.FormatInt(userID, 10)
	var cached []string
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("rbac cache read", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	if hit {
		return cached, nil
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		names, err := s.source.ActiveRoleNames(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("rbac: load roles of user %d: %w", userID, err)
		}
		sort.Strings(names)
		if err := s.cache.Set(ctx, key, names); err != nil {
			s.logger.Warn("rbac cache write", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	names := v.([]string)
	return append([]string(nil), names...), nil
}

// Invalidate drops the cached roles of userID. The ledger calls it after a
// committed grant change.
func (s *Service) Invalidate(ctx context.Context, userID int64) {
	if err := s.cache.Delete(ctx, strconv.FormatInt(userID, 10)); err != nil {
		s.logger.Warn("rbac cache invalidate", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
