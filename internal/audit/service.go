package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/commonwealth-builders/treasury/internal/shared"
)

// Service serves audit reads and the integrity reconciliation.
type Service struct {
	store Store
}

// NewService constructs the audit read service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// List returns a page of entries matching filter, newest first.
func (s *Service) List(ctx context.Context, filter Filter, page shared.PageRequest) (Result, error) {
	if s.store == nil {
		return Result{}, fmt.Errorf("audit: store not configured")
	}
	page = page.Normalize()
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return Result{}, shared.Validation("invalid date range", map[string]string{"from": "must not be after to"})
	}
	entries, err := s.store.List(ctx, filter, page.Size+1, page.Offset())
	if err != nil {
		return Result{}, err
	}
	hasNext := len(entries) > page.Size
	if hasNext {
		entries = entries[:page.Size]
	}
	paging := Paging{Page: page.Page, PerPage: page.Size, HasNext: hasNext}
	if page.Page > 1 {
		paging.PrevPage = page.Page - 1
	}
	if hasNext {
		paging.NextPage = page.Page + 1
	}
	return Result{Entries: entries, Paging: paging}, nil
}

// ListByUser returns the entries attributed to userID.
func (s *Service) ListByUser(ctx context.Context, userID int64, page shared.PageRequest) (Result, error) {
	return s.List(ctx, Filter{UserID: userID}, page)
}

// ListByModule returns the entries of one module.
func (s *Service) ListByModule(ctx context.Context, module Module, page shared.PageRequest) (Result, error) {
	return s.List(ctx, Filter{Module: module}, page)
}

// maxExportRows bounds a single CSV export.
const maxExportRows = 10000

// Export returns every entry matching filter up to the export bound.
func (s *Service) Export(ctx context.Context, filter Filter) ([]Entry, error) {
	if s.store == nil {
		return nil, fmt.Errorf("audit: store not configured")
	}
	return s.store.List(ctx, filter, maxExportRows, 0)
}

// Integrity compares state transitions against stored entries in [from, to)
// and returns the actions with missing entries.
func (s *Service) Integrity(ctx context.Context, from, to time.Time) ([]Gap, error) {
	if s.store == nil {
		return nil, fmt.Errorf("audit: store not configured")
	}
	if !from.Before(to) {
		return nil, shared.Validation("invalid date range", map[string]string{"from": "must be before to"})
	}
	var gaps []Gap
	for _, action := range ReconciledActions() {
		transitions, err := s.store.CountTransitions(ctx, action, from, to)
		if err != nil {
			return nil, err
		}
		entries, err := s.store.CountEntries(ctx, action, from, to)
		if err != nil {
			return nil, err
		}
		if transitions > entries {
			gaps = append(gaps, Gap{Action: action, Transitions: transitions, Entries: entries, Missing: transitions - entries})
		}
	}
	return gaps, nil
}
