package reports

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/commonwealth-builders/treasury/internal/shared"
	"github.com/commonwealth-builders/treasury/internal/users"
)

// UserLookup resolves members for contribution reports.
type UserLookup interface {
	FindByID(ctx context.Context, id int64) (users.User, error)
}

// Service builds financial reports with a versioned Redis cache in front.
type Service struct {
	store  Store
	users  UserLookup
	cache  *Cache
	clock  shared.Clock
	logger *slog.Logger
}

// NewService builds Service instance. cache may be nil.
func NewService(store Store, userLookup UserLookup, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, users: userLookup, cache: cache, clock: shared.SystemClock, logger: logger}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock shared.Clock) *Service {
	s.clock = clock
	return s
}

func (s *Service) period(p Period) (Period, error) {
	if p.From.IsZero() && p.To.IsZero() {
		return DefaultPeriod(s.clock.Now()), nil
	}
	if p.To.IsZero() {
		p.To = DefaultPeriod(s.clock.Now()).To
	}
	if p.From.IsZero() {
		p.From = p.To.AddDate(0, -1, 0)
	}
	if !p.From.Before(p.To) {
		return Period{}, ErrInvalidPeriod.Withf("period start %s must be before end %s", p.From.Format(time.DateOnly), p.To.Format(time.DateOnly))
	}
	return Period{From: p.From.UTC(), To: p.To.UTC()}, nil
}

// Summary returns income, spending and the net position for a period. The
// payment and expense aggregates run concurrently.
func (s *Service) Summary(ctx context.Context, period Period) (Summary, error) {
	period, err := s.period(period)
	if err != nil {
		return Summary{}, err
	}
	var out Summary
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		var (
			pays PaymentTotals
			exps ExpenseTotals
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			pays, err = s.store.PaymentTotals(gctx, period)
			return err
		})
		g.Go(func() error {
			var err error
			exps, err = s.store.ExpenseTotals(gctx, period)
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		summary := Summary{
			Period:             period,
			TotalIncome:        pays.Verified,
			TotalExpenses:      exps.Approved,
			NetBalance:         pays.Verified - exps.Approved,
			PendingPayments:    pays.Pending,
			TotalPaymentCount:  pays.Count,
			ApprovedCount:      exps.ApprovedCount,
			ExpensesByCategory: exps.ByCategory,
			GeneratedAt:        s.clock.Now(),
		}
		s.logger.InfoContext(ctx, "financial summary generated",
			slog.String("period", period.key()),
			slog.String("income", summary.TotalIncome.String()),
			slog.String("expenses", summary.TotalExpenses.String()))
		return summary, nil
	}, "summary", period.key())
	return out, err
}

// Monthly is the summary of one calendar month.
func (s *Service) Monthly(ctx context.Context, year int, month time.Month) (Summary, error) {
	if month < time.January || month > time.December || year < 2000 {
		return Summary{}, ErrInvalidPeriod.Withf("invalid month %d-%02d", year, month)
	}
	return s.Summary(ctx, MonthPeriod(year, month))
}

// Payments reports payment totals for a period.
func (s *Service) Payments(ctx context.Context, period Period) (PaymentReport, error) {
	period, err := s.period(period)
	if err != nil {
		return PaymentReport{}, err
	}
	var out PaymentReport
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		totals, err := s.store.PaymentTotals(ctx, period)
		if err != nil {
			return nil, err
		}
		return PaymentReport{Period: period, PaymentTotals: totals, GeneratedAt: s.clock.Now()}, nil
	}, "payments", period.key())
	return out, err
}

// Expenses reports approved spending for a period.
func (s *Service) Expenses(ctx context.Context, period Period) (ExpenseReport, error) {
	period, err := s.period(period)
	if err != nil {
		return ExpenseReport{}, err
	}
	var out ExpenseReport
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		totals, err := s.store.ExpenseTotals(ctx, period)
		if err != nil {
			return nil, err
		}
		return ExpenseReport{Period: period, ExpenseTotals: totals, GeneratedAt: s.clock.Now()}, nil
	}, "expenses", period.key())
	return out, err
}

// Contribution reports what a member has paid in.
func (s *Service) Contribution(ctx context.Context, userID int64) (Contribution, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return Contribution{}, err
	}
	var out Contribution
	err = s.cached(ctx, &out, func(ctx context.Context) (any, error) {
		totals, err := s.store.Contribution(ctx, userID)
		if err != nil {
			return nil, err
		}
		return Contribution{
			UserID:             user.ID,
			Email:              user.Email,
			FullName:           user.FullName(),
			ContributionTotals: totals,
			GeneratedAt:        s.clock.Now(),
		}, nil
	}, "contribution", strconv.FormatInt(userID, 10))
	return out, err
}

// Warm precomputes the current month summary and the default window.
func (s *Service) Warm(ctx context.Context) error {
	now := s.clock.Now().UTC()
	if _, err := s.Monthly(ctx, now.Year(), now.Month()); err != nil {
		return err
	}
	_, err := s.Summary(ctx, Period{})
	return err
}

// Invalidate drops every cached report.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

// RecordTransition invalidates cached reports after a payment or expense
// changes state.
func (s *Service) RecordTransition(aggregate, to string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Invalidate(ctx); err != nil {
		s.logger.Warn("invalidate report cache", slog.String("aggregate", aggregate), slog.String("to", to), slog.Any("error", err))
	}
}

func (s *Service) cached(ctx context.Context, dest any, load func(context.Context) (any, error), parts ...string) error {
	key, err := s.cache.BuildKey(ctx, parts...)
	if err != nil {
		s.logger.WarnContext(ctx, "report cache unavailable", slog.Any("error", err))
		key = ""
	}
	return s.cache.Fetch(ctx, key, dest, load)
}
