package reports

import (
	"context"

	"github.com/commonwealth-builders/treasury/internal/expenses"
	"github.com/commonwealth-builders/treasury/internal/payments"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// ListingStore computes aggregates by paging through the payment and expense
// stores. It backs seed dry runs and tests where no SQL is available.
type ListingStore struct {
	payments payments.Store
	expenses expenses.Store
}

// NewListingStore builds a ListingStore.
func NewListingStore(p payments.Store, e expenses.Store) *ListingStore {
	return &ListingStore{payments: p, expenses: e}
}

var _ Store = (*ListingStore)(nil)

const listingPageSize = 100

func eachPayment(ctx context.Context, store payments.Store, filter payments.ListFilter, fn func(payments.Payment)) error {
	for page := 1; ; page++ {
		items, total, err := store.List(ctx, filter, shared.PageRequest{Page: page, Size: listingPageSize})
		if err != nil {
			return err
		}
		for _, p := range items {
			fn(p)
		}
		if page*listingPageSize >= total {
			return nil
		}
	}
}

func (s *ListingStore) PaymentTotals(ctx context.Context, period Period) (PaymentTotals, error) {
	var out PaymentTotals
	err := eachPayment(ctx, s.payments, payments.ListFilter{From: period.From, To: period.To}, func(p payments.Payment) {
		out.Total += p.Amount
		out.Count++
		switch p.Status {
		case payments.StatusVerified:
			out.Verified += p.Amount
			out.VerifiedCount++
		case payments.StatusPending:
			out.Pending += p.Amount
			out.PendingCount++
		case payments.StatusRejected:
			out.RejectedCount++
		case payments.StatusCancelled:
			out.CancelledCount++
		}
	})
	return out, err
}

func (s *ListingStore) ExpenseTotals(ctx context.Context, period Period) (ExpenseTotals, error) {
	out := ExpenseTotals{ByCategory: map[string]shared.Money{}}
	filter := expenses.ListFilter{From: period.From, To: period.To}
	for page := 1; ; page++ {
		items, total, err := s.expenses.List(ctx, filter, shared.PageRequest{Page: page, Size: listingPageSize})
		if err != nil {
			return ExpenseTotals{}, err
		}
		for _, e := range items {
			if e.IsApproved {
				out.Approved += e.Amount
				out.ApprovedCount++
				out.ByCategory[string(e.Category)] += e.Amount
			} else {
				out.Pending += e.Amount
				out.PendingCount++
			}
		}
		if page*listingPageSize >= total {
			return out, nil
		}
	}
}

func (s *ListingStore) Contribution(ctx context.Context, userID int64) (ContributionTotals, error) {
	var out ContributionTotals
	err := eachPayment(ctx, s.payments, payments.ListFilter{UserID: userID}, func(p payments.Payment) {
		switch p.Status {
		case payments.StatusPending:
			out.Pending += p.Amount
		case payments.StatusVerified:
			out.Verified += p.Amount
			out.VerifiedCount++
			at := p.PaymentDate
			if out.First == nil || at.Before(*out.First) {
				out.First = &at
			}
			if out.Last == nil || at.After(*out.Last) {
				last := at
				out.Last = &last
			}
		}
	})
	return out, err
}
