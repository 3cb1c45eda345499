package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/commonwealth-builders/treasury/internal/audit"
	"github.com/commonwealth-builders/treasury/internal/audit/audittest"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

func seedEntries(t *testing.T, store *audittest.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		module := audit.ModulePayments
		if i%2 == 1 {
			module = audit.ModuleRoles
		}
		_, err := store.Append(context.Background(), audit.Entry{
			EventID:   string(rune('A' + i)),
			UserID:    int64(1 + i%2),
			Action:    audit.ActionPaymentCreated,
			Module:    module,
			CreatedAt: fixedNow.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
}

func TestServiceListPagesWithLookAhead(t *testing.T) {
	store := audittest.NewStore(1, 2)
	seedEntries(t, store, 5)
	svc := audit.NewService(store)

	first, err := svc.List(context.Background(), audit.Filter{}, shared.PageRequest{Page: 1, Size: 2})
	require.NoError(t, err)
	require.Len(t, first.Entries, 2)
	require.True(t, first.Paging.HasNext)
	require.Equal(t, 2, first.Paging.NextPage)
	require.True(t, first.Entries[0].CreatedAt.After(first.Entries[1].CreatedAt))

	last, err := svc.List(context.Background(), audit.Filter{}, shared.PageRequest{Page: 3, Size: 2})
	require.NoError(t, err)
	require.Len(t, last.Entries, 1)
	require.False(t, last.Paging.HasNext)
	require.Equal(t, 2, last.Paging.PrevPage)
}

func TestServiceListByUserAndModule(t *testing.T) {
	store := audittest.NewStore(1, 2)
	seedEntries(t, store, 4)
	svc := audit.NewService(store)

	byUser, err := svc.ListByUser(context.Background(), 2, shared.PageRequest{})
	require.NoError(t, err)
	require.Len(t, byUser.Entries, 2)
	require.Equal(t, 20, byUser.Paging.PerPage)

	byModule, err := svc.ListByModule(context.Background(), audit.ModulePayments, shared.PageRequest{Size: 500})
	require.NoError(t, err)
	require.Len(t, byModule.Entries, 2)
	require.Equal(t, 100, byModule.Paging.PerPage)
}

func TestServiceListRejectsInvertedRange(t *testing.T) {
	svc := audit.NewService(audittest.NewStore())
	_, err := svc.List(context.Background(), audit.Filter{From: fixedNow, To: fixedNow.Add(-time.Hour)}, shared.PageRequest{})
	require.Equal(t, shared.KindValidationFailure, shared.KindOf(err))
}

func TestServiceIntegrityReportsMissingEntries(t *testing.T) {
	store := audittest.NewStore(1, 2)
	seedEntries(t, store, 3)
	store.SetTransitions(audit.ActionPaymentCreated, 5)
	store.SetTransitions(audit.ActionExpenseApproved, 0)
	svc := audit.NewService(store)

	gaps, err := svc.Integrity(context.Background(), fixedNow.Add(-time.Hour), fixedNow.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, []audit.Gap{{Action: audit.ActionPaymentCreated, Transitions: 5, Entries: 3, Missing: 2}}, gaps)
}
