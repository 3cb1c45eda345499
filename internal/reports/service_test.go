package reports_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commonwealth-builders/treasury/internal/expenses"
	"github.com/commonwealth-builders/treasury/internal/payments"
	"github.com/commonwealth-builders/treasury/internal/reports"
	"github.com/commonwealth-builders/treasury/internal/shared"
	"github.com/commonwealth-builders/treasury/internal/users"
)

var now = time.Date(2026, 5, 20, 15, 4, 0, 0, time.UTC)

type fixture struct {
	payments *payments.MemoryStore
	expenses *expenses.MemoryStore
	users    *users.MemoryStore
	redis    *miniredis.Miniredis
	service  *reports.Service
	member   users.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		payments: payments.NewMemoryStore(),
		expenses: expenses.NewMemoryStore(),
		users:    users.NewMemoryStore(),
		redis:    mr,
	}
	f.member = users.User{FirstName: "Ada", LastName: "Obi", Email: "ada@club.test", Username: "ada", Enabled: true, CreatedAt: now}
	require.NoError(t, f.users.Create(context.Background(), &f.member))
	store := reports.NewListingStore(f.payments, f.expenses)
	f.service = reports.NewService(store, f.users, reports.NewCache(client, time.Hour, nil), nil).
		WithClock(shared.FixedClock(now))
	return f
}

func (f *fixture) payment(t *testing.T, ref string, amount shared.Money, status payments.Status, at time.Time) {
	t.Helper()
	p := payments.Payment{UserID: f.member.ID, Amount: amount, Reference: ref, PaymentDate: at, Status: status, IsVerified: status == payments.StatusVerified}
	require.NoError(t, f.payments.Create(context.Background(), &p))
}

func (f *fixture) expense(t *testing.T, title string, amount shared.Money, category expenses.Category, approved bool, at time.Time) {
	t.Helper()
	e := expenses.Expense{Title: title, Description: "club spending", Amount: amount, Category: category, ExpenseDate: at, IsApproved: approved}
	require.NoError(t, f.expenses.Create(context.Background(), &e))
}

func TestSummaryCountsVerifiedIncomeAndApprovedSpending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := now.AddDate(0, 0, -3)

	f.payment(t, "P-1", 50000, payments.StatusVerified, day)
	f.payment(t, "P-2", 20000, payments.StatusPending, day)
	f.payment(t, "P-3", 9900, payments.StatusRejected, day)
	f.payment(t, "P-OLD", 70000, payments.StatusVerified, now.AddDate(0, -3, 0))
	f.expense(t, "Floodlights", 15000, expenses.CategoryUtilities, true, day)
	f.expense(t, "Kit wash", 5000, expenses.CategorySupplies, true, day)
	f.expense(t, "Coach bus", 30000, expenses.CategoryTransport, false, day)

	summary, err := f.service.Summary(ctx, reports.Period{})
	require.NoError(t, err)
	assert.Equal(t, reports.DefaultPeriod(now), summary.Period)
	assert.Equal(t, shared.Money(50000), summary.TotalIncome)
	assert.Equal(t, shared.Money(20000), summary.TotalExpenses)
	assert.Equal(t, shared.Money(30000), summary.NetBalance)
	assert.Equal(t, shared.Money(20000), summary.PendingPayments)
	assert.Equal(t, 3, summary.TotalPaymentCount)
	assert.Equal(t, 2, summary.ApprovedCount)
	assert.Equal(t, map[string]shared.Money{"UTILITIES": 15000, "SUPPLIES": 5000}, summary.ExpensesByCategory)
}

func TestSummaryIsCachedUntilATransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	day := now.AddDate(0, 0, -1)
	f.payment(t, "P-1", 10000, payments.StatusVerified, day)

	first, err := f.service.Summary(ctx, reports.Period{})
	require.NoError(t, err)
	assert.Equal(t, shared.Money(10000), first.TotalIncome)

	f.payment(t, "P-2", 5000, payments.StatusVerified, day)
	cached, err := f.service.Summary(ctx, reports.Period{})
	require.NoError(t, err)
	assert.Equal(t, shared.Money(10000), cached.TotalIncome)

	f.service.RecordTransition("payment", "VERIFIED")
	fresh, err := f.service.Summary(ctx, reports.Period{})
	require.NoError(t, err)
	assert.Equal(t, shared.Money(15000), fresh.TotalIncome)

	ver, err := f.redis.Get("reports:version")
	require.NoError(t, err)
	assert.Equal(t, "2", ver)
}

func TestSummaryFallsBackWhenRedisIsDown(t *testing.T) {
	f := newFixture(t)
	f.payment(t, "P-1", 10000, payments.StatusVerified, now.AddDate(0, 0, -1))
	f.redis.Close()

	summary, err := f.service.Summary(context.Background(), reports.Period{})
	require.NoError(t, err)
	assert.Equal(t, shared.Money(10000), summary.TotalIncome)
}

func TestInvalidPeriods(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.Summary(ctx, reports.Period{From: now, To: now.AddDate(0, 0, -1)})
	require.ErrorIs(t, err, reports.ErrInvalidPeriod)
	assert.Equal(t, shared.KindValidationFailure, shared.KindOf(err))

	_, err = f.service.Monthly(ctx, 2026, 13)
	require.ErrorIs(t, err, reports.ErrInvalidPeriod)
}

func TestMonthlyAndDetailReports(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	april := time.Date(2026, 4, 30, 23, 0, 0, 0, time.UTC)
	f.payment(t, "APR", 40000, payments.StatusVerified, april)
	f.payment(t, "APR-C", 1000, payments.StatusCancelled, april)
	f.payment(t, "MAY", 25000, payments.StatusVerified, april.Add(2*time.Hour))
	f.expense(t, "Referee fees", 12000, expenses.CategoryEvents, true, april)
	f.expense(t, "Paint", 3000, expenses.CategoryMaintenance, false, april)

	monthly, err := f.service.Monthly(ctx, 2026, time.April)
	require.NoError(t, err)
	assert.Equal(t, shared.Money(40000), monthly.TotalIncome)
	assert.Equal(t, shared.Money(28000), monthly.NetBalance)

	pays, err := f.service.Payments(ctx, reports.MonthPeriod(2026, time.April))
	require.NoError(t, err)
	assert.Equal(t, shared.Money(41000), pays.Total)
	assert.Equal(t, 1, pays.CancelledCount)

	exps, err := f.service.Expenses(ctx, reports.MonthPeriod(2026, time.April))
	require.NoError(t, err)
	assert.Equal(t, shared.Money(12000), exps.Approved)
	assert.Equal(t, shared.Money(3000), exps.Pending)
	assert.Equal(t, 1, exps.PendingCount)
}

func TestContribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := time.Date(2025, 11, 2, 0, 0, 0, 0, time.UTC)
	f.payment(t, "C-1", 10000, payments.StatusVerified, first)
	f.payment(t, "C-2", 10000, payments.StatusVerified, first.AddDate(0, 2, 0))
	f.payment(t, "C-3", 7500, payments.StatusPending, now)

	report, err := f.service.Contribution(ctx, f.member.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Obi", report.FullName)
	assert.Equal(t, shared.Money(20000), report.Verified)
	assert.Equal(t, shared.Money(7500), report.Pending)
	assert.Equal(t, 2, report.VerifiedCount)
	require.NotNil(t, report.First)
	assert.True(t, report.First.Equal(first))
	assert.True(t, report.Last.Equal(first.AddDate(0, 2, 0)))

	_, err = f.service.Contribution(ctx, 999)
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))
}
