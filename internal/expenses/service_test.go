package expenses_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commonwealth-builders/treasury/internal/audit"
	"github.com/commonwealth-builders/treasury/internal/audit/audittest"
	"github.com/commonwealth-builders/treasury/internal/expenses"
	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/platform/httpx"
	"github.com/commonwealth-builders/treasury/internal/rbac"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

var now = time.Date(2026, 6, 2, 15, 0, 0, 0, time.UTC)

type fixture struct {
	store    *expenses.MemoryStore
	audit    *audittest.Store
	service  *expenses.Service
	tx       *db.MemoryTransactor
	approved int
	admin    shared.Actor
}

func (f *fixture) RecordTransition(aggregate, to string) {
	if aggregate == "expense" && to == "APPROVED" {
		f.approved++
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: expenses.NewMemoryStore(),
		audit: audittest.NewStore(7),
		admin: shared.Actor{UserID: 7, Name: "fin@club.test", Roles: []string{shared.RoleFinAdmin}},
	}
	f.tx = db.NewMemoryTransactor(f.store, f.audit)
	f.service = expenses.NewService(f.store, f.tx, audit.NewLogger(f.audit, nil), nil).
		WithClock(shared.FixedClock(now)).
		WithObserver(f)
	return f
}

func generator() expenses.Input {
	return expenses.Input{
		Title:       "Generator repair",
		Description: "Replaced the alternator on the clubhouse generator",
		Amount:      4500000,
		Category:    expenses.CategoryMaintenance,
		ExpenseDate: now.Add(-48 * time.Hour),
		Vendor:      "PowerFix Ltd",
	}
}

func TestApprovedExpenseIsImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.service.Create(ctx, generator(), f.admin)
	require.NoError(t, err)
	assert.False(t, e.IsApproved)

	approved, err := f.service.Approve(ctx, e.ID, f.admin, "within budget")
	require.NoError(t, err)
	assert.True(t, approved.IsApproved)
	require.NotNil(t, approved.ApprovedBy)
	assert.Equal(t, f.admin.UserID, *approved.ApprovedBy)
	assert.Equal(t, now, *approved.ApprovedAt)

	edit := generator()
	edit.Title = "Generator overhaul"
	_, err = f.service.Update(ctx, e.ID, edit, f.admin)
	require.ErrorIs(t, err, expenses.ErrAlreadyApproved)
	assert.Equal(t, shared.KindProtectedResource, shared.KindOf(err))

	err = f.service.Delete(ctx, e.ID, f.admin)
	require.ErrorIs(t, err, expenses.ErrAlreadyApproved)
	assert.Equal(t, shared.KindProtectedResource, shared.KindOf(err))

	_, err = f.service.AttachReceipt(ctx, e.ID, f.admin, "https://files.test/r.pdf")
	require.ErrorIs(t, err, expenses.ErrAlreadyApproved)

	_, err = f.service.Approve(ctx, e.ID, f.admin, "twice")
	require.ErrorIs(t, err, expenses.ErrAlreadyApproved)
	assert.Equal(t, shared.KindInvalidStateTransition, shared.KindOf(err))

	stored, err := f.service.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "Generator repair", stored.Title)
	assert.Equal(t, 1, f.approved)
	assert.Empty(t, f.audit.ByAction(audit.ActionExpenseUpdated))
	assert.Empty(t, f.audit.ByAction(audit.ActionExpenseDeleted))
}

func TestApprovalInRolledBackTransactionIsNotCounted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.service.Create(ctx, generator(), f.admin)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = f.tx.RunInTx(ctx, func(ctx context.Context) error {
		_, err := f.service.Approve(ctx, e.ID, f.admin, "")
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, f.approved)

	stored, err := f.service.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsApproved)

	_, err = f.service.Approve(ctx, e.ID, f.admin, "")
	require.NoError(t, err)
	assert.Equal(t, 1, f.approved)
}

func TestExpenseLifecycleAudit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	e, err := f.service.Create(ctx, generator(), f.admin)
	require.NoError(t, err)

	edit := generator()
	edit.Amount = 4700000
	edit.Category = "supplies"
	updated, err := f.service.Update(ctx, e.ID, edit, f.admin)
	require.NoError(t, err)
	assert.Equal(t, shared.Money(4700000), updated.Amount)
	assert.Equal(t, expenses.CategorySupplies, updated.Category)
	assert.Equal(t, int64(2), updated.Version)

	_, err = f.service.AttachReceipt(ctx, e.ID, f.admin, "https://files.test/receipt.pdf")
	require.NoError(t, err)
	require.NoError(t, f.service.Delete(ctx, e.ID, f.admin))
	_, err = f.service.Get(ctx, e.ID)
	require.ErrorIs(t, err, expenses.ErrExpenseNotFound)

	for _, action := range []audit.Action{audit.ActionExpenseCreated, audit.ActionExpenseUpdated, audit.ActionExpenseReceipt, audit.ActionExpenseDeleted} {
		entries := f.audit.ByAction(action)
		require.Len(t, entries, 1, action)
		assert.Equal(t, f.admin.UserID, entries[0].UserID)
		assert.Equal(t, audit.ModuleExpenses, entries[0].Module)
	}
	assert.Equal(t, "Expense deleted: Generator repair", f.audit.ByAction(audit.ActionExpenseDeleted)[0].Description)
}

func TestExpenseValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := map[string]func(*expenses.Input){
		"short title":       func(in *expenses.Input) { in.Title = "ab" },
		"short description": func(in *expenses.Input) { in.Description = "too short" },
		"zero amount":       func(in *expenses.Input) { in.Amount = 0 },
		"unknown category":  func(in *expenses.Input) { in.Category = "GIFTS" },
		"missing date":      func(in *expenses.Input) { in.ExpenseDate = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := generator()
			mutate(&in)
			_, err := f.service.Create(ctx, in, f.admin)
			assert.Equal(t, shared.KindValidationFailure, shared.KindOf(err))
		})
	}
	assert.Empty(t, f.audit.ByAction(audit.ActionExpenseCreated))

	_, err := f.service.Approve(ctx, 99, f.admin, "")
	require.ErrorIs(t, err, expenses.ErrExpenseNotFound)
}

func TestListExpenses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.service.Create(ctx, generator(), f.admin)
	require.NoError(t, err)
	party := generator()
	party.Title = "End of year party"
	party.Category = expenses.CategoryEvents
	party.Vendor = "Jollof Hub"
	_, err = f.service.Create(ctx, party, f.admin)
	require.NoError(t, err)
	_, err = f.service.Approve(ctx, a.ID, f.admin, "")
	require.NoError(t, err)

	pending, err := f.service.ListPending(ctx, shared.PageRequest{})
	require.NoError(t, err)
	require.Len(t, pending.Items, 1)
	assert.Equal(t, "End of year party", pending.Items[0].Title)

	page, err := f.service.List(ctx, expenses.ListFilter{Query: "jollof"}, shared.PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	page, err = f.service.List(ctx, expenses.ListFilter{Category: expenses.CategoryMaintenance}, shared.PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	_, err = f.service.List(ctx, expenses.ListFilter{Category: "GIFTS"}, shared.PageRequest{})
	assert.Equal(t, shared.KindValidationFailure, shared.KindOf(err))
}

type stubSessions map[string]*shared.Session

func (s stubSessions) TokenFromRequest(r *http.Request) string { return r.Header.Get("X-Token") }

func (s stubSessions) Load(_ context.Context, token string) (*shared.Session, error) {
	if sess, ok := s[token]; ok {
		return sess, nil
	}
	return nil, shared.ErrSessionNotFound
}

type staticRoles map[int64][]string

func (s staticRoles) ActiveRoleNames(_ context.Context, userID int64) ([]string, error) {
	return s[userID], nil
}

func TestExpenseRoutes(t *testing.T) {
	f := newFixture(t)
	f.audit.AddUser(8)
	mw := rbac.Middleware{
		Sessions: stubSessions{
			"fin":  {UserID: 7, Email: "fin@club.test"},
			"root": {UserID: 8, Email: "root@club.test"},
			"tech": {UserID: 9, Email: "tech@club.test"},
		},
		Service: rbac.NewService(staticRoles{7: {shared.RoleFinAdmin}, 8: {shared.RoleSuperAdmin}, 9: {shared.RoleTechAdmin}}, nil, nil),
	}
	r := chi.NewRouter()
	r.Use(mw.Authenticate)
	r.Route("/expenses", expenses.NewHandler(nil, f.service, nil, mw).MountRoutes)

	call := func(method, path, body, token string) (int, httpx.Result) {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("X-Token", token)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		var res httpx.Result
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res), rr.Body.String())
		return rr.Code, res
	}

	body := `{"title":"Water bill","description":"Clubhouse water bill for May","amount":12000.75,"category":"UTILITIES","expenseDate":"2026-05-31T00:00:00Z"}`
	code, res := call(http.MethodPost, "/expenses/", body, "tech")
	assert.Equal(t, http.StatusForbidden, code)
	code, res = call(http.MethodPost, "/expenses/", body, "fin")
	require.Equal(t, http.StatusCreated, code, res.Message)
	id := int64(res.Data.(map[string]any)["id"].(float64))

	code, _ = call(http.MethodDelete, fmt.Sprintf("/expenses/%d", id), "", "fin")
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = call(http.MethodPost, fmt.Sprintf("/expenses/%d/approve", id), "", "fin")
	require.Equal(t, http.StatusOK, code)
	code, res = call(http.MethodPost, fmt.Sprintf("/expenses/%d/approve", id), "", "fin")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "ALREADY_APPROVED", res.Error.Code)
	code, res = call(http.MethodPut, fmt.Sprintf("/expenses/%d", id), body, "fin")
	assert.Equal(t, http.StatusLocked, code)
	assert.Equal(t, "ALREADY_APPROVED", res.Error.Code)
	code, _ = call(http.MethodDelete, fmt.Sprintf("/expenses/%d", id), "", "root")
	assert.Equal(t, http.StatusLocked, code)
	code, _ = call(http.MethodPost, fmt.Sprintf("/expenses/%d/receipt", id), `{"fileName":"r.pdf","contentType":"application/pdf"}`, "fin")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, res = call(http.MethodGet, "/expenses/categories", "", "fin")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, res.Data, 9)
}
