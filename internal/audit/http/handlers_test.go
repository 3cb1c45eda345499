package audithttp

import (
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/commonwealth-builders/treasury/internal/audit"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

type stubService struct {
	result     audit.Result
	entries    []audit.Entry
	lastFilter audit.Filter
	lastPage   shared.PageRequest
}

func (s *stubService) List(ctx context.Context, filter audit.Filter, page shared.PageRequest) (audit.Result, error) {
	s.lastFilter = filter
	s.lastPage = page
	return s.result, nil
}

func (s *stubService) Export(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	s.lastFilter = filter
	return s.entries, nil
}

func newRouter(svc *stubService) http.Handler {
	h := NewHandler(nil, svc)
	h.now = func() time.Time { return time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestListParsesFilters(t *testing.T) {
	svc := &stubService{result: audit.Result{Entries: []audit.Entry{{EventID: "01J", Action: audit.ActionRoleAssigned}}}}
	req := httptest.NewRequest(http.MethodGet, "/audit?userId=4&module=roles&action=role_assigned&from=2025-03-01&page=2&size=5", nil)
	rr := httptest.NewRecorder()

	newRouter(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, int64(4), svc.lastFilter.UserID)
	require.Equal(t, audit.ModuleRoles, svc.lastFilter.Module)
	require.Equal(t, audit.ActionRoleAssigned, svc.lastFilter.Action)
	require.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), svc.lastFilter.From)
	require.Equal(t, shared.PageRequest{Page: 2, Size: 5}, svc.lastPage)
	require.Contains(t, rr.Body.String(), `"success":true`)
}

func TestListRejectsBadDate(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/audit?from=yesterday", nil)
	rr := httptest.NewRecorder()

	newRouter(&stubService{}).ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestExportWritesCSVWithDefaultWindow(t *testing.T) {
	svc := &stubService{entries: []audit.Entry{{
		EventID:     "01HZX",
		UserID:      3,
		Module:      audit.ModulePayments,
		Action:      audit.ActionPaymentVerified,
		Description: "Payment REF1 verified by admin, with remarks",
		CreatedAt:   time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC),
	}}}
	req := httptest.NewRequest(http.MethodGet, "/audit/export.csv", nil)
	rr := httptest.NewRecorder()

	newRouter(svc).ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "text/csv; charset=utf-8", rr.Header().Get("Content-Type"))
	require.Equal(t, 7*24*time.Hour, svc.lastFilter.To.Sub(svc.lastFilter.From))

	records, err := csv.NewReader(strings.NewReader(rr.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "Payment REF1 verified by admin, with remarks", records[1][5])
}

func TestExportRejectsWideWindow(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/audit/export.csv?from=2024-01-01&to=2025-01-01", nil)
	rr := httptest.NewRecorder()

	newRouter(&stubService{}).ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
}
