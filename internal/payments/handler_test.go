package payments_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commonwealth-builders/treasury/internal/payments"
	"github.com/commonwealth-builders/treasury/internal/platform/httpx"
	"github.com/commonwealth-builders/treasury/internal/platform/storage"
	"github.com/commonwealth-builders/treasury/internal/rbac"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

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

type fakePresigner struct{}

func (fakePresigner) PresignPut(_ context.Context, prefix, fileName, _ string) (storage.Upload, error) {
	key := prefix + "/" + fileName
	return storage.Upload{Method: http.MethodPut, URL: "https://bucket.test/" + key + "?sig=1", ObjectURL: "https://bucket.test/" + key, Key: key}, nil
}

func newRouter(f *fixture, uploads storage.Presigner) http.Handler {
	mw := rbac.Middleware{
		Sessions: stubSessions{
			"member":    {UserID: f.member.UserID, Email: f.member.Name},
			"treasurer": {UserID: f.admin.UserID, Email: f.admin.Name},
		},
		Service: rbac.NewService(staticRoles{
			f.member.UserID: {shared.RoleUser},
			f.admin.UserID:  {shared.RoleFinAdmin},
		}, nil, nil),
	}
	r := chi.NewRouter()
	r.Use(mw.Authenticate)
	r.Route("/payments", payments.NewHandler(nil, f.service, uploads, mw).MountRoutes)
	return r
}

func call(t *testing.T, h http.Handler, method, path, body, token string) (int, httpx.Result) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Token", token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var res httpx.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res), rr.Body.String())
	return rr.Code, res
}

func TestPaymentRoutes(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f, fakePresigner{})

	code, res := call(t, router, http.MethodPost, "/payments/", `{"amount":"250.50","reference":"HTTP-1","paymentDate":"2026-03-01T00:00:00Z"}`, "member")
	require.Equal(t, http.StatusCreated, code, res.Message)
	data := res.Data.(map[string]any)
	assert.Equal(t, 250.5, data["amount"])
	assert.Equal(t, "PENDING", data["status"])
	id := int64(data["id"].(float64))

	code, _ = call(t, router, http.MethodPut, fmt.Sprintf("/payments/%d/verify", id), `{"remarks":"ok"}`, "member")
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = call(t, router, http.MethodGet, "/payments/pending", "", "member")
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = call(t, router, http.MethodGet, "/payments/pending", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, res = call(t, router, http.MethodPost, fmt.Sprintf("/payments/%d/proof", id), `{"fileName":"slip.png","contentType":"image/png"}`, "member")
	require.Equal(t, http.StatusOK, code, res.Message)
	upload := res.Data.(map[string]any)["upload"].(map[string]any)
	assert.Equal(t, "https://bucket.test/payments/proofs/slip.png?sig=1", upload["url"])

	code, res = call(t, router, http.MethodPut, fmt.Sprintf("/payments/%d/verify", id), ``, "treasurer")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, string(shared.KindValidationFailure), res.Error.Kind)

	code, res = call(t, router, http.MethodPut, fmt.Sprintf("/payments/%d/verify", id), `{"remarks":"ok"}`, "treasurer")
	require.Equal(t, http.StatusOK, code, res.Message)
	assert.Equal(t, true, res.Data.(map[string]any)["isVerified"])

	code, res = call(t, router, http.MethodPut, fmt.Sprintf("/payments/%d/verify", id), `{"remarks":"again"}`, "treasurer")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "ALREADY_VERIFIED", res.Error.Code)

	code, res = call(t, router, http.MethodPut, fmt.Sprintf("/payments/%d/cancel", id), ``, "member")
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "CANNOT_CANCEL_VERIFIED", res.Error.Code)

	code, res = call(t, router, http.MethodGet, "/payments/?verified=true", "", "treasurer")
	require.Equal(t, http.StatusOK, code)
	items := res.Data.(map[string]any)["items"].([]any)
	assert.Len(t, items, 1)

	code, _ = call(t, router, http.MethodGet, fmt.Sprintf("/payments/user/%d", f.admin.UserID), "", "member")
	assert.Equal(t, http.StatusForbidden, code)
}

func TestProofUploadWithoutStorage(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f, nil)
	p := f.pay(t, f.member, "NOSTORE")

	code, res := call(t, router, http.MethodPost, fmt.Sprintf("/payments/%d/proof", p.ID), `{"fileName":"slip.png","contentType":"image/png"}`, "member")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "STORAGE_DISABLED", res.Error.Code)

	code, _ = call(t, router, http.MethodPost, fmt.Sprintf("/payments/%d/proof", p.ID), `{"fileName":"slip.exe","contentType":"application/x-msdownload"}`, "member")
	assert.Equal(t, http.StatusBadRequest, code)
}
