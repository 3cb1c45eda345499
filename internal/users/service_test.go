package users_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commonwealth-builders/treasury/internal/audit"
	"github.com/commonwealth-builders/treasury/internal/audit/audittest"
	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/rbac"
	"github.com/commonwealth-builders/treasury/internal/shared"
	"github.com/commonwealth-builders/treasury/internal/users"
)

type revoker struct {
	mu      sync.Mutex
	revoked []int64
}

func (r *revoker) DestroyAll(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, userID)
	return nil
}

type staticRoles map[int64][]string

func (s staticRoles) ActiveRoleNames(_ context.Context, userID int64) ([]string, error) {
	return s[userID], nil
}

func seed(t *testing.T, store *users.MemoryStore, auditStore *audittest.Store, names ...string) []users.User {
	t.Helper()
	out := make([]users.User, 0, len(names))
	for _, name := range names {
		u := users.User{FirstName: name, LastName: "Okafor", Email: name + "@club.test", Username: name, Enabled: true, CreatedAt: time.Now()}
		require.NoError(t, store.Create(context.Background(), &u))
		auditStore.AddUser(u.ID)
		out = append(out, u)
	}
	return out
}

func newService(t *testing.T) (*users.Service, *users.MemoryStore, *audittest.Store, *revoker) {
	t.Helper()
	store := users.NewMemoryStore()
	auditStore := audittest.NewStore()
	sessions := &revoker{}
	tx := db.NewMemoryTransactor(store, auditStore)
	svc := users.NewService(store, tx, audit.NewLogger(auditStore, nil), sessions, nil)
	return svc, store, auditStore, sessions
}

func TestDisableAndEnableUser(t *testing.T) {
	svc, store, auditStore, sessions := newService(t)
	ctx := context.Background()
	seeded := seed(t, store, auditStore, "admin", "tolu")
	admin := shared.Actor{UserID: seeded[0].ID, Name: seeded[0].Email}

	user, err := svc.Disable(ctx, seeded[1].ID, admin)
	require.NoError(t, err)
	assert.False(t, user.Enabled)
	assert.Equal(t, []int64{seeded[1].ID}, sessions.revoked)

	_, err = svc.Disable(ctx, seeded[1].ID, admin)
	require.ErrorIs(t, err, users.ErrAlreadyDisabled)

	user, err = svc.Enable(ctx, seeded[1].ID, admin)
	require.NoError(t, err)
	assert.True(t, user.Enabled)

	_, err = svc.Enable(ctx, seeded[1].ID, admin)
	require.ErrorIs(t, err, users.ErrAlreadyEnabled)

	_, err = svc.Disable(ctx, admin.UserID, admin)
	require.ErrorIs(t, err, users.ErrSelfDisable)
	assert.Equal(t, shared.KindProtectedResource, shared.KindOf(err))

	disabled := auditStore.ByAction(audit.ActionUserDisabled)
	require.Len(t, disabled, 1)
	assert.Equal(t, admin.UserID, disabled[0].UserID)
	assert.Equal(t, audit.ModuleUsers, disabled[0].Module)
	assert.Len(t, auditStore.ByAction(audit.ActionUserEnabled), 1)
}

func TestListUsersFiltersAndPages(t *testing.T) {
	svc, store, auditStore, _ := newService(t)
	ctx := context.Background()
	seeded := seed(t, store, auditStore, "ada", "bisi", "chika", "dapo")
	_, err := svc.Disable(ctx, seeded[3].ID, shared.Actor{UserID: seeded[0].ID})
	require.NoError(t, err)

	page, err := svc.List(ctx, users.ListFilter{}, shared.PageRequest{Page: 1, Size: 3})
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)
	assert.Equal(t, 4, page.Pagination.Total)

	enabled := true
	page, err = svc.List(ctx, users.ListFilter{Enabled: &enabled}, shared.PageRequest{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)

	page, err = svc.List(ctx, users.ListFilter{Query: "CHI"}, shared.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "chika", page.Items[0].Username)

	_, err = svc.Get(ctx, 404)
	assert.ErrorIs(t, err, users.ErrUserNotFound)
}

func TestUserRoutesRequireAdminRoles(t *testing.T) {
	svc, store, auditStore, _ := newService(t)
	seeded := seed(t, store, auditStore, "root", "member")
	sessions := stubSessions{
		"root":   {UserID: seeded[0].ID, Email: seeded[0].Email},
		"member": {UserID: seeded[1].ID, Email: seeded[1].Email},
	}
	mw := rbac.Middleware{
		Sessions: sessions,
		Service: rbac.NewService(staticRoles{
			seeded[0].ID: {shared.RoleSuperAdmin},
			seeded[1].ID: {shared.RoleUser},
		}, nil, nil),
	}
	r := chi.NewRouter()
	r.Use(mw.Authenticate)
	r.Route("/users", users.NewHandler(nil, svc, mw).MountRoutes)

	call := func(method, path, token string) int {
		req := httptest.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("X-Token", token)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/users/me", "member"))
	assert.Equal(t, http.StatusForbidden, call(http.MethodGet, "/users/", "member"))
	assert.Equal(t, http.StatusUnauthorized, call(http.MethodGet, "/users/", ""))
	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/users/", "root"))
	assert.Equal(t, http.StatusOK, call(http.MethodPost, "/users/2/disable", "root"))
	assert.Equal(t, http.StatusUnprocessableEntity, call(http.MethodPost, "/users/2/disable", "root"))
	assert.Equal(t, http.StatusLocked, call(http.MethodPost, "/users/1/disable", "root"))
	assert.Equal(t, http.StatusBadRequest, call(http.MethodGet, "/users/abc", "root"))
}

type stubSessions map[string]*shared.Session

func (s stubSessions) TokenFromRequest(r *http.Request) string { return r.Header.Get("X-Token") }

func (s stubSessions) Load(_ context.Context, token string) (*shared.Session, error) {
	if sess, ok := s[token]; ok {
		return sess, nil
	}
	return nil, shared.ErrSessionNotFound
}
