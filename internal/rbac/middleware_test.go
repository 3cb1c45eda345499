package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commonwealth-builders/treasury/internal/platform/cache"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

type countingSource struct {
	calls atomic.Int32
	roles map[int64][]string
	delay time.Duration
}

func (s *countingSource) ActiveRoleNames(ctx context.Context, userID int64) ([]string, error) {
	s.calls.Add(1)
	time.Sleep(s.delay)
	return append([]string(nil), s.roles[userID]...), nil
}

type stubSessions struct {
	sessions map[string]*shared.Session
}

func (s stubSessions) TokenFromRequest(r *http.Request) string {
	return r.Header.Get("X-Token")
}

func (s stubSessions) Load(ctx context.Context, token string) (*shared.Session, error) {
	if sess, ok := s.sessions[token]; ok {
		return sess, nil
	}
	return nil, shared.ErrSessionNotFound
}

func newRoleCache(t *testing.T) (*cache.JSON, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewJSON(client, "rbac:roles:", time.Minute), mr
}

func TestRoleNamesCachesUntilInvalidated(t *testing.T) {
	roleCache, mr := newRoleCache(t)
	source := &countingSource{roles: map[int64][]string{1: {"USER", "FIN_ADMIN"}}}
	svc := NewService(source, roleCache, nil)
	ctx := context.Background()

	names, err := svc.RoleNames(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"FIN_ADMIN", "USER"}, names)
	require.True(t, mr.Exists("rbac:roles:1"))

	_, err = svc.RoleNames(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, source.calls.Load())

	source.roles[1] = []string{"USER"}
	svc.Invalidate(ctx, 1)
	names, err = svc.RoleNames(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"USER"}, names)
	assert.EqualValues(t, 2, source.calls.Load())
}

func TestRoleNamesCollapsesConcurrentMisses(t *testing.T) {
	source := &countingSource{roles: map[int64][]string{9: {"USER"}}, delay: 50 * time.Millisecond}
	svc := NewService(source, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RoleNames(context.Background(), 9)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, source.calls.Load(), int32(8))
}

func newMiddleware(t *testing.T) Middleware {
	source := &countingSource{roles: map[int64][]string{
		1: {shared.RoleSuperAdmin},
		2: {shared.RoleUser},
	}}
	return Middleware{
		Sessions: stubSessions{sessions: map[string]*shared.Session{
			"admin":  {ID: "admin", UserID: 1, Email: "admin@club.test"},
			"member": {ID: "member", UserID: 2, Email: "member@club.test"},
		}},
		Service: NewService(source, nil, nil),
	}
}

func serve(m Middleware, token string, guard func(http.Handler) http.Handler) (*httptest.ResponseRecorder, shared.Actor) {
	var seen shared.Actor
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("X-Token", token)
	}
	rr := httptest.NewRecorder()
	m.Authenticate(guard(final)).ServeHTTP(rr, req)
	return rr, seen
}

func TestAuthenticateResolvesActor(t *testing.T) {
	m := newMiddleware(t)
	rr, actor := serve(m, "admin", m.RequireAuth)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, int64(1), actor.UserID)
	assert.Equal(t, "admin@club.test", actor.Name)
	assert.Equal(t, []string{shared.RoleSuperAdmin}, actor.Roles)
}

func TestRequireAuthRejectsAnonymousAndUnknownTokens(t *testing.T) {
	m := newMiddleware(t)
	rr, _ := serve(m, "", m.RequireAuth)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, _ = serve(m, "stale", m.RequireAuth)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRequireAnyChecksRoles(t *testing.T) {
	m := newMiddleware(t)
	guard := m.RequireAny(shared.FinanceRoles...)

	rr, _ := serve(m, "admin", guard)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr, _ = serve(m, "member", guard)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

type failingSource struct{}

func (failingSource) ActiveRoleNames(ctx context.Context, userID int64) ([]string, error) {
	return nil, errors.New("db down")
}

func TestAuthenticateRoleLookupFailureIsInternal(t *testing.T) {
	m := newMiddleware(t)
	m.Service = NewService(failingSource{}, nil, nil)
	rr, _ := serve(m, "admin", m.RequireAuth)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
