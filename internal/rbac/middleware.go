package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/commonwealth-builders/treasury/internal/platform/httpx"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// SessionLoader resolves bearer tokens to sessions.
type SessionLoader interface {
	TokenFromRequest(r *http.Request) string
	Load(ctx context.Context, token string) (*shared.Session, error)
}

// Middleware wires session authentication and role checks for HTTP handlers.
type Middleware struct {
	Sessions SessionLoader
	Service  *Service
	Logger   *slog.Logger
}

// Authenticate resolves the session once per request and stores the actor in
// the context. Requests without a valid session continue as SYSTEM and are
// rejected later by RequireAuth or RequireAny.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Sessions == nil {
			next.ServeHTTP(w, r)
			return
		}
		token := m.Sessions.TokenFromRequest(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		sess, err := m.Sessions.Load(r.Context(), token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		roles, err := m.Service.RoleNames(r.Context(), sess.UserID)
		if err != nil {
			m.logError("rbac resolve roles", err)
			httpx.RespondError(w, r, m.Logger, err)
			return
		}
		ctx := shared.ContextWithSession(r.Context(), sess)
		ctx = shared.ContextWithActor(ctx, shared.Actor{UserID: sess.UserID, Name: sess.Email, Roles: roles})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth rejects requests without an authenticated actor.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shared.ActorFromContext(r.Context()).IsSystem() {
			httpx.RespondError(w, r, m.Logger, shared.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAny ensures the current actor holds at least one of roles.
func (m Middleware) RequireAny(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(roles) > 0 && !shared.ActorFromContext(r.Context()).HasAnyRole(roles...) {
				httpx.RespondError(w, r, m.Logger, shared.ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}

func (m Middleware) logError(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Any("error", err))
	}
}
