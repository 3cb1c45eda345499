package shared

import (
	"context"
	"strconv"
)

type sessionContextKey struct{}
type actorContextKey struct{}
type requestMetaContextKey struct{}

// Actor identifies who performs an operation.
type Actor struct {
	UserID int64
	Name   string
	Roles  []string
}

// SystemActorName is recorded when no authenticated user drives an operation.
const SystemActorName = "SYSTEM"

// SystemActor is used for bootstrap and background work.
var SystemActor = Actor{Name: SystemActorName}

// String returns the actor label stored in assignedBy/verifiedBy columns.
func (a Actor) String() string {
	if a.Name != "" {
		return a.Name
	}
	if a.UserID > 0 {
		return "user:" + strconv.FormatInt(a.UserID, 10)
	}
	return SystemActorName
}

// IsSystem reports whether the actor is not backed by a user.
func (a Actor) IsSystem() bool {
	return a.UserID <= 0
}

// HasAnyRole reports whether the actor holds one of roles.
func (a Actor) HasAnyRole(roles ...string) bool {
	for _, held := range a.Roles {
		for _, want := range roles {
			if held == want {
				return true
			}
		}
	}
	return false
}

// RequestMeta holds network metadata captured at the HTTP boundary.
type RequestMeta struct {
	IPAddress string
	UserAgent string
	RequestID string
}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// ContextWithActor stores the resolved actor.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor resolved at the boundary, falling back to
// SystemActor.
func ActorFromContext(ctx context.Context) Actor {
	if actor, ok := ctx.Value(actorContextKey{}).(Actor); ok {
		return actor
	}
	return SystemActor
}

// ContextWithRequestMeta stores request metadata.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaContextKey{}, meta)
}

// RequestMetaFromContext returns request metadata when present.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaContextKey{}).(RequestMeta)
	return meta
}
