package httpx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/commonwealth-builders/treasury/internal/shared"
)

// KeyClaimer records request keys that were already processed.
type KeyClaimer interface {
	CheckAndInsert(ctx context.Context, key, scope string) error
	Delete(ctx context.Context, key, scope string) error
}

// Idempotent rejects a repeated Idempotency-Key from the same actor with
// ALREADY_EXISTS. Keys are released when the request fails so the client can
// retry. Requests without the header pass through.
func Idempotent(store KeyClaimer, module string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(shared.IdempotencyHeader)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			scope := fmt.Sprintf("%s:%d", module, shared.ActorFromContext(r.Context()).UserID)
			if err := store.CheckAndInsert(r.Context(), key, scope); err != nil {
				if errors.Is(err, shared.ErrIdempotencyConflict) {
					RespondError(w, r, logger, err)
					return
				}
				logger.WarnContext(r.Context(), "idempotency store unavailable", slog.String("module", module), slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			if ww.Status() >= http.StatusBadRequest {
				if err := store.Delete(context.WithoutCancel(r.Context()), key, scope); err != nil {
					logger.WarnContext(r.Context(), "release idempotency key", slog.String("module", module), slog.Any("error", err))
				}
			}
		})
	}
}
