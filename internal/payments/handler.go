package payments

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/commonwealth-builders/treasury/internal/platform/httpx"
	"github.com/commonwealth-builders/treasury/internal/platform/storage"
	"github.com/commonwealth-builders/treasury/internal/rbac"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// proofPrefix is the object key prefix of uploaded proofs.
const proofPrefix = "payments/proofs"

// Handler exposes payment endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	uploads storage.Presigner
	rbac    rbac.Middleware
	idem    httpx.KeyClaimer
}

// NewHandler builds Handler instance. uploads may be nil when object storage
// is not configured; proof uploads then answer 503.
func NewHandler(logger *slog.Logger, service *Service, uploads storage.Presigner, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, uploads: uploads, rbac: rbac}
}

// WithIdempotency makes creation honour the Idempotency-Key header.
func (h *Handler) WithIdempotency(store httpx.KeyClaimer) *Handler {
	h.idem = store
	return h
}

// MountRoutes registers payment routes under /payments.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.MemberRoles...))
		r.With(httpx.Idempotent(h.idem, "payments", h.logger)).Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Get("/user/{userID}", h.listByUser)
		r.Put("/{id}/cancel", h.cancel)
		r.Post("/{id}/proof", h.proof)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PaymentViewRoles...))
		r.Get("/", h.list)
		r.Get("/pending", h.pending)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.FinanceRoles...))
		r.Put("/{id}/verify", h.verify)
		r.Put("/{id}/reject", h.reject)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, r, err)
		return
	}
	payment, err := h.service.Create(r.Context(), input, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusCreated, "Payment created successfully", payment)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	payment, err := h.service.Get(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Payment retrieved", payment)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter, page, err := filterFromQuery(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	result, err := h.service.List(r.Context(), filter, page)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Payments retrieved", result)
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.PageFromQuery(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	result, err := h.service.ListPending(r.Context(), page)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Pending payments retrieved", result)
}

func (h *Handler) listByUser(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.PathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	page, err := httpx.PageFromQuery(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	result, err := h.service.ListByUser(r.Context(), userID, shared.ActorFromContext(r.Context()), page)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Payments retrieved", result)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Verify, "Payment verified successfully")
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Reject, "Payment rejected")
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.service.Cancel, "Payment cancelled")
}

type decision func(ctx context.Context, id int64, actor shared.Actor, remarks string) (Payment, error)

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, op decision, msg string) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var input DecisionInput
	if err := httpx.DecodeOptionalJSON(r, &input); err != nil {
		httpx.BadRequest(w, r, err)
		return
	}
	if err := shared.Validate(input); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	payment, err := op(r.Context(), id, shared.ActorFromContext(r.Context()), input.Remarks)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, msg, payment)
}

func (h *Handler) proof(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var input ProofInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, r, err)
		return
	}
	if err := shared.Validate(input); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if h.uploads == nil {
		httpx.Fail(w, r, http.StatusServiceUnavailable, "File uploads are not configured", &httpx.ErrorBody{Kind: "UNAVAILABLE", Code: "STORAGE_DISABLED"})
		return
	}
	actor := shared.ActorFromContext(r.Context())
	// Ownership and status are checked before a URL is handed out.
	if _, err := h.service.Get(r.Context(), id, actor); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	upload, err := h.uploads.PresignPut(r.Context(), proofPrefix, input.FileName, input.ContentType)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	payment, err := h.service.AttachProof(r.Context(), id, actor, upload.ObjectURL)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Upload the proof to the returned URL", map[string]any{"payment": payment, "upload": upload})
}

func filterFromQuery(r *http.Request) (ListFilter, shared.PageRequest, error) {
	page, err := httpx.PageFromQuery(r)
	if err != nil {
		return ListFilter{}, page, err
	}
	q := r.URL.Query()
	filter := ListFilter{
		Status: Status(strings.ToUpper(strings.TrimSpace(q.Get("status")))),
		Query:  strings.TrimSpace(q.Get("q")),
	}
	if filter.UserID, err = httpx.QueryInt64(r, "userId"); err != nil {
		return ListFilter{}, page, err
	}
	if filter.Verified, err = httpx.QueryBool(r, "verified"); err != nil {
		return ListFilter{}, page, err
	}
	if filter.From, err = httpx.QueryTime(r, "from"); err != nil {
		return ListFilter{}, page, err
	}
	if filter.To, err = httpx.QueryTime(r, "to"); err != nil {
		return ListFilter{}, page, err
	}
	return filter, page, nil
}
