package expenses

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/commonwealth-builders/treasury/internal/platform/httpx"
	"github.com/commonwealth-builders/treasury/internal/platform/storage"
	"github.com/commonwealth-builders/treasury/internal/rbac"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

const receiptPrefix = "expenses/receipts"

// Handler exposes expense endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	uploads storage.Presigner
	rbac    rbac.Middleware
	idem    httpx.KeyClaimer
}

// NewHandler builds Handler instance.
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

// MountRoutes registers expense routes under /expenses.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.FinanceRoles...))
		r.With(httpx.Idempotent(h.idem, "expenses", h.logger)).Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/pending", h.pending)
		r.Get("/categories", h.categories)
		r.Get("/{id}", h.get)
		r.Put("/{id}", h.update)
		r.Post("/{id}/approve", h.approve)
		r.Post("/{id}/receipt", h.receipt)
	})
	r.With(h.rbac.RequireAny(shared.RoleSuperAdmin)).Delete("/{id}", h.delete)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input Input
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, r, err)
		return
	}
	expense, err := h.service.Create(r.Context(), input, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusCreated, "Expense created successfully", expense)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.PageFromQuery(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	filter := ListFilter{
		Category: Category(strings.ToUpper(strings.TrimSpace(q.Get("category")))),
		Query:    strings.TrimSpace(q.Get("q")),
	}
	if filter.Approved, err = httpx.QueryBool(r, "approved"); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if filter.From, err = httpx.QueryTime(r, "from"); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if filter.To, err = httpx.QueryTime(r, "to"); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	result, err := h.service.List(r.Context(), filter, page)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Expenses retrieved", result)
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
	httpx.OK(w, r, http.StatusOK, "Pending expenses retrieved", result)
}

func (h *Handler) categories(w http.ResponseWriter, r *http.Request) {
	httpx.OK(w, r, http.StatusOK, "Expense categories", Categories())
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	expense, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Expense retrieved", expense)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var input Input
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, r, err)
		return
	}
	expense, err := h.service.Update(r.Context(), id, input, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Expense updated successfully", expense)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if err := h.service.Delete(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Expense deleted successfully", nil)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var input ApproveInput
	if err := httpx.DecodeOptionalJSON(r, &input); err != nil {
		httpx.BadRequest(w, r, err)
		return
	}
	if err := shared.Validate(input); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	expense, err := h.service.Approve(r.Context(), id, shared.ActorFromContext(r.Context()), input.Remarks)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Expense approved successfully", expense)
}

func (h *Handler) receipt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var input ReceiptInput
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
	current, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if current.IsApproved {
		httpx.RespondError(w, r, h.logger, errApprovedImmutable("attach a receipt to", current.Title))
		return
	}
	upload, err := h.uploads.PresignPut(r.Context(), receiptPrefix, input.FileName, input.ContentType)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	expense, err := h.service.AttachReceipt(r.Context(), id, shared.ActorFromContext(r.Context()), upload.ObjectURL)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Upload the receipt to the returned URL", map[string]any{"expense": expense, "upload": upload})
}
