package users

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/commonwealth-builders/treasury/internal/platform/httpx"
	"github.com/commonwealth-builders/treasury/internal/rbac"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// Handler manages user administration endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers user routes under /users.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuth)
		r.Get("/me", h.me)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.UserAdminRoles...))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Post("/{id}/enable", h.enable)
		r.Post("/{id}/disable", h.disable)
	})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	user, err := h.service.Get(r.Context(), actor.UserID)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Profile retrieved", map[string]any{"user": user, "roles": actor.Roles})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.PageFromQuery(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	enabled, err := httpx.QueryBool(r, "enabled")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	result, err := h.service.List(r.Context(), ListFilter{Query: strings.TrimSpace(r.URL.Query().Get("q")), Enabled: enabled}, page)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Users retrieved", result)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	user, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "User retrieved", user)
}

func (h *Handler) enable(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, true)
}

func (h *Handler) disable(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, false)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, enable bool) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	actor := shared.ActorFromContext(r.Context())
	var (
		user User
		msg  string
	)
	if enable {
		user, err = h.service.Enable(r.Context(), id, actor)
		msg = "User enabled"
	} else {
		user, err = h.service.Disable(r.Context(), id, actor)
		msg = "User disabled"
	}
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, msg, user)
}
