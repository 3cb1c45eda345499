package roles

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/commonwealth-builders/treasury/internal/platform/httpx"
	"github.com/commonwealth-builders/treasury/internal/rbac"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// Handler manages role catalog and ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	ledger  *Ledger
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, ledger *Ledger, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, ledger: ledger, rbac: rbac}
}

// MountRoutes registers role routes under /roles.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.UserAdminRoles...))
		r.Get("/", h.listRoles)
		r.Get("/{id}", h.getRole)
		r.Get("/{id}/users", h.listRoleUsers)
		r.Get("/user/{userID}", h.listUserRoles)
		r.Get("/user/{userID}/history", h.history)
		r.Post("/assign", h.assign)
		r.Post("/revoke", h.revoke)
		r.Post("/reactivate", h.reactivate)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.RoleSuperAdmin))
		r.Post("/", h.createRole)
		r.Put("/{id}", h.updateRole)
		r.Delete("/{id}", h.deleteRole)
		r.Post("/{id}/activate", h.activateRole)
		r.Post("/{id}/deactivate", h.deactivateRole)
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	activeOnly, err := httpx.QueryBool(r, "active")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	roles, err := h.service.ListRoles(r.Context(), activeOnly != nil && *activeOnly)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Roles retrieved", roles)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Role retrieved", role)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var input CreateRoleInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, r, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), input, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusCreated, "Role created", role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var input UpdateRoleInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, r, err)
		return
	}
	role, err := h.service.UpdateRole(r.Context(), id, input, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Role updated", role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if err := h.service.DeleteRole(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Role deleted", nil)
}

func (h *Handler) activateRole(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, true)
}

func (h *Handler) deactivateRole(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, false)
}

func (h *Handler) toggle(w http.ResponseWriter, r *http.Request, activate bool) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	actor := shared.ActorFromContext(r.Context())
	var (
		role Role
		msg  string
	)
	if activate {
		role, err = h.service.ActivateRole(r.Context(), id, actor)
		msg = "Role activated"
	} else {
		role, err = h.service.DeactivateRole(r.Context(), id, actor)
		msg = "Role deactivated"
	}
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, msg, role)
}

func (h *Handler) listRoleUsers(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	holders, err := h.ledger.ListUsersForRole(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Role holders retrieved", holders)
}

func (h *Handler) listUserRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.PathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	roles, err := h.ledger.ListActiveRoles(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "User roles retrieved", roles)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.PathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	rows, err := h.ledger.History(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Assignment history retrieved", rows)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeAssign(w, r)
	if !ok {
		return
	}
	actor := shared.ActorFromContext(r.Context())
	if len(input.RoleIDs) > 0 {
		rows, err := h.ledger.AssignRoles(r.Context(), input.UserID, input.RoleIDs, actor, input.Remarks)
		if err != nil {
			httpx.RespondError(w, r, h.logger, err)
			return
		}
		httpx.OK(w, r, http.StatusCreated, "Roles assigned", rows)
		return
	}
	row, err := h.ledger.AssignRole(r.Context(), input.UserID, input.RoleID, actor, input.Remarks)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusCreated, "Role assigned", row)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeAssign(w, r)
	if !ok {
		return
	}
	if err := h.ledger.RevokeRole(r.Context(), input.UserID, input.RoleID, shared.ActorFromContext(r.Context())); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Role revoked", nil)
}

func (h *Handler) reactivate(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeAssign(w, r)
	if !ok {
		return
	}
	row, err := h.ledger.ReactivateRole(r.Context(), input.UserID, input.RoleID, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Role reactivated", row)
}

func (h *Handler) decodeAssign(w http.ResponseWriter, r *http.Request) (AssignInput, bool) {
	var input AssignInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, r, err)
		return AssignInput{}, false
	}
	if err := shared.Validate(input); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return AssignInput{}, false
	}
	if input.RoleID == 0 && len(input.RoleIDs) == 0 {
		httpx.RespondError(w, r, h.logger, shared.Validation("validation failed", map[string]string{"roleId": "is required"}))
		return AssignInput{}, false
	}
	return input, true
}
