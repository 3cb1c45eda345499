package auth

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/commonwealth-builders/treasury/internal/platform/httpx"
	"github.com/commonwealth-builders/treasury/internal/rbac"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// CookieWriter mirrors session tokens into cookies.
type CookieWriter interface {
	WriteCookie(w http.ResponseWriter, sess *shared.Session)
	ClearCookie(w http.ResponseWriter)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger     *slog.Logger
	service    *Service
	cookies    CookieWriter
	rbac       rbac.Middleware
	loginLimit int
}

// NewHandler constructs a Handler instance. loginLimit caps sign-in and
// sign-up attempts per client IP and minute; zero disables the limit.
func NewHandler(logger *slog.Logger, service *Service, cookies CookieWriter, rbac rbac.Middleware, loginLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, cookies: cookies, rbac: rbac, loginLimit: loginLimit}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.loginLimit > 0 {
			r.Use(httprate.Limit(h.loginLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					httpx.Fail(w, r, http.StatusTooManyRequests, "too many attempts, try again later", &httpx.ErrorBody{Kind: "RATE_LIMITED"})
				}),
			))
		}
		r.Post("/register", h.handleRegister)
		r.Post("/login", h.handleLogin)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAuth)
		r.Post("/logout", h.handleLogout)
		r.Post("/change-password", h.handleChangePassword)
	})
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var input RegisterInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, r, err)
		return
	}
	actor := shared.ActorFromContext(r.Context())
	// Only user administrators may pick roles for a new account.
	if len(input.Roles) > 0 && !actor.HasAnyRole(shared.UserAdminRoles...) {
		input.Roles = nil
	}
	user, err := h.service.Register(r.Context(), input, actor)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusCreated, "User registered successfully", user)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var input LoginInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, r, err)
		return
	}
	result, err := h.service.Login(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if h.cookies != nil {
		h.cookies.WriteCookie(w, result.Session)
	}
	httpx.OK(w, r, http.StatusOK, "Login successful", result)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), shared.SessionFromContext(r.Context())); err != nil {
		h.logger.Warn("logout", slog.Any("error", err))
	}
	if h.cookies != nil {
		h.cookies.ClearCookie(w)
	}
	httpx.OK(w, r, http.StatusOK, "Logged out", nil)
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var input ChangePasswordInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.BadRequest(w, r, err)
		return
	}
	if err := h.service.ChangePassword(r.Context(), input, shared.ActorFromContext(r.Context())); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if h.cookies != nil {
		h.cookies.ClearCookie(w)
	}
	httpx.OK(w, r, http.StatusOK, "Password changed, please sign in again", nil)
}
