package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/commonwealth-builders/treasury/internal/auth"
	audithttp "github.com/commonwealth-builders/treasury/internal/audit/http"
	"github.com/commonwealth-builders/treasury/internal/expenses"
	"github.com/commonwealth-builders/treasury/internal/observability"
	"github.com/commonwealth-builders/treasury/internal/payments"
	"github.com/commonwealth-builders/treasury/internal/platform/httpx"
	"github.com/commonwealth-builders/treasury/internal/rbac"
	"github.com/commonwealth-builders/treasury/internal/reports"
	"github.com/commonwealth-builders/treasury/internal/roles"
	"github.com/commonwealth-builders/treasury/internal/shared"
	"github.com/commonwealth-builders/treasury/internal/users"
	"github.com/commonwealth-builders/treasury/jobs"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	RBACMiddleware  rbac.Middleware
	AuthHandler     *auth.Handler
	UsersHandler    *users.Handler
	RolesHandler    *roles.Handler
	PaymentsHandler *payments.Handler
	ExpensesHandler *expenses.Handler
	ReportsHandler  *reports.Handler
	AuditHandler    *audithttp.Handler
	JobHandler      *jobs.Handler
	Metrics         *observability.Metrics
	Health          map[string]HealthCheck
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthHandler(params.Health))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(params.RBACMiddleware.Authenticate)
		if params.AuthHandler != nil {
			r.Route("/auth", params.AuthHandler.MountRoutes)
		}
		if params.UsersHandler != nil {
			r.Route("/users", params.UsersHandler.MountRoutes)
		}
		if params.RolesHandler != nil {
			r.Route("/roles", params.RolesHandler.MountRoutes)
		}
		if params.PaymentsHandler != nil {
			r.Route("/payments", params.PaymentsHandler.MountRoutes)
		}
		if params.ExpensesHandler != nil {
			r.Route("/expenses", params.ExpensesHandler.MountRoutes)
		}
		if params.ReportsHandler != nil {
			r.Route("/reports", params.ReportsHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.Group(func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAny(shared.UserAdminRoles...))
				params.AuditHandler.MountRoutes(r)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Fail(w, r, http.StatusNotFound, "Resource not found", &httpx.ErrorBody{Kind: string(shared.KindNotFound), Code: "ROUTE_NOT_FOUND"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Fail(w, r, http.StatusMethodNotAllowed, "Method not allowed", &httpx.ErrorBody{Kind: "METHOD_NOT_ALLOWED"})
	})
	return r
}

type healthStatus struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		out := healthStatus{Status: "ok", Checks: map[string]string{}}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				out.Status = "degraded"
				out.Checks[name] = err.Error()
				continue
			}
			out.Checks[name] = "ok"
		}
		status := http.StatusOK
		if out.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		httpx.JSON(w, r, status, out)
	}
}
