package reports

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/commonwealth-builders/treasury/internal/platform/httpx"
	"github.com/commonwealth-builders/treasury/internal/rbac"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// Handler exposes financial reports.
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

// MountRoutes registers report routes under /reports.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.ReportRoles...))
		r.Get("/summary", h.summary)
		r.Get("/monthly", h.monthly)
		r.Get("/payments", h.payments)
		r.Get("/expenses", h.expenses)
		r.Get("/contributions/{userID}", h.contribution)
	})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	period, err := periodFromQuery(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	summary, err := h.service.Summary(r.Context(), period)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Financial summary generated", summary)
}

func (h *Handler) monthly(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	year, err := httpx.QueryInt64(r, "year")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	month, err := httpx.QueryInt64(r, "month")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if year == 0 {
		year = int64(now.Year())
	}
	if month == 0 {
		month = int64(now.Month())
	}
	summary, err := h.service.Monthly(r.Context(), int(year), time.Month(month))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Monthly report generated", summary)
}

func (h *Handler) payments(w http.ResponseWriter, r *http.Request) {
	period, err := periodFromQuery(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	report, err := h.service.Payments(r.Context(), period)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Payment report generated", report)
}

func (h *Handler) expenses(w http.ResponseWriter, r *http.Request) {
	period, err := periodFromQuery(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	report, err := h.service.Expenses(r.Context(), period)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Expense report generated", report)
}

func (h *Handler) contribution(w http.ResponseWriter, r *http.Request) {
	userID, err := httpx.PathID(r, "userID")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	report, err := h.service.Contribution(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Contribution report generated", report)
}

func periodFromQuery(r *http.Request) (Period, error) {
	var (
		p   Period
		err error
	)
	if p.From, err = httpx.QueryTime(r, "startDate"); err != nil {
		return Period{}, err
	}
	if p.To, err = httpx.QueryTime(r, "endDate"); err != nil {
		return Period{}, err
	}
	return p, nil
}
