package audithttp

import (
	"context"
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/commonwealth-builders/treasury/internal/audit"
	"github.com/commonwealth-builders/treasury/internal/platform/httpx"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// maxExportRange bounds the window of a CSV export.
const maxExportRange = 90 * 24 * time.Hour

// Service defines the audit reads the handler needs.
type Service interface {
	List(ctx context.Context, filter audit.Filter, page shared.PageRequest) (audit.Result, error)
	Export(ctx context.Context, filter audit.Filter) ([]audit.Entry, error)
}

// Handler serves audit trail reads.
type Handler struct {
	logger  *slog.Logger
	service Service
	now     func() time.Time
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	page, err := httpx.PageFromQuery(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	result, err := h.service.List(r.Context(), filter, page)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.OK(w, r, http.StatusOK, "Audit trail retrieved", result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if filter.To.IsZero() {
		filter.To = h.now().UTC()
	}
	if filter.From.IsZero() {
		filter.From = filter.To.Add(-7 * 24 * time.Hour)
	}
	if filter.To.Sub(filter.From) > maxExportRange {
		httpx.RespondError(w, r, h.logger, shared.Validation("export window too large", map[string]string{"from": "range must not exceed 90 days"}))
		return
	}
	entries, err := h.service.Export(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-trail.csv\"")
	if err := writeCSV(w, entries); err != nil {
		h.logger.Warn("write audit csv", slog.Any("error", err))
	}
}

func writeCSV(w http.ResponseWriter, entries []audit.Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"event_id", "created_at", "user_id", "module", "action", "description", "ip_address", "user_agent"}); err != nil {
		return err
	}
	for _, e := range entries {
		record := []string{
			e.EventID,
			e.CreatedAt.UTC().Format(time.RFC3339),
			strconv.FormatInt(e.UserID, 10),
			string(e.Module),
			string(e.Action),
			e.Description,
			e.IPAddress,
			e.UserAgent,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	userID, err := httpx.QueryInt64(r, "userId")
	if err != nil {
		return audit.Filter{}, err
	}
	from, err := httpx.QueryTime(r, "from")
	if err != nil {
		return audit.Filter{}, err
	}
	to, err := httpx.QueryTime(r, "to")
	if err != nil {
		return audit.Filter{}, err
	}
	q := r.URL.Query()
	return audit.Filter{
		UserID: userID,
		Module: audit.Module(strings.ToUpper(strings.TrimSpace(q.Get("module")))),
		Action: audit.Action(strings.ToUpper(strings.TrimSpace(q.Get("action")))),
		From:   from,
		To:     to,
	}, nil
}
