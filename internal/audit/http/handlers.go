package audithttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tesouraria-igreja/tesouraria/internal/audit"
	"github.com/tesouraria-igreja/tesouraria/internal/platform/httpx"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
	"github.com/tesouraria-igreja/tesouraria/internal/view"
)

const (
	defaultPageSize   = 20
	maxPageSize       = 50
	defaultDateRange  = 7 * 24 * time.Hour
	maxDateRangeHours = 24 * 366
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
}

// Handler serves the audit timeline and its CSV export.
type Handler struct {
	logger    *slog.Logger
	service   TimelineService
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
	clock     shared.Clock
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service TimelineService, templates *view.Engine, csrf *shared.CSRFManager, rbac rbac.Middleware, clock shared.Clock) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbac, clock: clock}
}

type pageData struct {
	audit.ViewModel
	ExportURL string
	PrevURL   string
	NextURL   string
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "load audit timeline", err)
		return
	}
	data := pageData{
		ViewModel: buildViewModel(filters, result),
		ExportURL: "/audit/export.csv?" + query(filters, 0).Encode(),
	}
	if result.Paging.PrevPage > 0 {
		data.PrevURL = "/audit?" + query(filters, result.Paging.PrevPage).Encode()
	}
	if result.Paging.NextPage > 0 {
		data.NextURL = "/audit?" + query(filters, result.Paging.NextPage).Encode()
	}
	viewData := view.NewTemplateData(r, h.csrf, "Auditoria", data)
	if err := h.templates.Render(w, "pages/audit/index.html", viewData); err != nil {
		h.handleServerError(w, "render audit timeline", err)
	}
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "export audit timeline", err)
		return
	}
	csvBytes, err := audit.WriteCSV(rows)
	if err != nil {
		h.handleServerError(w, "encode csv", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"auditoria.csv\"")
	if _, err := w.Write(csvBytes); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	now := h.clock.Now()
	q := r.URL.Query()
	toStr := strings.TrimSpace(q.Get("to"))
	if toStr == "" {
		toStr = now.Format("2006-01-02")
	}
	toTime, err := time.ParseInLocation("2006-01-02", toStr, now.Location())
	if err != nil {
		return audit.TimelineFilters{}, shared.Invalid("to", "data inválida")
	}
	fromStr := strings.TrimSpace(q.Get("from"))
	if fromStr == "" {
		fromStr = toTime.Add(-defaultDateRange).Format("2006-01-02")
	}
	fromTime, err := time.ParseInLocation("2006-01-02", fromStr, now.Location())
	if err != nil {
		return audit.TimelineFilters{}, shared.Invalid("from", "data inválida")
	}
	if fromTime.After(toTime) {
		return audit.TimelineFilters{}, shared.Invalid("range", "data inicial posterior à data final")
	}
	if toTime.Sub(fromTime) > maxDateRangeHours*time.Hour {
		return audit.TimelineFilters{}, shared.Invalid("range", "período máximo de um ano")
	}

	page := 1
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, shared.Invalid("page", "página inválida")
		}
		page = parsed
	}
	pageSize := defaultPageSize
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return audit.TimelineFilters{}, shared.Invalid("page_size", "tamanho de página inválido")
		}
		pageSize = min(parsed, maxPageSize)
	}

	return audit.TimelineFilters{
		From:     fromTime,
		To:       toTime,
		Actor:    strings.TrimSpace(q.Get("actor")),
		Entity:   strings.TrimSpace(q.Get("entity")),
		Action:   strings.TrimSpace(q.Get("action")),
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func buildViewModel(filters audit.TimelineFilters, result audit.Result) audit.ViewModel {
	return audit.ViewModel{
		Filters: audit.FiltersViewModel{
			From:   filters.From,
			To:     filters.To,
			Actor:  filters.Actor,
			Entity: filters.Entity,
			Action: filters.Action,
		},
		Rows:   result.Rows,
		Paging: result.Paging,
	}
}

func query(f audit.TimelineFilters, page int) url.Values {
	v := url.Values{}
	v.Set("from", f.From.Format("2006-01-02"))
	v.Set("to", f.To.Format("2006-01-02"))
	for key, val := range map[string]string{"actor": f.Actor, "entity": f.Entity, "action": f.Action} {
		if val != "" {
			v.Set(key, val)
		}
	}
	if page > 0 {
		v.Set("page", strconv.Itoa(page))
	}
	return v
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, slog.Any("error", err))
	if errors.Is(err, context.Canceled) {
		return
	}
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
