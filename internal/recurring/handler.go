package recurring

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/httpx"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

type recurringService interface {
	List(ctx context.Context, actorID int64) ([]Expense, error)
	Create(ctx context.Context, actorID int64, in Input) (Expense, error)
	Update(ctx context.Context, actorID, id int64, in Input) (Expense, error)
	Deactivate(ctx context.Context, actorID, id int64) (Expense, error)
	GenerateOccurrences(ctx context.Context, year, month int) (int, error)
	Occurrences(ctx context.Context, actorID int64, year, month int) ([]Occurrence, error)
	Pay(ctx context.Context, occurrenceID int64, paidOn time.Time, actorID int64) (Occurrence, error)
	Skip(ctx context.Context, occurrenceID, actorID int64, reason string) (Occurrence, error)
}

// Handler exposes the recurring expense JSON API.
type Handler struct {
	logger    *slog.Logger
	service   recurringService
	rbac      rbac.Middleware
	validator *validator.Validate
	location  *time.Location
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service recurringService, rbac rbac.Middleware, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New(), location: loc}
}

// MountRoutes registers routes under the caller's prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapEntriesView))
		r.Get("/", h.list)
		r.Get("/occurrences", h.occurrences)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.CapRecurringEdit))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Post("/{id}/deactivate", h.deactivate)
		r.Post("/occurrences/generate", h.generate)
		r.Post("/occurrences/{id}/pay", h.pay)
		r.Post("/occurrences/{id}/skip", h.skip)
	})
}

type expenseForm struct {
	CostCenterID    int64  `json:"cost_center_id" validate:"required,gt=0"`
	CategoryID      int64  `json:"category_id" validate:"required,gt=0"`
	PaymentMethodID int64  `json:"payment_method_id" validate:"required,gt=0"`
	Description     string `json:"description" validate:"required,max=200"`
	Amount          string `json:"amount" validate:"required"`
	DueDay          int    `json:"due_day" validate:"required,min=1,max=28"`
	Active          *bool  `json:"active"`
}

func (f expenseForm) input() (Input, error) {
	amount, err := httpx.ParseAmount(f.Amount)
	if err != nil {
		return Input{}, shared.Invalid("amount", "valor inválido")
	}
	active := true
	if f.Active != nil {
		active = *f.Active
	}
	return Input{
		CostCenterID:    f.CostCenterID,
		CategoryID:      f.CategoryID,
		PaymentMethodID: f.PaymentMethodID,
		Description:     f.Description,
		Amount:          amount,
		DueDay:          f.DueDay,
		Active:          active,
	}, nil
}

type generateForm struct {
	Year  int `json:"year" validate:"required,min=2000,max=2100"`
	Month int `json:"month" validate:"required,min=1,max=12"`
}

type payForm struct {
	PaidOn string `json:"paid_on"`
}

type skipForm struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context(), shared.ActorID(r.Context()))
	if err != nil {
		h.fail(w, "list recurring expenses", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	in, ok := h.decodeExpense(w, r)
	if !ok {
		return
	}
	e, err := h.service.Create(r.Context(), shared.ActorID(r.Context()), in)
	if err != nil {
		h.fail(w, "create recurring expense", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, e)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	in, ok := h.decodeExpense(w, r)
	if !ok {
		return
	}
	e, err := h.service.Update(r.Context(), shared.ActorID(r.Context()), id, in)
	if err != nil {
		h.fail(w, "update recurring expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	e, err := h.service.Deactivate(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.fail(w, "deactivate recurring expense", err)
		return
	}
	httpx.JSON(w, http.StatusOK, e)
}

func (h *Handler) occurrences(w http.ResponseWriter, r *http.Request) {
	now := time.Now().In(h.location)
	year, month := now.Year(), int(now.Month())
	if raw := r.URL.Query().Get("year"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("year", "ano inválido"))
			return
		}
		year = v
	}
	if raw := r.URL.Query().Get("month"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("month", "mês inválido"))
			return
		}
		month = v
	}
	items, err := h.service.Occurrences(r.Context(), shared.ActorID(r.Context()), year, month)
	if err != nil {
		h.fail(w, "list occurrences", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"year": year, "month": month, "data": items})
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var form generateForm
	if !h.decode(w, r, &form) {
		return
	}
	created, err := h.service.GenerateOccurrences(r.Context(), form.Year, form.Month)
	if err != nil {
		h.fail(w, "generate occurrences", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"created": created})
}

func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var form payForm
	if !h.decode(w, r, &form) {
		return
	}
	var paidOn time.Time
	if form.PaidOn != "" {
		d, err := httpx.ParseDate(form.PaidOn, h.location)
		if err != nil {
			httpx.RespondError(w, shared.Invalid("paid_on", "data inválida"))
			return
		}
		paidOn = d
	}
	occ, err := h.service.Pay(r.Context(), id, paidOn, shared.ActorID(r.Context()))
	if err != nil {
		h.fail(w, "pay occurrence", err)
		return
	}
	httpx.JSON(w, http.StatusOK, occ)
}

func (h *Handler) skip(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var form skipForm
	if !h.decode(w, r, &form) {
		return
	}
	occ, err := h.service.Skip(r.Context(), id, shared.ActorID(r.Context()), form.Reason)
	if err != nil {
		h.fail(w, "skip occurrence", err)
		return
	}
	httpx.JSON(w, http.StatusOK, occ)
}

func (h *Handler) decodeExpense(w http.ResponseWriter, r *http.Request) (Input, bool) {
	var form expenseForm
	if !h.decode(w, r, &form) {
		return Input{}, false
	}
	in, err := form.input()
	if err != nil {
		httpx.RespondError(w, err)
		return Input{}, false
	}
	return in, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, form any) bool {
	if err := httpx.DecodeJSON(r, form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "JSON inválido", err.Error())
		return false
	}
	if err := httpx.Validate(h.validator, form); err != nil {
		httpx.RespondError(w, err)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if httpx.StatusFor(err) >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Identificador inválido", "")
		return 0, false
	}
	return id, true
}
