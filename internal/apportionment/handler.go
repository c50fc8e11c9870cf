package apportionment

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/httpx"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

type ruleService interface {
	ListRules(ctx context.Context, originID int64) ([]Rule, error)
	CreateRule(ctx context.Context, actorID int64, in RuleInput) (Rule, error)
	UpdateRule(ctx context.Context, actorID, id int64, in RuleInput) (Rule, error)
	Deactivate(ctx context.Context, actorID, id int64) (Rule, error)
	Preview(ctx context.Context, originID int64, income, expense decimal.Decimal) (Result, error)
}

// Handler exposes rule management as JSON.
type Handler struct {
	logger    *slog.Logger
	service   ruleService
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service ruleService, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers rule routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapClosingsView))
		r.Get("/", h.list)
		r.Post("/preview", h.preview)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.CapApportionmentEdit))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Post("/{id}/deactivate", h.deactivate)
	})
}

type ruleForm struct {
	OriginID      int64           `json:"origin_id" validate:"required,gt=0"`
	DestinationID int64           `json:"destination_id" validate:"required,gt=0,nefield=OriginID"`
	Percentage    decimal.Decimal `json:"percentage"`
	Description   string          `json:"description" validate:"max=200"`
	Active        *bool           `json:"active"`
}

func (f ruleForm) input() RuleInput {
	return RuleInput{
		OriginID:      f.OriginID,
		DestinationID: f.DestinationID,
		Percentage:    f.Percentage,
		Description:   f.Description,
		Active:        f.Active == nil || *f.Active,
	}
}

type previewForm struct {
	OriginID int64           `json:"origin_id" validate:"required,gt=0"`
	Income   decimal.Decimal `json:"income"`
	Expense  decimal.Decimal `json:"expense"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	originID, _ := strconv.ParseInt(r.URL.Query().Get("origin_id"), 10, 64)
	rules, err := h.service.ListRules(r.Context(), originID)
	if err != nil {
		h.fail(w, "list rules", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rules})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var form ruleForm
	if !h.decode(w, r, &form) {
		return
	}
	rule, err := h.service.CreateRule(r.Context(), shared.ActorID(r.Context()), form.input())
	if err != nil {
		h.fail(w, "create rule", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rule)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var form ruleForm
	if !h.decode(w, r, &form) {
		return
	}
	rule, err := h.service.UpdateRule(r.Context(), shared.ActorID(r.Context()), id, form.input())
	if err != nil {
		h.fail(w, "update rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rule)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	rule, err := h.service.Deactivate(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.fail(w, "deactivate rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, rule)
}

func (h *Handler) preview(w http.ResponseWriter, r *http.Request) {
	var form previewForm
	if !h.decode(w, r, &form) {
		return
	}
	res, err := h.service.Preview(r.Context(), form.OriginID, form.Income, form.Expense)
	if err != nil {
		h.fail(w, "preview apportionment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
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
