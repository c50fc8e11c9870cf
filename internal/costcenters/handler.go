package costcenters

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/httpx"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

type costCenterService interface {
	List(ctx context.Context) ([]CostCenter, error)
	Get(ctx context.Context, id int64) (CostCenter, error)
	Create(ctx context.Context, actorID int64, in Input) (CostCenter, error)
	Update(ctx context.Context, actorID, id int64, in Input) (CostCenter, error)
	Delete(ctx context.Context, actorID, id int64) error
}

// Handler exposes the cost center JSON API.
type Handler struct {
	logger    *slog.Logger
	service   costCenterService
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service costCenterService, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers routes under the caller's prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.CapEntriesView))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.CapCostCentersEdit))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Delete("/{id}", h.delete)
	})
}

type costCenterForm struct {
	Name   string `json:"name" validate:"required,max=120"`
	Type   string `json:"type" validate:"required,oneof=HEADQUARTERS CONGREGATION DEPARTMENT OTHER"`
	Active *bool  `json:"active"`
}

func (f costCenterForm) input() Input {
	active := true
	if f.Active != nil {
		active = *f.Active
	}
	return Input{Name: f.Name, Type: Type(f.Type), Active: active}
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, "list cost centers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	cc, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get cost center", err)
		return
	}
	httpx.JSON(w, http.StatusOK, cc)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var form costCenterForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "JSON inválido", err.Error())
		return
	}
	if err := httpx.Validate(h.validator, form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	cc, err := h.service.Create(r.Context(), shared.ActorID(r.Context()), form.input())
	if err != nil {
		h.fail(w, "create cost center", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cc)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var form costCenterForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "JSON inválido", err.Error())
		return
	}
	if err := httpx.Validate(h.validator, form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	cc, err := h.service.Update(r.Context(), shared.ActorID(r.Context()), id, form.input())
	if err != nil {
		h.fail(w, "update cost center", err)
		return
	}
	httpx.JSON(w, http.StatusOK, cc)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), shared.ActorID(r.Context()), id); err != nil {
		h.fail(w, "delete cost center", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
