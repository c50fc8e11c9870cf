package ushers

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

type usherService interface {
	List(ctx context.Context, actorID int64) ([]Usher, error)
	Create(ctx context.Context, actorID int64, in Input) (Usher, error)
	Update(ctx context.Context, actorID, id int64, in Input) (Usher, error)
	GenerateRotation(ctx context.Context, actorID int64, in RotationInput) ([]Assignment, error)
	Schedule(ctx context.Context, actorID, costCenterID int64, from, to time.Time) ([]Assignment, error)
}

// Handler exposes the ushers JSON API.
type Handler struct {
	logger    *slog.Logger
	service   usherService
	rbac      rbac.Middleware
	validator *validator.Validate
	location  *time.Location
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service usherService, rbac rbac.Middleware, loc *time.Location) *Handler {
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
		r.Get("/schedule", h.schedule)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.CapUshersEdit))
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Post("/rotation", h.rotate)
	})
}

type usherForm struct {
	Name         string `json:"name" validate:"required,max=120"`
	Phone        string `json:"phone" validate:"max=30"`
	CostCenterID int64  `json:"cost_center_id" validate:"required,gt=0"`
	Active       *bool  `json:"active"`
}

func (f usherForm) input() Input {
	active := true
	if f.Active != nil {
		active = *f.Active
	}
	return Input{Name: f.Name, Phone: f.Phone, CostCenterID: f.CostCenterID, Active: active}
}

type rotationForm struct {
	CostCenterID int64  `json:"cost_center_id" validate:"required,gt=0"`
	From         string `json:"from" validate:"required"`
	To           string `json:"to" validate:"required"`
	Weekdays     []int  `json:"weekdays" validate:"required,min=1,dive,min=0,max=6"`
	PerService   int    `json:"per_service" validate:"required,gt=0"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context(), shared.ActorID(r.Context()))
	if err != nil {
		h.fail(w, "list ushers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var form usherForm
	if !h.decode(w, r, &form) {
		return
	}
	u, err := h.service.Create(r.Context(), shared.ActorID(r.Context()), form.input())
	if err != nil {
		h.fail(w, "create usher", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, u)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var form usherForm
	if !h.decode(w, r, &form) {
		return
	}
	u, err := h.service.Update(r.Context(), shared.ActorID(r.Context()), id, form.input())
	if err != nil {
		h.fail(w, "update usher", err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) rotate(w http.ResponseWriter, r *http.Request) {
	var form rotationForm
	if !h.decode(w, r, &form) {
		return
	}
	var errs shared.ValidationErrors
	from, err := httpx.ParseDate(form.From, h.location)
	if err != nil {
		errs.Add("from", "data inválida")
	}
	to, err := httpx.ParseDate(form.To, h.location)
	if err != nil {
		errs.Add("to", "data inválida")
	}
	if err := errs.Err(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	weekdays := make([]time.Weekday, 0, len(form.Weekdays))
	for _, d := range form.Weekdays {
		weekdays = append(weekdays, time.Weekday(d))
	}
	items, err := h.service.GenerateRotation(r.Context(), shared.ActorID(r.Context()), RotationInput{
		CostCenterID: form.CostCenterID,
		From:         from,
		To:           to,
		Weekdays:     weekdays,
		PerService:   form.PerService,
	})
	if err != nil {
		h.fail(w, "generate rotation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": items})
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ccID, err := strconv.ParseInt(q.Get("cost_center_id"), 10, 64)
	if err != nil || ccID <= 0 {
		httpx.RespondError(w, shared.Invalid("cost_center_id", "centro de custo obrigatório"))
		return
	}
	var errs shared.ValidationErrors
	from, err := httpx.ParseDate(q.Get("from"), h.location)
	if err != nil {
		errs.Add("from", "data inválida")
	}
	to, err := httpx.ParseDate(q.Get("to"), h.location)
	if err != nil {
		errs.Add("to", "data inválida")
	}
	if err := errs.Err(); err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.Schedule(r.Context(), shared.ActorID(r.Context()), ccID, from, to)
	if err != nil {
		h.fail(w, "usher schedule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
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
