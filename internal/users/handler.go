package users

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

type userService interface {
	List(ctx context.Context, actorID int64) ([]User, error)
	Create(ctx context.Context, actorID int64, in Input) (User, error)
	Update(ctx context.Context, actorID, id int64, in Input) (User, error)
	Deactivate(ctx context.Context, actorID, id int64) (User, error)
	ResetPassword(ctx context.Context, actorID, id int64, password string) error
}

// Handler exposes the account administration JSON API.
type Handler struct {
	logger    *slog.Logger
	service   userService
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service userService, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

// MountRoutes registers user routes under the caller's prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.CapUsersManage))
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Put("/{id}", h.update)
		r.Post("/{id}/deactivate", h.deactivate)
		r.Post("/{id}/password", h.resetPassword)
	})
}

type userForm struct {
	Email        string `json:"email" validate:"required,email"`
	Name         string `json:"name" validate:"required,max=120"`
	Role         string `json:"role" validate:"required,oneof=ADMINISTRATOR TREASURER_GENERAL TREASURER_LOCAL PASTOR"`
	CostCenterID *int64 `json:"cost_center_id" validate:"omitempty,gt=0"`
	Active       *bool  `json:"active"`
	Password     string `json:"password"`
}

func (f userForm) input() Input {
	active := true
	if f.Active != nil {
		active = *f.Active
	}
	return Input{
		Email:        f.Email,
		Name:         f.Name,
		Role:         rbac.Role(f.Role),
		CostCenterID: f.CostCenterID,
		Active:       active,
		Password:     f.Password,
	}
}

type passwordForm struct {
	Password string `json:"password" validate:"required"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.List(r.Context(), shared.ActorID(r.Context()))
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var form userForm
	if !h.decode(w, r, &form) {
		return
	}
	u, err := h.service.Create(r.Context(), shared.ActorID(r.Context()), form.input())
	if err != nil {
		h.fail(w, "create user", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, u)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var form userForm
	if !h.decode(w, r, &form) {
		return
	}
	u, err := h.service.Update(r.Context(), shared.ActorID(r.Context()), id, form.input())
	if err != nil {
		h.fail(w, "update user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	u, err := h.service.Deactivate(r.Context(), shared.ActorID(r.Context()), id)
	if err != nil {
		h.fail(w, "deactivate user", err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var form passwordForm
	if !h.decode(w, r, &form) {
		return
	}
	if err := h.service.ResetPassword(r.Context(), shared.ActorID(r.Context()), id, form.Password); err != nil {
		h.fail(w, "reset password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
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
