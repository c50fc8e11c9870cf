package rbac

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tesouraria-igreja/tesouraria/internal/platform/httpx"
)

// AccessHandler reports the current user's role and capabilities.
type AccessHandler struct {
	rbac Middleware
}

// NewAccessHandler builds an AccessHandler.
func NewAccessHandler(rbac Middleware) *AccessHandler {
	return &AccessHandler{rbac: rbac}
}

// MountRoutes registers the access route.
func (h *AccessHandler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(ReadCapabilities()...)).Get("/", h.show)
}

type accessResponse struct {
	UserID       int64    `json:"user_id"`
	Role         Role     `json:"role"`
	RoleLabel    string   `json:"role_label"`
	CostCenterID *int64   `json:"cost_center_id,omitempty"`
	Capabilities []string `json:"capabilities"`
}

func (h *AccessHandler) show(w http.ResponseWriter, r *http.Request) {
	access, ok := AccessFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusForbidden, "Acesso negado", "")
		return
	}
	httpx.JSON(w, http.StatusOK, accessResponse{
		UserID:       access.UserID,
		Role:         access.Role,
		RoleLabel:    access.Role.Label(),
		CostCenterID: access.CostCenterID,
		Capabilities: access.Role.Capabilities(),
	})
}

// ReadCapabilities is the set every role holds at least one of.
func ReadCapabilities() []string {
	return pastorCaps
}
