package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
	"github.com/tesouraria-igreja/tesouraria/internal/users"
	"github.com/tesouraria-igreja/tesouraria/internal/view"
)

type authenticator interface {
	Authenticate(ctx context.Context, email, password string) (users.User, error)
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger      *slog.Logger
	service     authenticator
	templates   *view.Engine
	csrfManager *shared.CSRFManager
	audit       shared.AuditSink
	validator   *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service authenticator, templates *view.Engine, csrf *shared.CSRFManager, audit shared.AuditSink) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = shared.NopAudit{}
	}
	return &Handler{
		logger:      logger,
		service:     service,
		templates:   templates,
		csrfManager: csrf,
		audit:       audit,
		validator:   validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type loginPageData struct {
	Email string
	Error string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil && sess.UserID() > 0 {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	h.render(w, r, loginPageData{}, http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	if err := h.validator.Struct(form); err != nil {
		h.render(w, r, loginPageData{Email: form.Email, Error: "Informe e-mail e senha válidos."}, http.StatusBadRequest)
		return
	}

	user, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
	switch {
	case errors.Is(err, shared.ErrInvalidCredentials):
		h.logger.Info("login rejected", slog.String("email", form.Email))
		h.render(w, r, loginPageData{Email: form.Email, Error: "E-mail ou senha inválidos."}, http.StatusBadRequest)
		return
	case err != nil:
		h.logger.Error("authenticate", slog.Any("error", err))
		h.render(w, r, loginPageData{Email: form.Email, Error: "Não foi possível entrar agora. Tente novamente."}, http.StatusInternalServerError)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	sess.Rotate()
	sess.Delete(shared.CSRFSessionKey)
	sess.SetUserID(user.ID)
	sess.AddFlash(shared.FlashMessage{Kind: "success", Message: "Bem-vindo(a), " + user.Name + "."})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if id := sess.UserID(); id > 0 {
			h.audit.Log(r.Context(), shared.AuditLog{ActorID: id, Action: "auth.logout", Entity: "user", EntityID: strconv.FormatInt(id, 10)})
		}
		sess.SetUserID(0)
		sess.Rotate()
		sess.Delete(shared.CSRFSessionKey)
	}
	http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, data loginPageData, status int) {
	viewData := view.NewTemplateData(r, h.csrfManager, "Entrar", data)
	w.WriteHeader(status)
	if err := h.templates.Render(w, "pages/login.html", viewData); err != nil {
		h.logger.Error("render login", slog.Any("error", err))
	}
}
