package view

import (
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
	"github.com/tesouraria-igreja/tesouraria/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	UserRole    string
	Data        any

	capabilities map[string]struct{}
}

// Can reports whether the current user holds capability; used to hide actions.
func (d TemplateData) Can(capability string) bool {
	_, ok := d.capabilities[capability]
	return ok
}

// NewTemplateData collects session, CSRF and access state for a page.
func NewTemplateData(r *http.Request, csrf *shared.CSRFManager, title string, data any) TemplateData {
	sess := shared.SessionFromContext(r.Context())
	td := TemplateData{Title: title, CurrentPath: r.URL.Path, Data: data}
	if sess != nil {
		if csrf != nil {
			td.CSRFToken, _ = csrf.EnsureToken(sess)
		}
		td.Flash = sess.PopFlash()
	}
	if access, ok := rbac.AccessFromContext(r.Context()); ok && access.Active {
		td.UserRole = access.Role.Label()
		td.capabilities = make(map[string]struct{})
		for _, c := range access.Role.Capabilities() {
			td.capabilities[c] = struct{}{}
		}
	}
	return td
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	tpl, err := template.New("root").Funcs(FuncMap()).ParseFS(web.Templates,
		"templates/layouts/*.html",
		"templates/partials/*.html",
		"templates/pages/*.html",
		"templates/pages/*/*.html",
	)
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// FuncMap returns the helpers available to every template, including reports.
func FuncMap() template.FuncMap {
	return template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02/01/2006 15:04")
		},
		"formatDay": FormatDay,
		"formatDayPtr": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return FormatDay(*t)
		},
		"money":   Money,
		"percent": Percent,
		"isoDay": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("2006-01-02")
		},
		"negative": func(d decimal.Decimal) bool { return d.IsNegative() },
	}
}

// FormatDay renders a calendar date the Brazilian way.
func FormatDay(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("02/01/2006")
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return e.templates.ExecuteTemplate(w, name, data)
}
