package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tesouraria-igreja/tesouraria/internal/apportionment"
	audithttp "github.com/tesouraria-igreja/tesouraria/internal/audit/http"
	"github.com/tesouraria-igreja/tesouraria/internal/auth"
	closinghttp "github.com/tesouraria-igreja/tesouraria/internal/closing/http"
	"github.com/tesouraria-igreja/tesouraria/internal/consistency"
	"github.com/tesouraria-igreja/tesouraria/internal/costcenters"
	"github.com/tesouraria-igreja/tesouraria/internal/ledger"
	"github.com/tesouraria-igreja/tesouraria/internal/loans"
	"github.com/tesouraria-igreja/tesouraria/internal/masterdata"
	"github.com/tesouraria-igreja/tesouraria/internal/observability"
	"github.com/tesouraria-igreja/tesouraria/internal/rbac"
	"github.com/tesouraria-igreja/tesouraria/internal/recurring"
	"github.com/tesouraria-igreja/tesouraria/internal/reports"
	"github.com/tesouraria-igreja/tesouraria/internal/shared"
	"github.com/tesouraria-igreja/tesouraria/internal/users"
	"github.com/tesouraria-igreja/tesouraria/internal/ushers"
	"github.com/tesouraria-igreja/tesouraria/internal/view"
	"github.com/tesouraria-igreja/tesouraria/jobs"
	"github.com/tesouraria-igreja/tesouraria/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	RBACMiddleware rbac.Middleware
	Metrics        *observability.Metrics
	Clock          shared.Clock

	AuthHandler          *auth.Handler
	ClosingHandler       *closinghttp.Handler
	LedgerHandler        *ledger.Handler
	CostCenterHandler    *costcenters.Handler
	ApportionmentHandler *apportionment.Handler
	ConsistencyHandler   *consistency.Handler
	ReportHandler        *reports.Handler
	AuditHandler         *audithttp.Handler
	MasterDataHandler    *masterdata.Handler
	RecurringHandler     *recurring.Handler
	LoanHandler          *loans.Handler
	UsherHandler         *ushers.Handler
	UsersHandler         *users.Handler
	AccessHandler        *rbac.AccessHandler
	JobHandler           *jobs.Handler

	// Dashboard sources; either may be nil.
	Entries  monthTotals
	Closings pendingClosings
}

// NewRouter constructs the chi.Router with the application defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}

	clock := params.Clock
	if clock == nil {
		clock = shared.SystemClock{}
	}

	r.Group(func(r chi.Router) {
		r.Use(requireLogin)
		r.Use(params.RBACMiddleware.Attach)

		r.Method(http.MethodGet, "/", homeHandler{
			logger:    params.Logger,
			entries:   params.Entries,
			closings:  params.Closings,
			templates: params.Templates,
			csrf:      params.CSRFManager,
			clock:     clock,
		})

		if params.ClosingHandler != nil {
			params.ClosingHandler.MountRoutes(r)
		}
		if params.LedgerHandler != nil {
			params.LedgerHandler.MountRoutes(r)
		}
		if params.ConsistencyHandler != nil {
			params.ConsistencyHandler.MountRoutes(r)
		}
		if params.ReportHandler != nil {
			params.ReportHandler.MountRoutes(r)
		}
		if params.AuditHandler != nil {
			params.AuditHandler.MountRoutes(r)
		}
		if params.CostCenterHandler != nil {
			r.Route("/cost-centers", params.CostCenterHandler.MountRoutes)
		}
		if params.ApportionmentHandler != nil {
			r.Route("/apportionment-rules", params.ApportionmentHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.With(params.RBACMiddleware.RequireAny(shared.CapConsistencyView)).Route("/jobs", params.JobHandler.MountRoutes)
		}

		r.Route("/api", func(r chi.Router) {
			if params.MasterDataHandler != nil {
				r.Route("/masterdata", params.MasterDataHandler.MountRoutes)
			}
			if params.RecurringHandler != nil {
				r.Route("/recurring", params.RecurringHandler.MountRoutes)
			}
			if params.LoanHandler != nil {
				r.Route("/loans", params.LoanHandler.MountRoutes)
			}
			if params.UsherHandler != nil {
				r.Route("/ushers", params.UsherHandler.MountRoutes)
			}
			if params.UsersHandler != nil {
				r.Route("/users", params.UsersHandler.MountRoutes)
			}
			if params.AccessHandler != nil {
				r.Route("/me", params.AccessHandler.MountRoutes)
			}
		})
	})

	registerStaticTypes(params.Logger)
	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// staticCacheHandler lets browsers keep static assets for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
