package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/expedio-erp/expedio/internal/audit"
	"github.com/expedio-erp/expedio/internal/auth"
	"github.com/expedio-erp/expedio/internal/closing"
	"github.com/expedio-erp/expedio/internal/ledger"
	"github.com/expedio-erp/expedio/internal/observability"
	"github.com/expedio-erp/expedio/internal/rbac"
	"github.com/expedio-erp/expedio/internal/reports"
	"github.com/expedio-erp/expedio/internal/sales"
	"github.com/expedio-erp/expedio/internal/shared"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	RBACMiddleware rbac.Middleware

	AuthHandler    *auth.Handler
	SalesHandler   *sales.Handler
	LedgerHandler  *ledger.Handler
	ClosingHandler *closing.Handler
	ReportsHandler *reports.Handler
	AuditHandler   *audit.Handler

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router with Expedio defaults.
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

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Group(func(r chi.Router) {
		r.Use(params.RBACMiddleware.ResolveActor)
		if params.SalesHandler != nil {
			r.Route("/sales", params.SalesHandler.MountRoutes)
		}
		if params.LedgerHandler != nil {
			r.Route("/confirmations", params.LedgerHandler.MountRoutes)
		}
		if params.ClosingHandler != nil {
			r.Route("/closings", params.ClosingHandler.MountRoutes)
		}
		if params.ReportsHandler != nil {
			r.Route("/reports", params.ReportsHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
