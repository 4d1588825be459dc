package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tradewind-erp/tradewind/internal/audit"
	"github.com/tradewind-erp/tradewind/internal/inventory"
	"github.com/tradewind-erp/tradewind/internal/ledger"
	"github.com/tradewind-erp/tradewind/internal/ledger/reports"
	"github.com/tradewind-erp/tradewind/internal/observability"
	"github.com/tradewind-erp/tradewind/internal/procurement"
	"github.com/tradewind-erp/tradewind/internal/sales"
	"github.com/tradewind-erp/tradewind/jobs"
)

// RouterConfig aggregates every handler mounted on the HTTP surface.
type RouterConfig struct {
	Logger      *slog.Logger
	Config      *Config
	Metrics     *observability.Metrics
	Sales       *sales.Handler
	Procurement *procurement.Handler
	Inventory   *inventory.Handler
	Ledger      *ledger.Handler
	Reports     *reports.Handler
	Audit       *audit.Handler
	Jobs        *jobs.Handler
}

// NewRouter assembles the chi router: platform middleware, the metrics and
// health endpoints, and the authenticated /api tree.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	for _, mw := range MiddlewareStack(MiddlewareConfig{Logger: cfg.Logger, Config: cfg.Config}) {
		r.Use(mw)
	}
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.Jobs != nil {
		r.Route("/jobs", cfg.Jobs.MountRoutes)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(requestContextMiddleware(cfg.Logger))
		if cfg.Sales != nil {
			cfg.Sales.MountRoutes(api)
		}
		if cfg.Procurement != nil {
			cfg.Procurement.MountRoutes(api)
		}
		if cfg.Inventory != nil {
			cfg.Inventory.MountRoutes(api)
		}
		if cfg.Ledger != nil {
			cfg.Ledger.MountRoutes(api)
		}
		if cfg.Reports != nil {
			cfg.Reports.MountRoutes(api)
		}
		if cfg.Audit != nil {
			cfg.Audit.MountRoutes(api)
		}
	})
	return r
}
