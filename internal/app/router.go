package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dairyledger/dairyledger/internal/advance"
	"github.com/dairyledger/dairyledger/internal/farmer"
	"github.com/dairyledger/dairyledger/internal/farmerledger"
	"github.com/dairyledger/dairyledger/internal/ledger"
	"github.com/dairyledger/dairyledger/internal/loan"
	"github.com/dairyledger/dairyledger/internal/observability"
	"github.com/dairyledger/dairyledger/internal/recovery"
	"github.com/dairyledger/dairyledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	LedgerHandler       *ledger.Handler
	AdvanceHandler      *advance.Handler
	LoanHandler         *loan.Handler
	RecoveryHandler     *recovery.Handler
	FarmerHandler       *farmer.Handler
	FarmerLedgerHandler *farmerledger.Handler
	JobsHandler         *jobs.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	if params.Metrics != nil {
		r.Use(params.Metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger: params.Logger,
			Config: params.Config,
		}) {
			r.Use(mw)
		}
		r.Use(chimw.Logger)

		r.Route("/api/v1", func(r chi.Router) {
			params.LedgerHandler.MountRoutes(r)
			params.AdvanceHandler.MountRoutes(r)
			params.LoanHandler.MountRoutes(r)
			params.RecoveryHandler.MountRoutes(r)
			params.FarmerHandler.MountRoutes(r)
			params.FarmerLedgerHandler.MountRoutes(r)
		})
	})

	return r
}
