package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rushboard/rushboard/internal/advance"
	"github.com/rushboard/rushboard/internal/audit"
	"github.com/rushboard/rushboard/internal/auth"
	"github.com/rushboard/rushboard/internal/cycles"
	"github.com/rushboard/rushboard/internal/delibs"
	"github.com/rushboard/rushboard/internal/observability"
	"github.com/rushboard/rushboard/internal/platform/httpx"
	"github.com/rushboard/rushboard/internal/rbac"
	"github.com/rushboard/rushboard/internal/realtime"
	"github.com/rushboard/rushboard/internal/rounds"
	"github.com/rushboard/rushboard/internal/settings"
	"github.com/rushboard/rushboard/internal/shared"
	"github.com/rushboard/rushboard/internal/votes"
	"github.com/rushboard/rushboard/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Metrics        *observability.Metrics
	AuthMiddleware auth.Middleware
	RBACMiddleware rbac.Middleware

	RoundsHandler   *rounds.Handler
	DelibsHandler   *delibs.Handler
	VotesHandler    *votes.Handler
	CyclesHandler   *cycles.Handler
	SettingsHandler *settings.Handler
	AuditHandler    *audit.Handler
	SweepHandler    *advance.Handler
	RealtimeHandler *realtime.Handler
	JobHandler      *jobs.Handler
}

// NewRouter constructs the chi.Router with rushboard defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "not_found", "Not Found", "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusMethodNotAllowed, "validation", "Method Not Allowed", r.Method+" is not supported here")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	// The sweep trigger is called by an external scheduler without credentials.
	if params.SweepHandler != nil {
		r.Route("/internal", func(r chi.Router) {
			r.Use(RequestTimeout(params.Config))
			params.SweepHandler.MountRoutes(r)
		})
	}

	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			params.JobHandler.MountRoutes(r)
			r.Group(func(r chi.Router) {
				r.Use(params.AuthMiddleware.Authenticate)
				params.JobHandler.MountAdminRoutes(r)
			})
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(params.AuthMiddleware.Authenticate)

		if params.RealtimeHandler != nil {
			r.Route("/realtime", func(r chi.Router) {
				r.Use(params.RBACMiddleware.RequireAny(shared.PermRealtimeSubscribe))
				params.RealtimeHandler.MountRoutes(r)
			})
		}

		r.Group(func(r chi.Router) {
			r.Use(RequestTimeout(params.Config))
			if params.RoundsHandler != nil {
				params.RoundsHandler.MountRoutes(r)
			}
			if params.DelibsHandler != nil {
				params.DelibsHandler.MountRoutes(r)
			}
			if params.VotesHandler != nil {
				params.VotesHandler.MountRoutes(r)
			}
			if params.CyclesHandler != nil {
				params.CyclesHandler.MountRoutes(r)
			}
			if params.SettingsHandler != nil {
				params.SettingsHandler.MountRoutes(r)
			}
			if params.AuditHandler != nil {
				params.AuditHandler.MountRoutes(r)
			}
		})
	})

	return r
}
