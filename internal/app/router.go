package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rigflow/rigflow/internal/auth"
	"github.com/rigflow/rigflow/internal/features"
	"github.com/rigflow/rigflow/internal/observability"
	"github.com/rigflow/rigflow/internal/platform/httpx"
	"github.com/rigflow/rigflow/internal/rbac"
	"github.com/rigflow/rigflow/internal/shared"
	"github.com/rigflow/rigflow/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	Store          *rbac.Store
	RBACMiddleware rbac.Middleware
	AuthHandler    *auth.Handler
	AuthzHandler   *rbac.Handler
	FeatureGate    *features.Gate
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// NewRouter constructs the chi.Router with RigFlow defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if params.Store != nil {
			body["policy_version"] = params.Store.Version()
		}
		httpx.JSON(w, http.StatusOK, body)
	})

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.AuthzHandler != nil {
		r.Route("/authz", params.AuthzHandler.MountRoutes)
	}
	if params.FeatureGate != nil {
		r.Route("/features", params.FeatureGate.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			params.JobHandler.MountRoutes(r, params.RBACMiddleware.RequireAll(rbac.PermUserManage))
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondError(w, httpx.ErrNotFound)
	})

	return r
}
