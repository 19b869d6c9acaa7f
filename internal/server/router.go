package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloo-solutions/recall/internal/api"
	"github.com/cloo-solutions/recall/internal/api/handlers"
	"github.com/cloo-solutions/recall/internal/api/middleware"
	"github.com/cloo-solutions/recall/internal/metrics"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	APIKey          string
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
	Gatherer        prometheus.Gatherer
	DB              Pinger
	DocumentHandler *handlers.DocumentHandler
	SearchHandler   *handlers.SearchHandler
	ClusterHandler  *handlers.ClusterHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	const maxBodyBytes int64 = 5 * 1024 * 1024

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.RequestID)
	r.Use(middleware.Sentry)
	r.Use(middleware.AccessLog(logger))
	r.Use(middleware.Metrics(cfg.Metrics))
	r.Use(middleware.MaxBodyBytes(maxBodyBytes))
	r.Use(middleware.BearerAuth(cfg.APIKey, "/health", "/metrics"))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.DB != nil {
			if err := cfg.DB.Ping(r.Context()); err != nil {
				api.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		api.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if cfg.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/documents/{id}", func(r chi.Router) {
		r.Get("/", cfg.DocumentHandler.Get)
		r.Put("/", cfg.DocumentHandler.Save)
		r.Delete("/", cfg.DocumentHandler.Delete)
		r.Post("/saved", cfg.DocumentHandler.MarkSaved)
		r.Put("/links", cfg.DocumentHandler.SetLinks)
	})

	r.Post("/search", cfg.SearchHandler.Search)
	r.Post("/context", cfg.SearchHandler.Context)
	r.Get("/capabilities", cfg.SearchHandler.Capabilities)

	r.Get("/clusters", cfg.ClusterHandler.List)
	r.Post("/clusters/rebuild", cfg.ClusterHandler.Rebuild)

	return r
}
