package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rflorenc/flowdeck/internal/deploy"
	"github.com/rflorenc/flowdeck/internal/health"
	"github.com/rflorenc/flowdeck/internal/metrics"
	"github.com/rflorenc/flowdeck/internal/models"
	"github.com/rflorenc/flowdeck/internal/platform"
	"github.com/rflorenc/flowdeck/internal/settings"
)

// Server holds shared state for all API handlers.
type Server struct {
	Instances *models.InstanceStore
	Platforms *platform.Registry
	Settings  settings.Provider
	Sweeper   *health.Coordinator
	Deploys   *deploy.Registry
	Jobs      *models.JobStore
	Sweeps    *SweepStore
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
}

// NewRouter builds the chi router with all API routes.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger()))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		// Instances
		r.Post("/instances", s.CreateInstance)
		r.Get("/instances", s.ListInstances)
		r.Put("/instances/{id}", s.UpdateInstance)
		r.Delete("/instances/{id}", s.DeleteInstance)
		r.Post("/instances/{id}/test", s.TestInstance)
		r.Get("/instances/{id}/topology", s.GetTopology)

		// Flows and resolution
		r.Get("/flows", s.ListFlows)
		r.Get("/hierarchy", s.GetHierarchy)
		r.Post("/resolve-path", s.ResolvePath)
		r.Post("/classify", s.ClassifyStatus)

		// Health sweeps (async)
		r.Post("/instances/{id}/sweep", s.RunSweep)
		r.Get("/sweeps/{jobId}", s.GetSweepResult)

		// Deployments
		r.Post("/deployments", s.CreateDeployments)
		r.Get("/deployments", s.ListDeployments)
		r.Delete("/deployments", s.PruneDeployments)
		r.Get("/deployments/{id}", s.GetDeployment)
		r.Post("/deployments/{id}/resolve", s.ResolveDeployment)
		r.Post("/deployments/{id}/cancel", s.CancelDeployment)

		// Jobs
		r.Get("/jobs", s.ListJobs)
		r.Get("/jobs/{id}", s.GetJob)
		r.Post("/jobs/{id}/cancel", s.CancelJob)
	})

	// WebSocket (outside /api to avoid JSON content-type assumptions)
	r.Get("/ws/jobs/{id}/logs", s.StreamJobLogs)

	gatherer := s.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

func (s *Server) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
