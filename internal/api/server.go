package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-importer/internal/metrics"
	"github.com/JakeFAU/catalog-importer/internal/orchestrator"
	"github.com/JakeFAU/catalog-importer/internal/pipeline"
)

const defaultRequestTimeout = 60 * time.Second

// Submitter accepts uploads.
type Submitter interface {
	Submit(ctx context.Context, up orchestrator.Upload) (pipeline.Job, error)
}

// ProgressStreamer serves job progress.
type ProgressStreamer interface {
	Stream(w http.ResponseWriter, r *http.Request, jobID string) error
	Snapshot(ctx context.Context, jobID string) (pipeline.Job, error)
}

// WebhookTester performs synchronous test deliveries.
type WebhookTester interface {
	Test(ctx context.Context, id int64) (pipeline.DeliveryAttempt, error)
}

// Deps bundles the collaborators the handlers call.
type Deps struct {
	Submitter Submitter
	Progress  ProgressStreamer
	Webhooks  pipeline.WebhookRegistry
	Tester    WebhookTester
	Catalog   pipeline.CatalogSink
	Notifier  pipeline.Notifier
	// Ready reports whether downstream dependencies are reachable. Nil means
	// always ready.
	Ready func(ctx context.Context) error
}

// Config tunes the HTTP layer.
type Config struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the pipeline.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{deps: deps, logger: logger}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{requestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Progress streams stay open for the life of the import, so they sit
	// outside the request timeout.
	r.Get("/api/progress/{job_id}", s.streamProgress)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))
		r.Route("/api/products", func(r chi.Router) {
			r.Post("/upload", s.uploadProducts)
			r.Delete("/", s.deleteProducts)
		})
		r.Get("/api/jobs/{job_id}", s.getJob)
		r.Route("/api/webhooks", func(r chi.Router) {
			r.Get("/", s.listWebhooks)
			r.Post("/", s.createWebhook)
			r.Route("/{webhook_id}", func(r chi.Router) {
				r.Put("/", s.updateWebhook)
				r.Delete("/", s.deleteWebhook)
				r.Post("/test", s.testWebhook)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Ready(ctx); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
