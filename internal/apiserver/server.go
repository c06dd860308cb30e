// Package apiserver provides HTTP API endpoints and server functionality for launchpad
package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	// Registers the OpenAPI document served under /swagger/
	_ "github.com/lattiam/launchpad/internal/apiserver/docs"
	customMiddleware "github.com/lattiam/launchpad/internal/apiserver/middleware"
	"github.com/lattiam/launchpad/internal/config"
	"github.com/lattiam/launchpad/internal/interfaces"
	"github.com/lattiam/launchpad/internal/logging"
	"github.com/lattiam/launchpad/internal/system"
	"github.com/lattiam/launchpad/internal/trigger"
)

// APIServer exposes runs, targets, and the push webhook over HTTP
type APIServer struct {
	router     chi.Router
	server     *http.Server
	system     *system.System
	queue      interfaces.TriggerQueue
	workerPool interfaces.WorkerPool
	gateway    *trigger.Gateway
	config     *config.ServerConfig
	logger     *logging.Logger
	startedAt  time.Time
}

// NewAPIServer creates an API server over a built system. workerPool may be
// nil when triggers are consumed by another process.
func NewAPIServer(
	cfg *config.ServerConfig,
	sys *system.System,
	queue interfaces.TriggerQueue,
	workerPool interfaces.WorkerPool,
) (*APIServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if sys == nil {
		return nil, fmt.Errorf("system is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("trigger queue is required")
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(customMiddleware.Correlation)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.StripSlashes)
	router.Use(middleware.Timeout(RequestTimeout))

	s := &APIServer{
		router: router,
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  ReadTimeout,
			WriteTimeout: WriteTimeout,
			IdleTimeout:  IdleTimeout,
		},
		system:     sys,
		queue:      queue,
		workerPool: workerPool,
		gateway:    trigger.NewGateway(queue, sys.Applications, cfg.Webhook.Secret),
		config:     cfg,
		logger:     logging.NewLogger("apiserver"),
		startedAt:  time.Now(),
	}

	s.setupRoutes()

	// JSON instead of chi's plain-text 404
	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "not_found", "The requested endpoint was not found")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed for this endpoint")
	})

	return s, nil
}

func (s *APIServer) setupRoutes() {
	s.router.Route(APIPrefix, func(r chi.Router) {
		r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
			WriteError(w, http.StatusNotFound, "not_found", "The requested endpoint was not found")
		})

		r.Use(customMiddleware.BodyLimit(customMiddleware.MaxRequestBodySize))
		r.Use(customMiddleware.ContentTypeValidator())

		r.Post("/hooks/push", s.receivePush)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Post("/", s.createRun)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(customMiddleware.IDValidator("id"))

				r.Get("/", s.getRun)
				r.Post("/cancel", s.cancelRun)
				r.Post("/rollback", s.rollbackRun)
			})
		})

		r.Get("/targets", s.listTargets)
		r.Post("/targets/reload", s.reloadTargets)

		r.Get("/queue/metrics", s.getQueueMetrics)
		r.Get("/system/health", s.getSystemHealth)
		r.Get("/system/config", s.getConfig)
		r.Get("/system/runtime", s.getRuntimeInfo)
		r.Get("/system/disk-usage", s.getDiskUsage)
	})

	s.router.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL(fmt.Sprintf("http://localhost:%d/swagger/doc.json", s.config.Port)),
	))
}

// Router returns the HTTP router for testing
func (s *APIServer) Router() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *APIServer) Start() error {
	s.logger.Infof("Starting API server on %s", s.server.Addr)
	if s.workerPool != nil {
		s.workerPool.Start()
	}
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, then stops the trigger workers
func (s *APIServer) Shutdown(ctx context.Context) error {
	s.logger.Infof("Shutting down API server...")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	if s.workerPool != nil {
		if err := s.workerPool.Stop(ctx); err != nil {
			s.logger.Warnf("Warning: failed to stop worker pool: %v", err)
		}
	}
	return nil
}
