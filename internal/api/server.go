// Package api wraps the store and registry behind a REST surface plus
// the worker websocket upgrade endpoint.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tachyon-cluster/dispatcher/internal/config"
	"github.com/tachyon-cluster/dispatcher/internal/registry"
	"github.com/tachyon-cluster/dispatcher/internal/store"
)

// Server is the composition point for the HTTP surface: REST CRUD over
// tasks/workers, system status, and the worker websocket endpoint.
type Server struct {
	st     store.Store
	reg    *registry.Registry
	cfg    *config.Config
	log    *slog.Logger
	router *chi.Mux

	// OpenAlt lazily opens the backend NOT selected by cfg.Database.Type,
	// used by the /admin/migrate endpoint. Nil disables that route.
	OpenAlt func() (store.Store, error)
}

// New builds a Server and wires its routes.
func New(st store.Store, reg *registry.Registry, cfg *config.Config, log *slog.Logger) *Server {
	s := &Server{
		st:     st,
		reg:    reg,
		cfg:    cfg,
		log:    log,
		router: chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.apiKeyMiddleware)

	s.router.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/", s.handleListTasks)
		r.Get("/{id}", s.handleGetTask)
		r.Put("/{id}", s.handleUpdateTask)
		r.Delete("/{id}", s.handleDeleteTask)
	})

	s.router.Route("/workers", func(r chi.Router) {
		r.Post("/", s.handleRegisterWorker)
		r.Get("/", s.handleListWorkers)
		r.Get("/{id}", s.handleGetWorker)
		r.Put("/{id}", s.handleUpdateWorker)
		r.Delete("/{id}", s.handleDeleteWorker)
		r.Get("/{id}/health", s.handleWorkerHealth)
	})

	s.router.Get("/status", s.handleStatus)
	s.router.Get("/api/status", s.handleStatus)

	s.router.Get("/ws/worker/{id}", s.handleWorkerWebSocket)

	s.router.Post("/admin/migrate", s.handleMigrate)
}

// Handler exposes the underlying http.Handler for use by cmd/dispatcherd.
func (s *Server) Handler() http.Handler { return s.router }

// apiKeyMiddleware enforces the optional X-API-Key gate, failing open
// with a warning when required but no keys are configured.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Security.APIKeyRequired {
			next.ServeHTTP(w, r)
			return
		}
		if len(s.cfg.Security.APIKeys) == 0 {
			s.log.Warn("api key required but none configured; allowing all requests")
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		for _, k := range s.cfg.Security.APIKeys {
			if key == k {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeError(w, http.StatusUnauthorized, "invalid API key")
	})
}
