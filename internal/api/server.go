// Package api provides the Kestrel HTTP API.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server serving the given handler.
func NewServer(cfg domain.ServerConfig, handler *Handler) *Server {
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(TracingMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	router.Route("/rfm", func(r chi.Router) {
		r.Get("/analysis", handler.RFMAnalysis)
		r.Get("/segments", handler.Segments)
	})

	router.Get("/products/analytics", handler.ProductAnalytics)
	router.Get("/dashboard/overview", handler.DashboardOverview)

	router.Route("/sync", func(r chi.Router) {
		r.Get("/status", handler.SyncStatus)
		r.Post("/events", handler.SyncEvents)
	})

	router.Route("/audiences", func(r chi.Router) {
		r.Get("/", handler.ListAudiences)
		r.Post("/", handler.CreateAudience)
		r.Post("/reload", handler.ReloadAudiences)
		r.Get("/{id}", handler.GetAudience)
		r.Put("/{id}", handler.UpdateAudience)
		r.Delete("/{id}", handler.DeleteAudience)
		r.Get("/{id}/customers", handler.AudienceCustomers)
	})

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
