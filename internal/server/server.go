package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server is the coordination engine's HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Config holds everything needed to build a Server.
type Config struct {
	Handlers *Handlers
	Logger   *slog.Logger

	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// New creates a new HTTP server with all routes configured.
func New(cfg Config) *Server {
	h := cfg.Handlers
	mux := http.NewServeMux()

	// Event intake.
	mux.HandleFunc("POST /webhooks/{path...}", h.HandleWebhook)
	mux.HandleFunc("POST /v1/events/trigger", h.HandleTriggerEvent)

	// Approval workflow.
	mux.HandleFunc("GET /v1/recommendations", h.HandleListRecommendations)
	mux.HandleFunc("GET /v1/recommendations/{id}", h.HandleGetRecommendation)
	mux.HandleFunc("POST /v1/recommendations/{id}/approve", h.HandleApproveRecommendation)
	mux.HandleFunc("POST /v1/recommendations/{id}/reject", h.HandleRejectRecommendation)

	// Execution visibility.
	mux.HandleFunc("GET /v1/executions/{plan_id}", h.HandleGetExecution)

	// Observability.
	mux.HandleFunc("GET /v1/statistics", h.HandleStatistics)
	mux.HandleFunc("GET /v1/subscribe", h.HandleSubscribe)
	mux.HandleFunc("GET /health", h.HandleHealth)

	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
