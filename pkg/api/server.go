// Package api exposes the HTTP surface: task dispatch, cancellation, the
// resumable SSE stream, the internal resume webhook, and health endpoints.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/jarvislabs/jarvisd/pkg/config"
	"github.com/jarvislabs/jarvisd/pkg/queue"
	"github.com/jarvislabs/jarvisd/pkg/supervisor"
	"github.com/jarvislabs/jarvisd/pkg/tenant"
)

// Server is the HTTP front of the orchestration engine.
type Server struct {
	router     *tenant.Router
	dispatcher *queue.Dispatcher
	idem       *supervisor.IdempotencyCache
	cfg        *config.Config

	echo *echo.Echo
	srv  *http.Server
}

// NewServer builds the server and registers all routes.
func NewServer(router *tenant.Router, dispatcher *queue.Dispatcher, cfg *config.Config) *Server {
	s := &Server{
		router:     router,
		dispatcher: dispatcher,
		idem:       supervisor.NewIdempotencyCache(cfg.IdempotencyMaxSize, cfg.IdempotencyTTL),
		cfg:        cfg,
	}

	e := echo.New()
	e.Use(securityHeaders())
	e.Use(requestLogger())

	// Health endpoints stay outside tenant routing: probes carry no headers.
	e.GET("/health", s.healthHandler)
	e.GET("/ready", s.readyHandler)

	g := e.Group("", s.tenantMiddleware())
	g.POST("/supervisor", s.dispatchHandler)
	g.GET("/supervisor/events", s.legacyEventsHandler)
	g.POST("/supervisor/:id/cancel", s.cancelHandler)
	g.GET("/stream/runs/:id", s.streamHandler)
	g.POST("/jarvis/internal/runs/:id/resume", s.resumeHandler)

	s.echo = e
	s.srv = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: e,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown. Blocks; http.ErrServerClosed is swallowed.
func (s *Server) Start() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
