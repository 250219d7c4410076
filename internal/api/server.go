// Package api serves the operational HTTP endpoints: liveness, a
// worker status snapshot, and the Prometheus exposition.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Status is the worker state reported on /status.
type Status struct {
	StartedAt   time.Time `json:"started_at"`
	Uptime      string    `json:"uptime"`
	Workers     []string  `json:"workers"`
	Instruments int       `json:"instruments"`
}

// StatusProvider exposes a point-in-time snapshot of the running worker.
type StatusProvider interface {
	Snapshot() Status
}

// Server runs the ops HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	addr     string
	provider StatusProvider
	logger   *slog.Logger
}

// NewServer wires the routes. metricsHandler may be nil, in which case
// /metrics is not registered.
func NewServer(addr string, provider StatusProvider, metricsHandler http.Handler, logger *slog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		addr:     addr,
		provider: provider,
		logger:   logger.With("component", "ops-server"),
	}

	e.GET("/healthz", s.handleHealth)
	e.GET("/status", s.handleStatus)
	if metricsHandler != nil {
		e.GET("/metrics", echo.WrapHandler(metricsHandler))
	}
	return s
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.provider.Snapshot())
}

// Start blocks until Stop is called or the listener fails.
func (s *Server) Start() error {
	s.logger.Info("ops server starting", "addr", s.addr)
	if err := s.echo.Start(s.addr); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ops server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping ops server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.echo.Shutdown(ctx)
}
