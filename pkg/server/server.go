// Package server exposes the context engine over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/contexhq/contex/pkg/engine"
	"github.com/contexhq/contex/pkg/health"
)

// Server serves the REST API backed by a single engine instance.
type Server struct {
	e       *echo.Echo
	engine  *engine.Engine
	checker *health.Checker
}

type Option func(*Server)

// WithChecker installs the probe set reported by the health endpoints.
// Without it /health answers with a plain healthy status.
func WithChecker(c *health.Checker) Option {
	return func(s *Server) {
		s.checker = c
	}
}

func New(eng *engine.Engine, opts ...Option) *Server {
	s := &Server{
		e:      echo.New(),
		engine: eng,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Use(middleware.CORS())
	s.e.Use(middleware.Recover())
	s.e.Use(requestLogger())

	// Service banner
	s.e.GET("/", s.root)

	// Publish data into a project
	s.e.POST("/data/publish", s.publish)
	// Publish several items in one call
	s.e.POST("/batch/publish", s.batchPublish)
	// Semantic search over a project
	s.e.POST("/query", s.query)

	// Register an agent and receive its initial context
	s.e.POST("/agents/register", s.register)
	// Remove an agent from a project
	s.e.POST("/agents/:id/unregister", s.unregister)
	// List the agents of a project
	s.e.GET("/agents", s.listAgents)
	// Get a single agent descriptor
	s.e.GET("/agents/:id", s.getAgent)

	// Dump of everything a project holds
	s.e.GET("/projects/:id/data", s.projectData)
	// Event history with offset paging
	s.e.GET("/projects/:id/events", s.projectEvents)
	// Portable project dump
	s.e.GET("/projects/:id/export", s.exportProject)
	// Restore a project dump
	s.e.POST("/projects/:id/import", s.importProject)

	// Drop a project and everything attached to it
	s.e.POST("/admin/cleanup/:id", s.cleanup)

	s.e.GET("/health", s.health)
	s.e.GET("/health/ready", s.ready)
	s.e.GET("/health/live", s.live)

	return s
}

// Handler exposes the routing tree so tests can drive the API without a
// listener.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Serve runs the HTTP server on ln until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := http.Server{
		Handler: s.e,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Server listening", "address", ln.Addr().String())

	err := srv.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		slog.Error("Server stopped", "error", err)
		return err
	}

	return nil
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogMethod:  true,
		LogURI:     true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.Any("error", v.Error))
			}
			slog.LogAttrs(c.Request().Context(), level, "HTTP request", attrs...)
			return nil
		},
	})
}
