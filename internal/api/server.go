// Package api serves the HTTP surface over the engine: event ingress,
// fact and rule CRUD, timers, trace inspection with an SSE stream, and
// prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tidefall/reflex/internal/engine"
	"github.com/tidefall/reflex/internal/registry"
	"github.com/tidefall/reflex/internal/rule"
	"github.com/tidefall/reflex/internal/storage"
	"github.com/tidefall/reflex/internal/timers"
)

// Options configure the server. Storage and Gatherer are optional;
// endpoints needing an absent subsystem answer 503.
type Options struct {
	Storage  storage.Adapter
	Gatherer prometheus.Gatherer
	ServerID string
	Logger   *slog.Logger
}

// Server wraps an echo instance bound to one engine.
type Server struct {
	eng  *engine.Engine
	echo *echo.Echo
	opts Options
	log  *slog.Logger
}

// New builds the server and registers all routes.
func New(eng *engine.Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{eng: eng, echo: e, opts: opts, log: logger}
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	e := s.echo

	e.POST("/events", s.PostEvent)

	e.GET("/facts", s.ListFacts)
	e.GET("/facts/:key", s.GetFact)
	e.PUT("/facts/:key", s.PutFact)
	e.DELETE("/facts/:key", s.DeleteFact)

	e.GET("/rules", s.ListRules)
	e.POST("/rules", s.CreateRule)
	e.GET("/rules/:id", s.GetRule)
	e.PUT("/rules/:id", s.ReplaceRule)
	e.DELETE("/rules/:id", s.DeleteRule)
	e.POST("/rules/:id/enable", s.EnableRule)
	e.POST("/rules/:id/disable", s.DisableRule)
	e.POST("/rules/groups/:group/enable", s.EnableGroup)
	e.POST("/rules/groups/:group/disable", s.DisableGroup)

	e.GET("/timers", s.ListTimers)
	e.GET("/timers/:name", s.GetTimer)
	e.PUT("/timers/:name", s.PutTimer)
	e.DELETE("/timers/:name", s.DeleteTimer)

	e.GET("/debug/trace", s.QueryTrace)
	e.GET("/debug/trace/stream", s.StreamTrace)
	e.POST("/debug/trace/enable", s.EnableTrace)
	e.POST("/debug/trace/disable", s.DisableTrace)
	e.GET("/debug/events/:id", s.GetEvent)
	e.GET("/debug/correlations/:id", s.GetCorrelation)
	e.POST("/debug/snapshot", s.SaveSnapshot)
	e.POST("/debug/snapshot/restore", s.RestoreSnapshot)

	if s.opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(
			promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}
}

// Handler returns the http.Handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.log.Info("http server listening", "addr", addr)
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// httpError maps engine errors onto the API's status codes.
func (s *Server) httpError(c echo.Context, err error) error {
	var status int
	switch {
	case rule.IsValidation(err) || timers.IsTimerError(err):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, engine.ErrStopped), errors.Is(err, engine.ErrServiceUnavailable):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusInternalServerError
		s.log.Error("request failed",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err,
		)
	}
	return c.JSON(status, map[string]any{"error": err.Error()})
}
