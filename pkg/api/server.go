package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cuemby/burrow/pkg/alerts"
	"github.com/cuemby/burrow/pkg/discovery"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/scrape"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/tsdb"
)

// Server is the HTTP control API: service and node lifecycle, sample
// queries, alert rules, discovery, and self-metrics.
type Server struct {
	e         *echo.Echo
	manager   *manager.Manager
	resolver  *discovery.Resolver
	ts        *tsdb.Store
	evaluator *alerts.Evaluator
	engine    *scrape.Engine
	addr      string
}

// Config holds API server configuration
type Config struct {
	ListenAddr string
}

// NewServer wires the control API over the given components. The scrape
// engine may be nil when the process runs without one.
func NewServer(mgr *manager.Manager, resolver *discovery.Resolver, ts *tsdb.Store, evaluator *alerts.Evaluator, engine *scrape.Engine, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{
		e:         e,
		manager:   mgr,
		resolver:  resolver,
		ts:        ts,
		evaluator: evaluator,
		engine:    engine,
		addr:      cfg.ListenAddr,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.e.GET("/healthz", s.healthz)
	s.e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	v1 := s.e.Group("/v1")

	v1.POST("/services", s.applyService)
	v1.GET("/services", s.listServices)
	v1.GET("/services/:name", s.getService)
	v1.DELETE("/services/:name", s.removeService)
	v1.POST("/services/:name/scale", s.scaleService)
	v1.GET("/services/:name/endpoints", s.serviceEndpoints)
	v1.GET("/services/:name/tasks", s.serviceTasks)

	v1.POST("/nodes", s.joinNode)
	v1.GET("/nodes", s.listNodes)
	v1.GET("/nodes/:id", s.getNode)
	v1.POST("/nodes/:id/heartbeat", s.heartbeat)
	v1.POST("/nodes/:id/drain", s.drainNode)
	v1.DELETE("/nodes/:id", s.leaveNode)

	v1.GET("/tasks", s.listTasks)

	v1.GET("/query", s.query)
	v1.GET("/metrics/names", s.metricNames)
	v1.GET("/targets", s.targets)

	v1.PUT("/alerts/rules", s.putAlertRule)
	v1.GET("/alerts/rules", s.listAlertRules)
	v1.DELETE("/alerts/rules/:name", s.deleteAlertRule)
	v1.GET("/alerts", s.listAlerts)

	v1.GET("/events", s.recentEvents)

	v1.POST("/cluster/join", s.clusterJoin)
	v1.GET("/cluster/leader", s.clusterLeader)
}

// Start begins serving in a background goroutine
func (s *Server) Start() error {
	logger := log.WithComponent("api")
	logger.Info().Str("address", s.addr).Msg("Starting API server")

	go func() {
		if err := s.e.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}

// Handler exposes the routing tree for tests
func (s *Server) Handler() http.Handler {
	return s.e
}

func (s *Server) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// httpError maps domain errors onto status codes: validation errors are the
// caller's fault, unknown names are 404, mutations on a follower are 503
// with the leader's address for the client to follow.
func httpError(c echo.Context, err error) error {
	var verr *manager.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusBadRequest, errorBody(err))
	case errors.Is(err, storage.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody(err))
	case errors.Is(err, manager.ErrNotLeader):
		return c.JSON(http.StatusServiceUnavailable, errorBody(err))
	case errors.Is(err, discovery.ErrNoEndpoints):
		return c.JSON(http.StatusNotFound, errorBody(err))
	default:
		return c.JSON(http.StatusInternalServerError, errorBody(err))
	}
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

// requestLogger logs completed requests through the shared logger
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.WithComponent("api").Debug().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Msg("Request")
			return nil
		},
	})
}
