// Package http provides the HTTP API for agentd.
//
// The operation surface mirrors the MCP tools: a single POST endpoint
// dispatches on a closed operation enum, plus read-only convenience routes
// for health and status.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/orchestrator"
	"github.com/fyrsmithlabs/agentd/internal/procedure"
	"github.com/fyrsmithlabs/agentd/internal/runner"
)

// Server provides HTTP endpoints for the engine.
type Server struct {
	echo   *echo.Echo
	runner *runner.Runner
	orch   *orchestrator.Orchestrator
	procs  *procedure.Executor
	logger *zap.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server over the engine components.
func NewServer(r *runner.Runner, orch *orchestrator.Orchestrator, procs *procedure.Executor, logger *zap.Logger, cfg *Config) (*Server, error) {
	if r == nil {
		return nil, fmt.Errorf("task runner is required")
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if procs == nil {
		return nil, fmt.Errorf("procedure executor is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9090}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		runner: r,
		orch:   orch,
		procs:  procs,
		logger: logger.Named("http"),
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

// Echo exposes the underlying router so the entrypoint can attach extra
// handlers, e.g. the Prometheus metrics endpoint.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/engine/status", s.handleStatus)
	v1.POST("/engine/:operation", s.handleOperation)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// StatusResponse combines the runner snapshot with orchestrator counters.
type StatusResponse struct {
	Runner       runner.Snapshot    `json:"runner"`
	Orchestrator orchestrator.Stats `json:"orchestrator"`
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Runner:       s.runner.Status(),
		Orchestrator: s.orch.Status(),
	})
}

// ErrorResponse is the error body for failed operations.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleOperation(c echo.Context) error {
	op, err := ParseOperation(c.Param("operation"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}

	var req OpRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid operation request",
			zap.String("operation", string(op)),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.dispatch(c.Request().Context(), op, req)
	if err != nil {
		status, kind := classifyError(err)
		return c.JSON(status, ErrorResponse{Error: err.Error(), Kind: kind})
	}
	return c.JSON(http.StatusOK, result)
}

// classifyError maps the engine's error taxonomy onto HTTP statuses.
func classifyError(err error) (int, string) {
	switch {
	case runner.IsInvalidRequest(err), procedure.IsInvalidRequest(err):
		return http.StatusBadRequest, "validation"
	case runner.IsBlocked(err):
		return http.StatusForbidden, "policy_denial"
	case procedure.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case procedure.IsTimeout(err):
		return http.StatusGatewayTimeout, "timeout"
	case isPlanTimeout(err):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "execution"
	}
}

func isPlanTimeout(err error) bool {
	var to *orchestrator.PlanTimeoutError
	return errors.As(err, &to)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
