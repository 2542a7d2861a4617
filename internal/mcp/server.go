// Package mcp exposes the task engine over the Model Context Protocol.
//
// Each engine operation is registered as a typed MCP tool with structured
// input and output. The adapter translates between tool arguments and the
// engine's API; it holds no engine state of its own.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/orchestrator"
	"github.com/fyrsmithlabs/agentd/internal/procedure"
	"github.com/fyrsmithlabs/agentd/internal/runner"
)

// Server adapts the engine to MCP.
type Server struct {
	mcp     *mcp.Server
	runner  *runner.Runner
	orch    *orchestrator.Orchestrator
	procs   *procedure.Executor
	metrics *Metrics
	logger  *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "agentd").
	Name string

	// Version is the server version (default: "1.0.0").
	Version string

	// Logger for structured logging.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "agentd",
		Version: "1.0.0",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates an MCP server over the engine components.
func NewServer(cfg *Config, r *runner.Runner, orch *orchestrator.Orchestrator, procs *procedure.Executor) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if r == nil {
		return nil, fmt.Errorf("task runner is required")
	}
	if orch == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if procs == nil {
		return nil, fmt.Errorf("procedure executor is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:     mcpServer,
		runner:  r,
		orch:    orch,
		procs:   procs,
		metrics: NewMetrics(cfg.Logger),
		logger:  cfg.Logger.Named("mcp"),
	}
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
