// Agentd is the task execution and orchestration daemon for AI agents.
//
// It accepts autonomous task requests, gates them through a safety policy,
// queues and runs them under a circuit breaker, and classifies, plans and
// executes multi-step or versioned-procedure work.
//
// Usage:
//
//	# Start the daemon with the HTTP API
//	agentd
//
//	# Start as an MCP server on stdio (for agent harness integration)
//	agentd -stdio
//
//	# Configure via file and environment
//	agentd -config /etc/agentd/config.yaml
//	AGENTD_SERVER_HTTP_PORT=8080 agentd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/breaker"
	"github.com/fyrsmithlabs/agentd/internal/config"
	agentdhttp "github.com/fyrsmithlabs/agentd/internal/http"
	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/mcp"
	"github.com/fyrsmithlabs/agentd/internal/notify"
	"github.com/fyrsmithlabs/agentd/internal/orchestrator"
	"github.com/fyrsmithlabs/agentd/internal/procedure"
	"github.com/fyrsmithlabs/agentd/internal/runner"
	"github.com/fyrsmithlabs/agentd/internal/telemetry"
	"github.com/fyrsmithlabs/agentd/internal/tool"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	stdioMode := flag.Bool("stdio", false, "run as an MCP server on stdio instead of the HTTP API")
	flag.Parse()

	if args := flag.Args(); len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  agentd            Start the agentd daemon\n")
			fmt.Fprintf(os.Stderr, "  agentd -stdio     Start as an MCP stdio server\n")
			fmt.Fprintf(os.Stderr, "  agentd version    Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath, *stdioMode); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Shutdown complete")
}

func printVersion() {
	fmt.Printf("agentd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires the engine and blocks until context cancellation.
//
//  1. Loads and validates configuration
//  2. Initializes the logger
//  3. Connects to NATS if configured (best-effort event publishing)
//  4. Loads the procedure catalog and builds the engine components
//  5. Serves either the MCP stdio transport or the HTTP API
func run(ctx context.Context, configPath string, stdioMode bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting agentd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("stdio", stdioMode))

	tel, err := telemetry.New(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}()

	// Event publishing is optional; the engine runs fine without a broker.
	publisher := notify.Publisher(notify.Nop{})
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("agentd"))
		if err != nil {
			logger.Warn("nats unavailable, execution events disabled",
				zap.String("url", cfg.NATS.URL),
				zap.Error(err))
		} else {
			defer nc.Close()
			publisher = notify.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix, logger)
			logger.Info("nats connected", zap.String("url", cfg.NATS.URL))
		}
	}

	catalog, err := procedure.LoadCatalogDir(cfg.Procedures.CatalogDir)
	if err != nil {
		return fmt.Errorf("failed to load procedure catalog: %w", err)
	}

	tools := tool.NewRegistry()
	registerBuiltinTools(tools)

	procs, err := procedure.NewExecutor(procedure.Config{
		DefaultTimeout: cfg.Procedures.DefaultTimeout,
		RetentionTTL:   cfg.Procedures.RetentionTTL,
	}, catalog, tools, publisher, logger)
	if err != nil {
		return fmt.Errorf("failed to create procedure executor: %w", err)
	}
	defer procs.Close()

	orch, err := orchestrator.New(catalog, procs, tools, cfg.Orchestrator.Routines, logger)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	// Queued tasks run through the orchestrator; an escalated outcome is a
	// completed task whose result carries the hand-off context.
	executor := runner.ExecutorFunc(func(ctx context.Context, task runner.Task) (any, error) {
		return orch.Execute(ctx, orchestrator.Request{
			Description: task.Spec.Description,
			Context:     taskContext(task),
		})
	})

	taskRunner, err := runner.New(runner.Config{
		HistoryLimit: cfg.Runner.HistoryLimit,
		IdleInterval: cfg.Runner.IdleInterval,
		Breaker: breaker.Config{
			FailureThreshold: cfg.Runner.FailureThreshold,
			Cooldown:         cfg.Runner.Cooldown,
			ProbeBudget:      cfg.Runner.ProbeBudget,
		},
	}, executor, logger)
	if err != nil {
		return fmt.Errorf("failed to create task runner: %w", err)
	}
	taskRunner.Start(ctx)
	defer taskRunner.Stop()

	if stdioMode {
		return runStdio(ctx, cfg, taskRunner, orch, procs, logger)
	}
	return runHTTP(ctx, cfg, taskRunner, orch, procs, logger)
}

func runStdio(ctx context.Context, cfg *config.Config, taskRunner *runner.Runner, orch *orchestrator.Orchestrator, procs *procedure.Executor, logger *zap.Logger) error {
	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "agentd",
		Version: version,
		Logger:  logger,
	}, taskRunner, orch, procs)
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// stdio uses stdout for the protocol; say hello on stderr.
	fmt.Fprintln(os.Stderr, "agentd MCP stdio server started")
	return srv.Run(ctx)
}

func runHTTP(ctx context.Context, cfg *config.Config, taskRunner *runner.Runner, orch *orchestrator.Orchestrator, procs *procedure.Executor, logger *zap.Logger) error {
	srv, err := agentdhttp.NewServer(taskRunner, orch, procs, logger, &agentdhttp.Config{
		Host: "localhost",
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// taskContext lifts the optional task payload fields into the execution
// context map.
func taskContext(task runner.Task) map[string]any {
	ctx := make(map[string]any)
	if task.Spec.Command != "" {
		ctx["command"] = task.Spec.Command
	}
	if task.Spec.Path != "" {
		ctx["path"] = task.Spec.Path
	}
	if task.Spec.Query != "" {
		ctx["query"] = task.Spec.Query
	}
	if len(task.Hints) > 0 {
		ctx["hints"] = task.Hints
	}
	return ctx
}
