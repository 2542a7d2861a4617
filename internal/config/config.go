// Package config provides configuration loading for agentd.
//
// Configuration is loaded from an optional YAML file, then overridden by
// environment variables, with hardcoded defaults filling the gaps.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/agentd/internal/orchestrator"
	"github.com/fyrsmithlabs/agentd/internal/telemetry"
)

// Config holds the complete agentd configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Runner       RunnerConfig       `koanf:"runner"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Procedures   ProceduresConfig   `koanf:"procedures"`
	NATS         NATSConfig         `koanf:"nats"`
	Telemetry    telemetry.Config   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// RunnerConfig holds task runner and circuit breaker configuration.
type RunnerConfig struct {
	HistoryLimit     int           `koanf:"history_limit"`
	IdleInterval     time.Duration `koanf:"idle_interval"`
	FailureThreshold int           `koanf:"failure_threshold"`
	Cooldown         time.Duration `koanf:"cooldown"`
	ProbeBudget      int           `koanf:"probe_budget"`
}

// OrchestratorConfig holds plan execution configuration and the routine
// decompositions the classifier matches against.
type OrchestratorConfig struct {
	PlanTimeout time.Duration          `koanf:"plan_timeout"`
	Routines    []orchestrator.Routine `koanf:"routines"`
}

// ProceduresConfig holds procedure catalog and executor configuration.
type ProceduresConfig struct {
	// CatalogDir is the directory of YAML procedure definitions. A missing
	// directory yields an empty catalog.
	CatalogDir     string        `koanf:"catalog_dir"`
	DefaultTimeout time.Duration `koanf:"default_timeout"`
	RetentionTTL   time.Duration `koanf:"retention_ttl"`
}

// NATSConfig holds the optional event publishing configuration. Publishing
// is disabled when URL is empty.
type NATSConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Runner.HistoryLimit == 0 {
		cfg.Runner.HistoryLimit = 200
	}
	if cfg.Runner.IdleInterval == 0 {
		cfg.Runner.IdleInterval = 250 * time.Millisecond
	}
	if cfg.Runner.FailureThreshold == 0 {
		cfg.Runner.FailureThreshold = 5
	}
	if cfg.Runner.Cooldown == 0 {
		cfg.Runner.Cooldown = time.Minute
	}
	if cfg.Runner.ProbeBudget == 0 {
		cfg.Runner.ProbeBudget = 1
	}

	if cfg.Orchestrator.PlanTimeout == 0 {
		cfg.Orchestrator.PlanTimeout = 2 * time.Minute
	}

	if cfg.Procedures.CatalogDir == "" {
		cfg.Procedures.CatalogDir = "procedures"
	}
	if cfg.Procedures.DefaultTimeout == 0 {
		cfg.Procedures.DefaultTimeout = 30 * time.Second
	}
	if cfg.Procedures.RetentionTTL == 0 {
		cfg.Procedures.RetentionTTL = 10 * time.Minute
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "agentd"
	}

	cfg.Telemetry.ApplyDefaults()
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %q", c.Logging.Format)
	}

	if c.Runner.FailureThreshold < 1 {
		return fmt.Errorf("failure threshold must be at least 1")
	}
	if c.Runner.Cooldown <= 0 {
		return fmt.Errorf("breaker cooldown must be positive")
	}
	if c.Runner.ProbeBudget < 1 {
		return fmt.Errorf("probe budget must be at least 1")
	}

	for i, r := range c.Orchestrator.Routines {
		if r.Name == "" {
			return fmt.Errorf("routine %d is missing a name", i)
		}
		if len(r.Keywords) == 0 {
			return fmt.Errorf("routine %q has no keywords", r.Name)
		}
		if len(r.Steps) == 0 {
			return fmt.Errorf("routine %q has no steps", r.Name)
		}
	}

	if err := c.Telemetry.Validate(); err != nil {
		return err
	}

	return nil
}
