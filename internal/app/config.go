package app

import (
	"errors"
	"time"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// PlanPath points to a single .hcl plan file or a directory of them.
	PlanPath string
	// ProjectDir is the working directory executor processes and
	// verification commands run in, and the root artifact probes resolve
	// against.
	ProjectDir string
	// WorkspaceDir holds the journal, progress records and per-node attempt
	// logs and contracts.
	WorkspaceDir string

	// ExecArgv is the external executor command line, spawned once per
	// attempt.
	ExecArgv []string
	// BuildArgv, when set, is the build verification command.
	BuildArgv []string
	// TestArgv, when set, is the test verification command.
	TestArgv []string

	Concurrency  int
	PollInterval time.Duration
	// Resume reconciles durable progress records against reality before
	// dispatching, instead of starting every node fresh.
	Resume bool
	// ForceKill hard-terminates in-flight executors on cancellation instead
	// of letting them drain.
	ForceKill bool

	LogFormat string
	LogLevel  string
}

// NewConfig validates required fields and applies defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.PlanPath == "" {
		return nil, errors.New("PlanPath is a required configuration field and cannot be empty")
	}
	if len(cfg.ExecArgv) == 0 {
		return nil, errors.New("ExecArgv is a required configuration field and cannot be empty")
	}
	if cfg.ProjectDir == "" {
		cfg.ProjectDir = "."
	}
	if cfg.WorkspaceDir == "" {
		cfg.WorkspaceDir = ".taskforge"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &cfg, nil
}
