package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/vk/taskforge/internal/ctxlog"
	"github.com/vk/taskforge/internal/node"
	"github.com/vk/taskforge/internal/plan"
)

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	cfg    *Config
	specs  []*node.Spec
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and a loaded plan.
func NewApp(outW io.Writer, cfg *Config, loader *plan.Loader) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	specs, err := loader.Load(ctx, cfg.PlanPath)
	if err != nil {
		// A failure to load the plan is a fatal startup error.
		panic(fmt.Errorf("failed to load plan: %w", err))
	}
	logger.Debug("Plan loaded.", "node_count", len(specs))

	return &App{
		outW:   outW,
		logger: logger,
		cfg:    cfg,
		specs:  specs,
	}
}

// Specs returns the loaded node specifications. This is primarily for
// testing.
func (a *App) Specs() []*node.Spec {
	return a.specs
}
