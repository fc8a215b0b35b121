package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/vk/modbuildgo/internal/config"
	"github.com/vk/modbuildgo/internal/ctxlog"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW    io.Writer
	logger  *slog.Logger
	options *config.Options
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance with its own isolated logger and a resolved
// options model.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	// Load the format-agnostic options model first.
	opts := config.Default()
	if cfg.OptionsPath != "" {
		loaded, err := loader.Load(ctx, cfg.OptionsPath)
		if err != nil {
			// A failure to load options is a fatal startup error.
			panic(fmt.Errorf("failed to load build options: %w", err))
		}
		opts = loaded
	}
	applyOverrides(opts, cfg)
	logger.Debug("Build options resolved.",
		"cache_dir", opts.CacheDir,
		"backend", string(opts.CacheBackend),
		"incremental", opts.Incremental)

	return &App{
		outW:    outW,
		logger:  logger,
		options: opts,
	}
}

// Options returns the resolved build options. This is primarily for testing.
func (a *App) Options() *config.Options {
	return a.options
}

// applyOverrides layers command-line overrides on top of the loaded
// options file.
func applyOverrides(opts *config.Options, cfg *Config) {
	switch strings.ToLower(cfg.Target) {
	case "":
	case "semantic-analysis":
		opts.Target = config.TargetSemanticAnalysis
	case "typecheck", "type-check":
		opts.Target = config.TargetTypeCheck
	}
	if cfg.NoIncremental {
		opts.Incremental = false
	}
	if cfg.SilentImports {
		opts.SilentImports = true
	}
	if cfg.CacheDir != "" {
		opts.CacheDir = cfg.CacheDir
	}
}
