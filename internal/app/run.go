package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/modbuildgo/internal/cachestore"
	"github.com/vk/modbuildgo/internal/config"
	"github.com/vk/modbuildgo/internal/ctxlog"
	"github.com/vk/modbuildgo/internal/diag"
	"github.com/vk/modbuildgo/internal/locator"
	"github.com/vk/modbuildgo/internal/modgraph"
	"github.com/vk/modbuildgo/internal/scheduler"
)

// Run executes a full build for the configured entry sources. Diagnostic
// messages are printed to the app's output writer; a failed build returns
// the underlying *diag.BuildError.
func (a *App) Run(ctx context.Context, cfg *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	sources, err := assembleSources(cfg)
	if err != nil {
		return err
	}
	a.logger.Debug("Entry sources assembled.", "count", len(sources))

	store, err := a.openStore()
	if err != nil {
		return fmt.Errorf("failed to open cache store: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	manager := modgraph.NewManager(a.options, store, nil)
	manager.AssembleSearchRoots(sources)
	a.logger.Debug("Search roots assembled.", "roots", strings.Join(manager.SearchRoots, string(os.PathListSeparator)))

	result, err := scheduler.Dispatch(ctx, manager, sources)
	var buildErr *diag.BuildError
	if errors.As(err, &buildErr) {
		for _, msg := range buildErr.Messages {
			fmt.Fprintln(a.outW, msg)
		}
		return err
	}
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	// Non-fatal diagnostics can accompany a successful build.
	for _, msg := range manager.Collector.Messages() {
		fmt.Fprintln(a.outW, msg)
	}
	a.logger.Info("Build finished.", "modules", len(result.Files), "typed_symbols", len(result.Types))
	a.logger.Debug("App.Run method finished.")
	return nil
}

// openStore constructs the cache store selected by the options, or nil
// when incremental mode is off.
func (a *App) openStore() (cachestore.Store, error) {
	if !a.options.Incremental {
		return nil, nil
	}
	switch a.options.CacheBackend {
	case config.CacheBackendBolt:
		if err := os.MkdirAll(a.options.CacheDir, 0o755); err != nil {
			return nil, err
		}
		return cachestore.OpenBolt(filepath.Join(a.options.CacheDir, "cache.db"))
	default:
		return cachestore.NewFileStore(a.options.CacheDir), nil
	}
}

// assembleSources converts the configured entry paths and module names
// into build sources. File paths get a module identity derived from the
// file name, so "pkg/__init__.py" builds as "pkg".
func assembleSources(cfg *Config) ([]modgraph.BuildSource, error) {
	var sources []modgraph.BuildSource
	for _, path := range cfg.Paths {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("can't read entry file %s: %w", path, err)
		}
		sources = append(sources, modgraph.FileSource(path, moduleNameForPath(path)))
	}
	for _, id := range cfg.Modules {
		sources = append(sources, modgraph.BuildSource{Module: id})
	}
	return sources, nil
}

// moduleNameForPath derives a dotted module identity by walking up
// through enclosing packages, so "proj/pkg/sub/mod.py" builds as
// "pkg.sub.mod" when pkg and sub carry package marker files.
func moduleNameForPath(path string) string {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var parts []string
	if base != "__init__" {
		parts = append(parts, base)
	}
	for isPackageDir(dir) {
		parts = append([]string{filepath.Base(dir)}, parts...)
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if len(parts) == 0 {
		return base
	}
	return strings.Join(parts, ".")
}

func isPackageDir(dir string) bool {
	for _, ext := range locator.Extensions {
		if _, err := os.Stat(filepath.Join(dir, "__init__"+ext)); err == nil {
			return true
		}
	}
	return false
}
