// Package testutil provides a shared harness for integration tests that
// build small source trees end to end.
package testutil

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/modbuildgo/internal/cachestore"
	"github.com/vk/modbuildgo/internal/config"
	"github.com/vk/modbuildgo/internal/ctxlog"
	"github.com/vk/modbuildgo/internal/modgraph"
	"github.com/vk/modbuildgo/internal/scheduler"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Project is a source tree on disk plus the build options pointing at it.
// Successive Build calls share the cache directory, so tests can exercise
// incremental behavior by editing files between runs.
type Project struct {
	t    *testing.T
	Root string
	Opts *config.Options
}

// BuildResult holds the outcomes of one harness build.
type BuildResult struct {
	Result    *modgraph.BuildResult
	Manager   *modgraph.Manager
	Err       error
	LogOutput string
}

// NewProject writes the given files, keyed by path relative to a fresh
// temporary root, and returns a Project configured to build them.
func NewProject(t *testing.T, files map[string]string) *Project {
	t.Helper()
	root := t.TempDir()
	p := &Project{t: t, Root: root, Opts: config.Default()}
	p.Opts.CacheDir = filepath.Join(root, ".cache")
	p.Opts.SearchRoots = []string{root}
	for name, content := range files {
		p.WriteFile(name, content)
	}
	// Every build depends on builtins; provide a stub unless the test
	// brought its own.
	if _, ok := files["builtins.py"]; !ok {
		if _, ok := files["builtins.pyi"]; !ok {
			p.WriteFile("builtins.py", "object = 0\n")
		}
	}
	return p
}

// WriteFile creates or replaces one file under the project root.
func (p *Project) WriteFile(name, content string) {
	p.t.Helper()
	path := filepath.Join(p.Root, name)
	require.NoError(p.t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(p.t, os.WriteFile(path, []byte(content), 0644))
}

// Touch rewrites a file with its current content plus a trailing comment,
// changing its size so the next build sees it as modified.
func (p *Project) Touch(name string) {
	p.t.Helper()
	path := filepath.Join(p.Root, name)
	data, err := os.ReadFile(path)
	require.NoError(p.t, err)
	require.NoError(p.t, os.WriteFile(path, append(data, []byte("# touched\n")...), 0644))
}

// openStore constructs the configured cache store, or nil when
// incremental mode is off.
func (p *Project) openStore() cachestore.Store {
	p.t.Helper()
	if !p.Opts.Incremental {
		return nil
	}
	switch p.Opts.CacheBackend {
	case config.CacheBackendBolt:
		require.NoError(p.t, os.MkdirAll(p.Opts.CacheDir, 0755))
		bolt, err := cachestore.OpenBolt(filepath.Join(p.Opts.CacheDir, "cache.db"))
		require.NoError(p.t, err)
		return bolt
	default:
		return cachestore.NewFileStore(p.Opts.CacheDir)
	}
}

func moduleSources(modules []string) []modgraph.BuildSource {
	var sources []modgraph.BuildSource
	for _, id := range modules {
		sources = append(sources, modgraph.BuildSource{Module: id})
	}
	return sources
}

// Build runs a full build for the given entry modules and returns the
// outcome. Each call constructs a fresh manager over the shared cache,
// mirroring separate process invocations.
func (p *Project) Build(modules ...string) *BuildResult {
	p.t.Helper()

	logBuffer := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(logBuffer, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := ctxlog.WithLogger(context.Background(), logger)

	store := p.openStore()
	if store != nil {
		defer store.Close()
	}
	sources := moduleSources(modules)

	manager := modgraph.NewManager(p.Opts, store, nil)
	manager.AssembleSearchRoots(sources)
	result, err := scheduler.Dispatch(ctx, manager, sources)

	if os.Getenv("MODBUILD_TEST_LOGS") == "true" {
		p.t.Logf("--- Full Log Output for %s ---\n%s", p.t.Name(), logBuffer.String())
	}

	return &BuildResult{
		Result:    result,
		Manager:   manager,
		Err:       err,
		LogOutput: logBuffer.String(),
	}
}

// Discover runs graph discovery only, without processing, so tests can
// inspect each module's freshness decision against the current cache.
func (p *Project) Discover(modules ...string) (modgraph.Graph, error) {
	p.t.Helper()

	logger := slog.New(slog.NewTextHandler(&SafeBuffer{}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := ctxlog.WithLogger(context.Background(), logger)

	store := p.openStore()
	if store != nil {
		defer store.Close()
	}
	sources := moduleSources(modules)

	manager := modgraph.NewManager(p.Opts, store, nil)
	manager.AssembleSearchRoots(sources)
	return modgraph.LoadGraph(ctx, manager, sources)
}
