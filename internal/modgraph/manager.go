// Package modgraph builds the module dependency graph: it owns the
// per-module State lifecycle, the shared build manager, and the
// breadth-first discovery of every transitively imported module.
package modgraph

import (
	"context"
	"os"
	"path/filepath"

	"github.com/vk/modbuildgo/internal/cachestore"
	"github.com/vk/modbuildgo/internal/config"
	"github.com/vk/modbuildgo/internal/ctxlog"
	"github.com/vk/modbuildgo/internal/diag"
	"github.com/vk/modbuildgo/internal/fscache"
	"github.com/vk/modbuildgo/internal/locator"
	"github.com/vk/modbuildgo/internal/pipeline"
)

// BuiltinsModule is the root module every other module implicitly
// depends on.
const BuiltinsModule = "builtins"

// SearchPathEnvVar names the environment variable holding extra search
// roots, separated by the platform's path list separator.
const SearchPathEnvVar = "MODBUILDPATH"

// BuildSource is one entry point of a build: a file path, a module
// name to resolve, or inline text.
type BuildSource struct {
	Path   string
	Module string
	Text   string
	// HasText distinguishes inline (possibly empty) text from a
	// source that must be read from Path.
	HasText bool
}

// FileSource returns a BuildSource for an on-disk file.
func FileSource(path, module string) BuildSource {
	return BuildSource{Path: path, Module: module}
}

// TextSource returns a BuildSource for in-memory program text.
func TextSource(module, text string) BuildSource {
	return BuildSource{Module: module, Text: text, HasText: true}
}

// EffectivePath returns the path for diagnostics: the real path, or the
// sentinel for in-memory sources.
func (bs BuildSource) EffectivePath() string {
	if bs.Path != "" {
		return bs.Path
	}
	return "<string>"
}

// BuildResult is the outcome of a successful build.
type BuildResult struct {
	// Files maps module identity to its analyzed tree.
	Files map[string]*pipeline.SourceFile
	// Types maps symbol full names to their checked types.
	Types map[string]string
}

// PassesFactory constructs the analysis pipeline for one build, sharing
// the manager's collector and module table.
type PassesFactory func(*diag.Collector, map[string]*pipeline.SourceFile) pipeline.Passes

// Manager holds the shared state of one build run. All mutable caches
// live here rather than in package-level variables, so independent
// builds stay isolated.
type Manager struct {
	Options     *config.Options
	SearchRoots []string
	FS          *fscache.Cache
	Locator     *locator.Locator
	Collector   *diag.Collector
	Passes      pipeline.Passes
	Store       cachestore.Store

	// Modules is the shared module table: written by each module's own
	// processing step, read by cyclic siblings during analysis.
	Modules map[string]*pipeline.SourceFile
	// MissingModules records identities that could not be located, so
	// repeated imports are pruned without re-diagnosing.
	MissingModules map[string]bool

	orderCounter int
}

// NewManager constructs a build manager. store may be nil when
// incremental mode is off. newPasses may be nil to use the reference
// analyzer.
func NewManager(opts *config.Options, store cachestore.Store, newPasses PassesFactory) *Manager {
	fs := fscache.New()
	collector := diag.NewCollector()
	modules := make(map[string]*pipeline.SourceFile)
	if newPasses == nil {
		newPasses = func(c *diag.Collector, m map[string]*pipeline.SourceFile) pipeline.Passes {
			return pipeline.NewAnalyzer(c, m)
		}
	}
	return &Manager{
		Options:        opts,
		FS:             fs,
		Locator:        locator.New(fs),
		Collector:      collector,
		Passes:         newPasses(collector, modules),
		Store:          store,
		Modules:        modules,
		MissingModules: make(map[string]bool),
	}
}

// AssembleSearchRoots computes the module search roots for this build,
// in priority order: the explicit alternate root, each entry source's
// directory, the working directory, the environment path list, and the
// configured library roots.
func (m *Manager) AssembleSearchRoots(sources []BuildSource) {
	var roots []string
	if m.Options.AltRoot != "" {
		roots = append(roots, m.Options.AltRoot)
	}
	seen := make(map[string]bool)
	for _, src := range sources {
		if src.Path != "" {
			dir := filepath.Dir(src.Path)
			if !seen[dir] {
				seen[dir] = true
				roots = append(roots, dir)
			}
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		roots = append(roots, cwd)
	}
	roots = append(roots, locator.EnvSearchPath(os.Getenv(SearchPathEnvVar))...)
	roots = append(roots, m.Options.SearchRoots...)
	m.SearchRoots = roots
}

// IsModule reports whether a file exists for the given identity.
func (m *Manager) IsModule(id string) bool {
	_, ok := m.Locator.FindModule(locator.OnDiskName(id, m.Options.LegacyMode), m.SearchRoots)
	return ok
}

// TypeChecking reports whether the selected target includes the
// type-checking pass.
func (m *Manager) TypeChecking() bool {
	return m.Options.Target >= config.TargetTypeCheck
}

func (m *Manager) nextOrder() int {
	m.orderCounter++
	return m.orderCounter
}

// checkBlockers converts a recorded blocking error into a BuildError.
func (m *Manager) checkBlockers(ctx context.Context) error {
	if m.Collector.IsBlockers() {
		ctxlog.FromContext(ctx).Debug("Bailing due to blocking errors.")
		return m.Collector.NewBuildError()
	}
	return nil
}

// moduleNotFound records a diagnostic for a module that could not be
// located, attributed to the importing line.
func (m *Manager) moduleNotFound(path string, line int, id string) {
	m.Collector.SetFile(path)
	m.Collector.Report(line, "Cannot find module named '"+id+"'")
	m.Collector.ReportOnce(line, "(Perhaps setting "+SearchPathEnvVar+" would help)", diag.Note())
}
