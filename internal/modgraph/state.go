package modgraph

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/vk/modbuildgo/internal/cachestore"
	"github.com/vk/modbuildgo/internal/ctxlog"
	"github.com/vk/modbuildgo/internal/diag"
	"github.com/vk/modbuildgo/internal/locator"
	"github.com/vk/modbuildgo/internal/pipeline"
	"github.com/vk/modbuildgo/internal/source"
)

// errModuleNotFound signals that a module could not be located. The
// graph builder catches it and prunes the importer's dependency list;
// it never escapes to callers of LoadGraph.
var errModuleNotFound = errors.New("module not found")

// State is the unit of scheduling: one module's identity, source or
// cache status, dependency list, and analysis progress.
type State struct {
	manager *Manager

	// Order is the discovery counter, used as the intra-cycle
	// processing tie-break.
	Order int

	// ID is the fully qualified dotted module name.
	ID string
	// Path is the resolved source path; empty for in-memory sources.
	Path string
	// XPath is Path or the in-memory sentinel, for diagnostics.
	XPath string

	// src holds source text until the module is parsed, then is
	// dropped to bound memory.
	src    string
	hasSrc bool
	// Fingerprint of the raw source bytes, set when the file is read.
	Fingerprint string

	// Meta is the validated cache metadata; nil means the module must
	// be analyzed from source.
	Meta *cachestore.Meta

	// Tree is filled by exactly one of: parsing source, or
	// deserializing the cached result.
	Tree *pipeline.SourceFile

	// Dependencies lists directly imported module identities, plus the
	// implicit builtins dependency.
	Dependencies []string
	// DepLineMap records each dependency's first import line.
	DepLineMap map[string]int
	// Roots lists ancestor packages, which must be loaded although
	// they are not import dependencies.
	Roots []string

	// importContext is the chain of imports that led here, for error
	// attribution only.
	importContext []diag.ImportFrame
	callerLine    int
}

// NewState constructs the State for one module, resolving its path if
// necessary and either adopting validated cache metadata or parsing the
// source to discover dependencies.
//
// Returns errModuleNotFound (recoverable, already diagnosed) when an
// imported module cannot be located, or a *diag.BuildError for fatal
// conditions.
func NewState(ctx context.Context, m *Manager, id, path, text string, hasText bool, caller *State, callerLine int) (*State, error) {
	return newState(ctx, m, id, path, text, hasText, caller, callerLine, false)
}

// NewRootState constructs the State for an ancestor package discovered
// through one of its submodules. Roots have no natural import line; a
// root that cannot be located is skipped without a diagnostic.
func NewRootState(ctx context.Context, m *Manager, id string) (*State, error) {
	return newState(ctx, m, id, "", "", false, nil, 0, true)
}

func newState(ctx context.Context, m *Manager, id, path, text string, hasText bool, caller *State, callerLine int, isRoot bool) (*State, error) {
	if id == "" && path == "" && !hasText {
		return nil, &diag.BuildError{Messages: []string{"modbuild: neither module, path nor text given"}}
	}
	if id == "" {
		id = "__main__"
	}
	s := &State{
		manager:    m,
		Order:      m.nextOrder(),
		ID:         id,
		callerLine: callerLine,
	}
	if caller != nil {
		s.importContext = append(append([]diag.ImportFrame{}, caller.importContext...),
			diag.ImportFrame{Path: caller.XPath, Line: callerLine})
	}

	if path == "" && !hasText {
		fileID := locator.OnDiskName(id, m.Options.LegacyMode)
		found, ok := m.Locator.FindModule(fileID, m.SearchRoots)
		if !ok {
			if isRoot {
				return nil, errModuleNotFound
			}
			if caller == nil {
				// A missing entry point is always fatal.
				return nil, &diag.BuildError{Messages: []string{"modbuild: can't find module '" + id + "'"}}
			}
			if !m.Options.SilentImports && !caller.lineIgnored(callerLine) {
				saved := m.Collector.ImportContext()
				m.Collector.SetImportContext(caller.importContext)
				m.moduleNotFound(caller.XPath, callerLine, id)
				m.Collector.SetImportContext(saved)
			}
			m.MissingModules[id] = true
			return nil, errModuleNotFound
		}
		path = found
	}
	s.Path = path
	s.XPath = path
	if s.XPath == "" {
		s.XPath = "<string>"
	}
	s.src = text
	s.hasSrc = hasText

	if path != "" && !hasText && m.Options.Incremental && m.Store != nil {
		abs, err := filepath.Abs(path)
		if err == nil {
			s.Meta = cachestore.FindMeta(ctx, m.Store, m.FS, m.Options.LangVersion, id, abs, locator.IsInitFile(path))
		}
	}

	s.addRoots()

	if s.Meta != nil {
		s.Dependencies = append([]string{}, s.Meta.Dependencies...)
		s.DepLineMap = make(map[string]int)
		return s, nil
	}
	if err := s.ParseFile(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// addRoots records every ancestor package as a root.
func (s *State) addRoots() {
	parent := s.ID
	for strings.Contains(parent, ".") {
		parent = parent[:strings.LastIndex(parent, ".")]
		s.Roots = append(s.Roots, parent)
	}
}

// lineIgnored reports whether the module's tree marks the line with an
// ignore annotation.
func (s *State) lineIgnored(line int) bool {
	return s.Tree != nil && s.Tree.IgnoredLines[line]
}

// IsFresh reports whether the cached analysis result is still trusted.
func (s *State) IsFresh() bool {
	return s.Meta != nil
}

// ClearFresh discards the cache metadata, marking the module stale.
func (s *State) ClearFresh() {
	s.Meta = nil
}

// wrapContext installs the module's import context around fn and checks
// for newly recorded blocking errors afterwards, restoring the previous
// context even if fn records a blocker.
func (s *State) wrapContext(ctx context.Context, fn func() error) error {
	m := s.manager
	saved := m.Collector.ImportContext()
	m.Collector.SetImportContext(s.importContext)
	err := fn()
	m.Collector.SetImportContext(saved)
	if err != nil {
		return err
	}
	return m.checkBlockers(ctx)
}

// LoadTree deserializes the module's cached analysis result and
// registers it in the shared module table.
func (s *State) LoadTree(ctx context.Context) error {
	tree, err := cachestore.LoadTree(s.manager.Store, s.Meta)
	if err != nil {
		return &diag.BuildError{Messages: []string{err.Error()}}
	}
	s.Tree = tree
	s.manager.Modules[s.ID] = tree
	return nil
}

// FixCrossRefs rewires raw identity references in a deserialized tree
// into live references via the shared module table.
func (s *State) FixCrossRefs() {
	pipeline.FixCrossRefs(s.Tree, s.manager.Modules)
}

// CalculateLinearizations computes class hierarchy linearization data
// that depends on the fixed-up live references.
func (s *State) CalculateLinearizations() {
	pipeline.Linearize(s.Tree, s.manager.Modules)
}

// ParseFile reads (if necessary) and parses the module's source, runs
// early top-level binding, and extracts the dependency list. A no-op if
// the module is already parsed.
func (s *State) ParseFile(ctx context.Context) error {
	if s.Tree != nil {
		return nil
	}
	m := s.manager
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Parsing module.", "id", s.ID, "path", s.XPath)

	err := s.wrapContext(ctx, func() error {
		text := s.src
		s.src = ""
		if s.Path != "" && !s.hasSrc {
			file, err := source.Read(m.FS, s.Path)
			if err != nil {
				return &diag.BuildError{Messages: []string{"modbuild: " + err.Error()}}
			}
			text = file.Text
			s.Fingerprint = file.Fingerprint
		} else {
			s.Fingerprint = source.Fingerprint([]byte(text))
		}
		s.hasSrc = false
		s.Tree = m.Passes.Parse(ctx, text, s.XPath, s.ID)
		return nil
	})
	if err != nil {
		return err
	}

	m.Modules[s.ID] = s.Tree

	// Early top-level binding must precede dependency extraction: it
	// marks statically unreachable imports, which must not become
	// graph edges.
	m.Passes.BindTopLevel(ctx, s.Tree)

	dependencies, depLineMap, err := s.extractDependencies(ctx)
	if err != nil {
		return err
	}

	// A trusted cache recorded a dependency list for this identity and
	// path; if the source now disagrees, the incremental state is
	// inconsistent. The metadata is already discarded by the time we
	// re-parse, so downstream freshness decisions see this module as
	// stale; record the disagreement for the user.
	if s.Dependencies != nil && !equalStrings(s.Dependencies, dependencies) {
		m.Collector.SetFile(s.XPath)
		m.Collector.Report(1, "Dependencies of '"+s.ID+"' changed since last cached run", diag.Note())
		logger.Warn("Dependency list changed since cache was written.",
			"id", s.ID, "cached", s.Dependencies, "source", dependencies)
	}
	s.Dependencies = dependencies
	s.DepLineMap = depLineMap
	return m.checkBlockers(ctx)
}

// extractDependencies scans the parsed imports, resolving relative
// imports, appending implicit dependencies, and deduplicating while
// recording each dependency's first source line.
func (s *State) extractDependencies(ctx context.Context) ([]string, map[string]int, error) {
	m := s.manager
	var dependencies []string
	depLineMap := make(map[string]int)
	add := func(id string, line int) {
		if id == s.ID || m.MissingModules[id] {
			return
		}
		if id == "" {
			m.Collector.SetFile(s.XPath)
			m.Collector.Report(line, "No parent module -- cannot perform relative import", diag.Blocker())
			return
		}
		if _, ok := depLineMap[id]; !ok {
			dependencies = append(dependencies, id)
			depLineMap[id] = line
		}
	}
	for _, imp := range s.Tree.Imports {
		if imp.Unreachable {
			continue
		}
		switch imp.Kind {
		case pipeline.ImportPlain:
			for _, entry := range imp.Names {
				add(entry.Name, imp.Line)
			}
		case pipeline.ImportFrom:
			cur := s.Tree.CorrectRelative(imp.Relative, imp.Module)
			add(cur, imp.Line)
			if cur != "" {
				// Imported names that are themselves modules become
				// dependencies too.
				for _, entry := range imp.Names {
					subID := cur + "." + entry.Name
					if m.IsModule(subID) {
						add(subID, imp.Line)
					}
				}
			}
		case pipeline.ImportStar:
			add(s.Tree.CorrectRelative(imp.Relative, imp.Module), imp.Line)
		}
	}
	if s.ID != BuiltinsModule {
		if _, ok := depLineMap[BuiltinsModule]; !ok {
			dependencies = append(dependencies, BuiltinsModule)
			depLineMap[BuiltinsModule] = 1
		}
	}
	return dependencies, depLineMap, nil
}

// PatchParent registers this module as an attribute of its parent
// package, if the parent is already loaded. Packages and submodules
// must be mutually visible regardless of processing order in a cycle.
func (s *State) PatchParent(ctx context.Context) {
	if !strings.Contains(s.ID, ".") {
		return
	}
	m := s.manager
	idx := strings.LastIndex(s.ID, ".")
	parent, child := s.ID[:idx], s.ID[idx+1:]
	parentTree, ok := m.Modules[parent]
	if !ok {
		ctxlog.FromContext(ctx).Debug("Parent package not loaded, cannot attach submodule.",
			"parent", parent, "child", child)
		return
	}
	parentTree.Names[child] = &pipeline.Symbol{
		Kind:     pipeline.SymModuleRef,
		FullName: s.ID,
		Public:   true,
		ModuleID: s.ID,
		Module:   s.Tree,
	}
}

// SemanticAnalysis runs the full semantic analysis pass.
func (s *State) SemanticAnalysis(ctx context.Context) error {
	return s.wrapContext(ctx, func() error {
		s.manager.Passes.AnalyzeSemantics(ctx, s.Tree)
		return nil
	})
}

// SemanticAnalysisPass3 runs the cleanup/validation semantic pass.
func (s *State) SemanticAnalysisPass3(ctx context.Context) error {
	return s.wrapContext(ctx, func() error {
		s.manager.Passes.AnalyzeSemanticsPass3(ctx, s.Tree)
		return nil
	})
}

// TypeCheck runs the type-checking pass; a no-op when the build target
// excludes it.
func (s *State) TypeCheck(ctx context.Context) error {
	if !s.manager.TypeChecking() {
		return nil
	}
	return s.wrapContext(ctx, func() error {
		s.manager.Passes.TypeCheck(ctx, s.Tree)
		return nil
	})
}

// WriteCache persists the analysis result, but only for real files, in
// incremental mode, and only when the build has recorded no errors so
// far: partial results must not poison the cache.
func (s *State) WriteCache(ctx context.Context) error {
	m := s.manager
	if s.Path == "" || !m.Options.Incremental || m.Store == nil || m.Collector.IsErrors() {
		return nil
	}
	abs, err := filepath.Abs(s.Path)
	if err != nil {
		return nil
	}
	if err := cachestore.WriteTree(ctx, m.Store, m.FS, m.Options.LangVersion, s.ID, abs, s.Fingerprint, s.Tree, s.Dependencies); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to write cache.", "id", s.ID, "error", err)
	}
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
