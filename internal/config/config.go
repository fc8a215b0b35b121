// Package config defines the format-agnostic build options model and
// the Loader interface for reading them from configuration files.
// Concrete implementations, such as for HCL, live in separate packages.
package config

import "context"

// Target selects which analysis passes a build performs.
type Target int

const (
	// TargetSemanticAnalysis stops after the semantic passes.
	TargetSemanticAnalysis Target = iota
	// TargetTypeCheck runs the full pipeline including type checking.
	TargetTypeCheck
)

// CacheBackend selects the cache store implementation.
type CacheBackend string

const (
	CacheBackendFiles CacheBackend = "files"
	CacheBackendBolt  CacheBackend = "bolt"
)

// Options holds everything a build session needs beyond its entry
// sources. One Options value configures exactly one build run.
type Options struct {
	Target Target

	// AltRoot is an explicit caller-supplied search root; it takes
	// precedence over every other root.
	AltRoot string
	// SearchRoots are extra library roots, tried after the per-source
	// directories and the working directory.
	SearchRoots []string

	CacheDir     string
	CacheBackend CacheBackend
	Incremental  bool

	// SilentImports suppresses module-not-found diagnostics.
	SilentImports bool
	// LegacyMode enables legacy language-version behavior, including
	// the alternate on-disk name for the builtins module.
	LegacyMode bool
	// LangVersion namespaces the cache directory.
	LangVersion string
}

// Default returns the options used when no configuration file is given.
func Default() *Options {
	return &Options{
		Target:       TargetTypeCheck,
		CacheDir:     ".modbuild_cache",
		CacheBackend: CacheBackendFiles,
		Incremental:  true,
		LangVersion:  "3",
	}
}

// Loader is the interface for a format-specific options loader.
type Loader interface {
	// Load reads build options from the file at path.
	Load(ctx context.Context, path string) (*Options, error)
}
