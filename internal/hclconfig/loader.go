// Package hclconfig is the HCL implementation of config.Loader.
package hclconfig

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/modbuildgo/internal/config"
	"github.com/vk/modbuildgo/internal/ctxlog"
)

// Loader loads build options from a single HCL file.
type Loader struct{}

// NewLoader creates a new HCL options loader.
func NewLoader() *Loader {
	return &Loader{}
}

// fileRoot decodes the top-level blocks of a build options file.
type fileRoot struct {
	Build  *buildBlock `hcl:"build,block"`
	Remain hcl.Body    `hcl:",remain"`
}

type buildBlock struct {
	Target        *string  `hcl:"target,optional"`
	AltRoot       *string  `hcl:"alt_root,optional"`
	SearchRoots   []string `hcl:"search_roots,optional"`
	CacheDir      *string  `hcl:"cache_dir,optional"`
	CacheBackend  *string  `hcl:"cache_backend,optional"`
	Incremental   *bool    `hcl:"incremental,optional"`
	SilentImports *bool    `hcl:"silent_imports,optional"`
	LegacyMode    *bool    `hcl:"legacy_mode,optional"`
	LangVersion   *string  `hcl:"lang_version,optional"`
}

// Load implements config.Loader.
func (l *Loader) Load(ctx context.Context, path string) (*config.Options, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL options loader started.", "path", path)

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse options file %s: %w", path, diags)
	}

	var root fileRoot
	diags = gohcl.DecodeBody(hclFile.Body, evalContext(), &root)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode options file %s: %w", path, diags)
	}

	opts := config.Default()
	if root.Build == nil {
		logger.Debug("Options file has no build block, using defaults.")
		return opts, nil
	}
	b := root.Build

	if b.Target != nil {
		switch strings.ToLower(*b.Target) {
		case "semantic-analysis":
			opts.Target = config.TargetSemanticAnalysis
		case "typecheck", "type-check":
			opts.Target = config.TargetTypeCheck
		default:
			return nil, fmt.Errorf("invalid target %q: must be 'semantic-analysis' or 'typecheck'", *b.Target)
		}
	}
	if b.AltRoot != nil {
		opts.AltRoot = *b.AltRoot
	}
	if b.SearchRoots != nil {
		opts.SearchRoots = b.SearchRoots
	}
	if b.CacheDir != nil {
		opts.CacheDir = *b.CacheDir
	}
	if b.CacheBackend != nil {
		switch config.CacheBackend(*b.CacheBackend) {
		case config.CacheBackendFiles, config.CacheBackendBolt:
			opts.CacheBackend = config.CacheBackend(*b.CacheBackend)
		default:
			return nil, fmt.Errorf("invalid cache_backend %q: must be 'files' or 'bolt'", *b.CacheBackend)
		}
	}
	if b.Incremental != nil {
		opts.Incremental = *b.Incremental
	}
	if b.SilentImports != nil {
		opts.SilentImports = *b.SilentImports
	}
	if b.LegacyMode != nil {
		opts.LegacyMode = *b.LegacyMode
	}
	if b.LangVersion != nil {
		opts.LangVersion = *b.LangVersion
	}

	logger.Debug("Options loaded.", "cache_dir", opts.CacheDir, "incremental", opts.Incremental)
	return opts, nil
}

// evalContext exposes the process environment to option expressions as
// an `env` object, e.g. search_roots = [env.PROJECT_LIB].
func evalContext() *hcl.EvalContext {
	env := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = cty.StringVal(v)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(env),
		},
	}
}
