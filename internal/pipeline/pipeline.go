// Package pipeline defines the multi-pass analysis contract consumed by
// the build scheduler, the tree model the passes operate on, and the
// fix-up passes applied to trees deserialized from cache.
//
// The scheduler treats the passes as black boxes: each call mutates the
// tree in place and may record diagnostics (including blocking errors)
// in the shared collector. A reference implementation for a small
// Python-like surface lives in analyzer.go; real front ends plug in by
// satisfying Passes.
package pipeline

import "context"

// Passes is the per-module analysis contract. Calls for one module are
// made in declaration order, and within an import cycle the scheduler
// completes each pass for every cycle member before starting the next
// pass, so implementations may rely on all siblings having finished the
// previous pass.
type Passes interface {
	// Parse turns source text into a tree. Syntax errors are recorded
	// as blocking diagnostics; the returned tree is still non-nil so
	// the caller can abort uniformly via the collector.
	Parse(ctx context.Context, text, path, id string) *SourceFile

	// BindTopLevel registers the tree's top-level names in its symbol
	// table and marks statically unreachable imports. Runs before
	// dependency extraction.
	BindTopLevel(ctx context.Context, file *SourceFile)

	// AnalyzeSemantics performs full semantic analysis, resolving
	// imported names against sibling module tables.
	AnalyzeSemantics(ctx context.Context, file *SourceFile)

	// AnalyzeSemanticsPass3 is the cleanup/validation pass.
	AnalyzeSemanticsPass3(ctx context.Context, file *SourceFile)

	// TypeCheck assigns types, populating the pipeline's type map.
	TypeCheck(ctx context.Context, file *SourceFile)

	// TypeMap returns the accumulated symbol-fullname-to-type mapping.
	TypeMap() map[string]string
}
