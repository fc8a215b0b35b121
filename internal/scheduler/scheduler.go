// Package scheduler drives the build: it topologically orders the
// strongly connected components of the module graph and pushes each
// component through the analysis pipeline, serving fresh components
// from cache and re-analyzing stale ones from source.
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/vk/modbuildgo/internal/ctxlog"
	"github.com/vk/modbuildgo/internal/modgraph"
	"github.com/vk/modbuildgo/internal/scc"
)

// Dispatch loads the full dependency graph for the entry sources,
// processes it in dependency order, and returns the populated result
// tables. Any recorded error yields a *diag.BuildError carrying the
// accumulated messages.
func Dispatch(ctx context.Context, m *modgraph.Manager, sources []modgraph.BuildSource) (*modgraph.BuildResult, error) {
	logger := ctxlog.FromContext(ctx)

	graph, err := modgraph.LoadGraph(ctx, m, sources)
	if err != nil {
		return nil, err
	}
	logger.Debug("Loaded graph.", "node_count", len(graph))

	if err := Process(ctx, m, graph); err != nil {
		return nil, err
	}
	if m.Collector.IsErrors() {
		logger.Debug("Build finished with errors.", "count", m.Collector.Count())
		return nil, m.Collector.NewBuildError()
	}
	return &modgraph.BuildResult{
		Files: m.Modules,
		Types: collectTypes(m),
	}, nil
}

// collectTypes merges the pipeline's type map with types carried by
// cache-served trees, which never went through the checking pass in
// this run.
func collectTypes(m *modgraph.Manager) map[string]string {
	types := make(map[string]string)
	for name, t := range m.Passes.TypeMap() {
		types[name] = t
	}
	for id, file := range m.Modules {
		for _, sym := range file.Names {
			if sym.Type == "" || !strings.HasPrefix(sym.FullName, id+".") {
				continue
			}
			if _, ok := types[sym.FullName]; !ok {
				types[sym.FullName] = sym.Type
			}
		}
	}
	return types
}

// Process runs every strongly connected component of the graph, in an
// order where a component's out-of-component dependencies are always
// fully processed first.
func Process(ctx context.Context, m *modgraph.Manager, graph modgraph.Graph) error {
	logger := ctxlog.FromContext(ctx)

	components, err := sortedComponents(graph)
	if err != nil {
		return err
	}
	largest := 0
	for _, comp := range components {
		if len(comp) > largest {
			largest = len(comp)
		}
	}
	logger.Debug("Found SCCs.", "count", len(components), "largest", largest)

	for _, component := range components {
		ordered := orderWithinComponent(graph, component)

		// The component is fresh only if every member has trusted
		// cache metadata and no out-of-component dependency went
		// stale. Stale upstream components cleared their members'
		// metadata when they re-analyzed, so this local check carries
		// the global property.
		var staleMembers, staleDeps []string
		memberSet := make(map[string]bool, len(ordered))
		for _, id := range ordered {
			memberSet[id] = true
			if !graph[id].IsFresh() {
				staleMembers = append(staleMembers, id)
			}
		}
		depSeen := make(map[string]bool)
		for _, id := range ordered {
			for _, dep := range slices.Concat(graph[id].Dependencies, graph[id].Roots) {
				if memberSet[dep] || depSeen[dep] {
					continue
				}
				depSeen[dep] = true
				if st, ok := graph[dep]; ok && !st.IsFresh() {
					staleDeps = append(staleDeps, dep)
				}
			}
		}

		fresh := len(staleMembers) == 0 && len(staleDeps) == 0
		logger.Debug("Processing SCC.",
			"size", len(ordered),
			"modules", strings.Join(ordered, " "),
			"fresh", fresh,
			"stale_members", strings.Join(staleMembers, " "),
			"stale_deps", strings.Join(staleDeps, " "))

		if fresh {
			err = processFreshComponent(ctx, graph, ordered)
		} else {
			err = processStaleComponent(ctx, graph, ordered)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// sortedComponents collapses cycles and topologically sorts the
// condensation, leaves first. Vertices are presented in discovery
// order, making the result deterministic.
func sortedComponents(graph modgraph.Graph) ([][]string, error) {
	vertices := make([]string, 0, len(graph))
	for id := range graph {
		vertices = append(vertices, id)
	}
	sort.Slice(vertices, func(i, j int) bool {
		return graph[vertices[i]].Order < graph[vertices[j]].Order
	})
	// Ancestor packages are ordering edges too: a submodule's component
	// must not be processed before the package it attaches to.
	edges := func(id string) []string {
		return slices.Concat(graph[id].Dependencies, graph[id].Roots)
	}
	components := scc.Components(vertices, edges)
	ordered, err := scc.Topsort(components, edges)
	if err != nil {
		return nil, fmt.Errorf("internal error in dependency manager: %w", err)
	}
	return ordered, nil
}

// orderWithinComponent sorts a component's members by descending
// discovery order, reproducing the traversal a one-module-at-a-time
// processor would have used. If builtins is a member it moves last:
// fallback lookups assume builtins is already available.
func orderWithinComponent(graph modgraph.Graph, component []string) []string {
	ordered := make([]string, len(component))
	copy(ordered, component)
	sort.Slice(ordered, func(i, j int) bool {
		return graph[ordered[i]].Order > graph[ordered[j]].Order
	})
	for i, id := range ordered {
		if id == modgraph.BuiltinsModule {
			ordered = append(append(ordered[:i], ordered[i+1:]...), id)
			break
		}
	}
	return ordered
}

// processFreshComponent serves every member from cache. Each sweep
// completes for all members before the next begins: cross-references
// between cyclic siblings must resolve against fully populated tables.
func processFreshComponent(ctx context.Context, graph modgraph.Graph, ordered []string) error {
	for _, id := range ordered {
		if err := graph[id].LoadTree(ctx); err != nil {
			return err
		}
	}
	for _, id := range ordered {
		graph[id].PatchParent(ctx)
	}
	for _, id := range ordered {
		graph[id].FixCrossRefs()
	}
	for _, id := range ordered {
		graph[id].CalculateLinearizations()
	}
	return nil
}

// processStaleComponent re-analyzes every member from source, sweeping
// each pass across the whole component before starting the next, so
// every pass sees all its cyclic siblings' previous-pass output.
func processStaleComponent(ctx context.Context, graph modgraph.Graph, ordered []string) error {
	for _, id := range ordered {
		// A stale sibling forces re-derivation even for members whose
		// own metadata validated.
		graph[id].ClearFresh()
	}
	for _, id := range ordered {
		// Already-parsed members make this a no-op.
		if err := graph[id].ParseFile(ctx); err != nil {
			return err
		}
	}
	for _, id := range ordered {
		graph[id].PatchParent(ctx)
	}
	for _, id := range ordered {
		if err := graph[id].SemanticAnalysis(ctx); err != nil {
			return err
		}
	}
	for _, id := range ordered {
		if err := graph[id].SemanticAnalysisPass3(ctx); err != nil {
			return err
		}
	}
	for _, id := range ordered {
		if err := graph[id].TypeCheck(ctx); err != nil {
			return err
		}
		if err := graph[id].WriteCache(ctx); err != nil {
			return err
		}
	}
	return nil
}
