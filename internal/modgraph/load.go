package modgraph

import (
	"context"
	"errors"
	"slices"

	"github.com/vk/modbuildgo/internal/ctxlog"
	"github.com/vk/modbuildgo/internal/diag"
)

// Graph maps module identity to its State. Edges are each node's
// dependency list, restricted to identities present in the map.
type Graph map[string]*State

// LoadGraph discovers the full transitive dependency graph for the
// given entry sources, breadth-first. A missing imported module is
// diagnosed and pruned; a missing entry module is fatal.
func LoadGraph(ctx context.Context, m *Manager, sources []BuildSource) (Graph, error) {
	logger := ctxlog.FromContext(ctx)
	graph := make(Graph)

	// The queue drives breadth-first traversal; an explicit queue
	// bounds stack depth on graphs of thousands of modules.
	var queue []*State

	for _, bs := range sources {
		st, err := NewState(ctx, m, bs.Module, bs.Path, bs.Text, bs.HasText, nil, 0)
		if err != nil {
			return nil, err
		}
		if _, dup := graph[st.ID]; dup {
			m.Collector.SetFile(st.XPath)
			m.Collector.Report(1, "Duplicate module named '"+st.ID+"'", diag.Blocker())
			return nil, m.Collector.NewBuildError()
		}
		graph[st.ID] = st
		queue = append(queue, st)
	}

	for head := 0; head < len(queue); head++ {
		st := queue[head]
		for _, dep := range slices.Concat(st.Roots, st.Dependencies) {
			if _, ok := graph[dep]; ok {
				continue
			}
			var newst *State
			var err error
			if slices.Contains(st.Roots, dep) {
				newst, err = NewRootState(ctx, m, dep)
			} else {
				line := st.DepLineMap[dep]
				if line == 0 {
					line = 1
				}
				newst, err = NewState(ctx, m, dep, "", "", false, st, line)
			}
			if errors.Is(err, errModuleNotFound) {
				// Prune so later stages never try to schedule it.
				if i := slices.Index(st.Dependencies, dep); i >= 0 {
					st.Dependencies = slices.Delete(st.Dependencies, i, i+1)
					delete(st.DepLineMap, dep)
				}
				continue
			}
			if err != nil {
				return nil, err
			}
			graph[newst.ID] = newst
			queue = append(queue, newst)
		}
	}

	logger.Debug("Graph discovery complete.", "node_count", len(graph))
	return graph, nil
}
