// Package scc computes strongly connected components of a directed
// graph and topologically orders the resulting condensation. Both
// algorithms are iterative: real import graphs contain cycles of
// several hundred modules, so recursion depth must stay bounded.
package scc

import "fmt"

// Components partitions the vertices into strongly connected
// components using the path-based algorithm. edges returns a vertex's
// successors; successors outside the vertex set are ignored. The
// result is deterministic for a fixed vertex order.
func Components(vertices []string, edges func(string) []string) [][]string {
	known := make(map[string]bool, len(vertices))
	for _, v := range vertices {
		known[v] = true
	}

	index := make(map[string]int, len(vertices))
	identified := make(map[string]bool, len(vertices))
	var stack []string
	var boundaries []int
	var components [][]string

	type frame struct {
		v    string
		next int
	}

	push := func(v string) frame {
		index[v] = len(stack)
		stack = append(stack, v)
		boundaries = append(boundaries, index[v])
		return frame{v: v}
	}

	for _, root := range vertices {
		if _, seen := index[root]; seen {
			continue
		}
		frames := []frame{push(root)}
		for len(frames) > 0 {
			f := &frames[len(frames)-1]
			succ := edges(f.v)
			if f.next < len(succ) {
				w := succ[f.next]
				f.next++
				if !known[w] {
					continue
				}
				if _, seen := index[w]; !seen {
					frames = append(frames, push(w))
				} else if !identified[w] {
					for index[w] < boundaries[len(boundaries)-1] {
						boundaries = boundaries[:len(boundaries)-1]
					}
				}
				continue
			}
			if boundaries[len(boundaries)-1] == index[f.v] {
				boundaries = boundaries[:len(boundaries)-1]
				component := make([]string, len(stack)-index[f.v])
				copy(component, stack[index[f.v]:])
				stack = stack[:index[f.v]]
				for _, w := range component {
					identified[w] = true
				}
				components = append(components, component)
			}
			frames = frames[:len(frames)-1]
		}
	}
	return components
}

// Topsort orders components so that every component appears after all
// components it depends on. Ready components are emitted in input
// order, so the result is deterministic. Returns an error if components
// remain with unsatisfiable dependencies, which indicates a bug in
// component computation: a true condensation cannot contain cycles.
func Topsort(components [][]string, edges func(string) []string) ([][]string, error) {
	compOf := make(map[string]int)
	for i, comp := range components {
		for _, v := range comp {
			compOf[v] = i
		}
	}

	deps := make([]map[int]bool, len(components))
	for i, comp := range components {
		deps[i] = make(map[int]bool)
		for _, v := range comp {
			for _, w := range edges(v) {
				if j, ok := compOf[w]; ok && j != i {
					deps[i][j] = true
				}
			}
		}
	}

	done := make([]bool, len(components))
	var order [][]string
	remaining := len(components)
	for remaining > 0 {
		var ready []int
		for i := range components {
			if !done[i] && len(deps[i]) == 0 {
				ready = append(ready, i)
			}
		}
		if len(ready) == 0 {
			return nil, fmt.Errorf("scc: cyclic dependency left amongst %d components", remaining)
		}
		for _, i := range ready {
			done[i] = true
			order = append(order, components[i])
			remaining--
		}
		for i := range components {
			if done[i] {
				continue
			}
			for _, j := range ready {
				delete(deps[i], j)
			}
		}
	}
	return order, nil
}
