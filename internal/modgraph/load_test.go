package modgraph_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/modbuildgo/internal/config"
	"github.com/vk/modbuildgo/internal/diag"
	"github.com/vk/modbuildgo/internal/modgraph"
)

// newManager writes the given files under a temp root and returns a
// non-incremental manager searching it.
func newManager(t *testing.T, files map[string]string) *modgraph.Manager {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	if _, ok := files["builtins.py"]; !ok {
		require.NoError(t, os.WriteFile(filepath.Join(root, "builtins.py"), []byte("object = 0\n"), 0644))
	}
	opts := config.Default()
	opts.Incremental = false
	opts.SearchRoots = []string{root}
	m := modgraph.NewManager(opts, nil, nil)
	m.AssembleSearchRoots(nil)
	return m
}

func load(t *testing.T, m *modgraph.Manager, modules ...string) (modgraph.Graph, error) {
	t.Helper()
	var sources []modgraph.BuildSource
	for _, id := range modules {
		sources = append(sources, modgraph.BuildSource{Module: id})
	}
	return modgraph.LoadGraph(context.Background(), m, sources)
}

func TestLoadGraph_TransitiveClosureWithCycle(t *testing.T) {
	t.Parallel()

	m := newManager(t, map[string]string{
		"main.py":         "import pkg.a\n",
		"pkg/__init__.py": "",
		"pkg/a.py":        "import pkg.b\n",
		"pkg/b.py":        "import pkg.a\n",
	})

	graph, err := load(t, m, "main")
	require.NoError(t, err)

	for _, id := range []string{"main", "pkg", "pkg.a", "pkg.b", "builtins"} {
		require.Contains(t, graph, id)
	}
	require.Equal(t, []string{"pkg.a", "builtins"}, graph["main"].Dependencies)
	require.Contains(t, graph["pkg.a"].Dependencies, "pkg.b")
	require.Contains(t, graph["pkg.b"].Dependencies, "pkg.a")
	require.Equal(t, []string{"pkg"}, graph["pkg.a"].Roots)
	require.Empty(t, graph["builtins"].Dependencies, "builtins cannot depend on itself")
}

func TestLoadGraph_DiscoveryOrderIsStable(t *testing.T) {
	t.Parallel()

	m := newManager(t, map[string]string{
		"main.py": "import b\nimport a\n",
		"a.py":    "",
		"b.py":    "",
	})

	graph, err := load(t, m, "main")
	require.NoError(t, err)

	// Breadth-first, in import order: main, then b, then a.
	require.Less(t, graph["main"].Order, graph["b"].Order)
	require.Less(t, graph["b"].Order, graph["a"].Order)
}

func TestLoadGraph_DepLineMapRecordsFirstImport(t *testing.T) {
	t.Parallel()

	m := newManager(t, map[string]string{
		"main.py":   "x = 1\nimport helper\nfrom helper import value\n",
		"helper.py": "value = 1\n",
	})

	graph, err := load(t, m, "main")
	require.NoError(t, err)
	require.Equal(t, 2, graph["main"].DepLineMap["helper"])
}

func TestLoadGraph_MissingImportPruned(t *testing.T) {
	t.Parallel()

	m := newManager(t, map[string]string{
		"main.py":   "import ghost\nimport helper\n",
		"helper.py": "value = 1\n",
	})

	graph, err := load(t, m, "main")
	require.NoError(t, err, "a missing import is diagnosed, not fatal")

	require.NotContains(t, graph, "ghost")
	require.NotContains(t, graph["main"].Dependencies, "ghost")
	require.Contains(t, graph, "helper")
	require.True(t, m.MissingModules["ghost"])

	count := 0
	for _, msg := range m.Collector.Messages() {
		if strings.Contains(msg, "Cannot find module named 'ghost'") {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestLoadGraph_DuplicateEntryIsFatal(t *testing.T) {
	t.Parallel()

	m := newManager(t, map[string]string{
		"main.py": "x = 1\n",
	})

	_, err := load(t, m, "main", "main")
	require.Error(t, err)
	var buildErr *diag.BuildError
	require.ErrorAs(t, err, &buildErr)
	require.Contains(t, err.Error(), "Duplicate module named 'main'")
}

func TestLoadGraph_MissingEntryIsFatal(t *testing.T) {
	t.Parallel()

	m := newManager(t, map[string]string{})

	_, err := load(t, m, "nosuch")
	require.Error(t, err)
	require.Contains(t, err.Error(), "can't find module 'nosuch'")
}

func TestLoadGraph_TextSource(t *testing.T) {
	t.Parallel()

	m := newManager(t, map[string]string{
		"helper.py": "value = 1\n",
	})

	graph, err := modgraph.LoadGraph(context.Background(), m,
		[]modgraph.BuildSource{modgraph.TextSource("main", "import helper\n")})
	require.NoError(t, err)

	require.Contains(t, graph, "helper")
	require.Equal(t, "<string>", graph["main"].XPath)
	require.Empty(t, graph["main"].Path)
}

func TestLoadGraph_UnlocatableAncestorSkipped(t *testing.T) {
	t.Parallel()

	// The entry names a nested module by explicit path, but its package
	// directory carries no marker file, so the ancestor cannot be
	// located. The root is skipped without any diagnostic.
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "bare"), 0755))
	subPath := filepath.Join(root, "bare", "sub.py")
	require.NoError(t, os.WriteFile(subPath, []byte("x = 1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "builtins.py"), []byte("object = 0\n"), 0644))

	opts := config.Default()
	opts.Incremental = false
	opts.SearchRoots = []string{root}
	m := modgraph.NewManager(opts, nil, nil)
	m.AssembleSearchRoots(nil)

	graph, err := modgraph.LoadGraph(context.Background(), m,
		[]modgraph.BuildSource{modgraph.FileSource(subPath, "bare.sub")})
	require.NoError(t, err)

	require.Contains(t, graph, "bare.sub")
	require.NotContains(t, graph, "bare")
	require.Empty(t, m.Collector.Messages())
}

func TestLoadGraph_IgnoredMissingImportSilent(t *testing.T) {
	t.Parallel()

	m := newManager(t, map[string]string{
		"main.py": "import ghost  # type: ignore\n",
	})

	graph, err := load(t, m, "main")
	require.NoError(t, err)
	require.NotContains(t, graph, "ghost")
	require.Empty(t, m.Collector.Messages())
}
