package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vk/modbuildgo/internal/config"
	"github.com/vk/modbuildgo/internal/hclconfig"
)

func TestNewConfig_RequiresEntrySources(t *testing.T) {
	t.Parallel()

	_, err := NewConfig(Config{})
	require.Error(t, err)

	cfg, err := NewConfig(Config{Paths: []string{"main.py"}})
	require.NoError(t, err)
	require.Equal(t, []string{"main.py"}, cfg.Paths)

	cfg, err = NewConfig(Config{Modules: []string{"pkg.mod"}})
	require.NoError(t, err)
	require.Equal(t, []string{"pkg.mod"}, cfg.Modules)
}

func TestApplyOverrides(t *testing.T) {
	t.Parallel()

	opts := config.Default()
	applyOverrides(opts, &Config{
		Target:        "semantic-analysis",
		NoIncremental: true,
		SilentImports: true,
		CacheDir:      "/tmp/override",
	})

	require.Equal(t, config.TargetSemanticAnalysis, opts.Target)
	require.False(t, opts.Incremental)
	require.True(t, opts.SilentImports)
	require.Equal(t, "/tmp/override", opts.CacheDir)

	// Empty overrides leave the loaded options alone.
	opts = config.Default()
	applyOverrides(opts, &Config{})
	require.Equal(t, config.Default(), opts)
}

func TestModuleNameForPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg", "sub"), 0755))
	for _, name := range []string{
		filepath.Join("pkg", "__init__.py"),
		filepath.Join("pkg", "sub", "__init__.py"),
		filepath.Join("pkg", "sub", "mod.py"),
		"plain.py",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), nil, 0644))
	}

	require.Equal(t, "plain", moduleNameForPath(filepath.Join(root, "plain.py")))
	require.Equal(t, "pkg.sub.mod", moduleNameForPath(filepath.Join(root, "pkg", "sub", "mod.py")))
	require.Equal(t, "pkg.sub", moduleNameForPath(filepath.Join(root, "pkg", "sub", "__init__.py")))
	require.Equal(t, "pkg", moduleNameForPath(filepath.Join(root, "pkg", "__init__.py")))
}

func TestAppRun_EndToEnd(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("import helper\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "helper.py"), []byte("value = 1\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "builtins.py"), []byte("object = 0\n"), 0644))

	optionsPath := filepath.Join(root, "build.hcl")
	optionsHCL := `
build {
  cache_dir    = "` + filepath.ToSlash(filepath.Join(root, ".cache")) + `"
  search_roots = ["` + filepath.ToSlash(root) + `"]
}
`
	require.NoError(t, os.WriteFile(optionsPath, []byte(optionsHCL), 0644))

	out := &bytes.Buffer{}
	cfg, err := NewConfig(Config{
		Paths:       []string{filepath.Join(root, "main.py")},
		OptionsPath: optionsPath,
		LogLevel:    "error",
		LogFormat:   "text",
	})
	require.NoError(t, err)

	a := NewApp(out, cfg, hclconfig.NewLoader())
	require.Equal(t, filepath.Join(root, ".cache"), filepath.FromSlash(a.Options().CacheDir))

	require.NoError(t, a.Run(context.Background(), cfg))
	require.Empty(t, out.String(), "a clean build prints no diagnostics")
	require.DirExists(t, filepath.Join(root, ".cache"))
}

func TestAppRun_BuildErrorPrintsDiagnostics(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.py"), []byte("import ghost\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "builtins.py"), []byte("object = 0\n"), 0644))

	out := &bytes.Buffer{}
	cfg, err := NewConfig(Config{
		Paths:     []string{filepath.Join(root, "main.py")},
		LogLevel:  "error",
		LogFormat: "text",
		CacheDir:  filepath.Join(root, ".cache"),
	})
	require.NoError(t, err)

	a := NewApp(out, cfg, hclconfig.NewLoader())
	runErr := a.Run(context.Background(), cfg)

	require.Error(t, runErr)
	require.Contains(t, out.String(), "Cannot find module named 'ghost'")
}

func TestAppRun_MissingEntryFile(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	cfg, err := NewConfig(Config{
		Paths:     []string{filepath.Join(t.TempDir(), "ghost.py")},
		LogLevel:  "error",
		LogFormat: "text",
	})
	require.NoError(t, err)

	a := NewApp(out, cfg, hclconfig.NewLoader())
	require.Error(t, a.Run(context.Background(), cfg))
}
