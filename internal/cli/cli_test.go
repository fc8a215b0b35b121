package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_FilesAndFlags(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	cfg, exit, err := Parse([]string{
		"-options", "build.hcl",
		"-target", "typecheck",
		"-cache-dir", "/tmp/c",
		"-no-incremental",
		"-silent-imports",
		"-log-level", "debug",
		"-log-format", "text",
		"main.py", "other.py",
	}, out)

	require.NoError(t, err)
	require.False(t, exit)
	require.Equal(t, []string{"main.py", "other.py"}, cfg.Paths)
	require.Equal(t, "build.hcl", cfg.OptionsPath)
	require.Equal(t, "typecheck", cfg.Target)
	require.Equal(t, "/tmp/c", cfg.CacheDir)
	require.True(t, cfg.NoIncremental)
	require.True(t, cfg.SilentImports)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "text", cfg.LogFormat)
}

func TestParse_ModuleList(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	cfg, exit, err := Parse([]string{"-m", "pkg.a, pkg.b,"}, out)

	require.NoError(t, err)
	require.False(t, exit)
	require.Empty(t, cfg.Paths)
	require.Equal(t, []string{"pkg.a", "pkg.b"}, cfg.Modules)
}

func TestParse_NoSourcesPrintsUsage(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	cfg, exit, err := Parse(nil, out)

	require.NoError(t, err)
	require.True(t, exit)
	require.Nil(t, cfg)
	require.Contains(t, out.String(), "Usage:")
}

func TestParse_InvalidLogFormat(t *testing.T) {
	t.Parallel()

	_, _, err := Parse([]string{"-log-format", "xml", "main.py"}, &bytes.Buffer{})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.Code)
	require.Contains(t, exitErr.Message, "invalid log-format")
}

func TestParse_InvalidLogLevel(t *testing.T) {
	t.Parallel()

	_, _, err := Parse([]string{"-log-level", "loud", "main.py"}, &bytes.Buffer{})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Contains(t, exitErr.Message, "invalid log-level")
}

func TestParse_InvalidTarget(t *testing.T) {
	t.Parallel()

	_, _, err := Parse([]string{"-target", "everything", "main.py"}, &bytes.Buffer{})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Contains(t, exitErr.Message, "invalid target")
}

func TestParse_UnknownFlag(t *testing.T) {
	t.Parallel()

	_, _, err := Parse([]string{"--bogus"}, &bytes.Buffer{})

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 2, exitErr.Code)
}

func TestParse_HelpExitsCleanly(t *testing.T) {
	t.Parallel()

	out := &bytes.Buffer{}
	cfg, exit, err := Parse([]string{"-h"}, out)

	require.NoError(t, err)
	require.True(t, exit)
	require.Nil(t, cfg)
}
