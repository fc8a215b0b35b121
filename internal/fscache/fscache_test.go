package fscache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStat_SnapshotSurvivesEdit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0644))

	c := New()
	info, err := c.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, 3, info.Size())

	require.NoError(t, os.WriteFile(path, []byte("longer"), 0644))
	again, err := c.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, 3, again.Size(), "cached stat should not see the edit")

	c.Flush()
	fresh, err := c.Stat(path)
	require.NoError(t, err)
	require.EqualValues(t, 6, fresh.Size())
}

func TestRead_MemoizesErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "late.txt")

	c := New()
	_, err := c.Read(path)
	require.Error(t, err)

	// The file appearing afterwards must not change the answer.
	require.NoError(t, os.WriteFile(path, []byte("now"), 0644))
	_, err = c.Read(path)
	require.Error(t, err)

	c.Flush()
	data, err := c.Read(path)
	require.NoError(t, err)
	require.Equal(t, "now", string(data))
}

func TestListDir_SortedNames(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"b.txt", "a.txt", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}

	c := New()
	names, err := c.ListDir(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "b.txt", "c.txt"}, names)
}

func TestIsFileIsDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	c := New()
	require.True(t, c.IsFile(path))
	require.False(t, c.IsDir(path))
	require.True(t, c.IsDir(dir))
	require.False(t, c.IsFile(dir))
	require.False(t, c.IsFile(filepath.Join(dir, "ghost")))
}
