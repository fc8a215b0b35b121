package cachestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/vk/modbuildgo/internal/fscache"
	"github.com/vk/modbuildgo/internal/pipeline"
	"github.com/vk/modbuildgo/internal/source"
)

const modText = "value = 1\n"

func modHash() string {
	return source.Fingerprint([]byte(modText))
}

func TestEntryNames(t *testing.T) {
	t.Parallel()

	meta, data := EntryNames("3", "pkg.sub.mod", false)
	require.Equal(t, "3/pkg/sub/mod.meta.json", meta)
	require.Equal(t, "3/pkg/sub/mod.data.bin", data)

	// A package's entries move under __init__ so a submodule named like
	// the package leaf cannot collide with them.
	meta, data = EntryNames("3", "pkg", true)
	require.Equal(t, "3/pkg/__init__.meta.json", meta)
	require.Equal(t, "3/pkg/__init__.data.bin", data)
}

func sampleTree(id string) *pipeline.SourceFile {
	tree := pipeline.NewSourceFile(id, id+".py")
	tree.Imports = append(tree.Imports, &pipeline.ImportStmt{
		Kind:   pipeline.ImportFrom,
		Line:   2,
		Module: "helper",
		Names:  []pipeline.ImportedName{{Name: "value", Alias: "v"}},
	})
	tree.Names["value"] = &pipeline.Symbol{
		Kind:     pipeline.SymVar,
		FullName: id + ".value",
		Line:     3,
		Public:   true,
		Type:     "Any",
	}
	tree.Names["Shape"] = &pipeline.Symbol{
		Kind:          pipeline.SymClass,
		FullName:      id + ".Shape",
		Line:          5,
		Public:        true,
		Bases:         []string{"Base"},
		Linearization: []string{id + ".Shape", "helper.Base"},
		Type:          "type",
	}
	tree.IgnoredLines[7] = true
	return tree
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestWriteTree_FindMetaRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	src := writeSource(t, dir, "mod.py", modText)
	store := NewFileStore(filepath.Join(dir, ".cache"))
	fs := fscache.New()

	tree := sampleTree("mod")
	deps := []string{"helper", "builtins"}
	require.NoError(t, WriteTree(ctx, store, fs, "3", "mod", src, modHash(), tree, deps))

	meta := FindMeta(ctx, store, fs, "3", "mod", src, false)
	require.NotNil(t, meta, "freshly written metadata should validate")
	require.Equal(t, "mod", meta.ID)
	require.Equal(t, src, meta.Path)
	require.Equal(t, modHash(), meta.SrcHash)
	require.Equal(t, deps, meta.Dependencies)

	loaded, err := LoadTree(store, meta)
	require.NoError(t, err)
	if diff := cmp.Diff(tree, loaded, cmpopts.IgnoreFields(pipeline.Symbol{}, "Module")); diff != "" {
		t.Errorf("cached tree differs from original (-want +got):\n%s", diff)
	}
}

func TestWriteTree_NilDependenciesBecomeEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	src := writeSource(t, dir, "mod.py", modText)
	store := NewFileStore(filepath.Join(dir, ".cache"))
	fs := fscache.New()

	require.NoError(t, WriteTree(ctx, store, fs, "3", "mod", src, modHash(), sampleTree("mod"), nil))

	meta := FindMeta(ctx, store, fs, "3", "mod", src, false)
	require.NotNil(t, meta, "a module without dependencies must still validate")
	require.Empty(t, meta.Dependencies)
	require.NotNil(t, meta.Dependencies)
}

func TestFindMeta_RejectsModifiedSource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	src := writeSource(t, dir, "mod.py", modText)
	store := NewFileStore(filepath.Join(dir, ".cache"))

	require.NoError(t, WriteTree(ctx, store, fscache.New(), "3", "mod", src, modHash(), sampleTree("mod"), nil))

	// Changed size guarantees a mismatch even on coarse mtime clocks.
	require.NoError(t, os.WriteFile(src, []byte("value = 1\nextra = 2\n"), 0644))

	require.Nil(t, FindMeta(ctx, store, fscache.New(), "3", "mod", src, false))
}

func TestFindMeta_AcceptsTouchedSourceWithSameContent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	src := writeSource(t, dir, "mod.py", modText)
	store := NewFileStore(filepath.Join(dir, ".cache"))

	require.NoError(t, WriteTree(ctx, store, fscache.New(), "3", "mod", src, modHash(), sampleTree("mod"), nil))

	// Same bytes, different mtime: the content hash keeps the entry valid.
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(src, later, later))

	require.NotNil(t, FindMeta(ctx, store, fscache.New(), "3", "mod", src, false))
}

func TestFindMeta_RejectsSameSizeEdit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	src := writeSource(t, dir, "mod.py", modText)
	store := NewFileStore(filepath.Join(dir, ".cache"))

	require.NoError(t, WriteTree(ctx, store, fscache.New(), "3", "mod", src, modHash(), sampleTree("mod"), nil))

	// Same length, different bytes. The explicit mtime bump makes the
	// check reach the hash comparison even on coarse clocks.
	require.NoError(t, os.WriteFile(src, []byte("value = 2\n"), 0644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(src, later, later))

	require.Nil(t, FindMeta(ctx, store, fscache.New(), "3", "mod", src, false))
}

func TestFindMeta_RejectsMissingBlob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	src := writeSource(t, dir, "mod.py", modText)
	cacheDir := filepath.Join(dir, ".cache")
	store := NewFileStore(cacheDir)

	require.NoError(t, WriteTree(ctx, store, fscache.New(), "3", "mod", src, modHash(), sampleTree("mod"), nil))

	_, dataName := EntryNames("3", "mod", false)
	require.NoError(t, os.Remove(filepath.Join(cacheDir, filepath.FromSlash(dataName))))

	require.Nil(t, FindMeta(ctx, store, fscache.New(), "3", "mod", src, false))
}

func TestFindMeta_RejectsRewrittenBlob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	src := writeSource(t, dir, "mod.py", modText)
	store := NewFileStore(filepath.Join(dir, ".cache"))

	require.NoError(t, WriteTree(ctx, store, fscache.New(), "3", "mod", src, modHash(), sampleTree("mod"), nil))

	// A blob rewritten behind the metadata's back no longer matches the
	// pinned mtime.
	_, dataName := EntryNames("3", "mod", false)
	mtime, err := store.Write(dataName, []byte("tampered"))
	require.NoError(t, err)

	metaName, _ := EntryNames("3", "mod", false)
	raw, err := store.Read(metaName)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "tampered")

	meta := FindMeta(ctx, store, fscache.New(), "3", "mod", src, false)
	if meta != nil {
		// Only acceptable if the rewrite landed on the exact same
		// nanosecond, which the pinned value would then still match.
		require.Equal(t, mtime, meta.DataMTime)
	}
}

func TestFindMeta_RejectsIdentityMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()
	src := writeSource(t, dir, "mod.py", modText)
	otherSrc := writeSource(t, dir, "other.py", "value = 1\n")
	store := NewFileStore(filepath.Join(dir, ".cache"))

	require.NoError(t, WriteTree(ctx, store, fscache.New(), "3", "mod", src, modHash(), sampleTree("mod"), nil))

	// Same entry name, different recorded source path.
	require.Nil(t, FindMeta(ctx, store, fscache.New(), "3", "mod", otherSrc, false))
}

func TestFindMeta_AbsentEntry(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := writeSource(t, dir, "mod.py", modText)
	store := NewFileStore(filepath.Join(dir, ".cache"))

	require.Nil(t, FindMeta(context.Background(), store, fscache.New(), "3", "mod", src, false))
}
