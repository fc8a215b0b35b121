package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/vk/modbuildgo/internal/ctxlog"
	"github.com/vk/modbuildgo/internal/fscache"
	"github.com/vk/modbuildgo/internal/pipeline"
	"github.com/vk/modbuildgo/internal/source"
)

// Meta is the persisted per-module metadata record. Freshness is
// decided entirely from this record plus two stats: the live source
// file and the result blob.
type Meta struct {
	ID           string   `json:"id"`
	Path         string   `json:"path"`
	MTime        int64    `json:"mtime"`
	Size         int64    `json:"size"`
	SrcHash      string   `json:"src_hash"`
	Dependencies []string `json:"dependencies"`
	DataMTime    int64    `json:"data_mtime"`
	DataName     string   `json:"data_name"`
}

// EntryNames returns the store entry names for a module's metadata and
// result blob. Entries are namespaced by language version, then by the
// dotted name with dots as separators; a package's entries live under
// an __init__ leaf so they cannot collide with a same-named submodule.
func EntryNames(version, id string, isPackage bool) (metaName, dataName string) {
	prefix := path.Join(version, strings.ReplaceAll(id, ".", "/"))
	if isPackage {
		prefix = path.Join(prefix, "__init__")
	}
	return prefix + ".meta.json", prefix + ".data.bin"
}

// FindMeta loads and validates the cache metadata for a module. Returns
// nil unless every field is present, the record matches the identity
// and path, the live file still matches the recorded size and either
// the mtime or the content hash, and the result blob's mtime matches
// what the record pinned.
func FindMeta(ctx context.Context, store Store, fs *fscache.Cache, version, id, srcPath string, isPackage bool) *Meta {
	logger := ctxlog.FromContext(ctx)
	metaName, dataName := EntryNames(version, id, isPackage)
	raw, err := store.Read(metaName)
	if err != nil {
		return nil
	}
	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		logger.Debug("Discarding unreadable cache metadata.", "id", id, "error", err)
		return nil
	}
	if m.ID != id || m.Path != srcPath || m.Dependencies == nil || m.DataName != dataName {
		return nil
	}
	info, err := fs.Stat(srcPath)
	if err != nil {
		return nil
	}
	if info.Size() != m.Size {
		logger.Debug("Cache metadata abandoned, source file modified.", "id", id, "path", srcPath)
		return nil
	}
	if info.ModTime().UnixNano() != m.MTime {
		// A touched file with identical content is still fresh; fall
		// back to the recorded content hash before giving up.
		raw, err := fs.Read(srcPath)
		if err != nil || m.SrcHash == "" || source.Fingerprint(raw) != m.SrcHash {
			logger.Debug("Cache metadata abandoned, source file modified.", "id", id, "path", srcPath)
			return nil
		}
		logger.Debug("Source mtime changed but content hash matches.", "id", id)
	}
	dataMTime, err := store.Getmtime(dataName)
	if err != nil || dataMTime != m.DataMTime {
		return nil
	}
	logger.Debug("Found valid cache metadata.", "id", id)
	return &m
}

// LoadTree deserializes the result blob referenced by meta.
func LoadTree(store Store, meta *Meta) (*pipeline.SourceFile, error) {
	raw, err := store.Read(meta.DataName)
	if err != nil {
		return nil, fmt.Errorf("reading cached result for %q: %w", meta.ID, err)
	}
	tree := new(pipeline.SourceFile)
	if err := msgpack.Unmarshal(raw, tree); err != nil {
		return nil, fmt.Errorf("decoding cached result for %q: %w", meta.ID, err)
	}
	return tree, nil
}

// WriteTree persists a module's analysis result and metadata. The blob
// is written first and the metadata records its resulting mtime, so a
// reader can never observe metadata pointing at a missing or mismatched
// blob.
func WriteTree(ctx context.Context, store Store, fs *fscache.Cache, version, id, srcPath, srcHash string, tree *pipeline.SourceFile, deps []string) error {
	logger := ctxlog.FromContext(ctx)
	info, err := fs.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("stat source for cache write %q: %w", srcPath, err)
	}
	if deps == nil {
		deps = []string{}
	}
	metaName, dataName := EntryNames(version, id, tree.IsPackage())
	blob, err := msgpack.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encoding result for %q: %w", id, err)
	}
	dataMTime, err := store.Write(dataName, blob)
	if err != nil {
		return fmt.Errorf("writing result blob for %q: %w", id, err)
	}
	meta := Meta{
		ID:           id,
		Path:         srcPath,
		MTime:        info.ModTime().UnixNano(),
		Size:         info.Size(),
		SrcHash:      srcHash,
		Dependencies: deps,
		DataMTime:    dataMTime,
		DataName:     dataName,
	}
	rawMeta, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("encoding metadata for %q: %w", id, err)
	}
	if _, err := store.Write(metaName, rawMeta); err != nil {
		return fmt.Errorf("writing metadata for %q: %w", id, err)
	}
	logger.Debug("Wrote cache entries.", "id", id, "meta", metaName, "data", dataName)
	return nil
}
