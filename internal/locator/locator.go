// Package locator resolves dotted module names to source files on disk.
//
// Lookups walk an ordered list of search roots, preferring stub files
// over plain sources, and validate that every ancestor package directory
// carries an __init__ marker so a bare directory cannot shadow a real
// module. Results are memoized per (name, search roots) for the lifetime
// of one build; Reset clears the memo between independent builds.
package locator

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/modbuildgo/internal/fscache"
)

// Extensions lists the recognized source file extensions, in preference
// order: stub interface files win over plain sources.
var Extensions = []string{".pyi", ".py"}

// legacyNames maps a module identity to the alternate on-disk name used
// under the legacy language-version mode. Table-driven so callers never
// special-case individual modules.
var legacyNames = map[string]string{
	"builtins": "__builtin__",
}

// OnDiskName returns the file-system name to look up for a module
// identity. Identical to the identity except for legacy-mode aliases.
func OnDiskName(id string, legacyMode bool) string {
	if legacyMode {
		if alias, ok := legacyNames[id]; ok {
			return alias
		}
	}
	return id
}

type cacheKey struct {
	name  string
	roots string
}

// Locator finds module source files under a set of search roots.
// Not safe for concurrent use.
type Locator struct {
	fs *fscache.Cache

	// moduleCache memoizes full lookups: (id, roots) -> path ("" = not found).
	moduleCache map[cacheKey]string
	// dirCache memoizes which roots contain a module's directory prefix,
	// shared between sibling lookups like a.b.c and a.b.d.
	dirCache map[cacheKey][]string
}

// New returns a Locator backed by the given file-system cache.
func New(fs *fscache.Cache) *Locator {
	l := &Locator{fs: fs}
	l.Reset()
	return l
}

// Reset clears the lookup memos. Must be called between independent
// builds so stale found/not-found answers cannot leak across runs.
func (l *Locator) Reset() {
	l.moduleCache = make(map[cacheKey]string)
	l.dirCache = make(map[cacheKey][]string)
}

// FindModule returns the source path for the dotted module name, or
// "" and false if no valid candidate exists under the search roots.
func (l *Locator) FindModule(id string, searchRoots []string) (string, bool) {
	key := cacheKey{id, strings.Join(searchRoots, "\x00")}
	path, ok := l.moduleCache[key]
	if !ok {
		path = l.find(id, searchRoots, key.roots)
		l.moduleCache[key] = path
	}
	return path, path != ""
}

func (l *Locator) find(id string, searchRoots []string, rootsKey string) string {
	components := strings.Split(id, ".")
	dirChain := filepath.Join(components[:len(components)-1]...)

	dirKey := cacheKey{dirChain, rootsKey}
	candidates, ok := l.dirCache[dirKey]
	if !ok {
		for _, root := range searchRoots {
			dir := filepath.Clean(filepath.Join(root, dirChain))
			if l.fs.IsDir(dir) {
				candidates = append(candidates, dir)
			}
		}
		l.dirCache[dirKey] = candidates
	}

	last := components[len(components)-1]
	for _, baseDir := range candidates {
		basePath := filepath.Join(baseDir, last)
		for _, ext := range Extensions {
			path := basePath + ext
			if !l.fs.IsFile(path) {
				path = filepath.Join(basePath, "__init__"+ext)
			}
			if l.fs.IsFile(path) && l.verifyModule(id, path) {
				return path
			}
		}
	}
	return ""
}

// verifyModule checks that every package directory between path and its
// search root carries an __init__ file in some recognized extension.
func (l *Locator) verifyModule(id string, path string) bool {
	if isInitFile(path) {
		path = filepath.Dir(path)
	}
	for i := 0; i < strings.Count(id, "."); i++ {
		path = filepath.Dir(path)
		found := false
		for _, ext := range Extensions {
			if l.fs.IsFile(filepath.Join(path, "__init__"+ext)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// IsInitFile reports whether path names a package __init__ file.
func IsInitFile(path string) bool {
	return isInitFile(path)
}

func isInitFile(path string) bool {
	base := filepath.Base(path)
	for _, ext := range Extensions {
		if base == "__init__"+ext {
			return true
		}
	}
	return false
}

// EnvSearchPath splits a PathListSeparator-separated environment value
// into search roots, dropping empty entries.
func EnvSearchPath(value string) []string {
	if value == "" {
		return nil
	}
	var roots []string
	for _, p := range strings.Split(value, string(os.PathListSeparator)) {
		if p != "" {
			roots = append(roots, p)
		}
	}
	return roots
}
