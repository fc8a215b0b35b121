// Package fscache provides a caching file-system accessor with
// single-snapshot semantics: every stat, read and listdir result is
// memoized on first access, so one build run observes a consistent
// picture of each file even if the file is edited mid-build. The cache
// must be flushed between independent runs.
package fscache

import (
	"io/fs"
	"os"
	"sort"
)

type statResult struct {
	info fs.FileInfo
	err  error
}

type readResult struct {
	data []byte
	err  error
}

type listResult struct {
	names []string
	err   error
}

// Cache memoizes file-system accesses for the lifetime of one build run.
// It is not safe for concurrent use; the build engine is single-threaded.
type Cache struct {
	stats    map[string]statResult
	reads    map[string]readResult
	listings map[string]listResult
}

// New returns an empty Cache.
func New() *Cache {
	c := &Cache{}
	c.Flush()
	return c
}

// Flush discards all memoized results. Call between independent builds.
func (c *Cache) Flush() {
	c.stats = make(map[string]statResult)
	c.reads = make(map[string]readResult)
	c.listings = make(map[string]listResult)
}

// Stat returns the cached os.Stat result for path.
func (c *Cache) Stat(path string) (fs.FileInfo, error) {
	if res, ok := c.stats[path]; ok {
		return res.info, res.err
	}
	info, err := os.Stat(path)
	c.stats[path] = statResult{info, err}
	return info, err
}

// Read returns the cached contents of the file at path.
func (c *Cache) Read(path string) ([]byte, error) {
	if res, ok := c.reads[path]; ok {
		return res.data, res.err
	}
	data, err := os.ReadFile(path)
	c.reads[path] = readResult{data, err}
	return data, err
}

// ListDir returns the sorted entry names of the directory at path.
func (c *Cache) ListDir(path string) ([]string, error) {
	if res, ok := c.listings[path]; ok {
		return res.names, res.err
	}
	entries, err := os.ReadDir(path)
	var names []string
	if err == nil {
		names = make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
	}
	c.listings[path] = listResult{names, err}
	return names, err
}

// IsFile reports whether path names a regular file.
func (c *Cache) IsFile(path string) bool {
	info, err := c.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// IsDir reports whether path names a directory.
func (c *Cache) IsDir(path string) bool {
	info, err := c.Stat(path)
	return err == nil && info.IsDir()
}
