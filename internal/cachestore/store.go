// Package cachestore persists per-module analysis results between
// builds. Each module has two entries: a small metadata record used for
// freshness decisions and a serialized analysis-result blob. Entries
// live behind a pluggable Store so the on-disk layout (plain files or a
// bbolt database) stays out of the build engine.
package cachestore

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound reports that a named entry does not exist in the store.
var ErrNotFound = errors.New("cachestore: entry not found")

// Store is a named-blob store with modification-time tracking. Write
// must make the entry durable before returning; a Getmtime/Read pair
// after a successful Write observes exactly the written bytes.
type Store interface {
	// Getmtime returns the entry's modification time in nanoseconds.
	Getmtime(name string) (int64, error)
	// Read returns the entry's contents.
	Read(name string) ([]byte, error)
	// Write stores the entry and returns its resulting modification time.
	Write(name string, data []byte) (int64, error)
	// Close releases any resources held by the store.
	Close() error
}

// FileStore keeps entries as plain files under a root directory.
// Writes go to a uniquely-suffixed temporary file which is atomically
// renamed into place, so a reader never observes a half-written entry.
type FileStore struct {
	root string
}

// NewFileStore returns a Store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{root: dir}
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Getmtime implements Store.
func (s *FileStore) Getmtime(name string) (int64, error) {
	info, err := os.Stat(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return info.ModTime().UnixNano(), nil
}

// Read implements Store.
func (s *FileStore) Read(name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Write implements Store.
func (s *FileStore) Write(name string, data []byte) (int64, error) {
	path := s.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	tmp := path + "." + randomSuffix()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, err
	}
	info, err := os.Stat(tmp)
	if err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	return info.ModTime().UnixNano(), nil
}

// Close implements Store. FileStore holds no resources.
func (s *FileStore) Close() error {
	return nil
}

func randomSuffix() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("cachestore: reading random bytes: %v", err))
	}
	return hex.EncodeToString(b[:])
}
