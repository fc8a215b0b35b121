package cachestore

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
	bolt "go.etcd.io/bbolt"
)

var cacheBucket = []byte("cache")

// boltEntry is the stored representation of one named entry.
type boltEntry struct {
	MTime int64  `msgpack:"mtime"`
	Data  []byte `msgpack:"data"`
}

// BoltStore keeps entries in a single bbolt database file. Useful when
// a cache of many small files is slower than one database, or when the
// cache must be relocatable as a single artifact.
type BoltStore struct {
	db *bolt.DB
}

// OpenBolt opens (creating if necessary) a bbolt-backed store at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cacheBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) get(name string) (*boltEntry, error) {
	var entry *boltEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(cacheBucket).Get([]byte(name))
		if raw == nil {
			return ErrNotFound
		}
		entry = new(boltEntry)
		return msgpack.Unmarshal(raw, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Getmtime implements Store.
func (s *BoltStore) Getmtime(name string) (int64, error) {
	entry, err := s.get(name)
	if err != nil {
		return 0, err
	}
	return entry.MTime, nil
}

// Read implements Store.
func (s *BoltStore) Read(name string) ([]byte, error) {
	entry, err := s.get(name)
	if err != nil {
		return nil, err
	}
	return entry.Data, nil
}

// Write implements Store.
func (s *BoltStore) Write(name string, data []byte) (int64, error) {
	mtime := time.Now().UnixNano()
	raw, err := msgpack.Marshal(&boltEntry{MTime: mtime, Data: data})
	if err != nil {
		return 0, err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cacheBucket).Put([]byte(name), raw)
	})
	if err != nil {
		return 0, err
	}
	return mtime, nil
}

// Close implements Store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
