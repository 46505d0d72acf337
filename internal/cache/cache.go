// Package cache implements the compile cache from SPEC_FULL.md §4.11: a
// content-addressed store keyed by a program's BuildID, holding its emitted
// descriptor bytes. Grounded directly on the teacher daemon's
// manager.BoltCAS (a single-bucket bolt key/value store originally used to
// deduplicate file chunks), repurposed here from "have we seen this chunk"
// to "have we already compiled this program".
package cache

import (
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
)

var bucketCompiles = []byte("compiles")

// Cache is a bolt-backed compile cache.
type Cache struct {
	db *bolt.DB
}

// Open opens (creating if needed) a compile cache at path.
func Open(path string) (*Cache, error) {
	db, err := bolt.Open(filepath.Clean(path), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, e := tx.CreateBucketIfNotExists(bucketCompiles)
		return e
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying bolt database.
func (c *Cache) Close() error { return c.db.Close() }

// Get returns the cached descriptor bytes for buildID, if present.
func (c *Cache) Get(buildID string) ([]byte, bool, error) {
	var out []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketCompiles)
		if bk == nil {
			return nil
		}
		v := bk.Get([]byte(buildID))
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

// Put stores descriptorBytes under buildID, overwriting any prior entry.
func (c *Cache) Put(buildID string, descriptorBytes []byte) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketCompiles)
		if bk == nil {
			return bolt.ErrBucketNotFound
		}
		return bk.Put([]byte(buildID), descriptorBytes)
	})
}

// Size returns the approximate number of cached entries.
func (c *Cache) Size() (int, error) {
	n := 0
	err := c.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(bucketCompiles)
		if bk == nil {
			return nil
		}
		return bk.ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}
