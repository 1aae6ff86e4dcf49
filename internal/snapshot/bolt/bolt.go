// Package bolt implements snapshot.Backend on a bbolt database file.
package bolt

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"undostore/internal/snapshot"
)

var (
	snapshotBucket = []byte("snapshot")
	stateKey       = []byte("state")
)

// Backend keeps the JSON snapshot document as a single value in a bbolt
// database. The document bytes are identical to the file backend's; bbolt
// transactions make each write atomic. bbolt holds an exclusive file lock
// until Close.
type Backend struct {
	db   *bolt.DB
	path string
}

// Open creates or opens a bbolt database at the given path.
func Open(path string) (*Backend, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db: %w", err)
	}
	return &Backend{db: db, path: path}, nil
}

func (b *Backend) Location() string {
	return b.path
}

func (b *Backend) Read() ([]byte, error) {
	var val []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		bk := tx.Bucket(snapshotBucket)
		if bk == nil {
			return nil
		}
		if v := bk.Get(stateKey); v != nil {
			val = make([]byte, len(v))
			copy(val, v)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if val == nil {
		return nil, fmt.Errorf("%w: %s", snapshot.ErrNotExist, b.path)
	}
	return val, nil
}

func (b *Backend) Write(data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bk, err := tx.CreateBucketIfNotExists(snapshotBucket)
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		return bk.Put(stateKey, data)
	})
}

func (b *Backend) Close() error {
	return b.db.Close()
}
