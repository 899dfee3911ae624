// Package boltraw is an embedded-database RawBlockStore backend: every
// block lives as one key/value pair in a single go.etcd.io/bbolt file,
// for deployments that prefer one file over a directory tree of many
// small files.
package boltraw

import (
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/cryptfs/internal/blockid"
	"github.com/cuemby/cryptfs/internal/blockstore"
)

var bucketBlocks = []byte("blocks")

// Store is a bbolt-backed RawBlockStore.
type Store struct {
	db        *bolt.DB
	blockSize int
}

// New opens (creating if necessary) the bbolt file at path.
func New(path string, blockSize int) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, &blockstore.IoError{Cause: fmt.Errorf("open bbolt file %s: %w", path, err)}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketBlocks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, &blockstore.IoError{Cause: err}
	}

	return &Store{db: db, blockSize: blockSize}, nil
}

var _ blockstore.RawBlockStore = (*Store)(nil)

// Close releases the underlying bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) TryCreate(id blockid.BlockId, data []byte) (bool, error) {
	created := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		if b.Get(id.Bytes()) != nil {
			return nil
		}
		created = true
		return b.Put(id.Bytes(), data)
	})
	if err != nil {
		return false, &blockstore.IoError{Cause: err}
	}
	return created, nil
}

func (s *Store) Load(id blockid.BlockId) ([]byte, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get(id.Bytes())
		if v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, &blockstore.IoError{Cause: err}
	}
	return data, data != nil, nil
}

func (s *Store) Store(id blockid.BlockId, data []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).Put(id.Bytes(), data)
	})
	if err != nil {
		return &blockstore.IoError{Cause: err}
	}
	return nil
}

func (s *Store) Remove(id blockid.BlockId) (bool, error) {
	existed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBlocks)
		if b.Get(id.Bytes()) != nil {
			existed = true
		}
		return b.Delete(id.Bytes())
	})
	if err != nil {
		return false, &blockstore.IoError{Cause: err}
	}
	return existed, nil
}

func (s *Store) ForEachBlock(visit func(id blockid.BlockId) error) error {
	// Collect ids within the read transaction, then call the visitor
	// outside of it: visit may itself want to call back into this store
	// (e.g. to Load), and bbolt forbids starting a new transaction from
	// inside a cursor walk.
	var ids []blockid.BlockId
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBlocks).ForEach(func(k, _ []byte) error {
			if len(k) != blockid.Size {
				return nil
			}
			ids = append(ids, blockid.FromBytes(k))
			return nil
		})
	})
	if err != nil {
		return &blockstore.IoError{Cause: err}
	}

	for _, id := range ids {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) NumBlocks() (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketBlocks).Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, &blockstore.IoError{Cause: err}
	}
	return count, nil
}

func (s *Store) EstimateFreeBytes() (uint64, error) {
	// bbolt grows its single file on demand; there's no notion of
	// pre-allocated free space distinct from the filesystem's own.
	return 0, nil
}

func (s *Store) PhysicalBlockSize() int {
	return s.blockSize
}
