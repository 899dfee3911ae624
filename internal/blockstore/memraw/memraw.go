// Package memraw is an in-memory RawBlockStore backend used by tests and
// by callers that want a throwaway filesystem.
package memraw

import (
	"sync"

	"github.com/cuemby/cryptfs/internal/blockid"
	"github.com/cuemby/cryptfs/internal/blockstore"
)

// Store is a mutex-guarded map-backed RawBlockStore.
type Store struct {
	blockSize int

	mu     sync.Mutex
	blocks map[blockid.BlockId][]byte
}

// New creates an empty in-memory store whose blocks are all blockSize
// bytes.
func New(blockSize int) *Store {
	return &Store{
		blockSize: blockSize,
		blocks:    make(map[blockid.BlockId][]byte),
	}
}

var _ blockstore.RawBlockStore = (*Store)(nil)

func (s *Store) TryCreate(id blockid.BlockId, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.blocks[id]; exists {
		return false, nil
	}
	s.blocks[id] = append([]byte(nil), data...)
	return true, nil
}

func (s *Store) Load(id blockid.BlockId) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.blocks[id]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (s *Store) Store(id blockid.BlockId, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocks[id] = append([]byte(nil), data...)
	return nil
}

func (s *Store) Remove(id blockid.BlockId) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blocks[id]; !ok {
		return false, nil
	}
	delete(s.blocks, id)
	return true, nil
}

func (s *Store) ForEachBlock(visit func(id blockid.BlockId) error) error {
	s.mu.Lock()
	ids := make([]blockid.BlockId, 0, len(s.blocks))
	for id := range s.blocks {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) NumBlocks() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blocks), nil
}

func (s *Store) EstimateFreeBytes() (uint64, error) {
	// An in-memory store is bounded only by the Go heap; report a large
	// constant rather than pretending to know the real limit.
	return 1 << 40, nil
}

func (s *Store) PhysicalBlockSize() int {
	return s.blockSize
}
