// Package blockstore implements the block layer: a stack of decorators
// over a raw fixed-size block backend that adds authenticated encryption,
// rollback-proof versioning, and content-addressed identifiers.
package blockstore

import "github.com/cuemby/cryptfs/internal/blockid"

// RawBlockStore is a key-addressed mapping of opaque fixed-size byte
// blocks. It does not interpret contents; every byte round-trips
// unchanged. Backends are pluggable (in-memory for tests, a
// directory-of-files or an embedded bbolt file for production).
type RawBlockStore interface {
	// TryCreate stores data under id only if id does not already exist.
	// It returns false on collision; the caller is expected to retry with
	// a freshly generated id.
	TryCreate(id blockid.BlockId, data []byte) (bool, error)

	// Load returns the bytes stored under id, or ok=false if absent.
	Load(id blockid.BlockId) (data []byte, ok bool, err error)

	// Store overwrites (or creates) the bytes under id.
	Store(id blockid.BlockId, data []byte) error

	// Remove deletes id, returning false if it didn't exist.
	Remove(id blockid.BlockId) (bool, error)

	// ForEachBlock visits every block id currently in the backend. The
	// order is unspecified.
	ForEachBlock(visit func(id blockid.BlockId) error) error

	// NumBlocks returns the number of blocks currently stored.
	NumBlocks() (int, error)

	// EstimateFreeBytes estimates free capacity on the backing medium.
	EstimateFreeBytes() (uint64, error)

	// PhysicalBlockSize is the fixed size of every block this backend
	// stores, in bytes (BLOCKSIZE_BYTES).
	PhysicalBlockSize() int
}

// Create is a convenience wrapper around TryCreate that keeps generating
// fresh ids until one wins, matching the "caller retries with a fresh id"
// contract. It mirrors the BlockStoreWithRandomKeys helper: the raw
// interface never manufactures ids itself, but nothing stops a thin
// layer above it from doing so for ergonomics.
func Create(store RawBlockStore, data []byte) (blockid.BlockId, error) {
	for {
		id := blockid.New()
		ok, err := store.TryCreate(id, data)
		if err != nil {
			return blockid.BlockId{}, err
		}
		if ok {
			return id, nil
		}
	}
}
