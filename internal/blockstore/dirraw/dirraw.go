// Package dirraw is the production RawBlockStore backend: one file per
// block on a local directory, fanned out across two-character hex prefix
// subdirectories so no single directory holds an unreasonable number of
// entries.
package dirraw

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/cryptfs/internal/blockid"
	"github.com/cuemby/cryptfs/internal/blockstore"
	"github.com/cuemby/cryptfs/pkg/log"
)

// Store stores every block as exactly blockSize bytes under
// <root>/<2-char-prefix>/<32-char-hex-id>.
type Store struct {
	root      string
	blockSize int
}

// New opens (creating if necessary) a directory-backed store rooted at
// dir, whose blocks are all blockSize bytes.
func New(dir string, blockSize int) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &blockstore.IoError{Cause: fmt.Errorf("create root dir %s: %w", dir, err)}
	}
	return &Store{root: dir, blockSize: blockSize}, nil
}

var _ blockstore.RawBlockStore = (*Store)(nil)

func (s *Store) pathFor(id blockid.BlockId) string {
	return filepath.Join(s.root, id.Prefix(), id.String())
}

func (s *Store) TryCreate(id blockid.BlockId, data []byte) (bool, error) {
	dir := filepath.Join(s.root, id.Prefix())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false, &blockstore.IoError{Cause: err}
	}

	f, err := os.OpenFile(s.pathFor(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, &blockstore.IoError{Cause: err}
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return false, &blockstore.IoError{Cause: err}
	}
	return true, nil
}

func (s *Store) Load(id blockid.BlockId) ([]byte, bool, error) {
	data, err := os.ReadFile(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, &blockstore.IoError{Cause: err}
	}
	return data, true, nil
}

func (s *Store) Store(id blockid.BlockId, data []byte) error {
	dir := filepath.Join(s.root, id.Prefix())
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &blockstore.IoError{Cause: err}
	}

	tmp := s.pathFor(id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return &blockstore.IoError{Cause: err}
	}
	if err := os.Rename(tmp, s.pathFor(id)); err != nil {
		return &blockstore.IoError{Cause: err}
	}
	return nil
}

func (s *Store) Remove(id blockid.BlockId) (bool, error) {
	err := os.Remove(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, &blockstore.IoError{Cause: err}
	}
	return true, nil
}

func (s *Store) ForEachBlock(visit func(id blockid.BlockId) error) error {
	prefixDirs, err := os.ReadDir(s.root)
	if err != nil {
		return &blockstore.IoError{Cause: err}
	}

	for _, pd := range prefixDirs {
		if !pd.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(s.root, pd.Name()))
		if err != nil {
			return &blockstore.IoError{Cause: err}
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			id, err := blockid.ParseHex(e.Name())
			if err != nil {
				// Not a block file (e.g. a leftover .tmp); skip.
				continue
			}
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) NumBlocks() (int, error) {
	count := 0
	err := s.ForEachBlock(func(blockid.BlockId) error {
		count++
		return nil
	})
	return count, err
}

func (s *Store) EstimateFreeBytes() (uint64, error) {
	free, err := diskFreeBytes(s.root)
	if err != nil {
		log.WithComponent("blockstore.dirraw").Warn().Err(err).Msg("failed to statfs root, reporting 0 free bytes")
		return 0, nil
	}
	return free, nil
}

func (s *Store) PhysicalBlockSize() int {
	return s.blockSize
}
