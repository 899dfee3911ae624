package fsblobstore

import (
	"github.com/cuemby/cryptfs/internal/blobstore"
	"github.com/cuemby/cryptfs/internal/blockid"
)

// SymlinkBlob's payload (after the magic byte) is the link target as a
// UTF-8 path string.
type SymlinkBlob struct {
	blob *blobstore.Blob
}

func newSymlinkBlob(blob *blobstore.Blob) *SymlinkBlob {
	return &SymlinkBlob{blob: blob}
}

func (s *SymlinkBlob) Id() blockid.BlockId { return s.blob.RootId() }

// Target returns the link's target path.
func (s *SymlinkBlob) Target() (string, error) {
	n := s.blob.NumBytes() - magicSize
	data, err := s.blob.Read(magicSize, int(n))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// SetTarget overwrites the link's target path.
func (s *SymlinkBlob) SetTarget(target string) error {
	if err := s.blob.Resize(int64(magicSize + len(target))); err != nil {
		return err
	}
	return s.blob.Write(magicSize, []byte(target))
}

func (s *SymlinkBlob) Flush() error { return s.blob.Flush() }
