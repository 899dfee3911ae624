package fsblobstore

import (
	"github.com/cuemby/cryptfs/internal/blobstore"
	"github.com/cuemby/cryptfs/internal/blockid"
)

// FsBlobStore builds typed (directory/file/symlink) blobs on top of a
// blob store, tagging each with a magic byte and dispatching loads back
// to the right wrapper by inspecting it.
type FsBlobStore struct {
	blobs *blobstore.BlobStoreOnBlocks
}

func New(blobs *blobstore.BlobStoreOnBlocks) *FsBlobStore {
	return &FsBlobStore{blobs: blobs}
}

// CreateDirBlob allocates a new, empty directory blob.
func (s *FsBlobStore) CreateDirBlob() (*DirBlob, error) {
	blob, err := createTypedBlob(s.blobs, EntryDir)
	if err != nil {
		return nil, err
	}
	d := newDirBlob(blob)
	d.loaded = true
	d.dirty = true // force an initial flush so the empty table round-trips
	return d, nil
}

// CreateFileBlob allocates a new, empty file blob.
func (s *FsBlobStore) CreateFileBlob() (*FileBlob, error) {
	blob, err := createTypedBlob(s.blobs, EntryFile)
	if err != nil {
		return nil, err
	}
	return newFileBlob(blob), nil
}

// CreateSymlinkBlob allocates a new symlink blob pointing at target.
func (s *FsBlobStore) CreateSymlinkBlob(target string) (*SymlinkBlob, error) {
	blob, err := createTypedBlob(s.blobs, EntrySymlink)
	if err != nil {
		return nil, err
	}
	sym := newSymlinkBlob(blob)
	if err := sym.SetTarget(target); err != nil {
		return nil, err
	}
	return sym, nil
}

// LoadDirBlob loads the blob at id, failing with *WrongTypeError if it
// isn't a directory.
func (s *FsBlobStore) LoadDirBlob(id blockid.BlockId) (*DirBlob, error) {
	blob, err := s.blobs.Load(id)
	if err != nil {
		return nil, err
	}
	if err := checkMagic(blob, EntryDir); err != nil {
		return nil, err
	}
	return newDirBlob(blob), nil
}

// LoadFileBlob loads the blob at id, failing with *WrongTypeError if it
// isn't a file.
func (s *FsBlobStore) LoadFileBlob(id blockid.BlockId) (*FileBlob, error) {
	blob, err := s.blobs.Load(id)
	if err != nil {
		return nil, err
	}
	if err := checkMagic(blob, EntryFile); err != nil {
		return nil, err
	}
	return newFileBlob(blob), nil
}

// LoadSymlinkBlob loads the blob at id, failing with *WrongTypeError if
// it isn't a symlink.
func (s *FsBlobStore) LoadSymlinkBlob(id blockid.BlockId) (*SymlinkBlob, error) {
	blob, err := s.blobs.Load(id)
	if err != nil {
		return nil, err
	}
	if err := checkMagic(blob, EntrySymlink); err != nil {
		return nil, err
	}
	return newSymlinkBlob(blob), nil
}

// LoadAny loads id and returns the typed wrapper matching its magic
// byte, as one of *DirBlob, *FileBlob, or *SymlinkBlob.
func (s *FsBlobStore) LoadAny(id blockid.BlockId) (fsBlob, error) {
	blob, err := s.blobs.Load(id)
	if err != nil {
		return nil, err
	}
	magic, err := readMagic(blob)
	if err != nil {
		return nil, err
	}
	switch magic {
	case EntryDir:
		return newDirBlob(blob), nil
	case EntryFile:
		return newFileBlob(blob), nil
	case EntrySymlink:
		return newSymlinkBlob(blob), nil
	default:
		return nil, &WrongTypeError{Actual: magic}
	}
}

// Remove deletes the blob at id entirely.
func (s *FsBlobStore) Remove(id blockid.BlockId) error {
	blob, err := s.blobs.Load(id)
	if err != nil {
		return err
	}
	return s.blobs.Remove(blob)
}
