package fsblobstore

import (
	"github.com/cuemby/cryptfs/internal/blobstore"
	"github.com/cuemby/cryptfs/internal/blockid"
)

// magicSize is the one-byte type tag every FsBlob carries as the first
// byte of its underlying blob payload.
const magicSize = 1

func readMagic(blob *blobstore.Blob) (EntryType, error) {
	if blob.NumBytes() < magicSize {
		return 0, &WrongTypeError{}
	}
	b, err := blob.Read(0, magicSize)
	if err != nil {
		return 0, err
	}
	return EntryType(b[0]), nil
}

func createTypedBlob(store *blobstore.BlobStoreOnBlocks, magic EntryType) (*blobstore.Blob, error) {
	blob, err := store.Create()
	if err != nil {
		return nil, err
	}
	if err := blob.Write(0, []byte{byte(magic)}); err != nil {
		return nil, err
	}
	return blob, nil
}

func checkMagic(blob *blobstore.Blob, want EntryType) error {
	got, err := readMagic(blob)
	if err != nil {
		return err
	}
	if got != want {
		return &WrongTypeError{Expected: want, Actual: got}
	}
	return nil
}

// fsBlob is the common surface every typed blob exposes.
type fsBlob interface {
	Id() blockid.BlockId
	Flush() error
}
