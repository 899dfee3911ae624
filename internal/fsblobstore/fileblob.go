package fsblobstore

import (
	"github.com/cuemby/cryptfs/internal/blobstore"
	"github.com/cuemby/cryptfs/internal/blockid"
)

// FileBlob is a thin adapter over a plain blob: its payload after the
// magic byte is the file's raw bytes.
type FileBlob struct {
	blob *blobstore.Blob
}

func newFileBlob(blob *blobstore.Blob) *FileBlob {
	return &FileBlob{blob: blob}
}

func (f *FileBlob) Id() blockid.BlockId { return f.blob.RootId() }

// NumBytes is the file's content length, excluding the magic byte.
func (f *FileBlob) NumBytes() int64 { return f.blob.NumBytes() - magicSize }

// Read returns length bytes of file content starting at off.
func (f *FileBlob) Read(off int64, length int) ([]byte, error) {
	return f.blob.Read(off+magicSize, length)
}

// Write overwrites length(data) bytes of file content starting at off,
// growing the file if the write extends past its current length.
func (f *FileBlob) Write(off int64, data []byte) error {
	return f.blob.Write(off+magicSize, data)
}

// Resize truncates or extends the file's content to exactly n bytes.
func (f *FileBlob) Resize(n int64) error {
	return f.blob.Resize(n + magicSize)
}

func (f *FileBlob) Flush() error { return f.blob.Flush() }
