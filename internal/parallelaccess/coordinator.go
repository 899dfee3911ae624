// Package parallelaccess provides a concurrency coordinator ensuring
// at-most-one live underlying FsBlob per blob id is ever open at a time,
// no matter how many concurrent callers ask for it.
package parallelaccess

import (
	"fmt"
	"sync"

	"github.com/cuemby/cryptfs/internal/blockid"
	"github.com/cuemby/cryptfs/internal/fsblobstore"
	"github.com/cuemby/cryptfs/internal/metrics"
)

// Handle is a shared, reference-counted reference to a live FsBlob.
// Handles are not individually thread-safe: two handles for the same
// underlying blob route through that blob's own locking (DirBlob's
// mutex), which is the serialization point; file content access is
// documented as externally synchronized per handle.
type Handle struct {
	coordinator *Store
	id          blockid.BlockId
	blob        any // one of *fsblobstore.DirBlob, *fsblobstore.FileBlob, *fsblobstore.SymlinkBlob
}

// Id is the blob's stable address.
func (h *Handle) Id() blockid.BlockId { return h.id }

// Dir type-asserts the handle's blob as a directory, or returns false.
func (h *Handle) Dir() (*fsblobstore.DirBlob, bool) {
	d, ok := h.blob.(*fsblobstore.DirBlob)
	return d, ok
}

// File type-asserts the handle's blob as a file, or returns false.
func (h *Handle) File() (*fsblobstore.FileBlob, bool) {
	f, ok := h.blob.(*fsblobstore.FileBlob)
	return f, ok
}

// Symlink type-asserts the handle's blob as a symlink, or returns false.
func (h *Handle) Symlink() (*fsblobstore.SymlinkBlob, bool) {
	s, ok := h.blob.(*fsblobstore.SymlinkBlob)
	return s, ok
}

// Release drops this handle's reference. Once the last reference to a
// given id is released, the underlying FsBlob is flushed and dropped.
func (h *Handle) Release() error {
	return h.coordinator.release(h.id)
}

type openEntry struct {
	blob     any
	refCount uint32
}

func flush(blob any) error {
	switch b := blob.(type) {
	case *fsblobstore.DirBlob:
		return b.Flush()
	case *fsblobstore.FileBlob:
		return b.Flush()
	case *fsblobstore.SymlinkBlob:
		return b.Flush()
	default:
		return fmt.Errorf("parallelaccess: unknown blob type %T", blob)
	}
}

// Store is the coordinator: map<blobId → entry{blob, refCount}> guarded
// by a single mutex.
type Store struct {
	fsBlobs *fsblobstore.FsBlobStore

	mu      sync.Mutex
	open    map[blockid.BlockId]*openEntry
	loading map[blockid.BlockId]chan struct{}
}

func New(fsBlobs *fsblobstore.FsBlobStore) *Store {
	return &Store{
		fsBlobs: fsBlobs,
		open:    make(map[blockid.BlockId]*openEntry),
		loading: make(map[blockid.BlockId]chan struct{}),
	}
}

// Acquire returns a handle to the FsBlob at id, loading it from the
// backing store at most once even if many goroutines call Acquire for
// the same id concurrently: the first caller loads it and installs the
// entry; any caller that arrives while the load is in flight waits for
// that installation and then shares it, rather than racing a second
// load.
func (s *Store) Acquire(id blockid.BlockId) (*Handle, error) {
	for {
		s.mu.Lock()
		if e, ok := s.open[id]; ok {
			e.refCount++
			s.mu.Unlock()
			return &Handle{coordinator: s, id: id, blob: e.blob}, nil
		}
		if wait, loading := s.loading[id]; loading {
			s.mu.Unlock()
			<-wait
			continue
		}
		wait := make(chan struct{})
		s.loading[id] = wait
		s.mu.Unlock()

		blob, loadErr := s.fsBlobs.LoadAny(id)

		s.mu.Lock()
		delete(s.loading, id)
		close(wait)
		if loadErr != nil {
			s.mu.Unlock()
			return nil, loadErr
		}
		if e, ok := s.open[id]; ok {
			// Another opener installed an entry while we were loading
			// (shouldn't happen given the loading-channel gate above,
			// but prefer the first installer and discard our duplicate
			// load rather than assume it can't).
			e.refCount++
			s.mu.Unlock()
			return &Handle{coordinator: s, id: id, blob: e.blob}, nil
		}
		s.open[id] = &openEntry{blob: blob, refCount: 1}
		metrics.CoordinatorOpenHandles.Set(float64(len(s.open)))
		s.mu.Unlock()
		return &Handle{coordinator: s, id: id, blob: blob}, nil
	}
}

func (s *Store) release(id blockid.BlockId) error {
	s.mu.Lock()
	e, ok := s.open[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("parallelaccess: release of id %s with no open handle", id)
	}
	e.refCount--
	if e.refCount > 0 {
		s.mu.Unlock()
		return nil
	}
	delete(s.open, id)
	metrics.CoordinatorOpenHandles.Set(float64(len(s.open)))
	// Gate id like an in-flight load so a concurrent Acquire waits for the
	// flush and then loads the written-back state.
	wait := make(chan struct{})
	s.loading[id] = wait
	s.mu.Unlock()

	err := flush(e.blob)

	s.mu.Lock()
	delete(s.loading, id)
	close(wait)
	s.mu.Unlock()
	return err
}

func (s *Store) installNew(id blockid.BlockId, blob any) *Handle {
	s.mu.Lock()
	s.open[id] = &openEntry{blob: blob, refCount: 1}
	metrics.CoordinatorOpenHandles.Set(float64(len(s.open)))
	s.mu.Unlock()
	return &Handle{coordinator: s, id: id, blob: blob}
}

// CreateDir allocates a new directory and installs it with an initial
// reference count of one.
func (s *Store) CreateDir() (*Handle, error) {
	blob, err := s.fsBlobs.CreateDirBlob()
	if err != nil {
		return nil, err
	}
	return s.installNew(blob.Id(), blob), nil
}

// CreateFile allocates a new file and installs it with an initial
// reference count of one.
func (s *Store) CreateFile() (*Handle, error) {
	blob, err := s.fsBlobs.CreateFileBlob()
	if err != nil {
		return nil, err
	}
	return s.installNew(blob.Id(), blob), nil
}

// CreateSymlink allocates a new symlink and installs it with an initial
// reference count of one.
func (s *Store) CreateSymlink(target string) (*Handle, error) {
	blob, err := s.fsBlobs.CreateSymlinkBlob(target)
	if err != nil {
		return nil, err
	}
	return s.installNew(blob.Id(), blob), nil
}

// Remove deletes the blob at id, which must have exactly one open
// reference (the caller's own, about to be released as part of this
// call).
func (s *Store) Remove(id blockid.BlockId) error {
	s.mu.Lock()
	e, ok := s.open[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("parallelaccess: remove of id %s with no open handle", id)
	}
	if e.refCount != 1 {
		s.mu.Unlock()
		return fmt.Errorf("parallelaccess: remove of id %s with %d outstanding references", id, e.refCount)
	}
	delete(s.open, id)
	metrics.CoordinatorOpenHandles.Set(float64(len(s.open)))
	s.mu.Unlock()

	return s.fsBlobs.Remove(id)
}
