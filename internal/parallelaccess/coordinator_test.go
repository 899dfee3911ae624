package parallelaccess

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cryptfs/internal/blobstore"
	"github.com/cuemby/cryptfs/internal/blockstore/memraw"
	"github.com/cuemby/cryptfs/internal/fsblobstore"
)

func newTestCoordinator(t *testing.T) *Store {
	t.Helper()
	fsBlobs := fsblobstore.New(blobstore.New(memraw.New(1024)))
	return New(fsBlobs)
}

func TestCreateAcquireRelease(t *testing.T) {
	s := newTestCoordinator(t)
	h, err := s.CreateDir()
	require.NoError(t, err)

	h2, err := s.Acquire(h.Id())
	require.NoError(t, err)
	d2, ok := h2.Dir()
	require.True(t, ok)
	require.NoError(t, d2.AddChild(fsblobstore.Entry{Type: fsblobstore.EntryFile, Name: "a"}))

	require.NoError(t, h.Release())
	require.NoError(t, h2.Release())

	reloaded, err := s.Acquire(h.Id())
	require.NoError(t, err)
	dir, ok := reloaded.Dir()
	require.True(t, ok)
	_, err = dir.GetChildByName("a")
	assert.NoError(t, err, "the mutation made through the shared second handle must have been flushed")
	require.NoError(t, reloaded.Release())
}

func TestRemoveRequiresSoleReference(t *testing.T) {
	s := newTestCoordinator(t)
	h, err := s.CreateFile()
	require.NoError(t, err)

	h2, err := s.Acquire(h.Id())
	require.NoError(t, err)

	err = s.Remove(h.Id())
	require.Error(t, err, "remove must refuse while a second handle is outstanding")

	require.NoError(t, h2.Release())
	require.NoError(t, s.Remove(h.Id()))
}

func TestParallelOpenDedup(t *testing.T) {
	// Seed scenario 6: concurrent Acquire calls for the same id must
	// result in exactly one underlying load.
	s := newTestCoordinator(t)
	created, err := s.CreateDir()
	require.NoError(t, err)
	require.NoError(t, created.Release())

	const n = 20
	var wg sync.WaitGroup
	var successes int64
	handles := make([]*Handle, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := s.Acquire(created.Id())
			handles[i] = h
			errs[i] = err
			if err == nil {
				atomic.AddInt64(&successes, 1)
			}
		}(i)
	}
	wg.Wait()

	require.EqualValues(t, n, successes)

	first := handles[0].blob
	for i := 1; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, first, handles[i].blob, "all concurrent acquires must share one underlying FsBlob")
	}

	for _, h := range handles {
		require.NoError(t, h.Release())
	}
}
