package fsblobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cryptfs/internal/blobstore"
	"github.com/cuemby/cryptfs/internal/blockid"
	"github.com/cuemby/cryptfs/internal/blockstore/memraw"
)

func newTestFsBlobStore(t *testing.T) *FsBlobStore {
	t.Helper()
	return New(blobstore.New(memraw.New(1024)))
}

func TestDirBlobAddGetRemoveChild(t *testing.T) {
	store := newTestFsBlobStore(t)
	dir, err := store.CreateDirBlob()
	require.NoError(t, err)

	childID := blockid.New()
	require.NoError(t, dir.AddChild(Entry{Type: EntryFile, Name: "hello.txt", BlobId: childID, Mode: 0644}))

	got, err := dir.GetChildByName("hello.txt")
	require.NoError(t, err)
	assert.Equal(t, childID, got.BlobId)

	require.NoError(t, dir.Flush())

	reloaded, err := store.LoadDirBlob(dir.Id())
	require.NoError(t, err)
	got2, err := reloaded.GetChildByName("hello.txt")
	require.NoError(t, err)
	assert.Equal(t, childID, got2.BlobId)

	require.NoError(t, reloaded.RemoveChild("hello.txt"))
	_, err = reloaded.GetChildByName("hello.txt")
	require.Error(t, err)
}

func TestDirBlobRejectsDuplicateName(t *testing.T) {
	store := newTestFsBlobStore(t)
	dir, err := store.CreateDirBlob()
	require.NoError(t, err)

	require.NoError(t, dir.AddChild(Entry{Type: EntryFile, Name: "x", BlobId: blockid.New()}))
	err = dir.AddChild(Entry{Type: EntryFile, Name: "x", BlobId: blockid.New()})
	require.Error(t, err)
	var already *AlreadyExistsError
	assert.ErrorAs(t, err, &already)
}

func TestDirBlobEntriesAreSortedByName(t *testing.T) {
	store := newTestFsBlobStore(t)
	dir, err := store.CreateDirBlob()
	require.NoError(t, err)

	for _, name := range []string{"charlie", "alice", "bob"} {
		require.NoError(t, dir.AddChild(Entry{Type: EntryFile, Name: name, BlobId: blockid.New()}))
	}

	entries, err := dir.Entries()
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	assert.Equal(t, []string{"alice", "bob", "charlie"}, names)
}

func TestLoadDirBlobOnFileBlobFailsWithWrongType(t *testing.T) {
	store := newTestFsBlobStore(t)
	file, err := store.CreateFileBlob()
	require.NoError(t, err)

	_, err = store.LoadDirBlob(file.Id())
	require.Error(t, err)
	var wrong *WrongTypeError
	assert.ErrorAs(t, err, &wrong)
}

func TestFileBlobReadWrite(t *testing.T) {
	store := newTestFsBlobStore(t)
	file, err := store.CreateFileBlob()
	require.NoError(t, err)

	require.NoError(t, file.Write(0, []byte("payload")))
	assert.Equal(t, int64(7), file.NumBytes())

	got, err := file.Read(0, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	reloaded, err := store.LoadFileBlob(file.Id())
	require.NoError(t, err)
	got2, err := reloaded.Read(0, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got2)
}

func TestSymlinkBlobTarget(t *testing.T) {
	store := newTestFsBlobStore(t)
	link, err := store.CreateSymlinkBlob("/some/target")
	require.NoError(t, err)

	target, err := link.Target()
	require.NoError(t, err)
	assert.Equal(t, "/some/target", target)

	reloaded, err := store.LoadSymlinkBlob(link.Id())
	require.NoError(t, err)
	target2, err := reloaded.Target()
	require.NoError(t, err)
	assert.Equal(t, "/some/target", target2)
}

func TestLoadAnyDispatchesByMagic(t *testing.T) {
	store := newTestFsBlobStore(t)
	dir, err := store.CreateDirBlob()
	require.NoError(t, err)

	loaded, err := store.LoadAny(dir.Id())
	require.NoError(t, err)
	_, ok := loaded.(*DirBlob)
	assert.True(t, ok)
}
