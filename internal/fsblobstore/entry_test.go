package fsblobstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/cryptfs/internal/blockid"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	entries := []Entry{
		{Type: EntryFile, Name: "b.txt", BlobId: blockid.New(), Mode: 0644, Uid: 1000, Gid: 1000,
			LastAccess: Timestamp{Sec: 10, Nsec: 1}, LastModification: Timestamp{Sec: 11, Nsec: 2}, LastMetadataChange: Timestamp{Sec: 12, Nsec: 3}},
		{Type: EntryDir, Name: "a-dir", BlobId: blockid.New(), Mode: 0755},
		{Type: EntrySymlink, Name: "c-link", BlobId: blockid.New(), Mode: 0777},
	}

	raw := serializeEntries(entries)
	got, err := deserializeEntries(raw)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, entries, got)
}

func TestDeserializeEmptyTable(t *testing.T) {
	got, err := deserializeEntries(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeserializeRejectsTruncatedEntry(t *testing.T) {
	entries := []Entry{{Type: EntryFile, Name: "x", BlobId: blockid.New()}}
	raw := serializeEntries(entries)
	_, err := deserializeEntries(raw[:len(raw)-5])
	require.Error(t, err)
}
