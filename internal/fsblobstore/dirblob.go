package fsblobstore

import (
	"sort"
	"sync"

	"github.com/cuemby/cryptfs/internal/blobstore"
	"github.com/cuemby/cryptfs/internal/blockid"
)

// DirBlob is a directory: an FsBlob whose payload (after the magic
// byte) is a serialized, name-sorted entry table. The table is loaded
// lazily on first access and held in memory until Flush writes it back.
type DirBlob struct {
	blob *blobstore.Blob

	mu      sync.Mutex
	entries []Entry
	loaded  bool
	dirty   bool
}

func newDirBlob(blob *blobstore.Blob) *DirBlob {
	return &DirBlob{blob: blob}
}

func (d *DirBlob) Id() blockid.BlockId { return d.blob.RootId() }

func (d *DirBlob) ensureLoadedLocked() error {
	if d.loaded {
		return nil
	}
	payload, err := d.blob.Read(magicSize, int(d.blob.NumBytes())-magicSize)
	if err != nil {
		return err
	}
	entries, err := deserializeEntries(payload)
	if err != nil {
		return err
	}
	d.entries = entries
	d.loaded = true
	return nil
}

// Entries returns a snapshot of the directory's entries in sorted order.
func (d *DirBlob) Entries() ([]Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out, nil
}

func (d *DirBlob) indexOfLocked(name string) int {
	return sort.Search(len(d.entries), func(i int) bool { return d.entries[i].Name >= name })
}

// GetChildByName returns the entry named name, or *NotFoundError.
func (d *DirBlob) GetChildByName(name string) (Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoadedLocked(); err != nil {
		return Entry{}, err
	}
	i := d.indexOfLocked(name)
	if i < len(d.entries) && d.entries[i].Name == name {
		return d.entries[i], nil
	}
	return Entry{}, &NotFoundError{Name: name}
}

// GetChildById returns the entry whose BlobId matches id, or
// *NotFoundError. Unlike GetChildByName this is O(n): the table isn't
// indexed by id.
func (d *DirBlob) GetChildById(id blockid.BlockId) (Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoadedLocked(); err != nil {
		return Entry{}, err
	}
	for _, e := range d.entries {
		if e.BlobId == id {
			return e, nil
		}
	}
	return Entry{}, &NotFoundError{Name: id.String()}
}

// AddChild inserts a new entry, keeping the table sorted by name. Fails
// with *AlreadyExistsError if the name is already present.
func (d *DirBlob) AddChild(e Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoadedLocked(); err != nil {
		return err
	}
	i := d.indexOfLocked(e.Name)
	if i < len(d.entries) && d.entries[i].Name == e.Name {
		return &AlreadyExistsError{Name: e.Name}
	}
	d.entries = append(d.entries, Entry{})
	copy(d.entries[i+1:], d.entries[i:])
	d.entries[i] = e
	d.dirty = true
	return nil
}

// RemoveChild deletes the entry named name.
func (d *DirBlob) RemoveChild(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoadedLocked(); err != nil {
		return err
	}
	i := d.indexOfLocked(name)
	if i >= len(d.entries) || d.entries[i].Name != name {
		return &NotFoundError{Name: name}
	}
	d.entries = append(d.entries[:i], d.entries[i+1:]...)
	d.dirty = true
	return nil
}

func (d *DirBlob) mutateLocked(name string, mutate func(e *Entry)) error {
	if err := d.ensureLoadedLocked(); err != nil {
		return err
	}
	i := d.indexOfLocked(name)
	if i >= len(d.entries) || d.entries[i].Name != name {
		return &NotFoundError{Name: name}
	}
	mutate(&d.entries[i])
	d.dirty = true
	return nil
}

// SetMode updates the mode bits of the named entry.
func (d *DirBlob) SetMode(name string, mode uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutateLocked(name, func(e *Entry) { e.Mode = mode })
}

// SetUidGid updates the owner of the named entry.
func (d *DirBlob) SetUidGid(name string, uid, gid uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutateLocked(name, func(e *Entry) { e.Uid = uid; e.Gid = gid })
}

// SetTimes updates the access/modification/metadata-change timestamps
// of the named entry.
func (d *DirBlob) SetTimes(name string, access, modification, metadataChange Timestamp) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mutateLocked(name, func(e *Entry) {
		e.LastAccess = access
		e.LastModification = modification
		e.LastMetadataChange = metadataChange
	})
}

// Flush re-serializes the entry table and writes it back if the table
// was ever mutated. It is safe (and a no-op) to call repeatedly.
func (d *DirBlob) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.dirty {
		return nil
	}
	payload := serializeEntries(d.entries)
	if err := d.blob.Resize(int64(magicSize + len(payload))); err != nil {
		return err
	}
	if err := d.blob.Write(magicSize, payload); err != nil {
		return err
	}
	d.dirty = false
	return nil
}
