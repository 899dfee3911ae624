// Package fsblobstore implements typed directory, file, and symlink
// blobs on top of the blob layer, plus directory entry serialization.
package fsblobstore

import (
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/cryptfs/internal/blockid"
)

// EntryType is the u8 tag at the start of a serialized directory entry.
type EntryType uint8

const (
	EntryDir     EntryType = 0
	EntryFile    EntryType = 1
	EntrySymlink EntryType = 2
)

// Timestamp is a (seconds, nanoseconds) pair, matching the on-disk 2×i64
// on-disk field layout.
type Timestamp struct {
	Sec  int64
	Nsec int64
}

func fromTime(t time.Time) Timestamp {
	return Timestamp{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

func (ts Timestamp) toTime() time.Time {
	return time.Unix(ts.Sec, ts.Nsec).UTC()
}

// Entry is one row of a directory's entry table.
type Entry struct {
	Type   EntryType
	Name   string
	BlobId blockid.BlockId
	Mode   uint32
	Uid    uint32
	Gid    uint32

	LastAccess         Timestamp
	LastModification   Timestamp
	LastMetadataChange Timestamp
}

// byName sorts entries by name, the order required for deterministic
// serialization.
type byName []Entry

func (e byName) Len() int           { return len(e) }
func (e byName) Less(i, j int) bool { return e[i].Name < e[j].Name }
func (e byName) Swap(i, j int)      { e[i], e[j] = e[j], e[i] }

func sortEntries(entries []Entry) {
	sort.Stable(byName(entries))
}

// serializeEntries writes entries (already sorted by name) into the
// directory entry table wire format:
//
//	u8 type | u16 name length | name bytes | 16B blob id | u32 mode |
//	u32 uid | u32 gid | 3×(i64 sec, i64 nsec)
func serializeEntries(entries []Entry) []byte {
	size := 0
	for _, e := range entries {
		size += entrySize(e)
	}
	buf := make([]byte, 0, size)
	for _, e := range entries {
		buf = appendEntry(buf, e)
	}
	return buf
}

func entrySize(e Entry) int {
	return 1 + 2 + len(e.Name) + blockid.Size + 4 + 4 + 4 + 3*16
}

func appendEntry(buf []byte, e Entry) []byte {
	buf = append(buf, byte(e.Type))

	nameLen := make([]byte, 2)
	binary.BigEndian.PutUint16(nameLen, uint16(len(e.Name)))
	buf = append(buf, nameLen...)
	buf = append(buf, []byte(e.Name)...)

	buf = append(buf, e.BlobId.Bytes()...)

	var fixed [12]byte
	binary.BigEndian.PutUint32(fixed[0:4], e.Mode)
	binary.BigEndian.PutUint32(fixed[4:8], e.Uid)
	binary.BigEndian.PutUint32(fixed[8:12], e.Gid)
	buf = append(buf, fixed[:]...)

	buf = appendTimestamp(buf, e.LastAccess)
	buf = appendTimestamp(buf, e.LastModification)
	buf = appendTimestamp(buf, e.LastMetadataChange)
	return buf
}

func appendTimestamp(buf []byte, ts Timestamp) []byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], uint64(ts.Sec))
	binary.BigEndian.PutUint64(b[8:16], uint64(ts.Nsec))
	return append(buf, b[:]...)
}

// deserializeEntries parses the entry table produced by serializeEntries.
func deserializeEntries(buf []byte) ([]Entry, error) {
	var entries []Entry
	pos := 0
	for pos < len(buf) {
		e, n, err := parseEntry(buf[pos:])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		pos += n
	}
	return entries, nil
}

func parseEntry(buf []byte) (Entry, int, error) {
	if len(buf) < 3 {
		return Entry{}, 0, fmt.Errorf("directory entry truncated before name length")
	}
	var e Entry
	e.Type = EntryType(buf[0])
	nameLen := int(binary.BigEndian.Uint16(buf[1:3]))
	pos := 3

	if len(buf) < pos+nameLen {
		return Entry{}, 0, fmt.Errorf("directory entry truncated in name")
	}
	e.Name = string(buf[pos : pos+nameLen])
	pos += nameLen

	if len(buf) < pos+blockid.Size {
		return Entry{}, 0, fmt.Errorf("directory entry truncated before blob id")
	}
	e.BlobId = blockid.FromBytes(buf[pos : pos+blockid.Size])
	pos += blockid.Size

	if len(buf) < pos+12 {
		return Entry{}, 0, fmt.Errorf("directory entry truncated before mode/uid/gid")
	}
	e.Mode = binary.BigEndian.Uint32(buf[pos : pos+4])
	e.Uid = binary.BigEndian.Uint32(buf[pos+4 : pos+8])
	e.Gid = binary.BigEndian.Uint32(buf[pos+8 : pos+12])
	pos += 12

	for _, dst := range []*Timestamp{&e.LastAccess, &e.LastModification, &e.LastMetadataChange} {
		if len(buf) < pos+16 {
			return Entry{}, 0, fmt.Errorf("directory entry truncated in timestamps")
		}
		dst.Sec = int64(binary.BigEndian.Uint64(buf[pos : pos+8]))
		dst.Nsec = int64(binary.BigEndian.Uint64(buf[pos+8 : pos+16]))
		pos += 16
	}

	return e, pos, nil
}
