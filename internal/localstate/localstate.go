// Package localstate persists per-filesystem metadata that must survive
// on the client even though it isn't part of the encrypted filesystem
// image itself: the creation timestamp, the on-disk format version, and
// a fingerprint of the encryption key used to open it (so opening the
// same filesystem directory with the wrong key, or a key from a
// different filesystem, fails fast with a clear error instead of
// surfacing as a confusing pile of integrity violations).
package localstate

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CurrentFormatVersion is the local state file's own format tag,
// independent of the filesystem image's format version.
const CurrentFormatVersion uint16 = 1

// Metadata is the persisted local-state record for one filesystem.
type Metadata struct {
	FormatVersion  uint16
	CreatedAt      time.Time
	KeyFingerprint [sha256.Size]byte
}

// Fingerprint derives the value stored in KeyFingerprint from an
// encryption key. It is one-way: the key itself is never persisted.
func Fingerprint(key []byte) [sha256.Size]byte {
	return sha256.Sum256(key)
}

// WrongKeyError is returned by LoadOrCreate when the local state file
// exists but its key fingerprint doesn't match: either the wrong
// password/key file was supplied, or this directory holds a different
// filesystem than the one this client last opened.
type WrongKeyError struct{}

func (*WrongKeyError) Error() string {
	return "wrong key, or this is a different filesystem than the one previously opened here"
}

// LoadOrCreate loads the local state file at path, or creates it (with
// CreatedAt set to now and the current format version) if absent.
func LoadOrCreate(path string, key []byte) (*Metadata, error) {
	fingerprint := Fingerprint(key)

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		m := &Metadata{
			FormatVersion:  CurrentFormatVersion,
			CreatedAt:      time.Now().UTC(),
			KeyFingerprint: fingerprint,
		}
		if err := persist(path, m); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("localstate: reading %s: %w", path, err)
	}

	m, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("localstate: parsing %s: %w", path, err)
	}
	if m.KeyFingerprint != fingerprint {
		return nil, &WrongKeyError{}
	}
	return m, nil
}

func persist(path string, m *Metadata) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	if err := encode(w, m); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func encode(w *bufio.Writer, m *Metadata) error {
	var header [18]byte
	binary.BigEndian.PutUint16(header[0:2], m.FormatVersion)
	binary.BigEndian.PutUint64(header[2:10], uint64(m.CreatedAt.Unix()))
	binary.BigEndian.PutUint64(header[10:18], uint64(m.CreatedAt.Nanosecond()))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(m.KeyFingerprint[:]); err != nil {
		return err
	}
	return nil
}

func decode(raw []byte) (*Metadata, error) {
	const headerSize = 18
	if len(raw) != headerSize+sha256.Size {
		return nil, fmt.Errorf("local state file has unexpected length %d", len(raw))
	}
	m := &Metadata{
		FormatVersion: binary.BigEndian.Uint16(raw[0:2]),
	}
	sec := int64(binary.BigEndian.Uint64(raw[2:10]))
	nsec := int64(binary.BigEndian.Uint64(raw[10:18]))
	m.CreatedAt = time.Unix(sec, nsec).UTC()
	copy(m.KeyFingerprint[:], raw[headerSize:headerSize+sha256.Size])
	return m, nil
}
