// Package cryptkey holds the filesystem's master encryption key in
// memory, best-effort locking its backing pages so they're never
// swapped to disk and zeroing them once dropped.
package cryptkey

import (
	"fmt"
	"sync"

	"github.com/cuemby/cryptfs/pkg/log"
)

// Key holds the master encryption key bytes, locked in memory for as
// long as it's open. Take hands out a SubKey: an independent copy of
// the bytes, separately mlock'd, for one consumer to use and Drop when
// it's done. Sub-keys never alias the master's backing array, so
// dropping one can never zero bytes another live sub-key (or the
// master itself) is still reading; key sizes here are at most a few
// dozen bytes, so the copy is cheap. Once every sub-key taken from a
// Key has been dropped, the caller drops the Key itself to zero and
// unlock the master copy.
type Key struct {
	mu      sync.Mutex
	bytes   []byte
	locked  bool
	dropped bool
}

// New takes ownership of key (it must not be reused by the caller
// afterward) and attempts to mlock its pages.
func New(key []byte) *Key {
	k := &Key{bytes: key}
	if err := lock(key); err != nil {
		log.WithComponent("cryptkey").Warn().Err(err).
			Msg("failed to lock encryption key pages in memory; key may be swapped to disk")
	} else {
		k.locked = true
	}
	return k
}

// Take returns a fresh, independently mlock'd copy of the key bytes.
// The caller owns the returned SubKey and must Drop it when done; the
// bytes must not be retained past that call.
func (k *Key) Take() (*SubKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.dropped {
		return nil, fmt.Errorf("cryptkey: Take called on a dropped key")
	}

	cp := make([]byte, len(k.bytes))
	copy(cp, k.bytes)
	sk := &SubKey{bytes: cp}
	if err := lock(cp); err != nil {
		log.WithComponent("cryptkey").Warn().Err(err).
			Msg("failed to lock sub-key pages in memory; key may be swapped to disk")
	} else {
		sk.locked = true
	}
	return sk, nil
}

// Drop zeroes and unlocks the master key bytes. Call it once, after
// every SubKey taken from this Key has itself been dropped.
func (k *Key) Drop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.dropped {
		return fmt.Errorf("cryptkey: Drop called on an already-dropped key")
	}
	k.dropped = true

	var unlockErr error
	if k.locked {
		unlockErr = unlock(k.bytes)
		k.locked = false
	}
	for i := range k.bytes {
		k.bytes[i] = 0
	}
	return unlockErr
}

// SubKey is an independent, separately locked copy of a Key's bytes,
// handed out by Take. Dropping a SubKey never touches the master Key or
// any other SubKey taken from it.
type SubKey struct {
	mu      sync.Mutex
	bytes   []byte
	locked  bool
	dropped bool
}

// Bytes returns the sub-key's bytes. The slice must not be retained
// past a matching Drop.
func (sk *SubKey) Bytes() []byte {
	return sk.bytes
}

// Drop zeroes and unlocks this sub-key's bytes.
func (sk *SubKey) Drop() error {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if sk.dropped {
		return fmt.Errorf("cryptkey: Drop called on an already-dropped sub-key")
	}
	sk.dropped = true

	var unlockErr error
	if sk.locked {
		unlockErr = unlock(sk.bytes)
		sk.locked = false
	}
	for i := range sk.bytes {
		sk.bytes[i] = 0
	}
	return unlockErr
}
