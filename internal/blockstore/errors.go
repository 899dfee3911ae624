package blockstore

import (
	"errors"
	"fmt"

	"github.com/cuemby/cryptfs/internal/blockid"
)

// IntegrityViolationError is raised by any authenticity, freshness, or
// completeness check that fails. It is sticky: once the integrity layer
// latches one, every subsequent call on that IntegrityBlockStore refuses
// with an IntegrityViolationError. The latch is held in memory only: it
// is cleared by IntegrityBlockStore.ClearIntegrityViolation or by a new
// process, and it is not recorded in the integrity state file.
type IntegrityViolationError struct {
	Reason string
}

func (e *IntegrityViolationError) Error() string {
	return fmt.Sprintf("integrity violation: %s", e.Reason)
}

// CorruptedStorageError means ciphertext decrypted fine but a structural
// invariant (magic byte, size field, child count) failed to parse. It is
// treated as an IntegrityViolation by callers.
type CorruptedStorageError struct {
	BlockId blockid.BlockId
	Reason  string
}

func (e *CorruptedStorageError) Error() string {
	return fmt.Sprintf("corrupted storage for block %s: %s", e.BlockId, e.Reason)
}

// NotFoundError means an expected block was absent and its absence was not
// suspicious enough to be an integrity violation.
type NotFoundError struct {
	BlockId blockid.BlockId
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("block not found: %s", e.BlockId)
}

// IoError wraps a backend failure. Callers may retry at their own level;
// the core never retries on it.
type IoError struct {
	Cause error
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error: %v", e.Cause)
}

func (e *IoError) Unwrap() error {
	return e.Cause
}

// UsageError signals API misuse by the caller (e.g. reading a blob past
// its end, or passing a negative offset or size).
type UsageError struct {
	Reason string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("usage error: %s", e.Reason)
}

// AsIntegrityViolation reports whether err is, or wraps, an
// IntegrityViolationError or a CorruptedStorageError (which is always
// treated as one).
func AsIntegrityViolation(err error) (*IntegrityViolationError, bool) {
	var iv *IntegrityViolationError
	if errors.As(err, &iv) {
		return iv, true
	}
	var cs *CorruptedStorageError
	if errors.As(err, &cs) {
		return &IntegrityViolationError{Reason: cs.Error()}, true
	}
	return nil, false
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
