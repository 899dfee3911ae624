package blockstore

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cuemby/cryptfs/internal/blockid"
	"github.com/cuemby/cryptfs/internal/metrics"
	"github.com/cuemby/cryptfs/pkg/log"
)

const (
	integrityFormatCurrent uint16 = 2
	integrityFormatLegacy  uint16 = 1

	// headerSize is the size of the integrity header prepended to every
	// encrypted block payload: 2-byte format + 16-byte block id + 4-byte
	// client id + 8-byte version.
	headerSize = 2 + blockid.Size + 4 + 8
)

// IntegrityBlockStoreConfig controls the safety/compatibility knobs
// below.
type IntegrityBlockStoreConfig struct {
	// AllowIntegrityViolations downgrades every violation to a logged
	// warning instead of failing the call, and disables the sticky
	// latch. Never enable this outside of recovery tooling.
	AllowIntegrityViolations bool

	// MissingBlockIsIntegrityViolation is a single-client safety knob:
	// disable it for multi-client setups where peers may legitimately
	// remove blocks this client hasn't heard about yet.
	MissingBlockIsIntegrityViolation bool

	// AllowLegacyFormatRead transparently migrates a block written in
	// the prior header format to the current one on load, rewriting it
	// in place. The rewrite is not transactional: a crash mid-rewrite
	// just means the next load tries again.
	AllowLegacyFormatRead bool
}

// IntegrityBlockStore wraps an EncryptedBlockStore with per-write version
// accounting: every stored block carries a header identifying its format,
// address, writer, and monotonic version, checked against a persistent
// KnownBlockVersions table on every load.
type IntegrityBlockStore struct {
	base   RawBlockStore
	known  *KnownBlockVersions
	cfg    IntegrityBlockStoreConfig

	mu                    sync.Mutex
	integrityViolationHit atomic.Bool
}

// NewIntegrityBlockStore wraps base (normally an *EncryptedBlockStore),
// consulting/updating known for every block it touches.
func NewIntegrityBlockStore(base RawBlockStore, known *KnownBlockVersions, cfg IntegrityBlockStoreConfig) *IntegrityBlockStore {
	return &IntegrityBlockStore{base: base, known: known, cfg: cfg}
}

var _ RawBlockStore = (*IntegrityBlockStore)(nil)

// fail either returns err (latching the violation) or, if
// AllowIntegrityViolations is set, logs it and returns nil.
func (s *IntegrityBlockStore) fail(err *IntegrityViolationError) error {
	metrics.IntegrityViolationsTotal.Inc()
	if s.cfg.AllowIntegrityViolations {
		log.WithComponent("blockstore.integrity").Warn().Str("reason", err.Reason).
			Msg("integrity violation allowed by configuration")
		return nil
	}
	s.integrityViolationHit.Store(true)
	return err
}

func (s *IntegrityBlockStore) checkLatch() error {
	if s.integrityViolationHit.Load() {
		return &IntegrityViolationError{Reason: "a prior integrity violation was detected; refusing further operations until the integrity state is cleared"}
	}
	return nil
}

func (s *IntegrityBlockStore) TryCreate(id blockid.BlockId, plaintext []byte) (bool, error) {
	if err := s.checkLatch(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.known.IncrementVersion(id)
	if err != nil {
		return false, err
	}
	payload := s.prependHeader(id, version, plaintext)
	ok, err := s.base.TryCreate(id, payload)
	if err == nil && ok {
		metrics.BlocksWrittenTotal.Inc()
	}
	return ok, err
}

func (s *IntegrityBlockStore) Store(id blockid.BlockId, plaintext []byte) error {
	if err := s.checkLatch(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version, err := s.known.IncrementVersion(id)
	if err != nil {
		return err
	}
	payload := s.prependHeader(id, version, plaintext)
	if err := s.base.Store(id, payload); err != nil {
		return err
	}
	metrics.BlocksWrittenTotal.Inc()
	return nil
}

func (s *IntegrityBlockStore) Load(id blockid.BlockId) ([]byte, bool, error) {
	if err := s.checkLatch(); err != nil {
		return nil, false, err
	}

	timer := metrics.NewTimer()
	raw, ok, err := s.base.Load(id)
	timer.ObserveDuration(metrics.BlockReadDuration)
	if err != nil {
		if iv, isViolation := AsIntegrityViolation(err); isViolation {
			return nil, false, s.fail(iv)
		}
		return nil, false, err
	}
	if !ok {
		if s.cfg.MissingBlockIsIntegrityViolation && s.known.BlockShouldExist(id) {
			return nil, false, s.fail(&IntegrityViolationError{Reason: fmt.Sprintf("block %s is known but absent from storage (deleted by attacker?)", id)})
		}
		return nil, false, nil
	}
	metrics.BlocksReadTotal.Inc()

	format, headerID, clientID, version, payload, err := s.parseHeader(raw)
	if err != nil {
		return nil, false, s.fail(&IntegrityViolationError{Reason: fmt.Sprintf("block %s: %v", id, err)})
	}
	if headerID != id {
		return nil, false, s.fail(&IntegrityViolationError{Reason: fmt.Sprintf("block %s: header addresses a different block id %s (swap attack)", id, headerID)})
	}

	accepted, err := s.known.CheckAndUpdateVersion(clientID, id, version)
	if err != nil {
		return nil, false, err
	}
	if !accepted {
		return nil, false, s.fail(&IntegrityViolationError{Reason: fmt.Sprintf("block %s: version %d from client %d is not newer than the last known version (rollback or reintroduction)", id, version, clientID)})
	}

	if format == integrityFormatLegacy && s.cfg.AllowLegacyFormatRead {
		if err := s.rewriteInCurrentFormat(id, payload); err != nil {
			log.WithComponent("blockstore.integrity").Warn().Err(err).
				Str("block_id", id.String()).
				Msg("legacy format migration failed; will retry on next load")
		}
	}

	return payload, true, nil
}

func (s *IntegrityBlockStore) rewriteInCurrentFormat(id blockid.BlockId, payload []byte) error {
	version, err := s.known.IncrementVersion(id)
	if err != nil {
		return err
	}
	return s.base.Store(id, s.prependHeader(id, version, payload))
}

func (s *IntegrityBlockStore) Remove(id blockid.BlockId) (bool, error) {
	if err := s.checkLatch(); err != nil {
		return false, err
	}

	if err := s.known.MarkBlockAsDeleted(id); err != nil {
		return false, err
	}
	return s.base.Remove(id)
}

// ForEachBlock visits every block, additionally detecting blocks this
// client knows should exist but that are missing from the backend
// entirely (as opposed to missing on a targeted Load, which can't tell
// "never existed" from "silently removed everywhere").
func (s *IntegrityBlockStore) ForEachBlock(visit func(id blockid.BlockId) error) error {
	if err := s.checkLatch(); err != nil {
		return err
	}

	expected := s.known.ExistingBlocks()
	err := s.base.ForEachBlock(func(id blockid.BlockId) error {
		delete(expected, id)
		return visit(id)
	})
	if err != nil {
		return err
	}

	if len(expected) > 0 {
		return s.fail(&IntegrityViolationError{Reason: fmt.Sprintf("%d known block(s) are missing from storage", len(expected))})
	}
	return nil
}

func (s *IntegrityBlockStore) NumBlocks() (int, error) {
	return s.base.NumBlocks()
}

func (s *IntegrityBlockStore) EstimateFreeBytes() (uint64, error) {
	return s.base.EstimateFreeBytes()
}

// PhysicalBlockSize is the base store's size minus the integrity header.
func (s *IntegrityBlockStore) PhysicalBlockSize() int {
	return s.base.PhysicalBlockSize() - headerSize
}

func (s *IntegrityBlockStore) prependHeader(id blockid.BlockId, version uint64, payload []byte) []byte {
	out := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint16(out[0:2], integrityFormatCurrent)
	copy(out[2:2+blockid.Size], id.Bytes())
	binary.BigEndian.PutUint32(out[18:22], s.known.MyClientId())
	binary.BigEndian.PutUint64(out[22:30], version)
	copy(out[30:], payload)
	return out
}

func (s *IntegrityBlockStore) parseHeader(raw []byte) (format uint16, id blockid.BlockId, clientID uint32, version uint64, payload []byte, err error) {
	if len(raw) < headerSize {
		return 0, blockid.BlockId{}, 0, 0, nil, fmt.Errorf("header shorter than %d bytes", headerSize)
	}
	format = binary.BigEndian.Uint16(raw[0:2])
	if format != integrityFormatCurrent && format != integrityFormatLegacy {
		return 0, blockid.BlockId{}, 0, 0, nil, fmt.Errorf("unknown format tag %d", format)
	}
	id = blockid.FromBytes(raw[2 : 2+blockid.Size])
	clientID = binary.BigEndian.Uint32(raw[18:22])
	version = binary.BigEndian.Uint64(raw[22:30])
	payload = raw[30:]
	return format, id, clientID, version, payload, nil
}

// IntegrityViolationDetected reports whether the sticky latch has been
// set by a prior operation.
func (s *IntegrityBlockStore) IntegrityViolationDetected() bool {
	return s.integrityViolationHit.Load()
}

// ClearIntegrityViolation is the operator escape hatch for recovering
// from a tripped latch without restarting the process: it clears the
// in-process latch only, it does not touch KnownBlockVersions.
func (s *IntegrityBlockStore) ClearIntegrityViolation() {
	s.integrityViolationHit.Store(false)
}
