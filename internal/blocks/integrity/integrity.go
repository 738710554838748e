package integrity

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync/atomic"

	"github.com/cryfsgo/cryfs/internal/blocks"
	"github.com/cryfsgo/cryfs/internal/domain"
)

// Policy controls how integrity violations are handled (§4.3
// "Integrity-violation policy").
type Policy struct {
	// AllowIntegrityViolations, if true, logs a detected violation and lets
	// the operation continue; if false, the operation fails and OnViolation
	// (if set) is invoked first.
	AllowIntegrityViolations bool

	// MissingBlockIsIntegrityViolation treats a block known to have existed
	// but now absent from the backing store as a deletion attack.
	MissingBlockIsIntegrityViolation bool

	// ExclusiveClientID, if set, rejects loading any block written by a
	// different client id (single-writer filesystem mode).
	ExclusiveClientID *domain.ClientID

	// OnViolation is invoked with the detected error whenever a violation
	// is found, regardless of AllowIntegrityViolations.
	OnViolation func(error)
}

// Store wraps a lower blocks.Store (ordinarily C2, the encrypted store),
// stamping every block with an integrity header and checking it against a
// local Ledger on load, detecting substitution, rollback, and deletion by an
// untrusted backing store (§4.3).
type Store struct {
	lower      blocks.Store
	ledger     *Ledger
	myClientID domain.ClientID
	policy     Policy
	log        *slog.Logger

	poisoned atomic.Bool
}

var _ blocks.Store = (*Store)(nil)

// New wraps lower with integrity checking. myClientID identifies this
// process's writes in the per-(block,client) version scheme.
func New(lower blocks.Store, ledger *Ledger, myClientID domain.ClientID, policy Policy, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		lower:      lower,
		ledger:     ledger,
		myClientID: myClientID,
		policy:     policy,
		log:        log.With("component", "integrity"),
	}
}

// BlockSizeBytes subtracts the integrity header from the lower layer's size.
func (s *Store) BlockSizeBytes() int {
	return s.lower.BlockSizeBytes() - headerLen
}

// Exists delegates to the lower store.
func (s *Store) Exists(ctx context.Context, id domain.BlockID) (bool, error) {
	return s.lower.Exists(ctx, id)
}

// Load reads and header-validates the block, checking for substitution,
// rollback, exclusive-client mismatch, and (if configured) deletion.
func (s *Store) Load(ctx context.Context, id domain.BlockID) ([]byte, bool, error) {
	raw, found, err := s.lower.Load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !found {
		if s.policy.MissingBlockIsIntegrityViolation {
			known, kerr := s.ledger.KnownToExist(ctx, id)
			if kerr != nil {
				return nil, false, kerr
			}
			if known {
				verr := fmt.Errorf("%w: block %s was known to exist but is now absent", domain.ErrIntegrityMissing, id)
				if rerr := s.reportViolation(verr); rerr != nil {
					return nil, false, rerr
				}
			}
		}
		return nil, false, nil
	}

	h, payload, err := parseHeader(raw)
	if err != nil {
		return nil, false, err
	}
	if h.blockID != id {
		verr := fmt.Errorf("%w: block requested as %s carries embedded id %s", domain.ErrIntegritySubstitution, id, h.blockID)
		if rerr := s.reportViolation(verr); rerr != nil {
			return nil, false, rerr
		}
	}
	if s.policy.ExclusiveClientID != nil && h.clientID != *s.policy.ExclusiveClientID {
		return nil, false, fmt.Errorf("%w: block %s was written by client %d, exclusive client is %d",
			domain.ErrExclusiveClientMismatch, id, h.clientID, *s.policy.ExclusiveClientID)
	}

	oldVersion, known, err := s.ledger.KnownVersion(ctx, id, h.clientID)
	if err != nil {
		return nil, false, err
	}
	if known && h.blockVersion < oldVersion {
		verr := fmt.Errorf("%w: block %s version %d is older than known version %d",
			domain.ErrIntegrityRollback, id, h.blockVersion, oldVersion)
		if rerr := s.reportViolation(verr); rerr != nil {
			return nil, false, rerr
		}
	}

	if err := s.ledger.RecordVersion(ctx, id, h.clientID, h.blockVersion); err != nil {
		return nil, false, err
	}
	if err := s.ledger.MarkExists(ctx, id); err != nil {
		return nil, false, err
	}

	out := make([]byte, len(payload))
	copy(out, payload)
	return out, true, nil
}

// reportViolation applies the integrity-violation policy: it always poisons
// the store and invokes OnViolation, then either swallows the error (if
// violations are allowed) or returns it to the caller.
func (s *Store) reportViolation(verr error) error {
	s.poisoned.Store(true)
	if s.policy.OnViolation != nil {
		s.policy.OnViolation(verr)
	}
	if s.policy.AllowIntegrityViolations {
		s.log.Warn("integrity violation ignored per policy", "err", verr)
		return nil
	}
	return verr
}

// nextVersion returns this client's next version number for id.
func (s *Store) nextVersion(ctx context.Context, id domain.BlockID) (uint64, error) {
	cur, err := s.ledger.MaxLocalVersion(ctx, id, s.myClientID)
	if err != nil {
		return 0, err
	}
	return cur + 1, nil
}

func (s *Store) recordWrite(ctx context.Context, id domain.BlockID, version uint64) error {
	if err := s.ledger.RecordVersion(ctx, id, s.myClientID, version); err != nil {
		return err
	}
	return s.ledger.MarkExists(ctx, id)
}

// TryCreate stamps data with a fresh integrity header and stores it only if
// id does not already exist.
func (s *Store) TryCreate(ctx context.Context, id domain.BlockID, data []byte) (bool, error) {
	if s.poisoned.Load() {
		return false, domain.ErrStorePoisoned
	}
	version, err := s.nextVersion(ctx, id)
	if err != nil {
		return false, err
	}
	h := header{blockID: id, clientID: s.myClientID, blockVersion: version}
	created, err := s.lower.TryCreate(ctx, id, h.encode(data))
	if err != nil || !created {
		return created, err
	}
	if err := s.recordWrite(ctx, id, version); err != nil {
		return created, err
	}
	return true, nil
}

// Store stamps data with the next version for this client and writes it.
func (s *Store) Store(ctx context.Context, id domain.BlockID, data []byte) error {
	if s.poisoned.Load() {
		return domain.ErrStorePoisoned
	}
	version, err := s.nextVersion(ctx, id)
	if err != nil {
		return err
	}
	h := header{blockID: id, clientID: s.myClientID, blockVersion: version}
	if err := s.lower.Store(ctx, id, h.encode(data)); err != nil {
		return err
	}
	return s.recordWrite(ctx, id, version)
}

// Remove deletes the block but deliberately leaves the ledger's
// known_block_existence entry in place, since deletion-detection depends on
// it persisting past the block's actual removal (§4.3).
func (s *Store) Remove(ctx context.Context, id domain.BlockID) (bool, error) {
	return s.lower.Remove(ctx, id)
}

// NumBlocks delegates to the lower store.
func (s *Store) NumBlocks(ctx context.Context) (uint64, error) {
	return s.lower.NumBlocks(ctx)
}

// EstimateNumFreeBytes delegates to the lower store.
func (s *Store) EstimateNumFreeBytes(ctx context.Context) (uint64, error) {
	return s.lower.EstimateNumFreeBytes(ctx)
}

// AllBlocks delegates to the lower store.
func (s *Store) AllBlocks(ctx context.Context) iter.Seq2[domain.BlockID, error] {
	return s.lower.AllBlocks(ctx)
}

// Poisoned reports whether an integrity violation has put the store into
// its write-refusing poisoned state.
func (s *Store) Poisoned() bool {
	return s.poisoned.Load()
}
