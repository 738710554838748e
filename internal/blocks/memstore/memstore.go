// Package memstore is an in-memory stand-in for the C1 on-disk block store,
// used to drive C2-C9 end to end in tests without touching a filesystem
// (§9: "Test doubles: C1 has an in-memory variant"). It implements the same
// blocks.Store interface as ondisk.Store.
package memstore

import (
	"context"
	"iter"
	"sync"

	"github.com/cryfsgo/cryfs/internal/blocks"
	"github.com/cryfsgo/cryfs/internal/domain"
)

// Store is a goroutine-safe, in-memory blocks.Store.
type Store struct {
	mu        sync.RWMutex
	data      map[domain.BlockID][]byte
	blockSize int
}

var _ blocks.Store = (*Store)(nil)

// New returns an empty in-memory store exposing blockSize-byte blocks.
func New(blockSize int) *Store {
	return &Store{data: make(map[domain.BlockID][]byte), blockSize: blockSize}
}

// BlockSizeBytes returns the configured block size.
func (s *Store) BlockSizeBytes() int { return s.blockSize }

// Exists reports whether id is present.
func (s *Store) Exists(_ context.Context, id domain.BlockID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[id]
	return ok, nil
}

// Load returns a copy of the stored bytes for id.
func (s *Store) Load(_ context.Context, id domain.BlockID) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[id]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(d))
	copy(out, d)
	return out, true, nil
}

// TryCreate inserts data under id only if id is absent.
func (s *Store) TryCreate(_ context.Context, id domain.BlockID, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; ok {
		return false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[id] = cp
	return true, nil
}

// Store writes data under id, overwriting any existing block.
func (s *Store) Store(_ context.Context, id domain.BlockID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[id] = cp
	return nil
}

// Remove deletes id.
func (s *Store) Remove(_ context.Context, id domain.BlockID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[id]; !ok {
		return false, nil
	}
	delete(s.data, id)
	return true, nil
}

// NumBlocks returns the number of stored blocks.
func (s *Store) NumBlocks(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.data)), nil
}

// EstimateNumFreeBytes always reports a large constant; capacity is unbounded in memory.
func (s *Store) EstimateNumFreeBytes(_ context.Context) (uint64, error) {
	return 1 << 40, nil
}

// AllBlocks iterates every stored block id.
func (s *Store) AllBlocks(_ context.Context) iter.Seq2[domain.BlockID, error] {
	return func(yield func(domain.BlockID, error) bool) {
		s.mu.RLock()
		ids := make([]domain.BlockID, 0, len(s.data))
		for id := range s.data {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
		for _, id := range ids {
			if !yield(id, nil) {
				return
			}
		}
	}
}

// RawBytes returns a copy of the raw stored bytes for id, for tests
// that need to simulate an external attacker tampering with or replaying
// backing-store content (e.g. rollback scenario S5).
func (s *Store) RawBytes(id domain.BlockID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[id]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(d))
	copy(out, d)
	return out, true
}

// SetRawBytes directly overwrites the stored bytes for id, bypassing any
// versioning, used to simulate rollback/substitution attacks in tests.
func (s *Store) SetRawBytes(id domain.BlockID, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.data[id] = cp
}

// DeleteRaw removes id without going through Remove's bookkeeping, used to
// simulate an externally deleted block file (scenario S6).
func (s *Store) DeleteRaw(id domain.BlockID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
}
