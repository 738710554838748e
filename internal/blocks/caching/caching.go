// Package caching implements the C4 locking/caching block store: an
// in-memory, LRU-bounded write-back cache over C3 that lets upper layers
// mutate a block's bytes repeatedly before a single write reaches the
// backing store. Eviction and the background flush timer are modeled on
// the teacher's internal/janitor ticker/stopCh/doneCh loop; the per-key
// plus global mutex bookkeeping follows the shape of dittofs's
// pkg/cache.Cache.
package caching

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cryfsgo/cryfs/internal/blocks"
	"github.com/cryfsgo/cryfs/internal/domain"
)

// DefaultFlushInterval is the background writeback period (§4.4 "default ~30s").
const DefaultFlushInterval = 30 * time.Second

// DefaultCapacity bounds the number of blocks held in memory at once.
const DefaultCapacity = 1000

// Config tunes the cache.
type Config struct {
	// Capacity is the maximum number of entries held before LRU eviction.
	Capacity int
	// FlushInterval is how often the background timer writes back entries
	// dirty for longer than FlushInterval.
	FlushInterval time.Duration
	Log           *slog.Logger
}

type entry struct {
	mu         sync.Mutex
	data       []byte
	dirty      bool
	baseExists bool // whether the lower store has ever held a copy of this id
	lastWrite  time.Time
}

// Store wraps a lower blocks.Store (ordinarily C3) with a bounded,
// write-back block cache.
type Store struct {
	lower blocks.Store
	cfg   Config
	log   *slog.Logger

	mu      sync.Mutex
	entries map[domain.BlockID]*entry
	order   *lru.Cache[domain.BlockID, struct{}]
	// pending holds dirty victims onEvict finds while s.mu is held; the
	// lower-store writeback itself happens after s.mu is released (§5: the
	// map mutex guards bookkeeping only, never I/O).
	pending []pendingWriteback

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// pendingWriteback is a dirty block snapshot captured during eviction,
// queued for writeback once the caller that triggered the eviction has
// released s.mu.
type pendingWriteback struct {
	id   domain.BlockID
	data []byte
}

var _ blocks.Store = (*Store)(nil)
var _ blocks.Flusher = (*Store)(nil)

// New wraps lower with a bounded write-back cache and starts its background
// flush timer.
func New(lower blocks.Store, cfg Config) (*Store, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	s := &Store{
		lower:   lower,
		cfg:     cfg,
		log:     cfg.Log.With("component", "caching"),
		entries: make(map[domain.BlockID]*entry),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	order, err := lru.NewWithEvict[domain.BlockID, struct{}](cfg.Capacity, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("caching: building LRU: %w", err)
	}
	s.order = order
	go s.flushLoop()
	return s, nil
}

// onEvict is invoked by the LRU, synchronously, while s.mu is held by the
// caller that triggered the eviction (touch). Per §4.4's "evicting a dirty
// entry triggers writeback before discard," but §5 forbids doing that
// writeback while s.mu is held: a dirty victim's data is instead snapshotted
// into s.pending here, and the actual s.lower.Store call happens later, once
// the caller has released s.mu (see getOrCreate).
func (s *Store) onEvict(id domain.BlockID, _ struct{}) {
	e, ok := s.entries[id]
	if !ok {
		return
	}
	delete(s.entries, id)
	e.mu.Lock()
	if e.dirty {
		s.pending = append(s.pending, pendingWriteback{id: id, data: e.data})
		e.dirty = false
	}
	e.mu.Unlock()
}

// touch records recency and may trigger eviction. Callers must hold s.mu.
func (s *Store) touch(id domain.BlockID) {
	s.order.Add(id, struct{}{})
}

// getOrCreate returns the entry for id, creating an empty unloaded one if
// absent, then writes back any entries an eviction just displaced. The
// eviction itself only queues victims (onEvict, above) while s.mu is held;
// the writeback I/O runs here after s.mu is released, so a slow backing
// store never stalls unrelated cache operations (§5).
func (s *Store) getOrCreate(id domain.BlockID) *entry {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{}
		s.entries[id] = e
	}
	s.touch(id)
	victims := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.writeBack(victims)
	return e
}

// writeBack flushes evicted victims to the lower store outside s.mu,
// logging (rather than failing the triggering call) on error - the same
// best-effort handling the background flush loop uses.
func (s *Store) writeBack(victims []pendingWriteback) {
	for _, v := range victims {
		if err := s.lower.Store(context.Background(), v.id, v.data); err != nil {
			s.log.Error("writeback on eviction failed", "block_id", v.id, "err", err)
		}
	}
}

func (s *Store) lookup(id domain.BlockID) (*entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	return e, ok
}

// BlockSizeBytes delegates to the lower store; this layer adds no overhead.
func (s *Store) BlockSizeBytes() int {
	return s.lower.BlockSizeBytes()
}

// Exists reports whether id is cached or present in the lower store.
func (s *Store) Exists(ctx context.Context, id domain.BlockID) (bool, error) {
	if e, ok := s.lookup(id); ok {
		e.mu.Lock()
		has := e.data != nil
		e.mu.Unlock()
		if has {
			return true, nil
		}
	}
	return s.lower.Exists(ctx, id)
}

// Load returns the block's bytes, loading from the lower store on a cache
// miss. Concurrent loads of the same id share one underlying C3.Load call:
// the entry's own mutex serializes them (§4.4 "at most one waiter proceeds
// to call C3.load").
func (s *Store) Load(ctx context.Context, id domain.BlockID) ([]byte, bool, error) {
	e := s.getOrCreate(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.data != nil {
		out := make([]byte, len(e.data))
		copy(out, e.data)
		return out, true, nil
	}

	data, found, err := s.lower.Load(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	e.data = data
	e.baseExists = true
	e.dirty = false
	return append([]byte(nil), data...), true, nil
}

// TryCreate installs a dirty in-memory entry for id without consulting the
// lower store, unless id is already cached or already present below
// (§4.4 "if present (loaded or on C3), returns Exists").
func (s *Store) TryCreate(ctx context.Context, id domain.BlockID, data []byte) (bool, error) {
	e := s.getOrCreate(id)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.data != nil || e.baseExists {
		return false, nil
	}
	exists, err := s.lower.Exists(ctx, id)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	e.data = append([]byte(nil), data...)
	e.dirty = true
	e.lastWrite = time.Now()
	return true, nil
}

// Store overwrites id's cached bytes, marking the entry dirty for later
// writeback.
func (s *Store) Store(ctx context.Context, id domain.BlockID, data []byte) error {
	e := s.getOrCreate(id)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.data = append([]byte(nil), data...)
	e.dirty = true
	e.lastWrite = time.Now()
	return nil
}

// Remove deletes id from the cache and the lower store. Unlike a dirty
// write, removal is not deferred: a removed id must not reappear via a
// stale writeback racing with a later Store.
func (s *Store) Remove(ctx context.Context, id domain.BlockID) (bool, error) {
	s.mu.Lock()
	e, cached := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if cached {
		e.mu.Lock()
		cached = e.data != nil
		e.mu.Unlock()
	}

	removed, err := s.lower.Remove(ctx, id)
	if err != nil {
		return false, err
	}
	return removed || cached, nil
}

// NumBlocks counts distinct ids across the cache and the lower store.
func (s *Store) NumBlocks(ctx context.Context) (uint64, error) {
	var n uint64
	for _, err := range s.AllBlocks(ctx) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// EstimateNumFreeBytes delegates to the lower store.
func (s *Store) EstimateNumFreeBytes(ctx context.Context) (uint64, error) {
	return s.lower.EstimateNumFreeBytes(ctx)
}

// AllBlocks yields the union of cached ids (dirty or clean, not yet known
// absent) and the lower store's ids, de-duplicated (§4.4).
func (s *Store) AllBlocks(ctx context.Context) iter.Seq2[domain.BlockID, error] {
	return func(yield func(domain.BlockID, error) bool) {
		seen := make(map[domain.BlockID]bool)

		s.mu.Lock()
		cached := make([]domain.BlockID, 0, len(s.entries))
		for id, e := range s.entries {
			e.mu.Lock()
			has := e.data != nil
			e.mu.Unlock()
			if has {
				cached = append(cached, id)
			}
		}
		s.mu.Unlock()

		for _, id := range cached {
			seen[id] = true
			if !yield(id, nil) {
				return
			}
		}
		for id, err := range s.lower.AllBlocks(ctx) {
			if err != nil {
				yield(domain.BlockID{}, err)
				return
			}
			if seen[id] {
				continue
			}
			if !yield(id, nil) {
				return
			}
		}
	}
}

// Flush writes back every dirty entry, continuing past individual failures
// but returning the first one encountered (§4.4 teardown semantics).
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]domain.BlockID, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		e, ok := s.lookup(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		if e.dirty {
			if err := s.lower.Store(ctx, id, e.data); err != nil {
				if firstErr == nil {
					firstErr = err
				}
			} else {
				e.dirty = false
			}
		}
		e.mu.Unlock()
	}
	return firstErr
}

// Close stops the background flush timer and flushes all remaining dirty
// entries.
func (s *Store) Close(ctx context.Context) error {
	s.once.Do(func() { close(s.stopCh) })
	<-s.doneCh
	return s.Flush(ctx)
}

func (s *Store) flushLoop() {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer func() {
		ticker.Stop()
		close(s.doneCh)
	}()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.flushStale()
		}
	}
}

// flushStale writes back entries that have been dirty for at least
// FlushInterval, bounding durability loss on crash (§4.4).
func (s *Store) flushStale() {
	cutoff := time.Now().Add(-s.cfg.FlushInterval)

	s.mu.Lock()
	ids := make([]domain.BlockID, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	ctx := context.Background()
	for _, id := range ids {
		e, ok := s.lookup(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		if e.dirty && e.lastWrite.Before(cutoff) {
			if err := s.lower.Store(ctx, id, e.data); err != nil {
				s.log.Error("background flush failed", "block_id", id, "err", err)
			} else {
				e.dirty = false
			}
		}
		e.mu.Unlock()
	}
}
