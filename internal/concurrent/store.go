// Package concurrent implements the C8 Concurrent Blob Store: per-blob-id
// locking over C7 so two POSIX operations on the same blob serialize while
// operations on distinct blobs run in parallel, plus the removal barrier
// that guarantees no reader ever observes a partially-removed blob (§4.8).
package concurrent

import (
	"context"
	"fmt"
	"sync"

	"github.com/cryfsgo/cryfs/internal/domain"
	"github.com/cryfsgo/cryfs/internal/fsblobstore"
)

// entry is one blob id's coordination state machine, shared by every
// concurrent caller of GetOrLoad for that id (§4.10's Loading/Loaded/
// Dropping lifecycle, shared here with C4). It tracks only whether the
// blob exists, never its content: existence is settled once (via once)
// and stays fixed for the entry's lifetime, but the blob's structural
// content (directory entries, size) can change underneath it through C7
// writes that don't go through this package, so GetOrLoad always fetches
// a fresh copy once existence is confirmed rather than caching one here.
type entry struct {
	once    sync.Once
	doneCh  chan struct{}
	found   bool
	loadErr error

	// opMu is the per-blob mutex two POSIX operations on the same blob
	// serialize on (§4.8). It is held across I/O for the duration of an
	// operation, unlike mu below, which only ever guards bookkeeping.
	opMu sync.Mutex

	mu              sync.Mutex
	cond            *sync.Cond
	refCount        int
	removeRequested bool
}

func newEntry() *entry {
	e := &entry{doneCh: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Guard is a held reference to a loaded blob. Callers must call Release
// exactly once when done. Holding the guard alone only keeps the blob from
// being removed out from under a concurrent reader; callers that actually
// read or mutate the blob's content must additionally call Lock/Unlock to
// serialize against other operations on the same blob id.
type Guard struct {
	store *Store
	id    domain.BlobID
	entry *entry
	Blob  fsblobstore.FsBlob

	released bool
}

// Lock acquires this blob's per-id operation mutex, serializing against any
// other operation (on another guard or this one) for the same blob id. It
// is held across the operation's I/O, including any inner C6/C4 calls.
func (g *Guard) Lock() { g.entry.opMu.Lock() }

// Unlock releases the operation mutex acquired by Lock.
func (g *Guard) Unlock() { g.entry.opMu.Unlock() }

// Release drops this guard's reference, allowing a pending Remove (if any)
// to proceed once every other guard for the blob is also released.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.store.release(g.entry)
}

// Store implements the C8 Concurrent Blob Store over a fsblobstore.Store.
type Store struct {
	blobs *fsblobstore.Store

	mu      sync.Mutex
	entries map[domain.BlobID]*entry
}

// New wraps a fsblobstore.Store (C7) with per-blob-id coordination.
func New(blobs *fsblobstore.Store) *Store {
	return &Store{
		blobs:   blobs,
		entries: make(map[domain.BlobID]*entry),
	}
}

// Blobs returns the underlying C7 store, for read-only or structural
// queries (size, directory listing) a caller makes while already holding a
// Guard's Lock, and which therefore don't need their own guard.
func (s *Store) Blobs() *fsblobstore.Store { return s.blobs }

// GetOrLoad returns a guard on the blob at id, loading it from C7 if no
// other caller has confirmed its existence yet. Concurrent callers for the
// same id share one existence check; each still gets its own fresh read of
// the blob's current content, since that content can be mutated by another
// operation between one caller's guard and the next (§4.7/§4.8 - a guard
// coordinates access, it does not cache structural state).
func (s *Store) GetOrLoad(ctx context.Context, id domain.BlobID) (*Guard, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		e = newEntry()
		s.entries[id] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	if e.removeRequested {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: blob %s", domain.ErrNotFound, id)
	}
	e.refCount++
	e.mu.Unlock()

	var firstLoad fsblobstore.FsBlob
	e.once.Do(func() {
		blob, found, err := s.blobs.Load(ctx, id)
		firstLoad, e.found, e.loadErr = blob, found, err
		close(e.doneCh)
	})
	<-e.doneCh

	if e.loadErr != nil {
		err := e.loadErr
		s.releaseAndForget(id, e)
		return nil, err
	}
	if !e.found {
		s.releaseAndForget(id, e)
		return nil, fmt.Errorf("%w: blob %s", domain.ErrNotFound, id)
	}

	blob := firstLoad
	if blob == nil {
		// Existence was already settled by an earlier caller's once.Do; this
		// caller still needs its own up-to-date read of the content.
		var err error
		blob, _, err = s.blobs.Load(ctx, id)
		if err != nil {
			s.release(e)
			return nil, err
		}
	}
	return &Guard{store: s, id: id, entry: e, Blob: blob}, nil
}

func (s *Store) release(e *entry) {
	e.mu.Lock()
	e.refCount--
	if e.refCount == 0 {
		e.cond.Broadcast()
	}
	e.mu.Unlock()
}

// releaseAndForget releases a reference taken for a load that turned out to
// fail or find nothing, and evicts the entry so a later call retries
// instead of replaying a cached failure forever.
func (s *Store) releaseAndForget(id domain.BlobID, e *entry) {
	s.release(e)
	s.mu.Lock()
	if s.entries[id] == e {
		delete(s.entries, id)
	}
	s.mu.Unlock()
}

// Remove implements the removal barrier (§4.8):
//  1. Mark the entry remove-requested so new GetOrLoad calls see NotFound.
//  2. Wait for every existing guard to be released.
//  3. Remove the blob's underlying tree via C7 (→ C6 → C4).
//  4. Drop the entry from the map.
func (s *Store) Remove(ctx context.Context, id domain.BlobID) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		e = newEntry()
		s.entries[id] = e
	}
	s.mu.Unlock()

	// Resolve the load (as not-found) through the same sync.Once any
	// concurrent GetOrLoad uses, so the two never race to close doneCh
	// twice: whichever side runs first wins, and the other sees its result.
	e.once.Do(func() {
		e.found = false
		close(e.doneCh)
	})

	e.mu.Lock()
	e.removeRequested = true
	for e.refCount > 0 {
		e.cond.Wait()
	}
	e.mu.Unlock()

	if err := s.blobs.RemoveByID(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}
