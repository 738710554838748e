// Package blocks defines the block-store port (C1-C4 of the storage engine)
// and the common error/size plumbing every layer in the stack shares. Each
// concrete layer (ondisk, encrypted, integrity, caching) implements Store by
// wrapping the layer below it; from the perspective of the layer above, only
// the Store interface is visible, mirroring how the teacher's
// internal/store/ports.go isolates its Index/BlobStorage adapters behind
// small interfaces consumed by internal/store.Store.
package blocks

import (
	"context"
	"iter"

	"github.com/cryfsgo/cryfs/internal/domain"
)

// Store is the uniform interface every block-store layer (C1 through C4)
// implements. A layer's BlockSizeBytes() is the number of payload bytes it
// exposes to the layer above once its own header/overhead has been
// subtracted; C1's BlockSizeBytes() is the physical on-disk block size P.
type Store interface {
	// Exists reports whether id is present in the store.
	Exists(ctx context.Context, id domain.BlockID) (bool, error)

	// Load returns the block's payload bytes. found is false if id is absent.
	Load(ctx context.Context, id domain.BlockID) (data []byte, found bool, err error)

	// TryCreate stores data under id only if id does not already exist.
	// created is false (and data is left untouched) if id already existed.
	TryCreate(ctx context.Context, id domain.BlockID, data []byte) (created bool, err error)

	// Store writes data under id, overwriting any existing block.
	Store(ctx context.Context, id domain.BlockID, data []byte) error

	// Remove deletes the block at id. removed is false if id was absent.
	Remove(ctx context.Context, id domain.BlockID) (removed bool, err error)

	// NumBlocks returns the number of blocks currently in the store.
	NumBlocks(ctx context.Context) (uint64, error)

	// EstimateNumFreeBytes estimates remaining backing-store capacity.
	EstimateNumFreeBytes(ctx context.Context) (uint64, error)

	// AllBlocks iterates every block id currently in the store. Iteration
	// stops early, yielding a single (zero, err) pair, if an error occurs.
	AllBlocks(ctx context.Context) iter.Seq2[domain.BlockID, error]

	// BlockSizeBytes returns the number of payload bytes a caller of this
	// layer may write per block.
	BlockSizeBytes() int
}

// Flusher is implemented by layers that buffer writes and need an explicit,
// async-safe teardown path (§9 "Async destructors"). TryCreate/Store/Remove
// on a Flusher may be buffered in memory until Flush or Close is called.
type Flusher interface {
	// Flush persists any buffered state to the layer below, returning the
	// first error encountered while still attempting to flush the rest.
	Flush(ctx context.Context) error

	// Close flushes and releases any background resources (timers,
	// goroutines). It is safe to call Close more than once.
	Close(ctx context.Context) error
}
