package datatree

import (
	"bytes"
	"context"
	"testing"

	"github.com/cryfsgo/cryfs/internal/blocks/memstore"
	"github.com/cryfsgo/cryfs/internal/datanode"
)

// newTestStore uses a small block size (64 bytes, leaving a 56-byte leaf
// payload and a branching factor of 3) so multi-level tree shapes are
// exercised without huge test fixtures.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(datanode.New(memstore.New(64)))
}

func TestEmptyTreeIsZeroLength(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root, err := s.CreateEmptyTree(ctx)
	if err != nil {
		t.Fatalf("CreateEmptyTree: %v", err)
	}
	n, err := s.NumBytes(ctx, root)
	if err != nil {
		t.Fatalf("NumBytes: %v", err)
	}
	if n != 0 {
		t.Fatalf("NumBytes() = %d, want 0", n)
	}
}

func TestWriteAndReadWithinSingleLeaf(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root, err := s.CreateTreeFromBytes(ctx, []byte("hello, small tree"))
	if err != nil {
		t.Fatalf("CreateTreeFromBytes: %v", err)
	}
	buf := make([]byte, len("hello, small tree"))
	if err := s.ReadBytes(ctx, root, 0, buf); err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(buf, []byte("hello, small tree")) {
		t.Fatalf("got %q", buf)
	}
}

func TestWriteAndReadSpanningMultipleLeaves(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	data := make([]byte, 400)
	for i := range data {
		data[i] = byte(i % 251)
	}
	root, err := s.CreateTreeFromBytes(ctx, data)
	if err != nil {
		t.Fatalf("CreateTreeFromBytes: %v", err)
	}
	n, err := s.NumBytes(ctx, root)
	if err != nil {
		t.Fatalf("NumBytes: %v", err)
	}
	if n != 400 {
		t.Fatalf("NumBytes() = %d, want 400", n)
	}
	buf := make([]byte, 400)
	if err := s.ReadBytes(ctx, root, 0, buf); err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(buf, data) {
		t.Fatalf("round-tripped data mismatch")
	}

	// Read a window that straddles a leaf boundary.
	window := make([]byte, 30)
	if err := s.ReadBytes(ctx, root, 50, window); err != nil {
		t.Fatalf("ReadBytes window: %v", err)
	}
	if !bytes.Equal(window, data[50:80]) {
		t.Fatalf("window mismatch")
	}
}

func TestReadBeyondEndFails(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root, err := s.CreateTreeFromBytes(ctx, []byte("short"))
	if err != nil {
		t.Fatalf("CreateTreeFromBytes: %v", err)
	}
	buf := make([]byte, 100)
	if err := s.ReadBytes(ctx, root, 0, buf); err == nil {
		t.Fatalf("expected error reading beyond tree length")
	}
}

func TestTryReadBytesClamps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root, err := s.CreateTreeFromBytes(ctx, []byte("short"))
	if err != nil {
		t.Fatalf("CreateTreeFromBytes: %v", err)
	}
	buf := make([]byte, 100)
	n, err := s.TryReadBytes(ctx, root, 0, buf)
	if err != nil {
		t.Fatalf("TryReadBytes: %v", err)
	}
	if n != 5 {
		t.Fatalf("TryReadBytes() = %d, want 5", n)
	}
	if !bytes.Equal(buf[:n], []byte("short")) {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestResizeGrowShrinkAcrossDepths(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root, err := s.CreateEmptyTree(ctx)
	if err != nil {
		t.Fatalf("CreateEmptyTree: %v", err)
	}
	originalRoot := root

	// Grow past a single depth-0 leaf's capacity (56 bytes) into a
	// multi-level tree. The root id must not change even though depth does
	// (§3: tree id = root block id; C7 defines blob identity on top of it).
	root, err = s.ResizeNumBytes(ctx, root, 500)
	if err != nil {
		t.Fatalf("ResizeNumBytes grow: %v", err)
	}
	if root != originalRoot {
		t.Fatalf("root id changed on depth-crossing growth: %s -> %s", originalRoot, root)
	}
	n, err := s.NumBytes(ctx, root)
	if err != nil {
		t.Fatalf("NumBytes: %v", err)
	}
	if n != 500 {
		t.Fatalf("NumBytes() = %d, want 500", n)
	}

	// Shrink back down to something that fits in a single leaf.
	root, err = s.ResizeNumBytes(ctx, root, 10)
	if err != nil {
		t.Fatalf("ResizeNumBytes shrink: %v", err)
	}
	if root != originalRoot {
		t.Fatalf("root id changed on depth-crossing shrink: %s -> %s", originalRoot, root)
	}
	n, err = s.NumBytes(ctx, root)
	if err != nil {
		t.Fatalf("NumBytes: %v", err)
	}
	if n != 10 {
		t.Fatalf("NumBytes() = %d, want 10", n)
	}
}

func TestResizePreservesLeadingBytes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	data := make([]byte, 300)
	for i := range data {
		data[i] = byte(i)
	}
	root, err := s.CreateTreeFromBytes(ctx, data)
	if err != nil {
		t.Fatalf("CreateTreeFromBytes: %v", err)
	}
	root, err = s.ResizeNumBytes(ctx, root, 100)
	if err != nil {
		t.Fatalf("ResizeNumBytes: %v", err)
	}
	buf := make([]byte, 100)
	if err := s.ReadBytes(ctx, root, 0, buf); err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(buf, data[:100]) {
		t.Fatalf("shrink did not preserve leading bytes")
	}
}

func TestWriteBytesGrowsTreeAutomatically(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	root, err := s.CreateEmptyTree(ctx)
	if err != nil {
		t.Fatalf("CreateEmptyTree: %v", err)
	}
	payload := bytes.Repeat([]byte{0xAB}, 250)
	root, err = s.WriteBytes(ctx, root, 100, payload)
	if err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	n, err := s.NumBytes(ctx, root)
	if err != nil {
		t.Fatalf("NumBytes: %v", err)
	}
	if n != 350 {
		t.Fatalf("NumBytes() = %d, want 350", n)
	}
	buf := make([]byte, 250)
	if err := s.ReadBytes(ctx, root, 100, buf); err != nil {
		t.Fatalf("ReadBytes: %v", err)
	}
	if !bytes.Equal(buf, payload) {
		t.Fatalf("written region mismatch")
	}
}

func TestRootIDStableAcrossSameDepthWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	data := make([]byte, 400)
	root, err := s.CreateTreeFromBytes(ctx, data)
	if err != nil {
		t.Fatalf("CreateTreeFromBytes: %v", err)
	}

	// A write that stays within the tree's current depth must not change
	// the root id: directory entries and the filesystem root pointer
	// reference a blob by its root id, so reallocating it on every write
	// would break blob identity.
	newRoot, err := s.WriteBytes(ctx, root, 10, []byte("unchanged depth"))
	if err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if newRoot != root {
		t.Fatalf("root id changed on a same-depth write: %s -> %s", root, newRoot)
	}

	newRoot, err = s.ResizeNumBytes(ctx, root, 350)
	if err != nil {
		t.Fatalf("ResizeNumBytes: %v", err)
	}
	if newRoot != root {
		t.Fatalf("root id changed on a same-depth resize: %s -> %s", root, newRoot)
	}
}

func TestRemoveFreesAllNodes(t *testing.T) {
	ctx := context.Background()
	lower := memstore.New(64)
	nodes := datanode.New(lower)
	s := New(nodes)

	data := make([]byte, 500)
	root, err := s.CreateTreeFromBytes(ctx, data)
	if err != nil {
		t.Fatalf("CreateTreeFromBytes: %v", err)
	}
	if err := s.Remove(ctx, root); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	n, err := lower.NumBlocks(ctx)
	if err != nil {
		t.Fatalf("NumBlocks: %v", err)
	}
	if n != 0 {
		t.Fatalf("NumBlocks() after Remove = %d, want 0", n)
	}
}
