package datanode

import (
	"bytes"
	"context"
	"testing"

	"github.com/cryfsgo/cryfs/internal/blocks/memstore"
	"github.com/cryfsgo/cryfs/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(memstore.New(1024))
}

func TestCreateAndLoadLeaf(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	leaf, err := s.CreateNewLeafNode(ctx, []byte("hello leaf"))
	if err != nil {
		t.Fatalf("CreateNewLeafNode: %v", err)
	}

	node, found, err := s.Load(ctx, leaf.ID())
	if err != nil || !found {
		t.Fatalf("Load: %v %v", found, err)
	}
	got, ok := node.(Leaf)
	if !ok {
		t.Fatalf("Load returned %T, want Leaf", node)
	}
	if !bytes.Equal(got.Data, []byte("hello leaf")) {
		t.Fatalf("got %q", got.Data)
	}
}

func TestCreateAndLoadInner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	leaf1, _ := s.CreateNewLeafNode(ctx, []byte("a"))
	leaf2, _ := s.CreateNewLeafNode(ctx, []byte("b"))

	inner, err := s.CreateNewInnerNode(ctx, 1, []domain.BlockID{leaf1.ID(), leaf2.ID()})
	if err != nil {
		t.Fatalf("CreateNewInnerNode: %v", err)
	}

	node, found, err := s.Load(ctx, inner.ID())
	if err != nil || !found {
		t.Fatalf("Load: %v %v", found, err)
	}
	got, ok := node.(Inner)
	if !ok {
		t.Fatalf("Load returned %T, want Inner", node)
	}
	if got.Depth != 1 || len(got.Children) != 2 {
		t.Fatalf("got depth=%d children=%d", got.Depth, len(got.Children))
	}
	if got.Children[0] != leaf1.ID() || got.Children[1] != leaf2.ID() {
		t.Fatalf("children mismatch")
	}
}

func TestOverwriteWithLeafNode(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	leaf, _ := s.CreateNewLeafNode(ctx, []byte("v1"))

	if err := s.OverwriteWithLeafNode(ctx, leaf.ID(), []byte("v2")); err != nil {
		t.Fatalf("OverwriteWithLeafNode: %v", err)
	}
	node, found, err := s.Load(ctx, leaf.ID())
	if err != nil || !found {
		t.Fatalf("Load: %v %v", found, err)
	}
	got := node.(Leaf)
	if !bytes.Equal(got.Data, []byte("v2")) {
		t.Fatalf("got %q, want v2", got.Data)
	}
}

func TestOverwriteWithInnerNode(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	leaf1, _ := s.CreateNewLeafNode(ctx, []byte("a"))
	leaf2, _ := s.CreateNewLeafNode(ctx, []byte("b"))
	leaf3, _ := s.CreateNewLeafNode(ctx, []byte("c"))

	inner, err := s.CreateNewInnerNode(ctx, 1, []domain.BlockID{leaf1.ID()})
	if err != nil {
		t.Fatalf("CreateNewInnerNode: %v", err)
	}

	if err := s.OverwriteWithInnerNode(ctx, inner.ID(), 1, []domain.BlockID{leaf1.ID(), leaf2.ID(), leaf3.ID()}); err != nil {
		t.Fatalf("OverwriteWithInnerNode: %v", err)
	}

	node, found, err := s.Load(ctx, inner.ID())
	if err != nil || !found {
		t.Fatalf("Load: %v %v", found, err)
	}
	got := node.(Inner)
	if len(got.Children) != 3 || got.Children[2] != leaf3.ID() {
		t.Fatalf("got children %v", got.Children)
	}
}

func TestRejectsOversizedLeaf(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	oversized := make([]byte, s.MaxBytesPerLeaf()+1)
	if _, err := s.CreateNewLeafNode(ctx, oversized); err == nil {
		t.Fatalf("expected error for oversized leaf data")
	}
}

func TestRejectsInvalidDepth(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, err := s.CreateNewInnerNode(ctx, 0, nil); err == nil {
		t.Fatalf("expected error for depth 0 inner node")
	}
	if _, err := s.CreateNewInnerNode(ctx, MaxDepth+1, nil); err == nil {
		t.Fatalf("expected error for depth exceeding MaxDepth")
	}
}

func TestNumNodes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if _, err := s.CreateNewLeafNode(ctx, []byte("x")); err != nil {
			t.Fatalf("CreateNewLeafNode: %v", err)
		}
	}
	n, err := s.NumNodes(ctx)
	if err != nil {
		t.Fatalf("NumNodes: %v", err)
	}
	if n != 3 {
		t.Fatalf("NumNodes() = %d, want 3", n)
	}
}
