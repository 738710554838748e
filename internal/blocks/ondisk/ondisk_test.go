package ondisk

import (
	"bytes"
	"context"
	"testing"

	"github.com/cryfsgo/cryfs/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir(), 1024, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestTryCreateThenExists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, _ := domain.NewBlockID()

	created, err := s.TryCreate(ctx, id, []byte("hello"))
	if err != nil {
		t.Fatalf("TryCreate: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true")
	}

	created, err = s.TryCreate(ctx, id, []byte("world"))
	if err != nil {
		t.Fatalf("TryCreate second: %v", err)
	}
	if created {
		t.Fatalf("expected created=false for existing id")
	}

	exists, err := s.Exists(ctx, id)
	if err != nil || !exists {
		t.Fatalf("Exists: %v %v", exists, err)
	}

	data, found, err := s.Load(ctx, id)
	if err != nil || !found {
		t.Fatalf("Load: %v %v", found, err)
	}
	if !bytes.Equal(data, []byte("hello")) {
		t.Fatalf("TryCreate must not be overwritten by second call, got %q", data)
	}
}

func TestStoreOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, _ := domain.NewBlockID()

	if err := s.Store(ctx, id, []byte("v1")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := s.Store(ctx, id, []byte("v2")); err != nil {
		t.Fatalf("Store overwrite: %v", err)
	}
	data, found, err := s.Load(ctx, id)
	if err != nil || !found {
		t.Fatalf("Load: %v %v", found, err)
	}
	if !bytes.Equal(data, []byte("v2")) {
		t.Fatalf("got %q, want v2", data)
	}
}

func TestLoadMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, _ := domain.NewBlockID()
	_, found, err := s.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Fatalf("expected not found")
	}
}

func TestRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, _ := domain.NewBlockID()
	if err := s.Store(ctx, id, []byte("x")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	removed, err := s.Remove(ctx, id)
	if err != nil || !removed {
		t.Fatalf("Remove: %v %v", removed, err)
	}
	removed, err = s.Remove(ctx, id)
	if err != nil {
		t.Fatalf("Remove second: %v", err)
	}
	if removed {
		t.Fatalf("second remove should report removed=false")
	}
}

func TestAllBlocksAndNumBlocks(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	want := map[domain.BlockID]bool{}
	for i := 0; i < 10; i++ {
		id, _ := domain.NewBlockID()
		if err := s.Store(ctx, id, []byte("data")); err != nil {
			t.Fatalf("Store: %v", err)
		}
		want[id] = true
	}

	got := map[domain.BlockID]bool{}
	for id, err := range s.AllBlocks(ctx) {
		if err != nil {
			t.Fatalf("AllBlocks: %v", err)
		}
		got[id] = true
	}
	if len(got) != len(want) {
		t.Fatalf("AllBlocks returned %d ids, want %d", len(got), len(want))
	}
	for id := range want {
		if !got[id] {
			t.Fatalf("missing id %s from AllBlocks", id)
		}
	}

	n, err := s.NumBlocks(ctx)
	if err != nil {
		t.Fatalf("NumBlocks: %v", err)
	}
	if n != uint64(len(want)) {
		t.Fatalf("NumBlocks() = %d, want %d", n, len(want))
	}
}

func TestFanoutLayout(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	id, err := domain.ParseBlockID("ab23456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := s.Store(ctx, id, []byte("x")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if got := s.dir(id); got[len(got)-2:] != "ab" {
		t.Fatalf("dir() = %s, want suffix ab", got)
	}
}
