package memstore

import (
	"bytes"
	"context"
	"testing"

	"github.com/cryfsgo/cryfs/internal/domain"
)

func TestTryCreateThenLoad(t *testing.T) {
	ctx := context.Background()
	s := New(1024)
	id, _ := domain.NewBlockID()

	created, err := s.TryCreate(ctx, id, []byte("hello"))
	if err != nil || !created {
		t.Fatalf("TryCreate: %v %v", created, err)
	}
	created, err = s.TryCreate(ctx, id, []byte("world"))
	if err != nil || created {
		t.Fatalf("second TryCreate should report created=false, got %v %v", created, err)
	}

	data, found, err := s.Load(ctx, id)
	if err != nil || !found {
		t.Fatalf("Load: %v %v", found, err)
	}
	if !bytes.Equal(data, []byte("hello")) {
		t.Fatalf("got %q, want hello", data)
	}
}

func TestLoadReturnsIndependentCopy(t *testing.T) {
	ctx := context.Background()
	s := New(1024)
	id, _ := domain.NewBlockID()
	if err := s.Store(ctx, id, []byte("original")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	data, _, _ := s.Load(ctx, id)
	data[0] = 'X'
	data2, _, _ := s.Load(ctx, id)
	if !bytes.Equal(data2, []byte("original")) {
		t.Fatalf("mutating a loaded slice must not affect the store, got %q", data2)
	}
}

func TestRemoveAndNumBlocks(t *testing.T) {
	ctx := context.Background()
	s := New(1024)
	ids := make([]domain.BlockID, 5)
	for i := range ids {
		id, _ := domain.NewBlockID()
		ids[i] = id
		if err := s.Store(ctx, id, []byte("x")); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}
	n, _ := s.NumBlocks(ctx)
	if n != 5 {
		t.Fatalf("NumBlocks() = %d, want 5", n)
	}
	removed, err := s.Remove(ctx, ids[0])
	if err != nil || !removed {
		t.Fatalf("Remove: %v %v", removed, err)
	}
	removed, err = s.Remove(ctx, ids[0])
	if err != nil || removed {
		t.Fatalf("second Remove should report false, got %v %v", removed, err)
	}
	n, _ = s.NumBlocks(ctx)
	if n != 4 {
		t.Fatalf("NumBlocks() after remove = %d, want 4", n)
	}
}

func TestSetRawBytesBypassesVersioning(t *testing.T) {
	ctx := context.Background()
	s := New(1024)
	id, _ := domain.NewBlockID()
	if err := s.Store(ctx, id, []byte("v1")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	old, ok := s.RawBytes(id)
	if !ok {
		t.Fatalf("RawBytes: not found")
	}
	if err := s.Store(ctx, id, []byte("v2")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	s.SetRawBytes(id, old)
	data, found, err := s.Load(ctx, id)
	if err != nil || !found {
		t.Fatalf("Load: %v %v", found, err)
	}
	if !bytes.Equal(data, []byte("v1")) {
		t.Fatalf("rollback simulation failed, got %q", data)
	}
}

func TestDeleteRawSimulatesExternalDeletion(t *testing.T) {
	ctx := context.Background()
	s := New(1024)
	id, _ := domain.NewBlockID()
	if err := s.Store(ctx, id, []byte("x")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	s.DeleteRaw(id)
	_, found, err := s.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if found {
		t.Fatalf("expected block to be gone after DeleteRaw")
	}
}
