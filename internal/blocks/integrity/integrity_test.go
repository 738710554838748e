package integrity

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/cryfsgo/cryfs/internal/blocks/memstore"
	"github.com/cryfsgo/cryfs/internal/domain"
)

func newTestStore(t *testing.T, policy Policy) (*Store, *memstore.Store, domain.ClientID) {
	t.Helper()
	lower := memstore.New(1024)
	ledger, err := OpenLedger(filepath.Join(t.TempDir(), "integrity.db"))
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	clientID, err := domain.NewClientID()
	if err != nil {
		t.Fatalf("NewClientID: %v", err)
	}
	return New(lower, ledger, clientID, policy, nil), lower, clientID
}

func TestStoreLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t, Policy{})
	id, _ := domain.NewBlockID()

	if err := s.Store(ctx, id, []byte("payload")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	data, found, err := s.Load(ctx, id)
	if err != nil || !found {
		t.Fatalf("Load: %v %v", found, err)
	}
	if !bytes.Equal(data, []byte("payload")) {
		t.Fatalf("got %q", data)
	}
}

func TestRollbackDetected(t *testing.T) {
	ctx := context.Background()
	s, lower, _ := newTestStore(t, Policy{})
	id, _ := domain.NewBlockID()

	if err := s.Store(ctx, id, []byte("v1")); err != nil {
		t.Fatalf("Store v1: %v", err)
	}
	old, _ := lower.RawBytes(id)
	if err := s.Store(ctx, id, []byte("v2")); err != nil {
		t.Fatalf("Store v2: %v", err)
	}
	lower.SetRawBytes(id, old) // simulate an attacker replaying the old version

	_, _, err := s.Load(ctx, id)
	if err == nil {
		t.Fatalf("expected rollback detection error")
	}
	if !s.Poisoned() {
		t.Fatalf("store should be poisoned after a detected violation")
	}
}

func TestSubstitutionDetected(t *testing.T) {
	ctx := context.Background()
	s, lower, _ := newTestStore(t, Policy{})
	id1, _ := domain.NewBlockID()
	id2, _ := domain.NewBlockID()

	if err := s.Store(ctx, id1, []byte("data")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	raw, _ := lower.RawBytes(id1)
	lower.SetRawBytes(id2, raw)

	_, _, err := s.Load(ctx, id2)
	if err == nil {
		t.Fatalf("expected substitution detection error")
	}
}

func TestAllowIntegrityViolationsContinues(t *testing.T) {
	ctx := context.Background()
	var reported error
	s, lower, _ := newTestStore(t, Policy{
		AllowIntegrityViolations: true,
		OnViolation:              func(err error) { reported = err },
	})
	id, _ := domain.NewBlockID()

	if err := s.Store(ctx, id, []byte("v1")); err != nil {
		t.Fatalf("Store v1: %v", err)
	}
	old, _ := lower.RawBytes(id)
	if err := s.Store(ctx, id, []byte("v2")); err != nil {
		t.Fatalf("Store v2: %v", err)
	}
	lower.SetRawBytes(id, old)

	_, found, err := s.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load should not fail when violations are allowed: %v", err)
	}
	if !found {
		t.Fatalf("expected found=true")
	}
	if reported == nil {
		t.Fatalf("OnViolation should still be called even when violations are allowed")
	}
	if !s.Poisoned() {
		t.Fatalf("store should still poison even when violations are allowed")
	}
}

func TestPoisonedStoreRefusesWrites(t *testing.T) {
	ctx := context.Background()
	s, lower, _ := newTestStore(t, Policy{})
	id, _ := domain.NewBlockID()

	if err := s.Store(ctx, id, []byte("v1")); err != nil {
		t.Fatalf("Store v1: %v", err)
	}
	old, _ := lower.RawBytes(id)
	if err := s.Store(ctx, id, []byte("v2")); err != nil {
		t.Fatalf("Store v2: %v", err)
	}
	lower.SetRawBytes(id, old)
	if _, _, err := s.Load(ctx, id); err == nil {
		t.Fatalf("expected violation")
	}

	if err := s.Store(ctx, id, []byte("v3")); err != domain.ErrStorePoisoned {
		t.Fatalf("Store after poisoning = %v, want ErrStorePoisoned", err)
	}
}

func TestMissingBlockDetectedAsViolation(t *testing.T) {
	ctx := context.Background()
	s, lower, _ := newTestStore(t, Policy{MissingBlockIsIntegrityViolation: true})
	id, _ := domain.NewBlockID()

	if err := s.Store(ctx, id, []byte("data")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	lower.DeleteRaw(id) // simulate an attacker deleting the block out from under us

	_, _, err := s.Load(ctx, id)
	if err == nil {
		t.Fatalf("expected deletion-detection error")
	}
}

func TestExclusiveClientMismatchRejected(t *testing.T) {
	ctx := context.Background()
	other, err := domain.NewClientID()
	if err != nil {
		t.Fatalf("NewClientID: %v", err)
	}
	s, _, _ := newTestStore(t, Policy{ExclusiveClientID: &other})
	id, _ := domain.NewBlockID()

	if err := s.Store(ctx, id, []byte("data")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	_, _, err = s.Load(ctx, id)
	if err == nil {
		t.Fatalf("expected exclusive client mismatch error")
	}
}
