package encrypted

import (
	"bytes"
	"context"
	"testing"

	"github.com/cryfsgo/cryfs/internal/blocks/memstore"
	"github.com/cryfsgo/cryfs/internal/cryptoengine"
	"github.com/cryfsgo/cryfs/internal/domain"
)

func newTestStore(t *testing.T) (*Store, *memstore.Store) {
	t.Helper()
	lower := memstore.New(1024)
	suite, err := cryptoengine.Lookup(cryptoengine.AES256GCM)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	key := bytes.Repeat([]byte{0x42}, suite.KeySize())
	s, err := New(lower, suite, key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, lower
}

func TestEncryptedRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	id, _ := domain.NewBlockID()

	if err := s.Store(ctx, id, []byte("plaintext payload")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	data, found, err := s.Load(ctx, id)
	if err != nil || !found {
		t.Fatalf("Load: %v %v", found, err)
	}
	if !bytes.Equal(data, []byte("plaintext payload")) {
		t.Fatalf("got %q", data)
	}
}

func TestLowerStoreNeverSeesPlaintext(t *testing.T) {
	ctx := context.Background()
	s, lower := newTestStore(t)
	id, _ := domain.NewBlockID()
	plaintext := []byte("super secret contents")
	if err := s.Store(ctx, id, plaintext); err != nil {
		t.Fatalf("Store: %v", err)
	}
	raw, ok := lower.RawBytes(id)
	if !ok {
		t.Fatalf("RawBytes: not found")
	}
	if bytes.Contains(raw, plaintext) {
		t.Fatalf("lower store must never see plaintext bytes")
	}
}

func TestTamperedCiphertextFailsAuthentication(t *testing.T) {
	ctx := context.Background()
	s, lower := newTestStore(t)
	id, _ := domain.NewBlockID()
	if err := s.Store(ctx, id, []byte("data")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	raw, _ := lower.RawBytes(id)
	raw[len(raw)-1] ^= 0xFF
	lower.SetRawBytes(id, raw)

	_, _, err := s.Load(ctx, id)
	if err == nil {
		t.Fatalf("expected authentication failure on tampered ciphertext")
	}
}

func TestBlockIDBoundAsAAD(t *testing.T) {
	ctx := context.Background()
	s, lower := newTestStore(t)
	id1, _ := domain.NewBlockID()
	id2, _ := domain.NewBlockID()
	if err := s.Store(ctx, id1, []byte("data")); err != nil {
		t.Fatalf("Store: %v", err)
	}
	raw, _ := lower.RawBytes(id1)
	lower.SetRawBytes(id2, raw)

	_, _, err := s.Load(ctx, id2)
	if err == nil {
		t.Fatalf("expected substitution failure when a block is relocated under a different id")
	}
}

func TestBlockSizeBytesAccountsForOverhead(t *testing.T) {
	s, _ := newTestStore(t)
	if got := s.BlockSizeBytes(); got >= 1024 {
		t.Fatalf("BlockSizeBytes() = %d, want less than lower block size 1024", got)
	}
}
