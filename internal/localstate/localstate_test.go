package localstate

import (
	"testing"

	"github.com/cryfsgo/cryfs/internal/domain"
)

func TestLoadOrCreateMetadataCreatesThenReuses(t *testing.T) {
	dir := t.TempDir()
	fsID, _ := domain.NewBlockID()
	key := []byte("0123456789abcdef0123456789abcdef")

	meta, created, err := LoadOrCreateMetadata(dir, fsID, key)
	if err != nil {
		t.Fatalf("LoadOrCreateMetadata: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true on first call")
	}
	if meta.ClientID == 0 {
		t.Fatalf("expected a non-zero generated client id")
	}
	if err := meta.VerifyKey(key); err != nil {
		t.Fatalf("VerifyKey on just-created metadata: %v", err)
	}

	again, created, err := LoadOrCreateMetadata(dir, fsID, key)
	if err != nil {
		t.Fatalf("LoadOrCreateMetadata second: %v", err)
	}
	if created {
		t.Fatalf("expected created=false on second call")
	}
	if again.ClientID != meta.ClientID {
		t.Fatalf("client id changed across reopen: %d != %d", again.ClientID, meta.ClientID)
	}
}

func TestMetadataVerifyKeyRejectsWrongKey(t *testing.T) {
	dir := t.TempDir()
	fsID, _ := domain.NewBlockID()
	meta, _, err := LoadOrCreateMetadata(dir, fsID, []byte("right-key"))
	if err != nil {
		t.Fatalf("LoadOrCreateMetadata: %v", err)
	}
	if err := meta.VerifyKey([]byte("wrong-key")); err != domain.ErrWrongKey {
		t.Fatalf("VerifyKey with wrong key: got %v, want ErrWrongKey", err)
	}
}

func TestBasedirIndexFirstOpenRecordsBinding(t *testing.T) {
	dir := t.TempDir()
	basedir := t.TempDir()
	fsID, _ := domain.NewBlockID()

	idx, err := OpenBasedirIndex(dir)
	if err != nil {
		t.Fatalf("OpenBasedirIndex: %v", err)
	}
	if err := idx.Check(basedir, fsID); err != nil {
		t.Fatalf("Check on first open: %v", err)
	}

	// Reopening the index from disk must remember the binding.
	reopened, err := OpenBasedirIndex(dir)
	if err != nil {
		t.Fatalf("OpenBasedirIndex reopen: %v", err)
	}
	if err := reopened.Check(basedir, fsID); err != nil {
		t.Fatalf("Check after reopen with same fsID: %v", err)
	}
}

func TestBasedirIndexDetectsSubstitution(t *testing.T) {
	dir := t.TempDir()
	basedir := t.TempDir()
	original, _ := domain.NewBlockID()
	substituted, _ := domain.NewBlockID()

	idx, err := OpenBasedirIndex(dir)
	if err != nil {
		t.Fatalf("OpenBasedirIndex: %v", err)
	}
	if err := idx.Check(basedir, original); err != nil {
		t.Fatalf("Check on first open: %v", err)
	}
	err = idx.Check(basedir, substituted)
	if err == nil {
		t.Fatalf("expected substitution error, got nil")
	}
}

func TestBasedirIndexForgetAllowsNewBinding(t *testing.T) {
	dir := t.TempDir()
	basedir := t.TempDir()
	first, _ := domain.NewBlockID()
	second, _ := domain.NewBlockID()

	idx, err := OpenBasedirIndex(dir)
	if err != nil {
		t.Fatalf("OpenBasedirIndex: %v", err)
	}
	if err := idx.Check(basedir, first); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := idx.Forget(basedir); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if err := idx.Check(basedir, second); err != nil {
		t.Fatalf("Check after forget with new fsID: %v", err)
	}
}
