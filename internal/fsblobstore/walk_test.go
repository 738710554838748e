package fsblobstore

import (
	"context"
	"testing"

	"github.com/cryfsgo/cryfs/internal/domain"
)

func TestWalkReportsNoDiagnosticsForConsistentTree(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	root, err := s.CreateDirBlob(ctx, domain.BlobID{})
	if err != nil {
		t.Fatalf("CreateDirBlob root: %v", err)
	}
	child, err := s.CreateFileBlob(ctx, root.ID())
	if err != nil {
		t.Fatalf("CreateFileBlob: %v", err)
	}
	if err := s.InsertEntry(ctx, root.ID(), DirEntry{Type: EntryTypeFile, Name: "f", BlobID: child.ID()}); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}

	var visited []domain.BlobID
	diags, err := s.Walk(ctx, root.ID(), func(b FsBlob) { visited = append(visited, b.ID()) })
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	if len(diags) != 0 {
		t.Fatalf("expected no diagnostics, got %v", diags)
	}
	if len(visited) != 2 {
		t.Fatalf("expected 2 visited blobs, got %d", len(visited))
	}
}

func TestWalkFlagsStaleParentPointer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	root, err := s.CreateDirBlob(ctx, domain.BlobID{})
	if err != nil {
		t.Fatalf("CreateDirBlob root: %v", err)
	}
	other, err := s.CreateDirBlob(ctx, root.ID())
	if err != nil {
		t.Fatalf("CreateDirBlob other: %v", err)
	}
	// File's parent pointer points at "other", but it's inserted under root.
	child, err := s.CreateFileBlob(ctx, other.ID())
	if err != nil {
		t.Fatalf("CreateFileBlob: %v", err)
	}
	if err := s.InsertEntry(ctx, root.ID(), DirEntry{Type: EntryTypeFile, Name: "f", BlobID: child.ID()}); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}

	diags, err := s.Walk(ctx, root.ID(), nil)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	found := false
	for _, d := range diags {
		if d.BlobID == child.ID() {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a diagnostic for blob %s, got %v", child.ID(), diags)
	}
}

func TestWalkFlagsBlobReferencedMultipleTimes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	root, err := s.CreateDirBlob(ctx, domain.BlobID{})
	if err != nil {
		t.Fatalf("CreateDirBlob root: %v", err)
	}
	dirA, err := s.CreateDirBlob(ctx, root.ID())
	if err != nil {
		t.Fatalf("CreateDirBlob a: %v", err)
	}
	dirB, err := s.CreateDirBlob(ctx, root.ID())
	if err != nil {
		t.Fatalf("CreateDirBlob b: %v", err)
	}
	shared, err := s.CreateFileBlob(ctx, dirA.ID())
	if err != nil {
		t.Fatalf("CreateFileBlob shared: %v", err)
	}
	if err := s.InsertEntry(ctx, root.ID(), DirEntry{Type: EntryTypeDir, Name: "a", BlobID: dirA.ID()}); err != nil {
		t.Fatalf("InsertEntry a: %v", err)
	}
	if err := s.InsertEntry(ctx, root.ID(), DirEntry{Type: EntryTypeDir, Name: "b", BlobID: dirB.ID()}); err != nil {
		t.Fatalf("InsertEntry b: %v", err)
	}
	if err := s.InsertEntry(ctx, dirA.ID(), DirEntry{Type: EntryTypeFile, Name: "shared", BlobID: shared.ID()}); err != nil {
		t.Fatalf("InsertEntry shared in a: %v", err)
	}
	if err := s.InsertEntry(ctx, dirB.ID(), DirEntry{Type: EntryTypeFile, Name: "shared", BlobID: shared.ID()}); err != nil {
		t.Fatalf("InsertEntry shared in b: %v", err)
	}

	diags, err := s.Walk(ctx, root.ID(), nil)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	found := false
	for _, d := range diags {
		if d.BlobID == shared.ID() && d.Message == "BlobReferencedMultipleTimes" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected BlobReferencedMultipleTimes diagnostic, got %v", diags)
	}
}
