package fsblobstore

import (
	"context"
	"fmt"

	"github.com/cryfsgo/cryfs/internal/domain"
)

// Diagnostic is one consistency problem Walk found. It never stops the
// walk; the checker tool (out of scope per spec.md §1, but a future
// standalone traversal) is expected to collect every Diagnostic from a
// single pass rather than fail on the first.
type Diagnostic struct {
	// BlobID is the blob the diagnostic concerns.
	BlobID domain.BlobID
	// Message describes the problem in human-readable form.
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s", d.BlobID, d.Message)
}

// Walk traverses the reachable blob graph starting at root (ordinarily the
// filesystem root directory), verifying §3's "Parent-pointer consistency"
// property and flagging any blob reached through more than one directory
// entry (the "BlobReferencedMultipleTimes" diagnostic §4.9's rename note
// predicts a crash mid-rename can produce). visit is called once per
// reachable blob in the order it was first reached; Walk itself never
// mutates anything, so it is safe to run concurrently with normal
// filesystem use (at the cost of possibly observing a torn snapshot).
func (s *Store) Walk(ctx context.Context, root domain.BlobID, visit func(FsBlob)) ([]Diagnostic, error) {
	var diags []Diagnostic
	seen := make(map[domain.BlobID]bool)

	var walk func(id domain.BlobID, expectedParent domain.BlobID, hasExpectedParent bool) error
	walk = func(id domain.BlobID, expectedParent domain.BlobID, hasExpectedParent bool) error {
		if seen[id] {
			diags = append(diags, Diagnostic{BlobID: id, Message: "BlobReferencedMultipleTimes"})
			return nil
		}
		seen[id] = true

		blob, found, err := s.Load(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			diags = append(diags, Diagnostic{BlobID: id, Message: "referenced blob is missing"})
			return nil
		}
		if hasExpectedParent && blob.ParentID() != expectedParent {
			diags = append(diags, Diagnostic{
				BlobID:  id,
				Message: fmt.Sprintf("parent pointer %s disagrees with containing directory %s", blob.ParentID(), expectedParent),
			})
		}
		if visit != nil {
			visit(blob)
		}

		dir, ok := blob.(DirBlob)
		if !ok {
			return nil
		}
		seenNames := make(map[string]bool, len(dir.Entries()))
		for _, entry := range dir.Entries() {
			if seenNames[entry.Name] {
				diags = append(diags, Diagnostic{BlobID: id, Message: fmt.Sprintf("duplicate entry name %q", entry.Name)})
				continue
			}
			seenNames[entry.Name] = true
			if err := walk(entry.BlobID, id, true); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(root, domain.BlobID{}, false); err != nil {
		return diags, err
	}
	return diags, nil
}
