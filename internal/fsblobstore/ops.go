package fsblobstore

import (
	"context"
	"fmt"

	"github.com/cryfsgo/cryfs/internal/domain"
)

// FileSize returns the logical byte length of a file blob's content.
func (s *Store) FileSize(ctx context.Context, id domain.BlobID) (uint64, error) {
	total, err := s.trees.NumBytes(ctx, id.ToBlockID())
	if err != nil {
		return 0, err
	}
	if total < headerLen {
		return 0, fmt.Errorf("%w: blob %s shorter than its header", domain.ErrCorruptedFilesystem, id)
	}
	return total - headerLen, nil
}

// ReadFile fills target with a file blob's content starting at offset,
// failing if the read runs past the end of the file.
func (s *Store) ReadFile(ctx context.Context, id domain.BlobID, offset uint64, target []byte) error {
	return s.trees.ReadBytes(ctx, id.ToBlockID(), uint64(headerLen)+offset, target)
}

// TryReadFile behaves like ReadFile but clamps to the bytes actually
// available, returning the number of bytes read instead of failing.
func (s *Store) TryReadFile(ctx context.Context, id domain.BlobID, offset uint64, target []byte) (int, error) {
	return s.trees.TryReadBytes(ctx, id.ToBlockID(), uint64(headerLen)+offset, target)
}

// WriteFile writes data into a file blob at offset, growing it first if
// the write extends past the current end.
func (s *Store) WriteFile(ctx context.Context, id domain.BlobID, offset uint64, data []byte) error {
	_, err := s.trees.WriteBytes(ctx, id.ToBlockID(), uint64(headerLen)+offset, data)
	return err
}

// TruncateFile resizes a file blob's content to newSize bytes, zero-filling
// any newly exposed range.
func (s *Store) TruncateFile(ctx context.Context, id domain.BlobID, newSize uint64) error {
	_, err := s.trees.ResizeNumBytes(ctx, id.ToBlockID(), uint64(headerLen)+newSize)
	return err
}

// SetParent rewrites a blob's header in place to point at a new parent
// directory, used when an entry is moved across directories by rename.
func (s *Store) SetParent(ctx context.Context, id domain.BlobID, newParent domain.BlobID) error {
	rootID := id.ToBlockID()
	raw := make([]byte, headerLen)
	if err := s.trees.ReadBytes(ctx, rootID, 0, raw); err != nil {
		return err
	}
	blobType, _, _, err := decodeHeader(raw)
	if err != nil {
		return err
	}
	_, err = s.trees.WriteBytes(ctx, rootID, 0, encodeHeader(blobType, newParent))
	return err
}

func (s *Store) loadDir(ctx context.Context, dirID domain.BlobID) (DirBlob, error) {
	blob, found, err := s.Load(ctx, dirID)
	if err != nil {
		return DirBlob{}, err
	}
	if !found {
		return DirBlob{}, fmt.Errorf("%w: dir %s", domain.ErrNotFound, dirID)
	}
	dir, ok := blob.(DirBlob)
	if !ok {
		return DirBlob{}, fmt.Errorf("%w: %s is not a directory", domain.ErrNotADirectory, dirID)
	}
	return dir, nil
}

func (s *Store) writeDirEntries(ctx context.Context, dir DirBlob, entries []DirEntry) error {
	body := encodeDirEntries(entries)
	payload := append(encodeHeader(BlobTypeDir, dir.ParentID()), body...)
	rootID := dir.ID().ToBlockID()
	if _, err := s.trees.ResizeNumBytes(ctx, rootID, uint64(len(payload))); err != nil {
		return err
	}
	_, err := s.trees.WriteBytes(ctx, rootID, 0, payload)
	return err
}

// LookupEntry finds the directory entry named name within dirID.
func (s *Store) LookupEntry(ctx context.Context, dirID domain.BlobID, name string) (DirEntry, bool, error) {
	dir, err := s.loadDir(ctx, dirID)
	if err != nil {
		return DirEntry{}, false, err
	}
	entry, found := dir.Lookup(name)
	return entry, found, nil
}

// InsertEntry adds entry to dirID's directory body, replacing any existing
// entry of the same name. The caller is responsible for keeping
// entry.BlobID's own parent pointer (via SetParent) consistent with dirID
// (§4.7's reachability invariant).
func (s *Store) InsertEntry(ctx context.Context, dirID domain.BlobID, entry DirEntry) error {
	dir, err := s.loadDir(ctx, dirID)
	if err != nil {
		return err
	}
	return s.writeDirEntries(ctx, dir, dir.withInserted(entry))
}

// RemoveEntry removes the entry named name from dirID's directory body.
func (s *Store) RemoveEntry(ctx context.Context, dirID domain.BlobID, name string) error {
	dir, err := s.loadDir(ctx, dirID)
	if err != nil {
		return err
	}
	newEntries, found := dir.withRemoved(name)
	if !found {
		return fmt.Errorf("%w: no entry named %q in dir %s", domain.ErrNotFound, name, dirID)
	}
	return s.writeDirEntries(ctx, dir, newEntries)
}

// IsEmptyDir reports whether dirID's directory has no entries, used by
// rmdir (§4.9: "rmdir rejects if the dir has any entries").
func (s *Store) IsEmptyDir(ctx context.Context, dirID domain.BlobID) (bool, error) {
	dir, err := s.loadDir(ctx, dirID)
	if err != nil {
		return false, err
	}
	return len(dir.Entries()) == 0, nil
}
