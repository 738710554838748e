// Package fsblobstore implements the C7 FS Blob Store: a thin typed layer
// over C6's data trees. A blob is a data tree whose first bytes are a small
// header identifying its type (file/dir/symlink) and parent directory; the
// rest of the tree holds the typed body (§4.7).
package fsblobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/cryfsgo/cryfs/internal/datatree"
	"github.com/cryfsgo/cryfs/internal/domain"
)

// BlobType identifies the kind of filesystem object a blob represents.
type BlobType uint8

const (
	BlobTypeFile BlobType = iota
	BlobTypeDir
	BlobTypeSymlink
)

func (t BlobType) String() string {
	switch t {
	case BlobTypeFile:
		return "file"
	case BlobTypeDir:
		return "dir"
	case BlobTypeSymlink:
		return "symlink"
	default:
		return fmt.Sprintf("blobtype(%d)", uint8(t))
	}
}

// FormatVersion is the node_format_version stamped on every blob header.
const FormatVersion uint16 = 1

// headerLen is len([node_format_version:2][unused:2][blob_type:1][parent_blob_id:16]).
const headerLen = 2 + 2 + 1 + domain.BlockIDLen

// FsBlob is implemented by FileBlob, DirBlob, and SymlinkBlob.
type FsBlob interface {
	ID() domain.BlobID
	ParentID() domain.BlobID
	Type() BlobType
}

type base struct {
	id       domain.BlobID
	parentID domain.BlobID
}

func (b base) ID() domain.BlobID       { return b.id }
func (b base) ParentID() domain.BlobID { return b.parentID }

// FileBlob is a blob holding raw file content.
type FileBlob struct {
	base
}

func (FileBlob) Type() BlobType { return BlobTypeFile }

// SymlinkBlob is a blob holding a symlink target path.
type SymlinkBlob struct {
	base
	Target string
}

func (SymlinkBlob) Type() BlobType { return BlobTypeSymlink }

// DirBlob is a blob holding a sorted list of directory entries.
type DirBlob struct {
	base
	entries []DirEntry
}

func (DirBlob) Type() BlobType { return BlobTypeDir }

// Entries returns the directory's entries in their stored (sorted-by-name)
// order. The returned slice must not be mutated by the caller.
func (d DirBlob) Entries() []DirEntry { return d.entries }

// Store implements the C7 FS Blob Store over a C6 datatree.Store.
type Store struct {
	trees *datatree.Store
}

// New wraps a datatree.Store (C6) with typed blob semantics.
func New(trees *datatree.Store) *Store {
	return &Store{trees: trees}
}

func encodeHeader(blobType BlobType, parent domain.BlobID) []byte {
	buf := make([]byte, headerLen)
	buf[0] = byte(FormatVersion >> 8)
	buf[1] = byte(FormatVersion)
	// buf[2:4] is the unused field, left zero.
	buf[4] = byte(blobType)
	parentBlockID := parent.ToBlockID()
	copy(buf[5:], parentBlockID[:])
	return buf
}

func decodeHeader(raw []byte) (BlobType, domain.BlobID, []byte, error) {
	if len(raw) < headerLen {
		return 0, domain.BlobID{}, nil, fmt.Errorf("%w: blob header truncated (%d bytes)", domain.ErrCorruptedFilesystem, len(raw))
	}
	version := uint16(raw[0])<<8 | uint16(raw[1])
	if version != FormatVersion {
		return 0, domain.BlobID{}, nil, fmt.Errorf("%w: unsupported blob format version %d", domain.ErrCorruptedFilesystem, version)
	}
	blobType := BlobType(raw[4])
	var blockID domain.BlockID
	copy(blockID[:], raw[5:headerLen])
	parent := domain.BlobID(blockID)
	switch blobType {
	case BlobTypeFile, BlobTypeDir, BlobTypeSymlink:
	default:
		return 0, domain.BlobID{}, nil, fmt.Errorf("%w: unknown blob type %d", domain.ErrCorruptedFilesystem, blobType)
	}
	return blobType, parent, raw[headerLen:], nil
}

// CreateFileBlob creates a new, empty file blob parented at parent.
func (s *Store) CreateFileBlob(ctx context.Context, parent domain.BlobID) (FileBlob, error) {
	id, err := s.createBlob(ctx, BlobTypeFile, parent, nil)
	if err != nil {
		return FileBlob{}, err
	}
	return FileBlob{base: base{id: id, parentID: parent}}, nil
}

// CreateDirBlob creates a new, empty directory blob parented at parent.
func (s *Store) CreateDirBlob(ctx context.Context, parent domain.BlobID) (DirBlob, error) {
	id, err := s.createBlob(ctx, BlobTypeDir, parent, nil)
	if err != nil {
		return DirBlob{}, err
	}
	return DirBlob{base: base{id: id, parentID: parent}}, nil
}

// CreateSymlinkBlob creates a new symlink blob pointing at target.
func (s *Store) CreateSymlinkBlob(ctx context.Context, parent domain.BlobID, target string) (SymlinkBlob, error) {
	id, err := s.createBlob(ctx, BlobTypeSymlink, parent, []byte(target))
	if err != nil {
		return SymlinkBlob{}, err
	}
	return SymlinkBlob{base: base{id: id, parentID: parent}, Target: target}, nil
}

func (s *Store) createBlob(ctx context.Context, blobType BlobType, parent domain.BlobID, body []byte) (domain.BlobID, error) {
	payload := append(encodeHeader(blobType, parent), body...)
	rootID, err := s.trees.CreateTreeFromBytes(ctx, payload)
	if err != nil {
		return domain.BlobID{}, err
	}
	return domain.BlobID(rootID), nil
}

// Load reads and parses the blob at id, returning found=false if it does
// not exist.
func (s *Store) Load(ctx context.Context, id domain.BlobID) (FsBlob, bool, error) {
	rootID := id.ToBlockID()
	total, err := s.trees.NumBytes(ctx, rootID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	raw := make([]byte, total)
	if err := s.trees.ReadBytes(ctx, rootID, 0, raw); err != nil {
		return nil, false, err
	}
	blobType, parent, body, err := decodeHeader(raw)
	if err != nil {
		return nil, false, err
	}
	switch blobType {
	case BlobTypeFile:
		return FileBlob{base: base{id: id, parentID: parent}}, true, nil
	case BlobTypeSymlink:
		return SymlinkBlob{base: base{id: id, parentID: parent}, Target: string(body)}, true, nil
	case BlobTypeDir:
		entries, err := decodeDirEntries(body)
		if err != nil {
			return nil, false, err
		}
		return DirBlob{base: base{id: id, parentID: parent}, entries: entries}, true, nil
	default:
		return nil, false, fmt.Errorf("%w: unknown blob type %d", domain.ErrCorruptedFilesystem, blobType)
	}
}

// RemoveByID deletes the blob's entire underlying data tree.
func (s *Store) RemoveByID(ctx context.Context, id domain.BlobID) error {
	return s.trees.Remove(ctx, id.ToBlockID())
}

// NumBlocks returns the number of blocks backing all blobs in the store.
func (s *Store) NumBlocks(ctx context.Context) (uint64, error) {
	return s.trees.NumNodes(ctx)
}

// LogicalBlockSizeBytes returns the usable payload size of one leaf of a
// blob's data tree, the unit file reads/writes are chunked against.
func (s *Store) LogicalBlockSizeBytes() int {
	return s.trees.MaxBytesPerLeaf()
}
