// Package fsadapter implements the C9 FS Adapter: POSIX operation dispatch
// over the C8 concurrent blob store, with inode-handle bookkeeping, path
// resolution, and atime policy (§4.9).
//
// Deadlock avoidance follows the lock order the specification lays out:
// the inode table's own mutex is held only briefly for bookkeeping, a C8
// blob Guard is acquired next, and at most one blob's Guard is held at a
// time unless an operation genuinely spans parent and child (rename), in
// which case the parent is always locked before the child, and never both
// at once for longer than the single statement that needs them.
package fsadapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cryfsgo/cryfs/internal/blocks"
	"github.com/cryfsgo/cryfs/internal/concurrent"
	"github.com/cryfsgo/cryfs/internal/domain"
	"github.com/cryfsgo/cryfs/internal/fsblobstore"
)

// maxParentWalkDepth bounds the ancestor walk rename does to detect
// move-into-own-subtree; a real tree will never come close to this, so
// hitting it indicates a corrupted parent-pointer cycle.
const maxParentWalkDepth = 1 << 20

// Adapter dispatches POSIX filesystem operations onto a concurrent blob
// store, owning only the inode table's ids — never a blob or its mutex,
// which would cycle with C8's per-blob map (§4.9).
type Adapter struct {
	blobs *concurrent.Store
	stats blocks.Store

	rootBlobID domain.BlobID
	inodes     *inodeTable

	clock domain.Clock
	atime AtimePolicy

	rootMode, rootUID, rootGID uint32
	mountTime                  time.Time
}

// New constructs an Adapter over an already-mounted root blob. rootMode/
// rootUID/rootGID are synthesized attributes for the root inode, which has
// no parent directory entry of its own to read them from.
func New(blobs *concurrent.Store, stats blocks.Store, rootBlobID domain.BlobID, clock domain.Clock, atime AtimePolicy, rootMode, rootUID, rootGID uint32) *Adapter {
	return &Adapter{
		blobs:      blobs,
		stats:      stats,
		rootBlobID: rootBlobID,
		inodes:     newInodeTable(rootBlobID),
		clock:      clock,
		atime:      atime,
		rootMode:   rootMode,
		rootUID:    rootUID,
		rootGID:    rootGID,
		mountTime:  clock.Now(),
	}
}

func (a *Adapter) lookupDirEntry(ctx context.Context, dirBlobID domain.BlobID, name string) (fsblobstore.DirEntry, error) {
	guard, err := a.blobs.GetOrLoad(ctx, dirBlobID)
	if err != nil {
		return fsblobstore.DirEntry{}, err
	}
	defer guard.Release()
	guard.Lock()
	defer guard.Unlock()
	if _, ok := guard.Blob.(fsblobstore.DirBlob); !ok {
		return fsblobstore.DirEntry{}, fmt.Errorf("%w: %s", domain.ErrNotADirectory, dirBlobID)
	}
	entry, found, err := a.blobs.Blobs().LookupEntry(ctx, dirBlobID, name)
	if err != nil {
		return fsblobstore.DirEntry{}, err
	}
	if !found {
		return fsblobstore.DirEntry{}, fmt.Errorf("%w: %q", domain.ErrNotFound, name)
	}
	return entry, nil
}

func (a *Adapter) removeEntryLocked(ctx context.Context, dirBlobID domain.BlobID, name string) error {
	guard, err := a.blobs.GetOrLoad(ctx, dirBlobID)
	if err != nil {
		return err
	}
	defer guard.Release()
	guard.Lock()
	defer guard.Unlock()
	return a.blobs.Blobs().RemoveEntry(ctx, dirBlobID, name)
}

func (a *Adapter) insertEntryLocked(ctx context.Context, dirBlobID domain.BlobID, entry fsblobstore.DirEntry) error {
	guard, err := a.blobs.GetOrLoad(ctx, dirBlobID)
	if err != nil {
		return err
	}
	defer guard.Release()
	guard.Lock()
	defer guard.Unlock()
	return a.blobs.Blobs().InsertEntry(ctx, dirBlobID, entry)
}

func (a *Adapter) setParentLocked(ctx context.Context, blobID, newParent domain.BlobID) error {
	guard, err := a.blobs.GetOrLoad(ctx, blobID)
	if err != nil {
		return err
	}
	defer guard.Release()
	guard.Lock()
	defer guard.Unlock()
	return a.blobs.Blobs().SetParent(ctx, blobID, newParent)
}

// blobSize returns a blob's logical size (num_bytes for a file, target
// length for a symlink, entry count for a dir, §4.9's "getattr ... read
// blob for size") along with its type, under the blob's own guard.
func (a *Adapter) blobSize(ctx context.Context, id domain.BlobID) (uint64, fsblobstore.BlobType, error) {
	guard, err := a.blobs.GetOrLoad(ctx, id)
	if err != nil {
		return 0, 0, err
	}
	defer guard.Release()
	guard.Lock()
	defer guard.Unlock()
	switch b := guard.Blob.(type) {
	case fsblobstore.FileBlob:
		size, err := a.blobs.Blobs().FileSize(ctx, id)
		return size, b.Type(), err
	case fsblobstore.SymlinkBlob:
		return uint64(len(b.Target)), b.Type(), nil
	case fsblobstore.DirBlob:
		return uint64(len(b.Entries())), b.Type(), nil
	default:
		return 0, 0, fmt.Errorf("%w: unknown blob type for %s", domain.ErrCorruptedFilesystem, id)
	}
}

func (a *Adapter) attrForEntry(ctx context.Context, entry fsblobstore.DirEntry) (Attr, error) {
	size, blobType, err := a.blobSize(ctx, entry.BlobID)
	if err != nil {
		return Attr{}, err
	}
	return Attr{
		Mode:               entry.Mode,
		UID:                entry.UID,
		GID:                entry.GID,
		Size:               size,
		LastAccess:         entry.LastAccess,
		LastModification:   entry.LastModification,
		LastMetadataChange: entry.LastMetadataChange,
		IsDir:              blobType == fsblobstore.BlobTypeDir,
		IsSymlink:          blobType == fsblobstore.BlobTypeSymlink,
	}, nil
}

// Lookup resolves name within parentIno, installing an inode mapping and
// bumping its kernel refcount (§4.9).
func (a *Adapter) Lookup(ctx context.Context, parentIno InodeID, name string) (InodeID, Attr, error) {
	parent, ok := a.inodes.get(parentIno)
	if !ok {
		return 0, Attr{}, fmt.Errorf("%w: inode %d", domain.ErrNotFound, parentIno)
	}
	entry, err := a.lookupDirEntry(ctx, parent.blobID, name)
	if err != nil {
		return 0, Attr{}, err
	}
	attr, err := a.attrForEntry(ctx, entry)
	if err != nil {
		return 0, Attr{}, err
	}
	ino, _ := a.inodes.lookup(parentIno, name, entry.BlobID)
	return ino, attr, nil
}

// Forget decrements ino's kernel refcount by n, releasing the inode mapping
// once it reaches zero (§4.9). The root inode is never released.
func (a *Adapter) Forget(ino InodeID, n uint64) {
	a.inodes.forget(ino, n)
}

// GetAttr reads ino's metadata: mode/uid/gid/times from its parent's
// directory entry, size from the blob itself. The root inode has no parent
// entry, so its mode/uid/gid/times are the values fixed at mount.
func (a *Adapter) GetAttr(ctx context.Context, ino InodeID) (Attr, error) {
	if ino == RootInode {
		root, _ := a.inodes.get(RootInode)
		size, blobType, err := a.blobSize(ctx, root.blobID)
		if err != nil {
			return Attr{}, err
		}
		return Attr{
			Mode:               a.rootMode,
			UID:                a.rootUID,
			GID:                a.rootGID,
			Size:               size,
			LastAccess:         a.mountTime,
			LastModification:   a.mountTime,
			LastMetadataChange: a.mountTime,
			IsDir:              blobType == fsblobstore.BlobTypeDir,
		}, nil
	}
	e, ok := a.inodes.get(ino)
	if !ok {
		return Attr{}, fmt.Errorf("%w: inode %d", domain.ErrNotFound, ino)
	}
	parent, ok := a.inodes.get(e.parentInode)
	if !ok {
		return Attr{}, fmt.Errorf("%w: parent of inode %d", domain.ErrNotFound, ino)
	}
	entry, err := a.lookupDirEntry(ctx, parent.blobID, e.name)
	if err != nil {
		return Attr{}, err
	}
	return a.attrForEntry(ctx, entry)
}

// DirHandle is an open directory's entry snapshot, cached so repeated
// readdir calls at increasing offsets don't re-read and re-sort C7's
// entry list each time (§4.9).
type DirHandle struct {
	entries []fsblobstore.DirEntry
}

// DirEntryView is one entry streamed back by DirHandle.ReadDir.
type DirEntryView struct {
	Name      string
	IsDir     bool
	IsSymlink bool
}

// OpenDir snapshots ino's directory entries into a DirHandle.
func (a *Adapter) OpenDir(ctx context.Context, ino InodeID) (*DirHandle, error) {
	e, ok := a.inodes.get(ino)
	if !ok {
		return nil, fmt.Errorf("%w: inode %d", domain.ErrNotFound, ino)
	}
	guard, err := a.blobs.GetOrLoad(ctx, e.blobID)
	if err != nil {
		return nil, err
	}
	defer guard.Release()
	guard.Lock()
	dir, ok := guard.Blob.(fsblobstore.DirBlob)
	if !ok {
		guard.Unlock()
		return nil, fmt.Errorf("%w: inode %d", domain.ErrNotADirectory, ino)
	}
	entries := append([]fsblobstore.DirEntry(nil), dir.Entries()...)
	guard.Unlock()

	go a.maybeUpdateAtime(ino, true)
	return &DirHandle{entries: entries}, nil
}

// ReadDir streams h's cached entries starting at offset.
func (h *DirHandle) ReadDir(offset int) []DirEntryView {
	if offset < 0 || offset >= len(h.entries) {
		return nil
	}
	out := make([]DirEntryView, 0, len(h.entries)-offset)
	for _, e := range h.entries[offset:] {
		out = append(out, DirEntryView{
			Name:      e.Name,
			IsDir:     e.Type == fsblobstore.EntryTypeDir,
			IsSymlink: e.Type == fsblobstore.EntryTypeSymlink,
		})
	}
	return out
}

// Read fills buf from ino's file content at offset, clamped to the bytes
// actually available. The atime update it may trigger fires in the
// background so the read itself never blocks on it (§4.9), racing only a
// concurrent writer of the same blob via the blob's own guard.
func (a *Adapter) Read(ctx context.Context, ino InodeID, offset uint64, buf []byte) (int, error) {
	e, ok := a.inodes.get(ino)
	if !ok {
		return 0, fmt.Errorf("%w: inode %d", domain.ErrNotFound, ino)
	}
	guard, err := a.blobs.GetOrLoad(ctx, e.blobID)
	if err != nil {
		return 0, err
	}
	guard.Lock()
	n, err := a.blobs.Blobs().TryReadFile(ctx, e.blobID, offset, buf)
	guard.Unlock()
	guard.Release()
	if err != nil {
		return n, err
	}
	go a.maybeUpdateAtime(ino, false)
	return n, nil
}

// Write stores data into ino's file content at offset, growing it if
// needed, then updates the parent directory entry's mtime/ctime.
func (a *Adapter) Write(ctx context.Context, ino InodeID, offset uint64, data []byte) (int, error) {
	e, ok := a.inodes.get(ino)
	if !ok {
		return 0, fmt.Errorf("%w: inode %d", domain.ErrNotFound, ino)
	}
	guard, err := a.blobs.GetOrLoad(ctx, e.blobID)
	if err != nil {
		return 0, err
	}
	guard.Lock()
	err = a.blobs.Blobs().WriteFile(ctx, e.blobID, offset, data)
	guard.Unlock()
	guard.Release()
	if err != nil {
		return 0, err
	}
	a.touchMtime(ctx, ino)
	return len(data), nil
}

// Truncate resizes ino's file content, then updates the parent directory
// entry's mtime/ctime.
func (a *Adapter) Truncate(ctx context.Context, ino InodeID, newSize uint64) error {
	e, ok := a.inodes.get(ino)
	if !ok {
		return fmt.Errorf("%w: inode %d", domain.ErrNotFound, ino)
	}
	guard, err := a.blobs.GetOrLoad(ctx, e.blobID)
	if err != nil {
		return err
	}
	guard.Lock()
	err = a.blobs.Blobs().TruncateFile(ctx, e.blobID, newSize)
	guard.Unlock()
	guard.Release()
	if err != nil {
		return err
	}
	a.touchMtime(ctx, ino)
	return nil
}

// Readlink returns a symlink inode's target.
func (a *Adapter) Readlink(ctx context.Context, ino InodeID) (string, error) {
	e, ok := a.inodes.get(ino)
	if !ok {
		return "", fmt.Errorf("%w: inode %d", domain.ErrNotFound, ino)
	}
	guard, err := a.blobs.GetOrLoad(ctx, e.blobID)
	if err != nil {
		return "", err
	}
	defer guard.Release()
	guard.Lock()
	defer guard.Unlock()
	link, ok := guard.Blob.(fsblobstore.SymlinkBlob)
	if !ok {
		return "", fmt.Errorf("%w: inode %d", domain.ErrNotASymlink, ino)
	}
	return link.Target, nil
}

// touchMtime bumps the parent directory entry's mtime/ctime for a file
// that was just written or truncated. It is called after the file's own
// guard has been released, so it never holds two blobs' guards at once.
func (a *Adapter) touchMtime(ctx context.Context, childIno InodeID) {
	e, ok := a.inodes.get(childIno)
	if !ok {
		return
	}
	parent, ok := a.inodes.get(e.parentInode)
	if !ok {
		return
	}
	guard, err := a.blobs.GetOrLoad(ctx, parent.blobID)
	if err != nil {
		return
	}
	defer guard.Release()
	guard.Lock()
	defer guard.Unlock()
	entry, found, err := a.blobs.Blobs().LookupEntry(ctx, parent.blobID, e.name)
	if err != nil || !found {
		return
	}
	now := a.clock.Now()
	entry.LastModification = now
	entry.LastMetadataChange = now
	_ = a.blobs.Blobs().InsertEntry(ctx, parent.blobID, entry)
}

// maybeUpdateAtime applies the configured atime policy to ino's parent
// directory entry. Run detached from the triggering read's context, since
// an atime update must outlive a cancelled read (§4.9).
func (a *Adapter) maybeUpdateAtime(ino InodeID, isDirAccess bool) {
	ctx := context.Background()
	e, ok := a.inodes.get(ino)
	if !ok {
		return
	}
	parent, ok := a.inodes.get(e.parentInode)
	if !ok {
		return
	}
	guard, err := a.blobs.GetOrLoad(ctx, parent.blobID)
	if err != nil {
		return
	}
	defer guard.Release()
	guard.Lock()
	defer guard.Unlock()
	entry, found, err := a.blobs.Blobs().LookupEntry(ctx, parent.blobID, e.name)
	if err != nil || !found {
		return
	}
	now := a.clock.Now()
	if !a.atime.ShouldUpdate(isDirAccess, entry.LastAccess, entry.LastModification, entry.LastMetadataChange, now) {
		return
	}
	entry.LastAccess = now
	_ = a.blobs.Blobs().InsertEntry(ctx, parent.blobID, entry)
}

// createEntry is the shared body of Create/Mkdir/Symlink: reject if name
// already exists, create the new blob, insert its directory entry, and
// install an inode mapping for it.
func (a *Adapter) createEntry(ctx context.Context, parentIno InodeID, name string, entryType fsblobstore.EntryType, mode, uid, gid uint32, create func(ctx context.Context, parent domain.BlobID) (domain.BlobID, error)) (InodeID, Attr, error) {
	parent, ok := a.inodes.get(parentIno)
	if !ok {
		return 0, Attr{}, fmt.Errorf("%w: inode %d", domain.ErrNotFound, parentIno)
	}
	if _, err := a.lookupDirEntry(ctx, parent.blobID, name); err == nil {
		return 0, Attr{}, fmt.Errorf("%w: %q", domain.ErrAlreadyExists, name)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return 0, Attr{}, err
	}

	blobID, err := create(ctx, parent.blobID)
	if err != nil {
		return 0, Attr{}, err
	}
	now := a.clock.Now()
	entry := fsblobstore.DirEntry{
		Type: entryType, Mode: mode, UID: uid, GID: gid,
		LastAccess: now, LastModification: now, LastMetadataChange: now,
		Name: name, BlobID: blobID,
	}
	if err := a.insertEntryLocked(ctx, parent.blobID, entry); err != nil {
		return 0, Attr{}, err
	}
	ino, _ := a.inodes.lookup(parentIno, name, blobID)
	return ino, Attr{
		Mode: mode, UID: uid, GID: gid,
		LastAccess: now, LastModification: now, LastMetadataChange: now,
		IsDir:     entryType == fsblobstore.EntryTypeDir,
		IsSymlink: entryType == fsblobstore.EntryTypeSymlink,
	}, nil
}

// Create makes a new, empty regular file named name within parentIno.
func (a *Adapter) Create(ctx context.Context, parentIno InodeID, name string, mode, uid, gid uint32) (InodeID, Attr, error) {
	return a.createEntry(ctx, parentIno, name, fsblobstore.EntryTypeFile, mode, uid, gid, func(ctx context.Context, parent domain.BlobID) (domain.BlobID, error) {
		blob, err := a.blobs.Blobs().CreateFileBlob(ctx, parent)
		return blob.ID(), err
	})
}

// Mkdir makes a new, empty directory named name within parentIno.
func (a *Adapter) Mkdir(ctx context.Context, parentIno InodeID, name string, mode, uid, gid uint32) (InodeID, Attr, error) {
	return a.createEntry(ctx, parentIno, name, fsblobstore.EntryTypeDir, mode, uid, gid, func(ctx context.Context, parent domain.BlobID) (domain.BlobID, error) {
		blob, err := a.blobs.Blobs().CreateDirBlob(ctx, parent)
		return blob.ID(), err
	})
}

// symlinkMode is the fixed permission bits every symlink is created with;
// POSIX readers ignore a symlink's own mode, so the kernel never supplies one.
const symlinkMode = 0o777

// Symlink makes a new symlink named name within parentIno, pointing at target.
func (a *Adapter) Symlink(ctx context.Context, parentIno InodeID, name, target string, uid, gid uint32) (InodeID, Attr, error) {
	return a.createEntry(ctx, parentIno, name, fsblobstore.EntryTypeSymlink, symlinkMode, uid, gid, func(ctx context.Context, parent domain.BlobID) (domain.BlobID, error) {
		blob, err := a.blobs.Blobs().CreateSymlinkBlob(ctx, parent, target)
		return blob.ID(), err
	})
}

// Unlink removes name from parentIno's directory entries and removes the
// underlying blob via C8's removal barrier (§4.9).
func (a *Adapter) Unlink(ctx context.Context, parentIno InodeID, name string) error {
	parent, ok := a.inodes.get(parentIno)
	if !ok {
		return fmt.Errorf("%w: inode %d", domain.ErrNotFound, parentIno)
	}
	entry, err := a.lookupDirEntry(ctx, parent.blobID, name)
	if err != nil {
		return err
	}
	if entry.Type == fsblobstore.EntryTypeDir {
		return fmt.Errorf("%w: %q", domain.ErrIsADirectory, name)
	}
	if err := a.removeEntryLocked(ctx, parent.blobID, name); err != nil {
		return err
	}
	a.inodes.forgetByKey(parentIno, name)
	return a.blobs.Remove(ctx, entry.BlobID)
}

// Rmdir removes an empty directory named name from parentIno's entries.
// C7's IsEmptyDir is what rejects a non-empty directory (§4.9).
func (a *Adapter) Rmdir(ctx context.Context, parentIno InodeID, name string) error {
	parent, ok := a.inodes.get(parentIno)
	if !ok {
		return fmt.Errorf("%w: inode %d", domain.ErrNotFound, parentIno)
	}
	entry, err := a.lookupDirEntry(ctx, parent.blobID, name)
	if err != nil {
		return err
	}
	if entry.Type != fsblobstore.EntryTypeDir {
		return fmt.Errorf("%w: %q", domain.ErrNotADirectory, name)
	}
	empty, err := a.blobs.Blobs().IsEmptyDir(ctx, entry.BlobID)
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("%w: %q", domain.ErrDirectoryNotEmpty, name)
	}
	if err := a.removeEntryLocked(ctx, parent.blobID, name); err != nil {
		return err
	}
	a.inodes.forgetByKey(parentIno, name)
	return a.blobs.Remove(ctx, entry.BlobID)
}

// rejectMoveIntoOwnSubtree walks destParent's ancestor chain up to the
// root, rejecting a rename if movingDir is destParent itself or one of its
// ancestors (§4.9 step 1).
func (a *Adapter) rejectMoveIntoOwnSubtree(ctx context.Context, movingDir, destParent domain.BlobID) error {
	current := destParent
	for depth := 0; ; depth++ {
		if current == movingDir {
			return domain.ErrMoveIntoOwnSubtree
		}
		if current == a.rootBlobID {
			return nil
		}
		if depth > maxParentWalkDepth {
			return fmt.Errorf("%w: parent-pointer chain did not reach the root", domain.ErrCorruptedFilesystem)
		}
		blob, found, err := a.blobs.Blobs().Load(ctx, current)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, current)
		}
		current = blob.ParentID()
	}
}

// Rename implements the five-step algorithm of §4.9. It is not atomic
// across the blobs it touches: a crash partway through can leave a stale
// or duplicate directory entry, which a filesystem checker is expected to
// surface separately.
func (a *Adapter) Rename(ctx context.Context, oldParentIno InodeID, oldName string, newParentIno InodeID, newName string) error {
	oldParent, ok := a.inodes.get(oldParentIno)
	if !ok {
		return fmt.Errorf("%w: inode %d", domain.ErrNotFound, oldParentIno)
	}
	newParent, ok := a.inodes.get(newParentIno)
	if !ok {
		return fmt.Errorf("%w: inode %d", domain.ErrNotFound, newParentIno)
	}
	srcEntry, err := a.lookupDirEntry(ctx, oldParent.blobID, oldName)
	if err != nil {
		return err
	}

	// Step 1: reject renaming a directory into its own subtree.
	if srcEntry.Type == fsblobstore.EntryTypeDir {
		if err := a.rejectMoveIntoOwnSubtree(ctx, srcEntry.BlobID, newParent.blobID); err != nil {
			return err
		}
	}

	// Step 2: handle an existing target.
	dstEntry, dstErr := a.lookupDirEntry(ctx, newParent.blobID, newName)
	switch {
	case dstErr == nil:
		if dstEntry.Type != srcEntry.Type {
			return fmt.Errorf("%w: cannot rename %s over %s %q", domain.ErrIsADirectory, srcEntry.Type, dstEntry.Type, newName)
		}
		if dstEntry.Type == fsblobstore.EntryTypeDir {
			empty, err := a.blobs.Blobs().IsEmptyDir(ctx, dstEntry.BlobID)
			if err != nil {
				return err
			}
			if !empty {
				return fmt.Errorf("%w: %q", domain.ErrDirectoryNotEmpty, newName)
			}
		}
		if err := a.removeEntryLocked(ctx, newParent.blobID, newName); err != nil {
			return err
		}
		a.inodes.forgetByKey(newParentIno, newName)
		if err := a.blobs.Remove(ctx, dstEntry.BlobID); err != nil {
			return err
		}
	case errors.Is(dstErr, domain.ErrNotFound):
		// No target; nothing to replace.
	default:
		return dstErr
	}

	newEntry := srcEntry
	newEntry.Name = newName
	newEntry.LastMetadataChange = a.clock.Now()

	if err := a.removeEntryLocked(ctx, oldParent.blobID, oldName); err != nil {
		return err
	}
	if oldParentIno != newParentIno {
		// Step 3: changing parent — repoint the moved blob's own parent
		// pointer before it becomes reachable from its new directory.
		if err := a.setParentLocked(ctx, srcEntry.BlobID, newParent.blobID); err != nil {
			return err
		}
	}
	// Step 4 (same parent) falls through to the same insert, just without
	// a parent-pointer change.
	if err := a.insertEntryLocked(ctx, newParent.blobID, newEntry); err != nil {
		return err
	}

	if ino, ok := a.inodes.inodeForBlob(srcEntry.BlobID); ok {
		a.inodes.rename(ino, newParentIno, newName)
	}
	return nil
}

// StatfsResult is a coarse aggregate of backing-store capacity (§4.9:
// "statfs -> aggregate from C4/C3").
type StatfsResult struct {
	BlockSizeBytes int
	TotalBlocks    uint64
	FreeBlocks     uint64
}

// Statfs aggregates block usage and estimated free capacity from the
// block-store layer beneath the blob store.
func (a *Adapter) Statfs(ctx context.Context) (StatfsResult, error) {
	used, err := a.stats.NumBlocks(ctx)
	if err != nil {
		return StatfsResult{}, err
	}
	freeBytes, err := a.stats.EstimateNumFreeBytes(ctx)
	if err != nil {
		return StatfsResult{}, err
	}
	blockSize := a.stats.BlockSizeBytes()
	var freeBlocks uint64
	if blockSize > 0 {
		freeBlocks = freeBytes / uint64(blockSize)
	}
	return StatfsResult{
		BlockSizeBytes: blockSize,
		TotalBlocks:    used + freeBlocks,
		FreeBlocks:     freeBlocks,
	}, nil
}
