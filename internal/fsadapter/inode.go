package fsadapter

import (
	"sync"

	"github.com/cryfsgo/cryfs/internal/domain"
)

// InodeID is a kernel-facing inode number. RootInode is the constant inode
// for the filesystem's root directory (§4.9).
type InodeID uint64

// RootInode is the inode number always assigned to the filesystem root.
const RootInode InodeID = 1

// inodeEntry is one inode's bookkeeping: which blob it names, and the
// (parent inode, name) path it was installed under. The table owns only
// ids, never blob content or a mutex over a blob — blobs are resolved
// through the C8 map on demand, so the inode table cannot cycle with the
// per-blob mutex map (§4.9).
type inodeEntry struct {
	blobID      domain.BlobID
	parentInode InodeID
	name        string
	generation  uint64
	lookupCount uint64
}

type inodeKey struct {
	parent InodeID
	name   string
}

// inodeTable is the bidirectional inode ↔ (parent_inode, name) / inode ↔
// blob_id map described in §4.9, with a generation counter per inode so a
// stale handle from a reused inode number can be detected by its caller.
type inodeTable struct {
	mu        sync.Mutex
	byInode   map[InodeID]*inodeEntry
	byKey     map[inodeKey]InodeID
	byBlob    map[domain.BlobID]InodeID
	nextInode InodeID
	nextGen   uint64
}

func newInodeTable(rootBlobID domain.BlobID) *inodeTable {
	t := &inodeTable{
		byInode:   make(map[InodeID]*inodeEntry),
		byKey:     make(map[inodeKey]InodeID),
		byBlob:    make(map[domain.BlobID]InodeID),
		nextInode: RootInode + 1,
	}
	t.byInode[RootInode] = &inodeEntry{blobID: rootBlobID, lookupCount: 1}
	t.byBlob[rootBlobID] = RootInode
	return t
}

// lookup installs (or reuses) the inode mapped to (parent, name), refreshing
// its blob id and bumping the kernel refcount the way a FUSE lookup reply
// does (§4.9: "install inode mapping, increment kernel refcount").
func (t *inodeTable) lookup(parent InodeID, name string, blobID domain.BlobID) (InodeID, uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := inodeKey{parent, name}
	if ino, ok := t.byKey[key]; ok {
		e := t.byInode[ino]
		e.blobID = blobID
		e.lookupCount++
		t.byBlob[blobID] = ino
		return ino, e.generation
	}

	ino := t.nextInode
	t.nextInode++
	t.nextGen++
	e := &inodeEntry{blobID: blobID, parentInode: parent, name: name, generation: t.nextGen, lookupCount: 1}
	t.byInode[ino] = e
	t.byKey[key] = ino
	t.byBlob[blobID] = ino
	return ino, e.generation
}

// inodeForBlob returns the inode currently installed for blobID, if any.
// Used by rename to carry an inode number forward across a path change.
func (t *inodeTable) inodeForBlob(blobID domain.BlobID) (InodeID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ino, ok := t.byBlob[blobID]
	return ino, ok
}

func (t *inodeTable) get(ino InodeID) (inodeEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byInode[ino]
	if !ok {
		return inodeEntry{}, false
	}
	return *e, true
}

// forget decrements ino's kernel refcount by n, releasing the inode (per
// §4.9's "forget") if it reaches zero. Reports whether the inode was
// released.
func (t *inodeTable) forget(ino InodeID, n uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ino == RootInode {
		return false
	}
	e, ok := t.byInode[ino]
	if !ok {
		return false
	}
	if n >= e.lookupCount {
		delete(t.byInode, ino)
		delete(t.byKey, inodeKey{e.parentInode, e.name})
		if t.byBlob[e.blobID] == ino {
			delete(t.byBlob, e.blobID)
		}
		return true
	}
	e.lookupCount -= n
	return false
}

// rename updates ino's recorded (parent, name) path after a rename, so a
// later lookup of the same path resolves to the same inode number.
func (t *inodeTable) rename(ino InodeID, newParent InodeID, newName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byInode[ino]
	if !ok {
		return
	}
	delete(t.byKey, inodeKey{e.parentInode, e.name})
	e.parentInode = newParent
	e.name = newName
	t.byKey[inodeKey{newParent, newName}] = ino
}

// forgetByKey drops any inode installed for (parent, name), used when an
// unlink/rmdir/rename-overwrite removes the directory entry backing it.
// Unlike forget, this does not wait for the kernel's refcount to reach
// zero: the name is gone from its parent either way, and a caller still
// holding an open handle keeps working off its own cached blob id.
func (t *inodeTable) forgetByKey(parent InodeID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := inodeKey{parent, name}
	ino, ok := t.byKey[key]
	if !ok {
		return
	}
	if e := t.byInode[ino]; e != nil && t.byBlob[e.blobID] == ino {
		delete(t.byBlob, e.blobID)
	}
	delete(t.byKey, key)
	delete(t.byInode, ino)
}
