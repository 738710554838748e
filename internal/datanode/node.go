// Package datanode implements the C5 data node store: a thin typed layer
// parsing block bytes into either an inner node (child block ids) or a leaf
// node (raw file data), enforcing the header invariants at parse time so
// every layer above this one only ever sees well-formed nodes.
package datanode

import (
	"context"
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/cryfsgo/cryfs/internal/blocks"
	"github.com/cryfsgo/cryfs/internal/domain"
)

// headerLen is [format_version:2][unused:1][depth:1][size:4].
const headerLen = 2 + 1 + 1 + 4

// FormatVersion is written as the first 2 bytes of every data node.
const FormatVersion uint16 = 1

// MaxDepth bounds tree height to cap the maximum representable file size
// (§3 "Max depth bounded (e.g., 10)").
const MaxDepth = 10

// Node is implemented by Leaf and Inner, the two parsed node shapes.
type Node interface {
	// ID returns the node's block id.
	ID() domain.BlockID
	isNode()
}

// Leaf is a depth-0 node holding up to MaxBytesPerLeaf(P) raw data bytes.
type Leaf struct {
	id   domain.BlockID
	Data []byte
}

func (l Leaf) ID() domain.BlockID { return l.id }
func (Leaf) isNode()              {}

// Inner is a depth>0 node holding child block ids.
type Inner struct {
	id       domain.BlockID
	Depth    uint8
	Children []domain.BlockID
}

func (n Inner) ID() domain.BlockID { return n.id }
func (Inner) isNode()              {}

// Store is the C5 typed layer over a blocks.Store (ordinarily C4).
type Store struct {
	blocks            blocks.Store
	maxBytesPerLeaf   int
	maxChildrenPerInner int
}

// New wraps lower (ordinarily the C4 caching store) with typed node parsing.
func New(lower blocks.Store) *Store {
	maxBytesPerLeaf := lower.BlockSizeBytes() - headerLen
	return &Store{
		blocks:              lower,
		maxBytesPerLeaf:     maxBytesPerLeaf,
		maxChildrenPerInner: maxBytesPerLeaf / domain.BlockIDLen,
	}
}

// MaxBytesPerLeaf returns the maximum data payload a leaf node can hold.
func (s *Store) MaxBytesPerLeaf() int { return s.maxBytesPerLeaf }

// MaxChildrenPerInner returns the maximum number of children an inner node
// can reference.
func (s *Store) MaxChildrenPerInner() int { return s.maxChildrenPerInner }

func (s *Store) encodeLeaf(data []byte) ([]byte, error) {
	if len(data) > s.maxBytesPerLeaf {
		return nil, fmt.Errorf("%w: leaf data %d bytes exceeds max %d", domain.ErrCorruptedBlock, len(data), s.maxBytesPerLeaf)
	}
	buf := make([]byte, headerLen+s.maxBytesPerLeaf)
	binary.BigEndian.PutUint16(buf[0:2], FormatVersion)
	buf[3] = 0 // depth
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(data)))
	copy(buf[headerLen:], data)
	return buf, nil
}

func (s *Store) encodeInner(depth uint8, children []domain.BlockID) ([]byte, error) {
	if depth == 0 || int(depth) > MaxDepth {
		return nil, fmt.Errorf("%w: inner node depth %d out of range", domain.ErrCorruptedBlock, depth)
	}
	if len(children) > s.maxChildrenPerInner {
		return nil, fmt.Errorf("%w: inner node has %d children, max %d", domain.ErrCorruptedBlock, len(children), s.maxChildrenPerInner)
	}
	buf := make([]byte, headerLen+s.maxBytesPerLeaf)
	binary.BigEndian.PutUint16(buf[0:2], FormatVersion)
	buf[3] = depth
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(children)))
	for i, c := range children {
		off := headerLen + i*domain.BlockIDLen
		copy(buf[off:off+domain.BlockIDLen], c[:])
	}
	return buf, nil
}

func (s *Store) decode(id domain.BlockID, raw []byte) (Node, error) {
	if len(raw) < headerLen {
		return nil, fmt.Errorf("%w: node %s truncated header", domain.ErrCorruptedBlock, id)
	}
	version := binary.BigEndian.Uint16(raw[0:2])
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: node %s unsupported format version %d", domain.ErrCorruptedBlock, id, version)
	}
	depth := raw[3]
	size := binary.BigEndian.Uint32(raw[4:8])
	body := raw[headerLen:]

	if depth == 0 {
		if int(size) > len(body) {
			return nil, fmt.Errorf("%w: leaf %s size %d exceeds body %d", domain.ErrCorruptedBlock, id, size, len(body))
		}
		data := make([]byte, size)
		copy(data, body[:size])
		return Leaf{id: id, Data: data}, nil
	}

	if int(depth) > MaxDepth {
		return nil, fmt.Errorf("%w: inner node %s depth %d exceeds max %d", domain.ErrCorruptedBlock, id, depth, MaxDepth)
	}
	maxChildren := len(body) / domain.BlockIDLen
	if int(size) > maxChildren {
		return nil, fmt.Errorf("%w: inner node %s has %d children, max %d", domain.ErrCorruptedBlock, id, size, maxChildren)
	}
	children := make([]domain.BlockID, size)
	for i := range children {
		off := i * domain.BlockIDLen
		copy(children[i][:], body[off:off+domain.BlockIDLen])
	}
	return Inner{id: id, Depth: depth, Children: children}, nil
}

// CreateNewLeafNode allocates a fresh block id and stores data as a leaf.
func (s *Store) CreateNewLeafNode(ctx context.Context, data []byte) (Leaf, error) {
	id, err := domain.NewBlockID()
	if err != nil {
		return Leaf{}, err
	}
	encoded, err := s.encodeLeaf(data)
	if err != nil {
		return Leaf{}, err
	}
	if err := s.blocks.Store(ctx, id, encoded); err != nil {
		return Leaf{}, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	return Leaf{id: id, Data: out}, nil
}

// CreateNewInnerNode allocates a fresh block id and stores children at depth.
func (s *Store) CreateNewInnerNode(ctx context.Context, depth uint8, children []domain.BlockID) (Inner, error) {
	id, err := domain.NewBlockID()
	if err != nil {
		return Inner{}, err
	}
	encoded, err := s.encodeInner(depth, children)
	if err != nil {
		return Inner{}, err
	}
	if err := s.blocks.Store(ctx, id, encoded); err != nil {
		return Inner{}, err
	}
	out := make([]domain.BlockID, len(children))
	copy(out, children)
	return Inner{id: id, Depth: depth, Children: out}, nil
}

// Load reads and parses the node at id. found is false if id is absent.
func (s *Store) Load(ctx context.Context, id domain.BlockID) (Node, bool, error) {
	raw, found, err := s.blocks.Load(ctx, id)
	if err != nil || !found {
		return nil, found, err
	}
	node, err := s.decode(id, raw)
	if err != nil {
		return nil, false, err
	}
	return node, true, nil
}

// OverwriteWithLeafNode rewrites the block at an existing id as a leaf node
// in place, bypassing the usual allocate-a-fresh-id create path. datatree
// uses it to rewrite leaves (and a root that shrinks to a leaf) without
// changing their block ids.
func (s *Store) OverwriteWithLeafNode(ctx context.Context, id domain.BlockID, data []byte) error {
	encoded, err := s.encodeLeaf(data)
	if err != nil {
		return err
	}
	return s.blocks.Store(ctx, id, encoded)
}

// OverwriteWithInnerNode rewrites the block at id in place as an inner node,
// keeping id unchanged. Required so a data tree's root (and any other inner
// node) can keep a stable block id across content-only changes to its child
// list, instead of reallocating on every write.
func (s *Store) OverwriteWithInnerNode(ctx context.Context, id domain.BlockID, depth uint8, children []domain.BlockID) error {
	encoded, err := s.encodeInner(depth, children)
	if err != nil {
		return err
	}
	return s.blocks.Store(ctx, id, encoded)
}

// Remove deletes the node at id.
func (s *Store) Remove(ctx context.Context, id domain.BlockID) (bool, error) {
	return s.blocks.Remove(ctx, id)
}

// NumNodes returns the number of nodes currently stored.
func (s *Store) NumNodes(ctx context.Context) (uint64, error) {
	return s.blocks.NumBlocks(ctx)
}

// EstimateSpaceForNumBlocksLeft estimates how many more nodes can be stored
// given the backing store's remaining free space.
func (s *Store) EstimateSpaceForNumBlocksLeft(ctx context.Context) (uint64, error) {
	free, err := s.blocks.EstimateNumFreeBytes(ctx)
	if err != nil {
		return 0, err
	}
	physical := uint64(headerLen + s.maxBytesPerLeaf)
	if physical == 0 {
		return 0, nil
	}
	return free / physical, nil
}

// AllNodes iterates every node id currently in the store.
func (s *Store) AllNodes(ctx context.Context) iter.Seq2[domain.BlockID, error] {
	return s.blocks.AllBlocks(ctx)
}
