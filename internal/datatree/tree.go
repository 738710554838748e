// Package datatree implements the C6 data tree store: height-balanced
// trees of datanode.Store nodes supporting random-access read, write, and
// resize of a logical byte stream addressed by its root block id.
//
// A tree's root block id never changes for the lifetime of the tree,
// including across depth changes: growing pushes the root's current
// content down into a freshly allocated child block and rewrites the root
// block in place as a taller parent pointing at it; shrinking pulls a
// surviving child's content back up into the root block in place and frees
// the now-redundant child. This is required because C7 defines a blob's
// identity as its tree's root id, permanently referenced by directory
// entries and the filesystem root pointer — an identity that must never
// change on resize. Non-root inner nodes are likewise rewritten in place
// via datanode.Store.OverwriteWithInnerNode whenever only their child list
// changes, to avoid needless churn.
package datatree

import (
	"context"
	"errors"
	"fmt"

	"github.com/cryfsgo/cryfs/internal/datanode"
	"github.com/cryfsgo/cryfs/internal/domain"
)

// ErrOutOfRange indicates a read extends past the end of the tree.
var ErrOutOfRange = errors.New("datatree: read beyond end of tree")

// ErrTreeTooDeep indicates a resize would need more than datanode.MaxDepth levels.
var ErrTreeTooDeep = errors.New("datatree: requested size exceeds maximum tree depth")

// Store builds and navigates data trees over a datanode.Store.
type Store struct {
	nodes *datanode.Store
}

// New wraps a datanode.Store (C5) with tree-shaped random access.
func New(nodes *datanode.Store) *Store {
	return &Store{nodes: nodes}
}

// MaxBytesPerLeaf returns the usable payload size of a single leaf, the
// same value C7 uses as its logical block size.
func (s *Store) MaxBytesPerLeaf() int {
	return s.nodes.MaxBytesPerLeaf()
}

// NumNodes returns the number of underlying blocks currently stored across
// all trees, passed through from C5.
func (s *Store) NumNodes(ctx context.Context) (uint64, error) {
	return s.nodes.NumNodes(ctx)
}

// CreateEmptyTree creates a new, zero-length tree (a single empty leaf) and
// returns its root id.
func (s *Store) CreateEmptyTree(ctx context.Context) (domain.BlockID, error) {
	leaf, err := s.nodes.CreateNewLeafNode(ctx, nil)
	if err != nil {
		return domain.BlockID{}, err
	}
	return leaf.ID(), nil
}

// CreateTreeFromBytes creates a new tree holding exactly data, returning its root id.
func (s *Store) CreateTreeFromBytes(ctx context.Context, data []byte) (domain.BlockID, error) {
	rootID, err := s.CreateEmptyTree(ctx)
	if err != nil {
		return domain.BlockID{}, err
	}
	return s.WriteBytes(ctx, rootID, 0, data)
}

func (s *Store) loadRoot(ctx context.Context, rootID domain.BlockID) (datanode.Node, error) {
	node, found, err := s.nodes.Load(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: tree root %s", domain.ErrNotFound, rootID)
	}
	return node, nil
}

// copyNodeToNewBlock allocates a brand-new block holding an exact copy of
// node's content, used to push a root's content down a level on growth.
func (s *Store) copyNodeToNewBlock(ctx context.Context, node datanode.Node) (domain.BlockID, error) {
	switch n := node.(type) {
	case datanode.Leaf:
		leaf, err := s.nodes.CreateNewLeafNode(ctx, n.Data)
		if err != nil {
			return domain.BlockID{}, err
		}
		return leaf.ID(), nil
	case datanode.Inner:
		inner, err := s.nodes.CreateNewInnerNode(ctx, n.Depth, n.Children)
		if err != nil {
			return domain.BlockID{}, err
		}
		return inner.ID(), nil
	default:
		return domain.BlockID{}, fmt.Errorf("%w: unknown node type %T", domain.ErrCorruptedFilesystem, node)
	}
}

// overwriteNodeContent rewrites the block at id in place to hold node's
// content, used to pull a surviving child's content up into the root on
// shrink (node.ID() itself is left untouched; the caller frees it).
func (s *Store) overwriteNodeContent(ctx context.Context, id domain.BlockID, node datanode.Node) error {
	switch n := node.(type) {
	case datanode.Leaf:
		return s.nodes.OverwriteWithLeafNode(ctx, id, n.Data)
	case datanode.Inner:
		return s.nodes.OverwriteWithInnerNode(ctx, id, n.Depth, n.Children)
	default:
		return fmt.Errorf("%w: unknown node type %T", domain.ErrCorruptedFilesystem, node)
	}
}

func depthOf(node datanode.Node) uint8 {
	if inner, ok := node.(datanode.Inner); ok {
		return inner.Depth
	}
	return 0
}

// pow computes base^exp for small non-negative integer exponents.
func pow(base, exp uint64) uint64 {
	result := uint64(1)
	for i := uint64(0); i < exp; i++ {
		result *= base
	}
	return result
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// numLeavesForSize returns how many leaves a tree of byteSize bytes needs; a
// tree always has at least one leaf, even when empty.
func (s *Store) numLeavesForSize(byteSize uint64) uint64 {
	maxBytesPerLeaf := uint64(s.nodes.MaxBytesPerLeaf())
	if byteSize == 0 {
		return 1
	}
	return ceilDiv(byteSize, maxBytesPerLeaf)
}

// depthNeededForLeaves returns ceil(log_children(numLeaves)), the minimum
// tree depth whose full-subtree capacity covers numLeaves (§4.6 step 1).
func (s *Store) depthNeededForLeaves(numLeaves uint64) uint8 {
	maxChildren := uint64(s.nodes.MaxChildrenPerInner())
	depth := uint8(0)
	capacity := uint64(1)
	for capacity < numLeaves {
		depth++
		capacity *= maxChildren
	}
	return depth
}

// NumBytes returns the tree's logical length by walking the rightmost path
// from root to last leaf (§4.6).
func (s *Store) NumBytes(ctx context.Context, rootID domain.BlockID) (uint64, error) {
	root, err := s.loadRoot(ctx, rootID)
	if err != nil {
		return 0, err
	}
	return s.numBytesOf(ctx, root)
}

func (s *Store) numBytesOf(ctx context.Context, node datanode.Node) (uint64, error) {
	switch n := node.(type) {
	case datanode.Leaf:
		return uint64(len(n.Data)), nil
	case datanode.Inner:
		maxBytesPerLeaf := uint64(s.nodes.MaxBytesPerLeaf())
		maxChildren := uint64(s.nodes.MaxChildrenPerInner())
		childCapacityLeaves := pow(maxChildren, uint64(n.Depth-1))
		fullChildren := uint64(len(n.Children) - 1)
		total := fullChildren * childCapacityLeaves * maxBytesPerLeaf

		last, found, err := s.nodes.Load(ctx, n.Children[len(n.Children)-1])
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, fmt.Errorf("%w: missing child %s", domain.ErrCorruptedFilesystem, n.Children[len(n.Children)-1])
		}
		lastBytes, err := s.numBytesOf(ctx, last)
		if err != nil {
			return 0, err
		}
		return total + lastBytes, nil
	default:
		return 0, fmt.Errorf("%w: unknown node type %T", domain.ErrCorruptedFilesystem, node)
	}
}

// leafAt descends to the leaf at logical leaf index leafIndex within node's subtree.
func (s *Store) leafAt(ctx context.Context, node datanode.Node, leafIndex uint64) (datanode.Leaf, error) {
	switch n := node.(type) {
	case datanode.Leaf:
		if leafIndex != 0 {
			return datanode.Leaf{}, fmt.Errorf("%w: leaf index %d out of range for a single leaf", ErrOutOfRange, leafIndex)
		}
		return n, nil
	case datanode.Inner:
		maxChildren := uint64(s.nodes.MaxChildrenPerInner())
		childCapacity := pow(maxChildren, uint64(n.Depth-1))
		childIdx := leafIndex / childCapacity
		rem := leafIndex % childCapacity
		if childIdx >= uint64(len(n.Children)) {
			return datanode.Leaf{}, fmt.Errorf("%w: leaf index %d out of range", ErrOutOfRange, leafIndex)
		}
		child, found, err := s.nodes.Load(ctx, n.Children[childIdx])
		if err != nil {
			return datanode.Leaf{}, err
		}
		if !found {
			return datanode.Leaf{}, fmt.Errorf("%w: missing child %s", domain.ErrCorruptedFilesystem, n.Children[childIdx])
		}
		return s.leafAt(ctx, child, rem)
	default:
		return datanode.Leaf{}, fmt.Errorf("%w: unknown node type %T", domain.ErrCorruptedFilesystem, node)
	}
}

// ReadBytes fills target with the tree's bytes starting at offset. It fails
// if offset+len(target) exceeds the tree's length (§4.6).
func (s *Store) ReadBytes(ctx context.Context, rootID domain.BlockID, offset uint64, target []byte) error {
	root, err := s.loadRoot(ctx, rootID)
	if err != nil {
		return err
	}
	total, err := s.numBytesOf(ctx, root)
	if err != nil {
		return err
	}
	if offset+uint64(len(target)) > total {
		return fmt.Errorf("%w: offset %d + len %d exceeds tree length %d", ErrOutOfRange, offset, len(target), total)
	}
	return s.readInto(ctx, root, offset, target)
}

// TryReadBytes behaves like ReadBytes but clamps to the bytes actually
// available, returning the number of bytes read instead of failing.
func (s *Store) TryReadBytes(ctx context.Context, rootID domain.BlockID, offset uint64, target []byte) (int, error) {
	root, err := s.loadRoot(ctx, rootID)
	if err != nil {
		return 0, err
	}
	total, err := s.numBytesOf(ctx, root)
	if err != nil {
		return 0, err
	}
	if offset >= total {
		return 0, nil
	}
	n := uint64(len(target))
	if offset+n > total {
		n = total - offset
	}
	if err := s.readInto(ctx, root, offset, target[:n]); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) readInto(ctx context.Context, root datanode.Node, offset uint64, target []byte) error {
	maxBytesPerLeaf := uint64(s.nodes.MaxBytesPerLeaf())
	pos := uint64(0)
	for pos < uint64(len(target)) {
		abs := offset + pos
		leafIndex := abs / maxBytesPerLeaf
		within := abs % maxBytesPerLeaf
		leaf, err := s.leafAt(ctx, root, leafIndex)
		if err != nil {
			return err
		}
		if within >= uint64(len(leaf.Data)) {
			return fmt.Errorf("%w: leaf %s too short for offset %d", ErrOutOfRange, leaf.ID(), within)
		}
		n := copy(target[pos:], leaf.Data[within:])
		pos += uint64(n)
	}
	return nil
}

// WriteBytes writes data at offset, growing the tree first if necessary.
// The returned id always equals rootID: a tree's root id never changes.
func (s *Store) WriteBytes(ctx context.Context, rootID domain.BlockID, offset uint64, data []byte) (domain.BlockID, error) {
	if len(data) == 0 {
		return rootID, nil
	}
	currentSize, err := s.NumBytes(ctx, rootID)
	if err != nil {
		return domain.BlockID{}, err
	}
	targetEnd := offset + uint64(len(data))
	if targetEnd > currentSize {
		rootID, err = s.ResizeNumBytes(ctx, rootID, targetEnd)
		if err != nil {
			return domain.BlockID{}, err
		}
	}
	root, err := s.loadRoot(ctx, rootID)
	if err != nil {
		return domain.BlockID{}, err
	}

	maxBytesPerLeaf := uint64(s.nodes.MaxBytesPerLeaf())
	pos := uint64(0)
	for pos < uint64(len(data)) {
		abs := offset + pos
		leafIndex := abs / maxBytesPerLeaf
		within := abs % maxBytesPerLeaf
		leaf, err := s.leafAt(ctx, root, leafIndex)
		if err != nil {
			return domain.BlockID{}, err
		}
		n := copy(leaf.Data[within:], data[pos:])
		if err := s.nodes.OverwriteWithLeafNode(ctx, leaf.ID(), leaf.Data); err != nil {
			return domain.BlockID{}, err
		}
		pos += uint64(n)
	}
	return rootID, nil
}

// ResizeNumBytes grows or shrinks the tree to newSize bytes, adjusting tree
// depth and the rightmost path as needed (§4.6 resize_num_bytes). The
// returned id always equals rootID: a tree's root id never changes.
func (s *Store) ResizeNumBytes(ctx context.Context, rootID domain.BlockID, newSize uint64) (domain.BlockID, error) {
	root, err := s.loadRoot(ctx, rootID)
	if err != nil {
		return domain.BlockID{}, err
	}

	newNumLeaves := s.numLeavesForSize(newSize)
	targetDepth := s.depthNeededForLeaves(newNumLeaves)
	if targetDepth > datanode.MaxDepth {
		return domain.BlockID{}, fmt.Errorf("%w: depth %d", ErrTreeTooDeep, targetDepth)
	}

	// The root's block id is the tree's permanent identity (C7 defines a
	// blob's id as its tree's root id, stored forever in directory entries
	// and the filesystem root pointer), so depth changes must never
	// reallocate rootID. Growing pushes the root's current content down
	// into a freshly allocated child block, then overwrites the root block
	// in place as the new, taller parent; shrinking does the reverse, by
	// pulling a surviving child's content up into the root block in place.
	currentDepth := depthOf(root)
	for currentDepth < targetDepth {
		childID, err := s.copyNodeToNewBlock(ctx, root)
		if err != nil {
			return domain.BlockID{}, err
		}
		if err := s.nodes.OverwriteWithInnerNode(ctx, rootID, currentDepth+1, []domain.BlockID{childID}); err != nil {
			return domain.BlockID{}, err
		}
		root, err = s.loadRoot(ctx, rootID)
		if err != nil {
			return domain.BlockID{}, err
		}
		currentDepth++
	}
	for currentDepth > targetDepth {
		inner, ok := root.(datanode.Inner)
		if !ok || len(inner.Children) == 0 {
			return domain.BlockID{}, fmt.Errorf("%w: cannot unwrap malformed inner node", domain.ErrCorruptedFilesystem)
		}
		for _, extra := range inner.Children[1:] {
			if err := s.removeSubtreeByID(ctx, extra); err != nil {
				return domain.BlockID{}, err
			}
		}
		child, err := s.loadRoot(ctx, inner.Children[0])
		if err != nil {
			return domain.BlockID{}, err
		}
		if err := s.overwriteNodeContent(ctx, rootID, child); err != nil {
			return domain.BlockID{}, err
		}
		if _, err := s.nodes.Remove(ctx, child.ID()); err != nil {
			return domain.BlockID{}, err
		}
		root, err = s.loadRoot(ctx, rootID)
		if err != nil {
			return domain.BlockID{}, err
		}
		currentDepth--
	}

	var lastLeafSize int
	if newSize == 0 {
		lastLeafSize = 0
	} else {
		maxBytesPerLeaf := uint64(s.nodes.MaxBytesPerLeaf())
		if rem := newSize % maxBytesPerLeaf; rem != 0 {
			lastLeafSize = int(rem)
		} else {
			lastLeafSize = int(maxBytesPerLeaf)
		}
	}

	resized, err := s.resizeSubtree(ctx, root, newNumLeaves, lastLeafSize)
	if err != nil {
		return domain.BlockID{}, err
	}
	return resized.ID(), nil
}

// resizeSubtree adjusts node's subtree to hold exactly targetLeaves leaves,
// whose last leaf is lastLeafSize bytes (all other leaves stay/become full).
func (s *Store) resizeSubtree(ctx context.Context, node datanode.Node, targetLeaves uint64, lastLeafSize int) (datanode.Node, error) {
	switch n := node.(type) {
	case datanode.Leaf:
		if len(n.Data) == lastLeafSize {
			return n, nil
		}
		newData := make([]byte, lastLeafSize)
		copy(newData, n.Data)
		if err := s.nodes.OverwriteWithLeafNode(ctx, n.ID(), newData); err != nil {
			return nil, err
		}
		n.Data = newData
		return n, nil

	case datanode.Inner:
		maxChildren := uint64(s.nodes.MaxChildrenPerInner())
		childCapacity := pow(maxChildren, uint64(n.Depth-1))
		targetChildCount := ceilDiv(targetLeaves, childCapacity)
		fullChildrenNeeded := targetChildCount - 1
		lastChildLeaves := targetLeaves - fullChildrenNeeded*childCapacity

		children := append([]domain.BlockID(nil), n.Children...)
		if uint64(len(children)) > targetChildCount {
			for _, extra := range children[targetChildCount:] {
				if err := s.removeSubtreeByID(ctx, extra); err != nil {
					return nil, err
				}
			}
			children = children[:targetChildCount]
		}

		oldCount := uint64(len(children))
		newChildren := make([]domain.BlockID, 0, targetChildCount)
		for i := uint64(0); i < fullChildrenNeeded; i++ {
			switch {
			case i+1 < oldCount:
				// An existing child that was already full and stays untouched.
				newChildren = append(newChildren, children[i])
			case i+1 == oldCount:
				// The old last child, which must become full now that it has a sibling after it.
				existing, err := s.loadRoot(ctx, children[i])
				if err != nil {
					return nil, err
				}
				full, err := s.resizeSubtree(ctx, existing, childCapacity, s.nodes.MaxBytesPerLeaf())
				if err != nil {
					return nil, err
				}
				newChildren = append(newChildren, full.ID())
			default:
				full, err := s.createSubtree(ctx, n.Depth-1, childCapacity, s.nodes.MaxBytesPerLeaf())
				if err != nil {
					return nil, err
				}
				newChildren = append(newChildren, full.ID())
			}
		}

		var lastChild datanode.Node
		if fullChildrenNeeded < oldCount {
			existing, err := s.loadRoot(ctx, children[fullChildrenNeeded])
			if err != nil {
				return nil, err
			}
			resized, err := s.resizeSubtree(ctx, existing, lastChildLeaves, lastLeafSize)
			if err != nil {
				return nil, err
			}
			lastChild = resized
		} else {
			created, err := s.createSubtree(ctx, n.Depth-1, lastChildLeaves, lastLeafSize)
			if err != nil {
				return nil, err
			}
			lastChild = created
		}
		newChildren = append(newChildren, lastChild.ID())

		// Rewrite this inner node in place: its block id must stay stable so
		// that a tree's root id (and hence, for C7, a blob's identity) does
		// not change on any write, including one that changes depth.
		if err := s.nodes.OverwriteWithInnerNode(ctx, n.ID(), n.Depth, newChildren); err != nil {
			return nil, err
		}
		n.Children = newChildren
		return n, nil

	default:
		return nil, fmt.Errorf("%w: unknown node type %T", domain.ErrCorruptedFilesystem, node)
	}
}

// createSubtree builds a brand-new subtree of depth levels holding exactly
// targetLeaves leaves, whose last leaf is lastLeafSize bytes.
func (s *Store) createSubtree(ctx context.Context, depth uint8, targetLeaves uint64, lastLeafSize int) (datanode.Node, error) {
	if depth == 0 {
		data := make([]byte, lastLeafSize)
		leaf, err := s.nodes.CreateNewLeafNode(ctx, data)
		if err != nil {
			return nil, err
		}
		return leaf, nil
	}
	maxChildren := uint64(s.nodes.MaxChildrenPerInner())
	childCapacity := pow(maxChildren, uint64(depth-1))
	targetChildCount := ceilDiv(targetLeaves, childCapacity)
	fullChildrenNeeded := targetChildCount - 1
	lastChildLeaves := targetLeaves - fullChildrenNeeded*childCapacity

	children := make([]domain.BlockID, 0, targetChildCount)
	for i := uint64(0); i < fullChildrenNeeded; i++ {
		full, err := s.createSubtree(ctx, depth-1, childCapacity, s.nodes.MaxBytesPerLeaf())
		if err != nil {
			return nil, err
		}
		children = append(children, full.ID())
	}
	last, err := s.createSubtree(ctx, depth-1, lastChildLeaves, lastLeafSize)
	if err != nil {
		return nil, err
	}
	children = append(children, last.ID())
	return s.nodes.CreateNewInnerNode(ctx, depth, children)
}

// Remove deletes every block reachable from rootID, in post-order, finally
// the root itself (§4.6 Deletion).
func (s *Store) Remove(ctx context.Context, rootID domain.BlockID) error {
	root, found, err := s.nodes.Load(ctx, rootID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return s.removeSubtreeNode(ctx, root)
}

func (s *Store) removeSubtreeNode(ctx context.Context, node datanode.Node) error {
	if inner, ok := node.(datanode.Inner); ok {
		for _, c := range inner.Children {
			child, found, err := s.nodes.Load(ctx, c)
			if err != nil {
				return err
			}
			if found {
				if err := s.removeSubtreeNode(ctx, child); err != nil {
					return err
				}
			}
		}
	}
	_, err := s.nodes.Remove(ctx, node.ID())
	return err
}

func (s *Store) removeSubtreeByID(ctx context.Context, id domain.BlockID) error {
	node, found, err := s.nodes.Load(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return s.removeSubtreeNode(ctx, node)
}
