package mmr

import (
	"bytes"
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// PruneList is a bitmap of positions that are roots of fully-pruned
// subtrees, plus the two monotone shift caches derived from it
// (spec.md §4.1, §3 "PruneList"). It is persisted as a Roaring bitmap,
// per spec.md §6.
type PruneList struct {
	bitmap *roaring.Bitmap

	// posShift[k] is the cumulative count of structurally-removed nodes
	// at or before the k'th set bit in bitmap (ordered ascending).
	posShift []uint64
	// leafShift[k] is the same, counting only leaves.
	leafShift []uint64
	// entries caches bitmap.ToArray() so shift lookups don't re-walk the
	// bitmap on every call.
	entries []uint32
}

// NewPruneList returns an empty prune list.
func NewPruneList() *PruneList {
	return &PruneList{bitmap: roaring.New()}
}

// LoadPruneList deserialises a Roaring-encoded prune list, as read back
// from pmmr_prun.bin (spec.md §6).
func LoadPruneList(serialized []byte) (*PruneList, error) {
	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(serialized)); err != nil {
		return nil, fmt.Errorf("mmr: decoding prune list: %w", err)
	}
	pl := &PruneList{bitmap: bm}
	pl.rebuildShiftCaches()
	return pl, nil
}

// Serialize encodes the prune list as a Roaring bitmap for persistence.
func (pl *PruneList) Serialize() ([]byte, error) {
	return pl.bitmap.ToBytes()
}

// Add marks pos (1-based) as the root of a fully-pruned subtree, then
// performs subtree compaction: whenever both children of a pruned
// subtree root become pruned, the entry is replaced by the parent
// (spec.md §4.1 invariant).
func (pl *PruneList) Add(pos uint64) {
	pl.bitmap.Add(uint32(pos))
	pl.compact(pos)
	pl.rebuildShiftCaches()
}

// compact walks upward from pos, collapsing fully-pruned sibling pairs
// into their parent until it reaches a parent with an unpruned sibling
// or the top of the tree.
func (pl *PruneList) compact(pos uint64) {
	for {
		height := bintreePostorderHeight(pos)
		if height+1 >= 63 {
			return
		}
		parent, sibling := family(pos)
		if !pl.bitmap.Contains(uint32(sibling)) {
			return
		}
		pl.bitmap.Remove(uint32(pos))
		pl.bitmap.Remove(uint32(sibling))
		pl.bitmap.Add(uint32(parent))
		pos = parent
	}
}

// IsPruned reports whether pos falls within a fully-pruned subtree: pos
// itself is pruned, or pos is a descendant of some pruned root.
func (pl *PruneList) IsPruned(pos uint64) bool {
	if pl.bitmap.Contains(uint32(pos)) {
		return true
	}
	for _, root := range pl.entries {
		r := uint64(root)
		if r <= pos {
			continue
		}
		if subtreeContains(r, pos) {
			return true
		}
	}
	return false
}

// subtreeContains reports whether the subtree rooted at root (1-based
// position) contains pos.
func subtreeContains(root, pos uint64) bool {
	height := bintreePostorderHeight(root)
	leftMost := root - (uint64(1)<<(height+1) - 2)
	return pos >= leftMost && pos <= root
}

// rebuildShiftCaches recomputes posShift/leafShift from the current
// bitmap. spec.md §4.1: "shift caches are rebuilt whenever the bitmap
// changes."
func (pl *PruneList) rebuildShiftCaches() {
	entries := pl.bitmap.ToArray()
	pl.entries = entries
	pl.posShift = make([]uint64, len(entries))
	pl.leafShift = make([]uint64, len(entries))
	var posAcc, leafAcc uint64
	for i, e := range entries {
		pos := uint64(e)
		height := bintreePostorderHeight(pos)
		subtreeSize := (uint64(1) << (height + 1)) - 1
		subtreeLeaves := uint64(1) << height
		posAcc += subtreeSize
		leafAcc += subtreeLeaves
		pl.posShift[i] = posAcc
		pl.leafShift[i] = leafAcc
	}
}

// ShiftAt returns the position shift for position p: the cumulative
// count of nodes structurally removed at positions < p. Implemented via
// binary search (rank) over the ordered prune-list entries, per
// spec.md §4.1.
func (pl *PruneList) ShiftAt(p uint64) uint64 {
	idx := pl.rankBefore(p)
	if idx == 0 {
		return 0
	}
	return pl.posShift[idx-1]
}

// LeafShiftAt returns the same cumulative count, counting only leaves.
func (pl *PruneList) LeafShiftAt(p uint64) uint64 {
	idx := pl.rankBefore(p)
	if idx == 0 {
		return 0
	}
	return pl.leafShift[idx-1]
}

// rankBefore returns the count of prune-list entries with position < p.
func (pl *PruneList) rankBefore(p uint64) int {
	lo, hi := 0, len(pl.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if uint64(pl.entries[mid]) < p {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Len returns the number of entries (pruned subtree roots) in the list.
func (pl *PruneList) Len() int { return int(pl.bitmap.GetCardinality()) }
