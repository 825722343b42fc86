// Package mmr implements the append-only Merkle Mountain Range, its
// structural PruneList, and the BitmapAccumulator built on top of it
// (spec.md §4.1). The position-arithmetic helpers in this file are
// consensus-critical: the MMR root is committed into every block header,
// so two implementations must derive bit-identical positions for the
// same leaf sequence. Grounded on the post-order position math in
// forestrie-go-merklelog's mmr package (IndexHeight/JumpLeftPerfect/
// Peaks), adapted to 1-based positions throughout to match spec.md's
// "1-based post-order" framing directly rather than mixing 0-based
// indices and 1-based positions as the reference implementation does.
package mmr

import "math/bits"

// bitLength64 returns the number of bits needed to represent num, i.e.
// floor(log2(num))+1 for num > 0.
func bitLength64(num uint64) uint64 {
	return uint64(bits.Len64(num))
}

// allOnes reports whether num's binary representation is all 1s (i.e. num
// == 2^k - 1 for some k), the signature of a perfect-tree root position.
func allOnes(num uint64) bool {
	return num != 0 && (uint64(1)<<bits.OnesCount64(num))-1 == num
}

// jumpLeftPerfect jumps from pos to the left-most node at the same height,
// by subtracting the size of the largest perfect subtree preceding pos.
func jumpLeftPerfect(pos uint64) uint64 {
	msb := uint64(1) << (bitLength64(pos) - 1)
	return pos - (msb - 1)
}

// bintreePostorderHeight returns the height of the node at 1-based
// position pos (leaves are height 0). This is the bit-exact function
// spec.md §4.1 calls bintree_postorder_height.
func bintreePostorderHeight(pos uint64) uint64 {
	p := pos
	for !allOnes(p) {
		p = jumpLeftPerfect(p)
	}
	return bitLength64(p) - 1
}

// insertionToPMMRIndex converts a 0-based leaf insertion index i to its
// 1-based MMR position, spec.md §4.1: 2*i - popcount(i) gives the 0-based
// position, so the 1-based position adds 1.
func insertionToPMMRIndex(i uint64) uint64 {
	return 2*i - uint64(bits.OnesCount64(i)) + 1
}

// sizeForLeaves returns the 1-based MMR size (total node count,
// including interior nodes) of a tree holding exactly n leaves.
// Distinct from insertionToPMMRIndex(i), which names one leaf's own
// 1-based position rather than the tree's total size.
func sizeForLeaves(n uint64) uint64 {
	return 2*n - uint64(bits.OnesCount64(n))
}

// jumpRightSibling moves from pos to the next node at the same height.
func jumpRightSibling(pos uint64) uint64 {
	height := bintreePostorderHeight(pos)
	return pos + (uint64(1) << (height + 1)) - 1
}

// leftChild returns the position of the left child of an interior node,
// and false if pos is a leaf (height 0).
func leftChild(pos uint64) (uint64, bool) {
	height := bintreePostorderHeight(pos)
	if height == 0 {
		return 0, false
	}
	return pos - (uint64(1) << height), true
}

// family returns (parent, sibling) of the node at pos, spec.md §4.1. A
// right child's sibling precedes it and its parent is the very next
// position; a left child's sibling and parent both follow it.
func family(pos uint64) (parent uint64, sibling uint64) {
	height := bintreePostorderHeight(pos)
	siblingOffset := (uint64(2) << height) - 1
	parentOffset := uint64(2) << height
	// pos is a right child iff pos+1 sits one level higher.
	if bintreePostorderHeight(pos+1) == height+1 {
		return pos + 1, pos - siblingOffset
	}
	// Otherwise pos is a left child.
	return pos + parentOffset, pos + siblingOffset
}

// peaks returns the 1-based positions of the current MMR peaks for an MMR
// of the given size, in descending order of height (left-most / highest
// first). Returns nil if size does not correspond to a valid MMR state
// (i.e. it splits a pair of siblings without their parent).
func peaks(size uint64) []uint64 {
	if size == 0 {
		return nil
	}
	if bintreePostorderHeight(size+1) > bintreePostorderHeight(size) {
		return nil
	}

	top := uint64(1)
	for (top - 1) <= size {
		top <<= 1
	}
	top = (top >> 1) - 1
	if top == 0 {
		return nil
	}

	result := []uint64{top}
	peak := top
outer:
	for {
		peak = jumpRightSibling(peak)
		for peak > size {
			if p, ok := leftChild(peak); ok {
				peak = p
				continue
			}
			break outer
		}
		result = append(result, peak)
	}
	return result
}

// leafCount returns the number of leaves present in an MMR of the given
// size (i.e. popcount of size+1's accumulator shape).
func leafCount(size uint64) uint64 {
	var count uint64
	for _, p := range peaks(size) {
		h := bintreePostorderHeight(p)
		count += uint64(1) << h
	}
	return count
}
