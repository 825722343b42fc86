package mmr

import (
	"testing"

	"github.com/rawblock/mwnode/internal/crypto"
	"github.com/stretchr/testify/require"
)

func leafHash(i int) crypto.Hash {
	return crypto.HashWritten([]byte{byte(i)})
}

func TestAppendAndRootDependsOnlyOnLeaves(t *testing.T) {
	// spec.md §8: "root() depends only on the current multiset of leaves
	// and their positions, not on the compaction history."
	backend := NewMemBackend()
	p := New(backend)
	for i := 0; i < 7; i++ {
		p.Append(leafHash(i))
	}
	root1, err := p.Root()
	require.NoError(t, err)

	backend2 := NewMemBackend()
	p2 := New(backend2)
	for i := 0; i < 7; i++ {
		p2.Append(leafHash(i))
	}
	root2, err := p2.Root()
	require.NoError(t, err)

	require.Equal(t, root1, root2)
}

func TestPeaksKnownSizes(t *testing.T) {
	// Size 1: single leaf, one peak at 1.
	require.Equal(t, []uint64{1}, peaks(1))
	// Size 3: two leaves merged into one peak at 3.
	require.Equal(t, []uint64{3}, peaks(3))
	// Size 4: a peak at 3 and a leaf peak at 4.
	require.Equal(t, []uint64{3, 4}, peaks(4))
	// Size 7: a single peak of height 2 at 7.
	require.Equal(t, []uint64{7}, peaks(7))
	// Size 10: peaks at 7 and 10 (height 2 and height 1).
	require.Equal(t, []uint64{7, 10}, peaks(10))
}

func TestRewindMatchesShorterHistory(t *testing.T) {
	backend := NewMemBackend()
	p := New(backend)
	var checkpoint uint64
	for i := 0; i < 5; i++ {
		checkpoint = p.Append(leafHash(i))
	}
	rootAt5, err := p.Root()
	require.NoError(t, err)

	for i := 5; i < 9; i++ {
		p.Append(leafHash(i))
	}
	p.Rewind(checkpoint)

	rootAfterRewind, err := p.Root()
	require.NoError(t, err)
	require.Equal(t, rootAt5, rootAfterRewind)
}

func TestInsertionToPMMRIndex(t *testing.T) {
	// First four leaves land at post-order positions 1, 2, 4, 5 (position
	// 3 is the interior node merging the first two leaves).
	require.Equal(t, uint64(1), insertionToPMMRIndex(0))
	require.Equal(t, uint64(2), insertionToPMMRIndex(1))
	require.Equal(t, uint64(4), insertionToPMMRIndex(2))
	require.Equal(t, uint64(5), insertionToPMMRIndex(3))
}

func TestFamilyIsSelfConsistent(t *testing.T) {
	// Every node's sibling should itself report the same parent.
	for pos := uint64(1); pos <= 18; pos++ {
		parent, sibling := family(pos)
		parent2, sibling2 := family(sibling)
		require.Equal(t, parent, parent2, "pos %d and its sibling %d disagree on parent", pos, sibling)
		require.Equal(t, pos, sibling2, "sibling of sibling should be original pos")
	}
}

func TestPruneListCompactsSiblingPairs(t *testing.T) {
	pl := NewPruneList()
	// Positions 1 and 2 are siblings under parent 3.
	pl.Add(1)
	require.True(t, pl.IsPruned(1))
	require.False(t, pl.IsPruned(3))
	pl.Add(2)
	// Once both children of 3 are pruned, compaction raises the entry to 3.
	require.True(t, pl.IsPruned(3))
	require.Equal(t, 1, pl.Len())
}

func TestPruneListShiftsAreMonotone(t *testing.T) {
	pl := NewPruneList()
	pl.Add(1)
	pl.Add(2) // compacts to {3}
	pl.Add(4)

	var prevShift, prevLeafShift uint64
	for p := uint64(1); p <= 10; p++ {
		shift := pl.ShiftAt(p)
		leafShift := pl.LeafShiftAt(p)
		require.GreaterOrEqual(t, shift, prevShift)
		require.GreaterOrEqual(t, leafShift, prevLeafShift)
		prevShift, prevLeafShift = shift, leafShift
	}
}

func TestBitmapAccumulatorMinimal(t *testing.T) {
	// spec.md §8 scenario 1: apply(from=0, set=[0], last=1) produces a
	// root equal to hash_with_index(chunk0_with_bit0_set, 0) — a single
	// leaf MMR's root is just its one leaf hash.
	acc := NewBitmapAccumulator(NewMemBackend())
	err := acc.Apply(0, []uint64{0}, 1)
	require.NoError(t, err)

	var want BitmapChunk
	want.SetBit(0)

	root, err := acc.Root()
	require.NoError(t, err)
	require.Equal(t, want.Hash(), root)
}

func TestBitmapAccumulatorMultiChunk(t *testing.T) {
	// spec.md §8 scenario 1: setting bits [1, 1023] then [1, 1023, 1024]
	// produces distinct multi-chunk roots.
	acc1 := NewBitmapAccumulator(NewMemBackend())
	require.NoError(t, acc1.Apply(0, []uint64{1, 1023}, 1024))
	root1, err := acc1.Root()
	require.NoError(t, err)

	acc2 := NewBitmapAccumulator(NewMemBackend())
	require.NoError(t, acc2.Apply(0, []uint64{1, 1023, 1024}, 1025))
	root2, err := acc2.Root()
	require.NoError(t, err)

	require.NotEqual(t, root1, root2)
}

func TestBitmapAccumulatorRejectsGapSegments(t *testing.T) {
	acc := NewBitmapAccumulator(NewMemBackend())
	require.NoError(t, acc.Apply(0, []uint64{0}, 1))
	err := acc.Apply(5000, []uint64{5000}, 5001)
	require.ErrorIs(t, err, ErrInvalidSegment)
}
