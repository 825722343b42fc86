package txhashset

import (
	"bytes"

	"github.com/RoaringBitmap/roaring"
)

// LeafSet is a live Roaring bitmap of currently-unspent output leaf
// positions (spec.md §3: "a superset-distinct from the prune-list: a
// leaf can be spent but not yet structurally pruned"). Persisted as
// pmmr_leaf.bin, spec.md §6.
type LeafSet struct {
	bitmap *roaring.Bitmap
}

// NewLeafSet returns an empty leaf set.
func NewLeafSet() *LeafSet { return &LeafSet{bitmap: roaring.New()} }

// LoadLeafSet decodes a persisted Roaring-encoded leaf set.
func LoadLeafSet(serialized []byte) (*LeafSet, error) {
	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(serialized)); err != nil {
		return nil, err
	}
	return &LeafSet{bitmap: bm}, nil
}

// Serialize encodes the leaf set for persistence.
func (l *LeafSet) Serialize() ([]byte, error) { return l.bitmap.ToBytes() }

// Set marks output leaf position pos (MMR position, not leaf index) as
// unspent.
func (l *LeafSet) Set(pos uint64) { l.bitmap.Add(uint32(pos)) }

// Clear marks pos as spent.
func (l *LeafSet) Clear(pos uint64) { l.bitmap.Remove(uint32(pos)) }

// Contains reports whether pos is currently unspent.
func (l *LeafSet) Contains(pos uint64) bool { return l.bitmap.Contains(uint32(pos)) }

// Clone returns a deep copy, used by the Extension to snapshot the
// pre-image leaf_set before provisionally applying a block (spec.md
// §4.2 step 1).
func (l *LeafSet) Clone() *LeafSet { return &LeafSet{bitmap: l.bitmap.Clone()} }

// Bits returns the sorted set of currently-unspent leaf positions, used
// by BitmapAccumulator.Apply to rebuild the committed bitmap.
func (l *LeafSet) Bits() []uint64 {
	arr := l.bitmap.ToArray()
	out := make([]uint64, len(arr))
	for i, v := range arr {
		out[i] = uint64(v)
	}
	return out
}

// Len returns the count of unspent positions.
func (l *LeafSet) Len() int { return int(l.bitmap.GetCardinality()) }
