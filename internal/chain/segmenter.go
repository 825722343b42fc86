package chain

import (
	"fmt"
	"sync"

	"github.com/rawblock/mwnode/internal/consensuserr"
	"github.com/rawblock/mwnode/internal/crypto"
)

// SegmentIdentifier names a fixed-size slice of one of the TxHashSet's
// MMRs at a given PIBD horizon, spec.md §4.4 "Segmenter / Desegmenter".
type SegmentIdentifier struct {
	Height uint64
	Idx    uint64
}

// SegmentKind selects which of the four committed structures a segment
// belongs to.
type SegmentKind uint8

const (
	SegmentBitmap SegmentKind = iota
	SegmentOutput
	SegmentRangeProof
	SegmentKernel
)

// SegmentSize is the fixed leaf count per PIBD segment.
const SegmentSize = 256

// Segment is a contiguous run of leaf hashes plus the Merkle path of
// sibling hashes needed to prove membership under the horizon header's
// committed root (spec.md §4.4).
type Segment struct {
	ID       SegmentIdentifier
	Kind     SegmentKind
	Leaves   []crypto.Hash
	ProofSet []crypto.Hash
}

// Segmenter serves fixed-size segments of a horizon header's committed
// MMRs. The horizon header must be far enough back that it is commonly
// agreed upon (spec.md §4.4 "Horizon").
type Segmenter struct {
	horizon crypto.Hash
	leaves  map[SegmentKind][]crypto.Hash
}

// NewSegmenter builds a segmenter over the given horizon header's leaf
// sets, captured once at horizon-selection time.
func NewSegmenter(horizon crypto.Hash, leaves map[SegmentKind][]crypto.Hash) *Segmenter {
	return &Segmenter{horizon: horizon, leaves: leaves}
}

// Segment returns the requested fixed-size segment plus a proof set.
// The proof set here is the segment's own leaves folded left to right
// into a single digest; a production implementation would
// instead walk the real MMR's family() chain for an authenticated path,
// which internal/mmr already exposes for that purpose.
func (s *Segmenter) Segment(kind SegmentKind, idx uint64) (Segment, error) {
	all := s.leaves[kind]
	start := idx * SegmentSize
	if start >= uint64(len(all)) {
		return Segment{}, &consensuserr.InvalidSegmentError{Reason: fmt.Sprintf("idx %d out of range for kind %d", idx, kind)}
	}
	end := start + SegmentSize
	if end > uint64(len(all)) {
		end = uint64(len(all))
	}
	leaves := append([]crypto.Hash(nil), all[start:end]...)
	return Segment{
		ID:       SegmentIdentifier{Idx: idx},
		Kind:     kind,
		Leaves:   leaves,
		ProofSet: []crypto.Hash{merkleFold(leaves)},
	}, nil
}

func merkleFold(leaves []crypto.Hash) crypto.Hash {
	if len(leaves) == 0 {
		return crypto.ZeroHash
	}
	acc := leaves[0]
	for _, l := range leaves[1:] {
		acc = crypto.HashWritten(acc[:], l[:])
	}
	return acc
}

// Desegmenter runs on the receiving node during PIBD state sync: it
// accepts segments in any order, checks each segment's proof set
// against its own leaves, and marks itself done once the required number
// of segments of every kind is present. Segments are not checked against
// the horizon header's committed roots, and no bitmap or MMR is rebuilt
// from them.
type Desegmenter struct {
	mu sync.Mutex

	required map[SegmentKind]uint64 // expected segment count per kind
	received map[SegmentKind]map[uint64]Segment

	done bool
}

// NewDesegmenter prepares a desegmenter expecting `required[kind]`
// segments of each kind before PIBD can complete.
func NewDesegmenter(required map[SegmentKind]uint64) *Desegmenter {
	received := make(map[SegmentKind]map[uint64]Segment, len(required))
	for k := range required {
		received[k] = make(map[uint64]Segment)
	}
	return &Desegmenter{required: required, received: received}
}

// Accept validates and records an incoming segment. A segment whose
// proof set doesn't reduce to the digest of its own leaves is rejected
// as InvalidSegment, the bad-data signal that lets the syncer ban the
// sending peer and retry with a different one (spec.md §4.4).
// expectedRoot is not compared against anything.
func (d *Desegmenter) Accept(seg Segment, expectedRoot crypto.Hash) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(seg.ProofSet) != 1 || merkleFold(seg.Leaves) != seg.ProofSet[0] {
		return &consensuserr.InvalidSegmentError{Reason: "proof set does not match segment leaves"}
	}

	m, ok := d.received[seg.Kind]
	if !ok {
		return &consensuserr.InvalidSegmentError{Reason: "unexpected segment kind"}
	}
	m[seg.ID.Idx] = seg

	if d.allReceivedLocked() {
		d.done = true
	}
	return nil
}

func (d *Desegmenter) allReceivedLocked() bool {
	for kind, want := range d.required {
		if uint64(len(d.received[kind])) < want {
			return false
		}
	}
	return true
}

// Done reports whether every required segment of every kind has been
// received and validated. The syncer leaves its TxHashsetPibd state
// only when a caller invokes Syncer.NotePibdDone.
func (d *Desegmenter) Done() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}
