package mmr

import (
	"fmt"

	"github.com/rawblock/mwnode/internal/crypto"
)

// ChunkBits is the width of a single BitmapAccumulator leaf chunk,
// spec.md §3/§4.1: "a secondary MMR over 1024-bit chunks".
const ChunkBits = 1024

// BitmapChunk is one 1024-bit chunk of the output-unspent bitmap. Pulled
// out as its own type per SPEC_FULL's supplemented "chunk-level bitmap
// math" (grounded on original_source's core/src/core/pmmr/chunk.rs).
type BitmapChunk [ChunkBits / 8]byte

// SetBit sets bit i (0 <= i < ChunkBits) within the chunk.
func (c *BitmapChunk) SetBit(i int) {
	c[i/8] |= 1 << uint(i%8)
}

// Hash returns the chunk's leaf hash, consumed directly as an MMR leaf.
func (c BitmapChunk) Hash() crypto.Hash {
	return crypto.HashWritten(c[:])
}

// BitmapAccumulator is an MMR whose leaves are BitmapChunks, committing
// to the output-unspent bitmap (spec.md §3/§4.1 "BitmapAccumulator").
type BitmapAccumulator struct {
	mmr     *PMMR
	lastIdx uint64 // highest bit index covered; meaningful only when hasData
	hasData bool
}

// NewBitmapAccumulator returns an empty accumulator backed by backend.
func NewBitmapAccumulator(backend Backend) *BitmapAccumulator {
	return &BitmapAccumulator{mmr: New(backend)}
}

// ErrInvalidSegment is returned when Apply is asked to skip past
// unpopulated chunks (spec.md §4.1: "Fails with InvalidSegment if
// from_idx > last_idx+1").
var ErrInvalidSegment = fmt.Errorf("mmr: invalid segment: from_idx beyond populated range")

// Apply rebuilds chunks from chunk index from_idx/1024 onward using the
// bits set in setIdxs, padding with zero chunks up to the new rightmost
// chunk covering lastIdx, and appends the result to the internal MMR.
// Matches spec.md §4.1's BitmapAccumulator.apply(from_idx, set_idxs,
// last_idx+1) exactly, including the InvalidSegment failure mode and the
// concrete scenarios in spec.md §8.
func (b *BitmapAccumulator) Apply(fromIdx uint64, setIdxs []uint64, lastIdxExclusive uint64) error {
	if b.hasData && fromIdx > b.lastIdx+1 {
		return ErrInvalidSegment
	}
	fromChunk := fromIdx / ChunkBits
	lastChunk := uint64(0)
	if lastIdxExclusive > 0 {
		lastChunk = (lastIdxExclusive - 1) / ChunkBits
	}

	b.mmr.Rewind(sizeForLeaves(fromChunk))

	bitsByChunk := make(map[uint64][]int)
	for _, idx := range setIdxs {
		chunk := idx / ChunkBits
		bitsByChunk[chunk] = append(bitsByChunk[chunk], int(idx%ChunkBits))
	}

	for chunkIdx := fromChunk; chunkIdx <= lastChunk; chunkIdx++ {
		var chunk BitmapChunk
		for _, bit := range bitsByChunk[chunkIdx] {
			chunk.SetBit(bit)
		}
		b.mmr.Append(chunk.Hash())
	}

	if lastIdxExclusive > 0 {
		b.lastIdx = lastIdxExclusive - 1
		b.hasData = true
	}
	return nil
}

// Root returns the bagged root of the internal chunk MMR.
func (b *BitmapAccumulator) Root() (crypto.Hash, error) {
	return b.mmr.Root()
}
