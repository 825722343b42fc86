package mmr

import (
	"fmt"

	"github.com/rawblock/mwnode/internal/crypto"
)

// Backend is the append-only node-hash storage an MMR is built over,
// indexed by 1-based position. MemBackend, an in-memory slice, is the
// only implementation; internal/txhashset and the tests both use it.
type Backend interface {
	// GetHash returns the node hash at 1-based position pos.
	GetHash(pos uint64) (crypto.Hash, bool)
	// AppendHash appends a node hash, returning its 1-based position.
	AppendHash(h crypto.Hash) uint64
	// Size returns the current MMR size (last_pos).
	Size() uint64
	// Truncate drops all nodes with position > lastPos, for rewind.
	Truncate(lastPos uint64)
}

// MemBackend is an in-memory Backend, used by tests and by every MMR the
// txhashset holds.
type MemBackend struct {
	hashes []crypto.Hash // index 0 == position 1
}

func NewMemBackend() *MemBackend { return &MemBackend{} }

func (m *MemBackend) GetHash(pos uint64) (crypto.Hash, bool) {
	if pos == 0 || pos > uint64(len(m.hashes)) {
		return crypto.Hash{}, false
	}
	return m.hashes[pos-1], true
}

func (m *MemBackend) AppendHash(h crypto.Hash) uint64 {
	m.hashes = append(m.hashes, h)
	return uint64(len(m.hashes))
}

func (m *MemBackend) Size() uint64 { return uint64(len(m.hashes)) }

func (m *MemBackend) Truncate(lastPos uint64) {
	if lastPos < uint64(len(m.hashes)) {
		m.hashes = m.hashes[:lastPos]
	}
}

// PMMR is a persistent Merkle Mountain Range over a Backend. Of the
// operations spec.md §3 lists it implements append, get_hash, peaks, root
// and rewind; it has no get_data or remove. Leaf data lives in the
// caller's parallel map (txhashset's OutputData) and spent leaves are
// tracked in txhashset's LeafSet, since the MMR proper only owns hashes.
type PMMR struct {
	backend Backend
}

// New wraps backend as a PMMR.
func New(backend Backend) *PMMR { return &PMMR{backend: backend} }

// Size returns last_pos, the current MMR size.
func (p *PMMR) Size() uint64 { return p.backend.Size() }

// GetHash returns the hash at position pos.
func (p *PMMR) GetHash(pos uint64) (crypto.Hash, bool) { return p.backend.GetHash(pos) }

// Peaks returns the current peak positions, descending by height.
func (p *PMMR) Peaks() []uint64 { return peaks(p.backend.Size()) }

// hashWithPos salts a node hash with its 1-based position, the
// consensus-critical construction spec.md §4.1 requires for every
// interior and bagging hash.
func hashWithPos(pos uint64, parts ...[]byte) crypto.Hash {
	posBytes := posToBytes(pos)
	return crypto.HashWritten(append([][]byte{posBytes}, parts...)...)
}

func posToBytes(pos uint64) []byte {
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(pos)
		pos >>= 8
	}
	return b[:]
}

// Append writes a new leaf, cascading merges upward with completed
// sibling subtrees, and returns the new last_pos (spec.md §4.1).
func (p *PMMR) Append(leafHash crypto.Hash) uint64 {
	pos := p.backend.AppendHash(leafHash)
	height := uint64(0)
	for bintreePostorderHeight(pos+1) > height {
		leftPos := pos - (uint64(2) << height) + 1
		rightPos := pos
		left, _ := p.backend.GetHash(leftPos)
		right, _ := p.backend.GetHash(rightPos)
		parentPos := pos + 1
		merged := hashWithPos(parentPos, left[:], right[:])
		pos = p.backend.AppendHash(merged)
		height++
	}
	return pos
}

// Root computes the MMR root by bagging peaks right-to-left with the
// size+1 salt (spec.md §4.1: "this right-associative bagging with the
// size+1 salt is consensus-critical").
func (p *PMMR) Root() (crypto.Hash, error) {
	size := p.backend.Size()
	pks := peaks(size)
	if len(pks) == 0 {
		if size == 0 {
			return crypto.Hash{}, nil
		}
		return crypto.Hash{}, fmt.Errorf("mmr: invalid size %d has no peaks", size)
	}
	hashes := make([]crypto.Hash, len(pks))
	for i, pos := range pks {
		h, ok := p.backend.GetHash(pos)
		if !ok {
			return crypto.Hash{}, fmt.Errorf("mmr: missing peak hash at pos %d", pos)
		}
		hashes[i] = h
	}
	bag := hashes[len(hashes)-1]
	for i := len(hashes) - 2; i >= 0; i-- {
		bag = hashWithPos(size+1, hashes[i][:], bag[:])
	}
	return bag, nil
}

// Rewind truncates the backend back to lastPos, discarding everything
// appended after it. This is the primitive the txhashset Extension uses
// to undo a failed block application (spec.md §4.2, §7).
func (p *PMMR) Rewind(lastPos uint64) {
	p.backend.Truncate(lastPos)
}

// ValidateRoots returns the root of the MMR already held in backend,
// exposed for the round-trip property in spec.md §8 ("root() depends
// only on the current multiset of leaves and their positions, not on the
// compaction history").
func ValidateRoots(backend Backend) (crypto.Hash, error) {
	return New(backend).Root()
}
