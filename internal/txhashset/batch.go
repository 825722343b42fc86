package txhashset

import "github.com/rawblock/mwnode/internal/mmr"

// Batch is the transactional write handle spec.md §3 names alongside the
// three MMRs and the leaf_set: a caller accumulates MMR/leaf_set/bitmap
// mutations through an Extension and then calls Commit once to make them
// durable, or lets Extend's automatic Rollback discard them. Grounded on
// the teacher's single-writer poller loop (internal/mempool/poller.go in
// the pre-transform tree), which serialized all mutating work behind one
// goroutine rather than fine-grained per-record locking.
type Batch struct {
	set *TxHashSet
}

// NewBatch opens a batch. Intended for callers that need to apply more
// than one block atomically (e.g. chain.Reorg's rewind+replay); ordinary
// single-block application should prefer TxHashSet.Extend directly.
func (t *TxHashSet) NewBatch() *Batch {
	t.mu.Lock()
	return &Batch{set: t}
}

// Commit recomputes the BitmapAccumulator from the current leaf_set and
// releases the write lock. Called once after one or more ApplyBlock
// calls inside the same batch have all succeeded.
func (b *Batch) Commit() error {
	defer b.set.mu.Unlock()
	return rebuildBitmapAccumulator(b.set)
}

// Rollback discards the batch without recomputing the bitmap accumulator,
// releasing the write lock. The caller is responsible for having already
// rewound any MMRs/leaf_set mutations (normally via Extend's automatic
// rollback on error).
func (b *Batch) Rollback() {
	b.set.mu.Unlock()
}

// rebuildBitmapAccumulator reconstructs the committed output-unspent
// bitmap from the current leaf_set, the operation spec.md §4.1 describes
// as BitmapAccumulator.apply(0, leaf_set.bits(), output_mmr_size).
func rebuildBitmapAccumulator(t *TxHashSet) error {
	t.bitmapAcc = mmr.NewBitmapAccumulator(mmr.NewMemBackend())
	return t.bitmapAcc.Apply(0, t.leafSet.Bits(), t.outputPMMR.Size())
}

// BitmapRoot exposes the current BitmapAccumulator root for PIBD segment
// verification and status introspection.
func (t *TxHashSet) BitmapRoot() ([32]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, err := t.bitmapAcc.Root()
	return [32]byte(h), err
}
