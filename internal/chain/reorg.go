package chain

import (
	"fmt"
	"sync"
	"time"

	"github.com/rawblock/mwnode/internal/consensuserr"
	"github.com/rawblock/mwnode/internal/crypto"
	"github.com/rawblock/mwnode/internal/txhashset"
	"github.com/rawblock/mwnode/internal/types"
	"github.com/rawblock/mwnode/internal/validate"
)

// ProcessBlock validates a block's header (if not already known) and
// applies its body, the process_block operation named in spec.md §6.
// If the block extends the current head it commits directly; if it
// builds a fork whose total_difficulty exceeds the current tip's, it
// triggers a reorg (spec.md §4.4 "Block acceptance").
func (c *Chain) ProcessBlock(block types.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	hash := block.Header.Hash()
	if _, known := c.blocksByHash[hash]; known {
		return &consensuserr.UnfitError{Reason: "block already known"}
	}

	if _, ok := c.headersByHash[hash]; !ok {
		if err := c.acceptHeaderLocked(block.Header); err != nil {
			return err
		}
	}

	if block.Header.PrevHash == c.head.Hash() {
		return c.commitBlockLocked(block)
	}

	if block.Header.TotalDifficulty > c.head.TotalDifficulty {
		return c.reorgToLocked(block)
	}

	// Builds a fork that isn't (yet) the best: store the header/body so
	// it's available for a future reorg, but don't touch the committed
	// TxHashSet.
	c.blocksByHash[hash] = storedBlock{header: block.Header, body: block.Body}
	return nil
}

func (c *Chain) commitBlockLocked(block types.Block) error {
	for _, k := range block.Body.Kernels {
		if k.Features != types.KernelNoRecentDuplicate {
			continue
		}
		if err := c.nrd.Peek(k.Excess, k.RelativeHeight, block.Header.Height); err != nil {
			return err
		}
	}
	if err := c.set.Extend(func(ext *txhashset.Extension) error {
		return ext.ApplyBlock(c.crypto, block.Header, block.Body, c.params.CoinbaseMaturity)
	}); err != nil {
		return err
	}
	batch := c.set.NewBatch()
	if err := batch.Commit(); err != nil {
		return err
	}

	if err := c.recordNRDKernelsLocked(block); err != nil {
		// Every NRD kernel already passed Peek against the index before
		// ApplyBlock; a violation here means two NRD kernels within this
		// block share an excess. Surface it as an operational error
		// rather than silently skipping.
		return fmt.Errorf("%w: %v", consensuserr.ErrStoreErr, err)
	}

	hash := block.Header.Hash()
	c.blocksByHash[hash] = storedBlock{header: block.Header, body: block.Body}
	c.headersByHeight[block.Header.Height] = hash
	c.head = block.Header
	if block.Header.TotalDifficulty > c.headerHead.TotalDifficulty {
		c.headerHead = block.Header
	}
	c.reorgCache.record(block, time.Now())
	c.adapter.Reconcile(block)
	if c.log != nil {
		c.log.Infof("[Chain] committed block height=%d hash=%s", block.Header.Height, hash)
	}
	return nil
}

func (c *Chain) recordNRDKernelsLocked(block types.Block) error {
	for _, k := range block.Body.Kernels {
		if k.Features != types.KernelNoRecentDuplicate {
			continue
		}
		if err := c.nrd.CheckAndRecord(k.Excess, k.RelativeHeight, block.Header.Height); err != nil {
			return err
		}
	}
	return nil
}

// reorgToLocked finds the fork point between the current head and
// block's ancestry, rewinds the TxHashSet to that point, and replays the
// forked chain's blocks in order (spec.md §4.4 "Reorg").
func (c *Chain) reorgToLocked(tip types.Block) error {
	forkHeader, ok := c.headersByHash[tip.Header.PrevHash]
	if !ok {
		c.orphans.Add(tip.Header.Hash(), tip.Header)
		return consensuserr.ErrOrphan
	}

	// Walk from tip back to the ancestor that is also on the current
	// best chain (i.e. present in headersByHeight at its own height).
	forkChain := []types.Block{tip}
	cursor := forkHeader
	for {
		if onChain, ok2 := c.headersByHeight[cursor.Height]; ok2 && onChain == cursor.Hash() {
			break
		}
		blk, ok2 := c.blocksByHash[cursor.Hash()]
		if !ok2 {
			return fmt.Errorf("%w: missing body for fork ancestor at height %d", consensuserr.ErrStoreErr, cursor.Height)
		}
		forkChain = append([]types.Block{{Header: blk.header, Body: blk.body}}, forkChain...)
		parent, ok2 := c.headersByHash[cursor.PrevHash]
		if !ok2 {
			return fmt.Errorf("%w: incomplete fork ancestry", consensuserr.ErrStoreErr)
		}
		cursor = parent
	}
	forkPoint := cursor

	orphaned := c.collectOrphanedLocked(forkPoint.Height)

	if err := c.rewindAndReplayLocked(forkPoint, forkChain); err != nil {
		// Reorg failed: the replay ran in a separate TxHashSet that is
		// simply dropped, so c.set and the old head are untouched and
		// nothing needs restoring.
		return err
	}

	c.adapter.NotifyOrphaned(orphaned)
	if c.log != nil {
		c.log.Infof("[Chain] reorg complete new_head_height=%d fork_point_height=%d", c.head.Height, forkPoint.Height)
	}
	return nil
}

// collectOrphanedLocked gathers the bodies of every block currently on
// the canonical chain above forkHeight, for the pool notification
// spec.md §4.4 describes.
func (c *Chain) collectOrphanedLocked(forkHeight uint64) []types.Block {
	var orphaned []types.Block
	for h := forkHeight + 1; h <= c.head.Height; h++ {
		hash, ok := c.headersByHeight[h]
		if !ok {
			continue
		}
		blk, ok := c.blocksByHash[hash]
		if !ok {
			continue
		}
		orphaned = append(orphaned, types.Block{Header: blk.header, Body: blk.body})
	}
	return orphaned
}

// rewindAndReplayLocked is the rewind-then-replay core of a reorg: it
// re-applies genesis-through-fork-point plus the new fork's blocks into
// a fresh TxHashSet, and only swaps it in on full success, preserving
// the "abort and retain the old head" behavior spec.md §4.4 requires.
func (c *Chain) rewindAndReplayLocked(forkPoint types.Header, forkChain []types.Block) error {
	replacement := txhashset.New(c.crypto)
	nrd := validate.NewNRDIndex()

	replay := func(b types.Block) error {
		if err := replacement.Extend(func(ext *txhashset.Extension) error {
			return ext.ApplyBlock(c.crypto, b.Header, b.Body, c.params.CoinbaseMaturity)
		}); err != nil {
			return err
		}
		for _, k := range b.Body.Kernels {
			if k.Features != types.KernelNoRecentDuplicate {
				continue
			}
			if err := nrd.CheckAndRecord(k.Excess, k.RelativeHeight, b.Header.Height); err != nil {
				return err
			}
		}
		return nil
	}

	for h := uint64(0); h <= forkPoint.Height; h++ {
		hash, ok := c.headersByHeight[h]
		if !ok {
			return fmt.Errorf("%w: missing canonical header at height %d", consensuserr.ErrStoreErr, h)
		}
		blk, ok := c.blocksByHash[hash]
		if !ok {
			return fmt.Errorf("%w: missing canonical body at height %d", consensuserr.ErrStoreErr, h)
		}
		if err := replay(types.Block{Header: blk.header, Body: blk.body}); err != nil {
			return fmt.Errorf("%w: replaying canonical history: %v", consensuserr.ErrStoreErr, err)
		}
	}

	for _, b := range forkChain {
		if err := replay(b); err != nil {
			return err
		}
	}

	batch := replacement.NewBatch()
	if err := batch.Commit(); err != nil {
		return err
	}

	c.set = replacement
	c.nrd = nrd
	for _, b := range forkChain {
		hash := b.Header.Hash()
		c.blocksByHash[hash] = storedBlock{header: b.Header, body: b.Body}
		c.headersByHeight[b.Header.Height] = hash
		c.reorgCache.record(b, time.Now())
	}
	c.head = forkChain[len(forkChain)-1].Header
	if c.head.TotalDifficulty > c.headerHead.TotalDifficulty {
		c.headerHead = c.head
	}
	return nil
}

// ResetChainHead forcibly moves the head pointer to a previously
// accepted header, the reset_chain_head(hash) operation named in
// spec.md §6 (operator/recovery tooling, not part of normal consensus).
func (c *Chain) ResetChainHead(hash crypto.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	hdr, ok := c.headersByHash[hash]
	if !ok {
		return consensuserr.ErrOutputNotFound
	}
	c.head = hdr
	return nil
}

// InvalidateHeader removes a header and its descendants from the known
// set, the invalidate_header(hash) operation named in spec.md §6.
func (c *Chain) InvalidateHeader(hash crypto.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.headersByHash[hash]; !ok {
		return consensuserr.ErrOutputNotFound
	}
	doomed := map[crypto.Hash]bool{hash: true}
	for grew := true; grew; {
		grew = false
		for h, hdr := range c.headersByHash {
			if !doomed[h] && doomed[hdr.PrevHash] {
				doomed[h] = true
				grew = true
			}
		}
	}
	for h := range doomed {
		delete(c.headersByHash, h)
		delete(c.blocksByHash, h)
	}
	return nil
}

// reorgCache retains recently confirmed transactions so a reorg can
// replay the ones still valid under the new tip, spec.md §3/§4.4
// "Reorg-cache".
type reorgCache struct {
	mu      sync.Mutex
	window  time.Duration
	entries []reorgCacheEntry
}

type reorgCacheEntry struct {
	tx          types.Transaction
	confirmedAt time.Time
}

func newReorgCache(window time.Duration) *reorgCache {
	return &reorgCache{window: window}
}

func (r *reorgCache) record(block types.Block, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked(now)
	if len(block.Body.Kernels) == 0 {
		return
	}
	r.entries = append(r.entries, reorgCacheEntry{
		tx:          types.Transaction{Body: block.Body},
		confirmedAt: now,
	})
}

func (r *reorgCache) expireLocked(now time.Time) {
	cutoff := now.Add(-r.window)
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.confirmedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	r.entries = kept
}

// Eligible returns every cached transaction confirmed after cutoff,
// used after a reorg to repopulate the pool (spec.md §4.4 "Reorg-cache").
func (r *reorgCache) Eligible(now time.Time) []types.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expireLocked(now)
	out := make([]types.Transaction, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.tx
	}
	return out
}
