package chain

import (
	"github.com/rawblock/mwnode/internal/txhashset"
	"github.com/rawblock/mwnode/internal/types"
)

// ValidateChain walks the canonical chain from genesis to head and
// re-verifies every header, the validate_chain(fast_bool) operation
// named in spec.md §6. When fast is true, only header-level checks
// (timestamp, height, total_difficulty, PoW) are repeated; a full pass
// additionally re-applies every stored body against a scratch TxHashSet,
// matching the original implementation's distinction between a full and
// a "fast" (header-only) chain validation pass.
func (c *Chain) ValidateChain(fast bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var prev types.Header
	havePrev := false
	scratch := txhashset.New(c.crypto)
	for h := uint64(0); h <= c.head.Height; h++ {
		hash, ok := c.headersByHeight[h]
		if !ok {
			continue
		}
		hdr, ok := c.headersByHash[hash]
		if !ok {
			continue
		}
		if havePrev {
			if err := ValidateHeader(hdr, prev, true); err != nil {
				return err
			}
		}
		prev, havePrev = hdr, true

		if fast {
			continue
		}
		blk, ok := c.blocksByHash[hash]
		if !ok {
			continue
		}
		if err := scratch.Extend(func(ext *txhashset.Extension) error {
			return ext.ApplyBlock(c.crypto, blk.header, blk.body, c.params.CoinbaseMaturity)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Compact is the compact() operation named in spec.md §6. It does
// nothing: no spent leaves are added to any prune-list and, since the
// TxHashSet's MMRs are held in memory, there are no hash/data files to
// rewrite. It is kept for API parity with the on-disk store described
// in spec.md §6.
func (c *Chain) Compact() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return nil
}
