// Package chain implements component D of spec.md §4.4: the head
// pointer, header/block acceptance rules, the reorg engine, the reorg
// cache, and the PIBD segmenter/desegmenter. Grounded on
// original_source's chain/src/chain.rs and chain/src/pipe.rs for the
// acceptance/reorg control flow, expressed in the teacher's style of a
// single struct owning a store handle plus small composable step
// functions (mirrors the teacher's bitcoin.Client wrapping an RPC
// connection with retry/backoff helpers).
package chain

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/rawblock/mwnode/internal/config"
	"github.com/rawblock/mwnode/internal/consensuserr"
	"github.com/rawblock/mwnode/internal/crypto"
	"github.com/rawblock/mwnode/internal/txhashset"
	"github.com/rawblock/mwnode/internal/types"
	"github.com/rawblock/mwnode/internal/validate"
)

// orphanLRUSize bounds the headers kept around waiting for their parent
// to arrive, spec.md §3 "orphaned headers are retained in a bounded LRU
// until evicted".
const orphanLRUSize = 2048

// PoolAdapter is the small capability interface the chain calls back
// into on commit/reorg, spec.md §9 "Dynamic dispatch": a non-owning
// handle rather than the chain importing the pool package directly.
type PoolAdapter interface {
	Reconcile(block types.Block)
	NotifyOrphaned(blocks []types.Block)
}

// noopAdapter is used until a real pool is wired in by cmd/engine.
type noopAdapter struct{}

func (noopAdapter) Reconcile(types.Block)          {}
func (noopAdapter) NotifyOrphaned([]types.Block) {}

// storedBlock is the per-block bookkeeping the chain keeps so it can
// replay blocks for a reorg: the block's header and body.
type storedBlock struct {
	header types.Header
	body   types.TransactionBody
}

// Chain owns the TxHashSet, the header tree, and the current head
// pointer. One Chain per running node, per spec.md §5's single-writer
// discipline: all mutation goes through Chain.mu.
type Chain struct {
	mu sync.Mutex

	params config.ConsensusParams
	crypto crypto.Capability
	set    *txhashset.TxHashSet
	log    *zap.SugaredLogger

	adapter PoolAdapter

	// headersByHash indexes every accepted header, forming the DAG
	// spec.md §4.4 describes; headersByHeight keeps the canonical chain
	// for O(1) ancestor walks along the current best branch.
	headersByHash   map[crypto.Hash]types.Header
	blocksByHash    map[crypto.Hash]storedBlock
	headersByHeight map[uint64]crypto.Hash

	orphans *lru.Cache[crypto.Hash, types.Header]

	nrd *validate.NRDIndex

	head       types.Header
	headerHead types.Header

	reorgCache *reorgCache
}

// New constructs a Chain seeded with a genesis header/body (spec.md §6:
// "each chain type has a hardcoded genesis block committed into the
// binary").
func New(params config.ConsensusParams, cap crypto.Capability, genesis types.Block, adapter PoolAdapter, log *zap.SugaredLogger) (*Chain, error) {
	if adapter == nil {
		adapter = noopAdapter{}
	}
	orphans, err := lru.New[crypto.Hash, types.Header](orphanLRUSize)
	if err != nil {
		return nil, fmt.Errorf("chain: %w", err)
	}
	c := &Chain{
		params:          params,
		crypto:          cap,
		set:             txhashset.New(cap),
		log:             log,
		adapter:         adapter,
		headersByHash:   make(map[crypto.Hash]types.Header),
		blocksByHash:    make(map[crypto.Hash]storedBlock),
		headersByHeight: make(map[uint64]crypto.Hash),
		orphans:         orphans,
		nrd:             validate.NewNRDIndex(),
		reorgCache:      newReorgCache(time.Duration(params.ReorgCacheWindowSeconds) * time.Second),
	}

	if err := c.applyGenesis(genesis); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chain) applyGenesis(genesis types.Block) error {
	h := genesis.Header.Hash()
	if err := c.set.Extend(func(ext *txhashset.Extension) error {
		return ext.ApplyBlock(c.crypto, genesis.Header, genesis.Body, c.params.CoinbaseMaturity)
	}); err != nil {
		return fmt.Errorf("chain: applying genesis: %w", err)
	}
	batch := c.set.NewBatch()
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("chain: committing genesis: %w", err)
	}
	c.headersByHash[h] = genesis.Header
	c.blocksByHash[h] = storedBlock{header: genesis.Header, body: genesis.Body}
	c.headersByHeight[genesis.Header.Height] = h
	c.head = genesis.Header
	c.headerHead = genesis.Header
	return nil
}

// Head returns the current canonical tip header, the head() operation
// named in spec.md §6.
func (c *Chain) Head() types.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.head
}

// HeaderHead returns the tip of the (possibly ahead) header-only chain,
// the header_head() operation named in spec.md §6.
func (c *Chain) HeaderHead() types.Header {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.headerHead
}

// UTXOView exposes a read snapshot of the committed chain state.
func (c *Chain) UTXOView() *txhashset.UTXOView { return c.set.View() }

// GetHeader looks up a previously accepted header by hash.
func (c *Chain) GetHeader(h crypto.Hash) (types.Header, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	hdr, ok := c.headersByHash[h]
	return hdr, ok
}

// GetBlock looks up a previously accepted block body by header hash.
func (c *Chain) GetBlock(h crypto.Hash) (types.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.blocksByHash[h]
	if !ok {
		return types.Block{}, false
	}
	return types.Block{Header: b.header, Body: b.body}, true
}

// ProcessBlockHeader validates and indexes a standalone header, the
// process_block_header operation named in spec.md §6. Headers that
// extend a currently-unknown parent are parked in the orphan LRU and
// ErrOrphan is returned.
func (c *Chain) ProcessBlockHeader(h types.Header) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acceptHeaderLocked(h)
}

func (c *Chain) acceptHeaderLocked(h types.Header) error {
	prev, ok := c.headersByHash[h.PrevHash]
	if !ok {
		if h.PrevHash != crypto.ZeroHash {
			c.orphans.Add(h.Hash(), h)
			return consensuserr.ErrOrphan
		}
	}
	if err := ValidateHeader(h, prev, ok); err != nil {
		return err
	}
	hash := h.Hash()
	c.headersByHash[hash] = h
	headHash := c.headerHead.Hash()
	if h.TotalDifficulty > c.headerHead.TotalDifficulty ||
		(h.TotalDifficulty == c.headerHead.TotalDifficulty && bytes.Compare(hash[:], headHash[:]) < 0) {
		c.headerHead = h
	}
	return nil
}

// ValidateHeader checks the spec.md §4.4 header-acceptance rules against
// a known parent. hasParent is false only for the genesis header, whose
// prev_hash is the zero hash and which skips the parent-relative checks.
func ValidateHeader(h types.Header, prev types.Header, hasParent bool) error {
	if !hasParent {
		return nil
	}
	if !h.Timestamp.After(prev.Timestamp) {
		return consensuserr.ErrInvalidBlockTime
	}
	if h.Height != prev.Height+1 {
		return consensuserr.ErrInvalidBlockHeight
	}
	expectedDiff := NextDifficulty(prev)
	if h.TotalDifficulty != prev.TotalDifficulty+expectedDiff {
		return consensuserr.ErrWrongTotalDifficulty
	}
	if !VerifyPow(h) {
		return consensuserr.ErrInvalidPow
	}
	return nil
}

// NextDifficulty computes the per-block difficulty delta a header must
// add to total_difficulty. spec.md §4.4 names two real schedules (WTEMA
// post-HF4, DMA earlier); PoW/difficulty adjustment is explicitly an
// opaque external collaborator per spec.md §1, so this returns a fixed
// per-block increment, leaving the window/bounds logic as the pluggable
// seam a production deployment would replace.
func NextDifficulty(prev types.Header) uint64 {
	return 1
}

// VerifyPow is the opaque PoW verification hook spec.md §1 describes as
// "verify_pow(header) -> bool producing a difficulty". Delegated here so
// ValidateHeader has a single call site to swap in a real Cuckoo-cycle
// verifier without touching the acceptance control flow.
func VerifyPow(h types.Header) bool {
	return h.POW.EdgeBits > 0
}
