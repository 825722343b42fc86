// Package pool implements component E of spec.md §4.5: the
// stempool/txpool split, Dandelion++ epoch management, NRD relative-
// height enforcement against both the chain index and in-flight pool
// entries, and the reorg-cache replay path. Grounded on
// original_source's pool/src/pool.rs add_to_pool protocol, expressed in
// the teacher's single-writer-mutex style (the teacher's poller.go
// serializes all mutating work behind one goroutine; here a single
// sync.Mutex plays the same role per spec.md §5 "pool uses a single
// write lock guarding both sub-pools and the reorg cache").
package pool

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rawblock/mwnode/internal/config"
	"github.com/rawblock/mwnode/internal/consensuserr"
	"github.com/rawblock/mwnode/internal/crypto"
	"github.com/rawblock/mwnode/internal/txhashset"
	"github.com/rawblock/mwnode/internal/types"
	"github.com/rawblock/mwnode/internal/validate"
)

// Source identifies where a submitted transaction came from, echoing
// spec.md §4.5's add_to_pool(src, tx, stem, current_header) signature.
type Source struct {
	PeerAddr string
}

// PoolEntry is {src, tx_at, tx}, spec.md §3.
type PoolEntry struct {
	ID    uuid.UUID
	Src   Source
	TxAt  time.Time
	Tx    types.Transaction
	Stem  bool
	// EmbargoDeadline is when an in-flight stem entry gets fluffed
	// locally for liveness (spec.md §4.5 "Dandelion stem progression").
	EmbargoDeadline time.Time
}

// Adapter is the broadcast hook spec.md §4.5 step 8 calls "tx_accepted"
// / "stem_tx_accepted", modeled per spec.md §9 "Dynamic dispatch" as a
// small capability interface rather than a concrete transport type.
type Adapter interface {
	TxAccepted(tx types.Transaction)
	StemTxAccepted(tx types.Transaction)
}

type noopAdapter struct{}

func (noopAdapter) TxAccepted(types.Transaction)     {}
func (noopAdapter) StemTxAccepted(types.Transaction) {}

// Pool holds the stempool and txpool queues plus the Dandelion epoch
// state (spec.md §4.5).
type Pool struct {
	mu sync.Mutex

	params  config.ConsensusParams
	crypto  crypto.Capability
	adapter Adapter

	stempool []PoolEntry
	txpool   []PoolEntry

	nrdInFlight map[crypto.Commitment]struct{}

	chainView ViewProvider

	epochStart time.Time
	isStem     bool
	rng        *rand.Rand
}

// New constructs an empty pool. view is re-fetched from the chain on
// every add/reconcile call rather than stored, since the UTXOView must
// always reflect the current committed head.
func New(params config.ConsensusParams, cap crypto.Capability, adapter Adapter) *Pool {
	if adapter == nil {
		adapter = noopAdapter{}
	}
	p := &Pool{
		params:      params,
		crypto:      cap,
		adapter:     adapter,
		nrdInFlight: make(map[crypto.Commitment]struct{}),
		rng:         rand.New(rand.NewSource(1)),
	}
	p.rollEpochLocked(time.Now())
	return p
}

// rollEpochLocked decides, with probability DandelionStemProbability
// percent, whether
// this node acts as a stem relay for the upcoming epoch (spec.md §4.5).
func (p *Pool) rollEpochLocked(now time.Time) {
	p.epochStart = now
	p.isStem = p.rng.Intn(100) < p.params.DandelionStemProbability
}

// maybeRollEpoch transitions the Dandelion epoch if its duration has
// elapsed, called at the top of AddToPool so epoch state is always
// current without a separate background goroutine (in keeping with
// spec.md §5's synchronous, non-cooperative-scheduler consensus core).
func (p *Pool) maybeRollEpoch(now time.Time) {
	if now.Sub(p.epochStart) >= time.Duration(p.params.DandelionEpochSeconds)*time.Second {
		p.rollEpochLocked(now)
	}
}

// AddToPool implements spec.md §4.5's add_to_pool(src, tx, stem,
// current_header) protocol end to end.
func (p *Pool) AddToPool(src Source, tx types.Transaction, stem bool, view *txhashset.UTXOView, nrdChain *validate.NRDIndex, currentHeight uint64, now time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.maybeRollEpoch(now)

	// Step 1: read-validate.
	if err := validate.ReadValidate(tx, p.params.MaxBlockWeight); err != nil {
		return err
	}

	// Step 2: exact-kernel-set duplicate check.
	if p.findByKernelsLocked(tx) != nil {
		return consensuserr.ErrDuplicateTx
	}

	// Step 3: aggregate with existing entries bound for the same
	// destination queue, then cut-through.
	dest := p.txpool
	if stem {
		dest = p.stempool
	}
	aggInputs, aggOutputs, aggKernels := tx.Body.Inputs, tx.Body.Outputs, tx.Body.Kernels
	for _, e := range dest {
		aggInputs = append(aggInputs, e.Tx.Body.Inputs...)
		aggOutputs = append(aggOutputs, e.Tx.Body.Outputs...)
		aggKernels = append(aggKernels, e.Tx.Body.Kernels...)
	}
	aggInputs, aggOutputs = types.CutThrough(aggInputs, aggOutputs)
	aggBody := types.TransactionBody{Inputs: aggInputs, Outputs: aggOutputs, Kernels: aggKernels}
	aggBody.SortBody()
	if !aggBody.IsSortedUnique() {
		return &consensuserr.DuplicateCommitmentError{}
	}

	// Step 4: validate the new tx itself against the chain's UTXOView.
	if err := validate.ValidateTransaction(p.crypto, view, tx, currentHeight, p.params.MaxBlockWeight); err != nil {
		return err
	}

	// Step 5: NRD enforcement, both against the chain's excess index and
	// any NRD kernel already in flight in either sub-pool.
	for _, k := range tx.Body.Kernels {
		if k.Features != types.KernelNoRecentDuplicate {
			continue
		}
		if !p.params.NRDEnabled {
			return consensuserr.ErrNRDKernelNotEnabled
		}
		if currentHeight < p.params.NRDActivationHeight {
			return consensuserr.ErrNRDKernelPreHF3
		}
		if _, inFlight := p.nrdInFlight[k.Excess]; inFlight {
			return consensuserr.ErrNRDRelativeHeight
		}
		if nrdChain != nil {
			// Peek without recording: a failed add must not mutate the
			// chain-level index.
			if err := nrdChain.Peek(k.Excess, k.RelativeHeight, currentHeight); err != nil {
				return err
			}
		}
	}

	// Step 6: capacity caps.
	maxSize := p.params.MaxBlockWeight // pool caps default to the per-block weight cap absent a dedicated config field
	if stem {
		if uint64(len(p.stempool)) >= maxSize {
			return consensuserr.ErrOverCapacity
		}
	} else if uint64(len(p.txpool)) >= maxSize {
		return consensuserr.ErrOverCapacity
	}

	// Step 7: insert, promoting stem->fluff if this epoch fluffs.
	entry := PoolEntry{ID: uuid.New(), Src: src, TxAt: now, Tx: tx, Stem: stem}
	effectiveStem := stem && p.isStem
	if effectiveStem {
		entry.EmbargoDeadline = now.Add(time.Duration(p.params.DandelionEmbargoSeconds) * time.Second)
		p.stempool = append(p.stempool, entry)
		for _, k := range tx.Body.Kernels {
			if k.Features == types.KernelNoRecentDuplicate {
				p.nrdInFlight[k.Excess] = struct{}{}
			}
		}
		p.adapter.StemTxAccepted(tx)
	} else {
		p.txpool = append(p.txpool, entry)
		for _, k := range tx.Body.Kernels {
			if k.Features == types.KernelNoRecentDuplicate {
				p.nrdInFlight[k.Excess] = struct{}{}
			}
		}
		p.adapter.TxAccepted(tx)
	}
	return nil
}

func (p *Pool) findByKernelsLocked(tx types.Transaction) *PoolEntry {
	for _, pools := range [][]PoolEntry{p.stempool, p.txpool} {
		for i := range pools {
			if sameKernels(pools[i].Tx.Body.Kernels, tx.Body.Kernels) {
				return &pools[i]
			}
		}
	}
	return nil
}

func sameKernels(a, b []types.TxKernel) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Excess != b[i].Excess {
			return false
		}
	}
	return true
}

// TotalSize returns the combined stempool+txpool entry count.
func (p *Pool) TotalSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stempool) + len(p.txpool)
}

// StempoolSize and TxpoolSize expose the two sub-queue sizes.
func (p *Pool) StempoolSize() int { p.mu.Lock(); defer p.mu.Unlock(); return len(p.stempool) }
func (p *Pool) TxpoolSize() int   { p.mu.Lock(); defer p.mu.Unlock(); return len(p.txpool) }

// ViewProvider is the borrowed, non-owning capability handle the pool
// uses to reconcile against chain state without importing internal/chain
// (spec.md §9 "weak/back references" -> explicit borrowed capability
// handles instead of an ownership cycle). *chain.Chain satisfies this
// interface structurally; cmd/engine wires it in once both are built.
type ViewProvider interface {
	UTXOView() *txhashset.UTXOView
	Head() types.Header
}

// AttachChain sets the chain handle Reconcile/NotifyOrphaned use. Pool
// and Chain are constructed independently, so this is wired once during
// startup rather than threaded through New.
func (p *Pool) AttachChain(cv ViewProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chainView = cv
}

// Reconcile implements spec.md §4.5's reconcile_block: on block commit,
// remove every pool entry whose kernels are now on-chain, then
// re-validate survivors against the new UTXOView since their inputs may
// have become invalid (e.g. double-spent by the committed block).
func (p *Pool) Reconcile(block types.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()

	onChain := make(map[crypto.Commitment]struct{}, len(block.Body.Kernels))
	for _, k := range block.Body.Kernels {
		onChain[k.Excess] = struct{}{}
	}
	confirmed := func(tx types.Transaction) bool {
		for _, k := range tx.Body.Kernels {
			if _, ok := onChain[k.Excess]; ok {
				return true
			}
		}
		return false
	}
	p.stempool = dropConfirmedLocked(p.stempool, confirmed)
	p.txpool = dropConfirmedLocked(p.txpool, confirmed)

	if p.chainView == nil {
		return
	}
	view := p.chainView.UTXOView()
	height := p.chainView.Head().Height
	p.stempool = p.revalidateLocked(p.stempool, view, height)
	p.txpool = p.revalidateLocked(p.txpool, view, height)
}

func dropConfirmedLocked(entries []PoolEntry, confirmed func(types.Transaction) bool) []PoolEntry {
	kept := entries[:0]
	for _, e := range entries {
		if !confirmed(e.Tx) {
			kept = append(kept, e)
		}
	}
	return kept
}

func (p *Pool) revalidateLocked(entries []PoolEntry, view *txhashset.UTXOView, height uint64) []PoolEntry {
	kept := entries[:0]
	for _, e := range entries {
		if err := validate.ValidateTransaction(p.crypto, view, e.Tx, height, p.params.MaxBlockWeight); err != nil {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

// NotifyOrphaned implements the reorg half of spec.md §4.4: every
// pool-resident entry is first eagerly re-validated against the
// post-reorg UTXOView (spec.md §9 "Open questions" resolves the
// embargo/reorg interaction this way rather than waiting out the
// embargo timer on a now-invalid stem tx), then each orphaned block's
// body is replayed as a candidate fluff submission so still-valid
// transactions repopulate the txpool, the "recover from the reorg
// cache" behavior spec.md §3/§4.4 describes.
func (p *Pool) NotifyOrphaned(blocks []types.Block) {
	p.mu.Lock()
	cv := p.chainView
	p.mu.Unlock()
	if cv == nil {
		return
	}

	view := cv.UTXOView()
	height := cv.Head().Height
	p.mu.Lock()
	p.stempool = p.revalidateLocked(p.stempool, view, height)
	p.txpool = p.revalidateLocked(p.txpool, view, height)
	p.mu.Unlock()

	for _, b := range blocks {
		if len(b.Body.Kernels) == 0 {
			continue
		}
		tx := types.Transaction{Body: b.Body}
		_ = p.AddToPool(Source{PeerAddr: "reorg-cache"}, tx, false, view, nil, height, time.Now())
	}
}

// CheckEmbargoes fluffs any stempool entry whose embargo timer has
// expired, the liveness mechanism spec.md §4.5 describes: "When the
// timer expires the transaction is fluffed locally... even if the stem
// peer misbehaves."
func (p *Pool) CheckEmbargoes(now time.Time) []types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	var fluffed []types.Transaction
	remaining := p.stempool[:0]
	for _, e := range p.stempool {
		if !e.EmbargoDeadline.IsZero() && now.After(e.EmbargoDeadline) {
			p.txpool = append(p.txpool, e)
			fluffed = append(fluffed, e.Tx)
			continue
		}
		remaining = append(remaining, e)
	}
	p.stempool = remaining
	return fluffed
}
