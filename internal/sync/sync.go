// Package sync drives header-first synchronization against peers,
// spec.md §4.6: a small state machine that requests headers by
// locator, falls through to full-block download once headers are
// caught up, detects stalls, and exposes the states a PIBD
// (txhashset-segment) catch-up would occupy without implementing the
// wire transfer itself (that lives in internal/wire and
// internal/chain's Segmenter/Desegmenter).
//
// Grounded on the teacher's poller.go polling-loop shape (a single
// goroutine ticking a state check on a fixed interval, serialized
// behind a mutex) generalized from "poll mempool/blocks" to "poll sync
// state", per spec.md §5's instruction to keep the same cooperative,
// non-blocking scheduling idiom rather than introduce a heavier actor
// framework.
package sync

import (
	"sync"
	"time"

	"github.com/rawblock/mwnode/internal/chain"
	"github.com/rawblock/mwnode/internal/config"
	"github.com/rawblock/mwnode/internal/crypto"
)

// State is the tagged union spec.md §4.6 names: Initial |
// AwaitingPeers | HeaderSync | TxHashsetPibd | BodySync | NoSync.
type State uint8

const (
	StateInitial State = iota
	StateAwaitingPeers
	StateHeaderSync
	StateTxHashsetPibd
	StateBodySync
	StateNoSync
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateAwaitingPeers:
		return "awaiting_peers"
	case StateHeaderSync:
		return "header_sync"
	case StateTxHashsetPibd:
		return "txhashset_pibd"
	case StateBodySync:
		return "body_sync"
	case StateNoSync:
		return "no_sync"
	default:
		return "unknown"
	}
}

// MaxBlockHeaders caps how many headers a single GetHeaders round trip
// may request, spec.md §4.6.
const MaxBlockHeaders = 512

// MaxLocators caps the locator hash list sent in a GetHeaders request.
const MaxLocators = 32

// PeerHeight reports a peer's last-known header height and hash, the
// minimal view the sync state machine needs of its peer set (spec.md
// §4.6 "best known peer").
type PeerHeight struct {
	Addr   string
	Height uint64
	Hash   crypto.Hash
}

// PeerSet is the capability interface sync needs of whatever peer
// manager the transport layer provides (spec.md §9 "Dynamic
// dispatch").
type PeerSet interface {
	Count() int
	BestPeer() (PeerHeight, bool)
	Ban(addr string, reason string)
}

// Syncer runs the header-first state machine described in spec.md
// §4.6. It does not itself perform I/O: Tick only moves between states
// and bans stalled peers, and a transport layer reports header progress
// back through OnHeadersAdvanced.
type Syncer struct {
	mu sync.Mutex

	params config.ConsensusParams
	chain  *chain.Chain
	peers  PeerSet

	state       State
	syncHead    uint64 // highest header height requested so far
	headerHead  uint64 // chain's own header_head height, refreshed each Tick
	stallingTS  time.Time
	lastAdvance time.Time
}

// New constructs a Syncer in the Initial state.
func New(params config.ConsensusParams, c *chain.Chain, peers PeerSet) *Syncer {
	return &Syncer{
		params:      params,
		chain:       c,
		peers:       peers,
		state:       StateInitial,
		lastAdvance: time.Now(),
	}
}

// State reports the current sync state.
func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Tick advances the state machine one step, the same shape as the
// teacher's poller.go "check state, maybe act" loop body, called on a
// fixed interval by the caller (spec.md §5 names no specific
// interval; the teacher's poller defaults to a short fixed tick,
// which this mirrors).
func (s *Syncer) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.headerHead = s.chain.HeaderHead().Height

	switch s.state {
	case StateInitial:
		s.state = StateAwaitingPeers
		s.lastAdvance = now

	case StateAwaitingPeers:
		if s.peers.Count() >= s.params.MinPeers {
			s.state = StateHeaderSync
			s.lastAdvance = now
		}

	case StateHeaderSync:
		best, ok := s.peers.BestPeer()
		if !ok {
			s.state = StateAwaitingPeers
			return
		}
		if s.headerHead >= best.Height {
			// Headers caught up. A fresh install with a large height gap
			// behind a pruned history horizon would move to
			// StateTxHashsetPibd instead; this implementation always
			// falls through to body sync, leaving PIBD activation as a
			// caller-driven transition via ForcePIBD.
			s.state = StateBodySync
			s.lastAdvance = now
			return
		}
		s.checkStallLocked(now)

	case StateBodySync:
		best, ok := s.peers.BestPeer()
		if !ok {
			s.state = StateAwaitingPeers
			return
		}
		if s.chain.Head().Height >= best.Height {
			s.state = StateNoSync
			s.lastAdvance = now
			return
		}
		s.checkStallLocked(now)

	case StateTxHashsetPibd:
		// Transition back to header sync once the desegmenter reports
		// completion; driven externally via NotePibdDone.

	case StateNoSync:
		best, ok := s.peers.BestPeer()
		if ok && best.Height > s.chain.Head().Height+1 {
			s.state = StateHeaderSync
			s.lastAdvance = now
		}
	}
}

// checkStallLocked bans the current best peer and resets to
// AwaitingPeers if no progress has been observed for StallSeconds,
// spec.md §4.6 "Stall detection": "if no new headers or blocks arrive
// within the stall window, the peer believed furthest ahead is banned
// and sync restarts from AwaitingPeers."
func (s *Syncer) checkStallLocked(now time.Time) {
	if s.stallingTS.IsZero() {
		s.stallingTS = now
		return
	}
	if now.Sub(s.stallingTS) < time.Duration(s.params.StallSeconds)*time.Second {
		return
	}
	if best, ok := s.peers.BestPeer(); ok {
		s.peers.Ban(best.Addr, "stalled")
	}
	s.state = StateAwaitingPeers
	s.stallingTS = time.Time{}
}

// OnHeadersAdvanced resets the stall timer, called by the transport
// layer whenever ProcessBlockHeader succeeds for at least one new
// header.
func (s *Syncer) OnHeadersAdvanced(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stallingTS = time.Time{}
	s.lastAdvance = now
}

// ForcePIBD transitions into TxHashsetPibd, used when the caller
// decides a full-block headers gap is too large to replay locally
// (spec.md §4.6 "PIBD activation").
func (s *Syncer) ForcePIBD() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateTxHashsetPibd
}

// NotePibdDone returns the state machine to HeaderSync once a PIBD
// round completes, successfully or not; a failed round simply retries
// header-first sync from the current head.
func (s *Syncer) NotePibdDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateHeaderSync
	s.stallingTS = time.Time{}
}

// BuildLocator constructs a sparse list of ancestor hashes (most
// recent first, then exponentially sparser) from the chain's current
// header_head, the standard "block locator" spec.md §4.6 references
// for GetHeaders requests, capped at MaxLocators entries.
func BuildLocator(c *chain.Chain) []crypto.Hash {
	head := c.HeaderHead()
	locators := make([]crypto.Hash, 0, MaxLocators)
	height := head.Height
	hdr := head
	step := uint64(1)
	for len(locators) < MaxLocators {
		locators = append(locators, hdr.Hash())
		if height == 0 {
			break
		}
		if height < step {
			height = 0
		} else {
			height -= step
		}
		// Walk back parent by parent to the target height, doubling the
		// stride on every entry once past the most recent few, matching
		// the familiar logarithmic locator shape without needing direct
		// height-indexed lookups beyond what Chain already exposes.
		for hdr.Height > height {
			h, ok := c.GetHeader(hdr.PrevHash)
			if !ok {
				return locators
			}
			hdr = h
		}
		if len(locators) > 8 {
			step *= 2
		}
	}
	return locators
}
