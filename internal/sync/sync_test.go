package sync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rawblock/mwnode/internal/chain"
	"github.com/rawblock/mwnode/internal/config"
	"github.com/rawblock/mwnode/internal/crypto"
	"github.com/rawblock/mwnode/internal/types"
)

type fakeCapability struct{}

func (fakeCapability) CommitSum(positive, negative []crypto.Commitment) (crypto.Commitment, error) {
	return crypto.Commitment{}, nil
}
func (fakeCapability) VerifyKernelSig(crypto.Commitment, crypto.Signature, [32]byte) bool { return true }
func (fakeCapability) VerifyRangeProofsBatch([]crypto.Commitment, [][]byte) error         { return nil }
func (fakeCapability) CommitmentFromBlinding(crypto.BlindingFactor, uint64) crypto.Commitment {
	return crypto.Commitment{}
}

type fakePeers struct {
	count   int
	best    PeerHeight
	hasBest bool
	banned  []string
}

func (f *fakePeers) Count() int { return f.count }
func (f *fakePeers) BestPeer() (PeerHeight, bool) { return f.best, f.hasBest }
func (f *fakePeers) Ban(addr, reason string)      { f.banned = append(f.banned, addr) }

func newTestChain(t *testing.T) *chain.Chain {
	genesis := types.Block{Header: types.Header{Height: 0, PrevHash: crypto.ZeroHash, Timestamp: time.Unix(1000, 0)}}
	c, err := chain.New(config.ConsensusParams{CoinbaseMaturity: 10, ReorgCacheWindowSeconds: 1800}, fakeCapability{}, genesis, nil, nil)
	require.NoError(t, err)
	return c
}

func TestSyncerAdvancesThroughStates(t *testing.T) {
	c := newTestChain(t)
	peers := &fakePeers{count: 5, hasBest: true, best: PeerHeight{Addr: "p1", Height: 0}}
	s := New(config.ConsensusParams{MinPeers: 3, StallSeconds: 120}, c, peers)

	require.Equal(t, StateInitial, s.State())
	now := time.Now()
	s.Tick(now)
	require.Equal(t, StateAwaitingPeers, s.State())
	s.Tick(now)
	require.Equal(t, StateHeaderSync, s.State())
	s.Tick(now) // headerHead(0) >= best.Height(0) -> BodySync
	require.Equal(t, StateBodySync, s.State())
	s.Tick(now) // chain head(0) >= best.Height(0) -> NoSync
	require.Equal(t, StateNoSync, s.State())
}

func TestSyncerWaitsForPeersBelowMin(t *testing.T) {
	c := newTestChain(t)
	peers := &fakePeers{count: 1}
	s := New(config.ConsensusParams{MinPeers: 3, StallSeconds: 120}, c, peers)
	s.Tick(time.Now())
	s.Tick(time.Now())
	require.Equal(t, StateAwaitingPeers, s.State())
}

func TestSyncerBansOnStall(t *testing.T) {
	c := newTestChain(t)
	peers := &fakePeers{count: 5, hasBest: true, best: PeerHeight{Addr: "p1", Height: 50}}
	s := New(config.ConsensusParams{MinPeers: 3, StallSeconds: 10}, c, peers)

	base := time.Now()
	s.Tick(base)                    // Initial -> AwaitingPeers
	s.Tick(base)                    // AwaitingPeers -> HeaderSync
	s.Tick(base)                    // HeaderSync, headerHead(0) < best(50): starts stall timer
	require.Equal(t, StateHeaderSync, s.State())
	s.Tick(base.Add(20 * time.Second)) // past stall window
	require.Equal(t, StateAwaitingPeers, s.State())
	require.Contains(t, peers.banned, "p1")
}

func TestBuildLocatorIncludesGenesis(t *testing.T) {
	c := newTestChain(t)
	locators := BuildLocator(c)
	require.NotEmpty(t, locators)
	require.Equal(t, c.HeaderHead().Hash(), locators[0])
}
