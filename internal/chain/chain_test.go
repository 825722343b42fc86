package chain

import (
	"testing"
	"time"

	"github.com/rawblock/mwnode/internal/config"
	"github.com/rawblock/mwnode/internal/crypto"
	"github.com/rawblock/mwnode/internal/types"
	"github.com/stretchr/testify/require"
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

func testParams() config.ConsensusParams {
	return config.ConsensusParams{
		CoinbaseMaturity:        10,
		ReorgCacheWindowSeconds: 1800,
	}
}

func genesisBlock() types.Block {
	return types.Block{
		Header: types.Header{
			Height:    0,
			PrevHash:  crypto.ZeroHash,
			Timestamp: time.Unix(1000, 0),
			POW:       types.ProofOfWork{EdgeBits: 29},
		},
	}
}

func nextBlock(prev types.Header, body types.TransactionBody) types.Block {
	return types.Block{
		Header: types.Header{
			Height:          prev.Height + 1,
			PrevHash:        prev.Hash(),
			Timestamp:       prev.Timestamp.Add(time.Minute),
			TotalDifficulty: prev.TotalDifficulty + NextDifficulty(prev),
			POW:             types.ProofOfWork{EdgeBits: 29},
		},
		Body: body,
	}
}

func TestChainAppliesGenesisAndExtendsHead(t *testing.T) {
	c, err := New(testParams(), fakeCapability{}, genesisBlock(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), c.Head().Height)

	b1 := nextBlock(c.Head(), types.TransactionBody{})
	require.NoError(t, c.ProcessBlock(b1))
	require.Equal(t, uint64(1), c.Head().Height)
	require.Equal(t, b1.Header.Hash(), c.Head().Hash())
}

func TestProcessBlockRejectsBadTimestamp(t *testing.T) {
	c, err := New(testParams(), fakeCapability{}, genesisBlock(), nil, nil)
	require.NoError(t, err)

	bad := nextBlock(c.Head(), types.TransactionBody{})
	bad.Header.Timestamp = c.Head().Timestamp // not strictly after parent
	err = c.ProcessBlock(bad)
	require.Error(t, err)
}

func TestReorgSwitchesToHigherDifficultyFork(t *testing.T) {
	c, err := New(testParams(), fakeCapability{}, genesisBlock(), nil, nil)
	require.NoError(t, err)

	// Fork A: single block.
	a1 := nextBlock(c.Head(), types.TransactionBody{})
	require.NoError(t, c.ProcessBlock(a1))
	require.Equal(t, a1.Header.Hash(), c.Head().Hash())

	// Fork B: two blocks from genesis, higher total difficulty overall.
	genesisHdr := func() types.Header {
		hdr, _ := c.GetHeader(genesisBlock().Header.Hash())
		return hdr
	}()
	b1 := nextBlock(genesisHdr, types.TransactionBody{})
	b1.Header.Timestamp = genesisHdr.Timestamp.Add(30 * time.Second) // distinct hash from a1
	b2 := nextBlock(b1.Header, types.TransactionBody{})

	require.NoError(t, c.ProcessBlock(b1))
	// after b1 alone (td=1, tied with a1) head should remain a1 (first seen wins ties: a reorg needs strictly greater total difficulty)
	require.NoError(t, c.ProcessBlock(b2))
	require.Equal(t, b2.Header.Hash(), c.Head().Hash())
	require.Equal(t, uint64(2), c.Head().Height)
}

func TestSegmenterAndDesegmenterRoundTrip(t *testing.T) {
	leaves := make([]crypto.Hash, 10)
	for i := range leaves {
		leaves[i] = crypto.HashWritten([]byte{byte(i)})
	}
	seg := NewSegmenter(crypto.ZeroHash, map[SegmentKind][]crypto.Hash{SegmentOutput: leaves})

	s0, err := seg.Segment(SegmentOutput, 0)
	require.NoError(t, err)

	de := NewDesegmenter(map[SegmentKind]uint64{SegmentOutput: 1})
	require.NoError(t, de.Accept(s0, crypto.ZeroHash))
	require.True(t, de.Done())
}

func TestDesegmenterRejectsTamperedSegment(t *testing.T) {
	leaves := []crypto.Hash{crypto.HashWritten([]byte{1}), crypto.HashWritten([]byte{2})}
	seg := NewSegmenter(crypto.ZeroHash, map[SegmentKind][]crypto.Hash{SegmentOutput: leaves})
	s0, err := seg.Segment(SegmentOutput, 0)
	require.NoError(t, err)

	s0.Leaves[0] = crypto.HashWritten([]byte{99})
	de := NewDesegmenter(map[SegmentKind]uint64{SegmentOutput: 1})
	err = de.Accept(s0, crypto.ZeroHash)
	require.Error(t, err)
}
