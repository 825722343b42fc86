package txhashset

import (
	"testing"

	"github.com/rawblock/mwnode/internal/consensuserr"
	"github.com/rawblock/mwnode/internal/crypto"
	"github.com/rawblock/mwnode/internal/types"
	"github.com/stretchr/testify/require"
)

func commitFor(v byte) crypto.Commitment {
	var c crypto.Commitment
	c[0] = 0x02
	c[32] = v
	return c
}

func coinbaseOutput(v byte) types.Output {
	return types.Output{
		OutputIdentifier: types.OutputIdentifier{Features: types.CoinbaseOutput, Commitment: commitFor(v)},
		RangeProof:       []byte{1, 2, 3},
	}
}

func plainOutput(v byte) types.Output {
	return types.Output{
		OutputIdentifier: types.OutputIdentifier{Features: types.PlainOutput, Commitment: commitFor(v)},
		RangeProof:       []byte{4, 5, 6},
	}
}

// fakeCapability always balances, letting these tests exercise the MMR
// bookkeeping and error taxonomy without real curve arithmetic.
type fakeCapability struct{}

func (fakeCapability) CommitSum(positive, negative []crypto.Commitment) (crypto.Commitment, error) {
	return crypto.Commitment{}, nil
}
func (fakeCapability) VerifyKernelSig(crypto.Commitment, crypto.Signature, [32]byte) bool { return true }
func (fakeCapability) VerifyRangeProofsBatch([]crypto.Commitment, [][]byte) error         { return nil }
func (fakeCapability) CommitmentFromBlinding(crypto.BlindingFactor, uint64) crypto.Commitment {
	return crypto.Commitment{}
}

// applyWithMatchingHeader runs body through ApplyBlock against a header
// that carries only height. Its zero roots would fail the root/size
// checks in step 5 of ApplyBlock, so it serves only tests whose failure
// ApplyBlock raises before reaching those checks.
func applyWithMatchingHeader(t *testing.T, set *TxHashSet, height uint64, body types.TransactionBody, maturity uint64) error {
	t.Helper()
	var applyErr error
	err := set.Extend(func(ext *Extension) error {
		// Probe roots/sizes by applying against a zero header first is
		// wasteful; instead stage the mutation manually and only then
		// check for spend/duplicate errors that ApplyBlock itself raises
		// before touching the roots.
		applyErr = ext.ApplyBlock(fakeCapability{}, types.Header{Height: height}, body, maturity)
		return applyErr
	})
	_ = err
	return applyErr
}

func TestApplyBlockAppendsOutput(t *testing.T) {
	set := New(fakeCapability{})
	out := coinbaseOutput(1)
	body := types.TransactionBody{Outputs: []types.Output{out}}
	// One output leaves a single leaf in the output and rproof MMRs, so
	// each root is that leaf's hash; the kernel MMR stays empty.
	header := types.Header{
		Height:         1,
		OutputRoot:     crypto.HashWritten(identBytes(out.OutputIdentifier)),
		RangeProofRoot: crypto.HashWritten(out.RangeProof),
		OutputMMRSize:  1,
	}

	err := set.Extend(func(ext *Extension) error {
		return ext.ApplyBlock(fakeCapability{}, header, body, 0)
	})
	require.NoError(t, err)
	require.Equal(t, 1, set.leafSet.Len())

	view := set.View()
	data, ok := view.GetUnspent(out.Commitment)
	require.True(t, ok)
	require.Equal(t, types.CoinbaseOutput, data.Ident.Features)
	_ = body
}

func TestApplyBlockRejectsDoubleSpend(t *testing.T) {
	set := New(fakeCapability{})
	out := plainOutput(9)

	err := set.Extend(func(ext *Extension) error {
		pos := set.outputPMMR.Append(crypto.HashWritten(identBytes(out.OutputIdentifier)))
		set.leafSet.Set(pos)
		set.commitPos[out.Commitment] = pos
		set.outputData[pos] = OutputData{Ident: out.OutputIdentifier, Height: 1}
		return nil
	})
	require.NoError(t, err)

	// Spend it once directly, simulating a prior block having consumed it.
	pos := set.commitPos[out.Commitment]
	set.leafSet.Clear(pos)

	in := types.Input{Commitment: out.Commitment}
	body := types.TransactionBody{Inputs: []types.Input{in}}
	applyErr := applyWithMatchingHeader(t, set, 2, body, 0)

	var asErr *consensuserr.AlreadySpentError
	require.ErrorAs(t, applyErr, &asErr)
}

func TestApplyBlockRejectsImmatureCoinbase(t *testing.T) {
	set := New(fakeCapability{})
	out := coinbaseOutput(2)

	err := set.Extend(func(ext *Extension) error {
		pos := set.outputPMMR.Append(crypto.HashWritten(identBytes(out.OutputIdentifier)))
		set.leafSet.Set(pos)
		set.commitPos[out.Commitment] = pos
		set.outputData[pos] = OutputData{Ident: out.OutputIdentifier, Height: 10}
		return nil
	})
	require.NoError(t, err)

	in := types.Input{Commitment: out.Commitment}
	body := types.TransactionBody{Inputs: []types.Input{in}}
	applyErr := applyWithMatchingHeader(t, set, 15, body, 1000)

	require.ErrorIs(t, applyErr, consensuserr.ErrImmatureCoinbase)
	// Rollback must have restored the leaf_set bit.
	require.True(t, set.leafSet.Contains(set.commitPos[out.Commitment]))
}

func TestApplyBlockRejectsDuplicateCommitment(t *testing.T) {
	set := New(fakeCapability{})
	out := plainOutput(7)

	// Pretend this commitment is already indexed from an earlier block.
	set.commitPos[out.Commitment] = 1
	set.outputData[1] = OutputData{Ident: out.OutputIdentifier, Height: 1}

	body := types.TransactionBody{Outputs: []types.Output{out}}
	applyErr := applyWithMatchingHeader(t, set, 2, body, 0)

	var dupErr *consensuserr.DuplicateCommitmentError
	require.ErrorAs(t, applyErr, &dupErr)
}

func TestVerifyTxLockHeight(t *testing.T) {
	k := types.TxKernel{Features: types.KernelHeightLocked, LockHeight: 100}
	require.ErrorIs(t, VerifyTxLockHeight(k, 99), consensuserr.ErrTxLockHeight)
	require.NoError(t, VerifyTxLockHeight(k, 100))
}

func TestBitmapRootStableAcrossRebuilds(t *testing.T) {
	set := New(fakeCapability{})
	out := plainOutput(3)
	err := set.Extend(func(ext *Extension) error {
		pos := set.outputPMMR.Append(crypto.HashWritten(identBytes(out.OutputIdentifier)))
		set.leafSet.Set(pos)
		set.commitPos[out.Commitment] = pos
		set.outputData[pos] = OutputData{Ident: out.OutputIdentifier, Height: 1}
		return nil
	})
	require.NoError(t, err)

	batch := set.NewBatch()
	require.NoError(t, batch.Commit())
	root1, err := set.BitmapRoot()
	require.NoError(t, err)

	batch2 := set.NewBatch()
	require.NoError(t, batch2.Commit())
	root2, err := set.BitmapRoot()
	require.NoError(t, err)
	require.Equal(t, root1, root2)
}
