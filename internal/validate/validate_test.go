package validate

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

func TestReadValidateRejectsUnsorted(t *testing.T) {
	tx := types.Transaction{Body: types.TransactionBody{
		Outputs: []types.Output{
			{OutputIdentifier: types.OutputIdentifier{Commitment: commitFor(9)}},
			{OutputIdentifier: types.OutputIdentifier{Commitment: commitFor(1)}},
		},
	}}
	require.ErrorIs(t, ReadValidate(tx, MaxBlockWeight), consensuserr.ErrCorruptedData)
}

func TestReadValidateRejectsTooHeavy(t *testing.T) {
	var outputs []types.Output
	for i := 0; i < 10; i++ {
		outputs = append(outputs, types.Output{OutputIdentifier: types.OutputIdentifier{Commitment: commitFor(byte(i))}})
	}
	tx := types.Transaction{Body: types.TransactionBody{Outputs: outputs}}
	require.ErrorIs(t, ReadValidate(tx, 50), consensuserr.ErrTooHeavy)
}

func TestReadValidateRejectsCutThrough(t *testing.T) {
	c := commitFor(5)
	tx := types.Transaction{Body: types.TransactionBody{
		Inputs:  []types.Input{{Commitment: c}},
		Outputs: []types.Output{{OutputIdentifier: types.OutputIdentifier{Commitment: c}}},
	}}
	require.ErrorIs(t, ReadValidate(tx, MaxBlockWeight), consensuserr.ErrCutThrough)
}

func TestReadValidateRejectsCoinbaseKernel(t *testing.T) {
	tx := types.Transaction{Body: types.TransactionBody{
		Kernels: []types.TxKernel{{Features: types.KernelCoinbase}},
	}}
	require.ErrorIs(t, ReadValidate(tx, MaxBlockWeight), consensuserr.ErrCoinbaseNotAllowed)
}

func TestVerifyKernelFeaturesHeightLocked(t *testing.T) {
	k := types.TxKernel{Features: types.KernelHeightLocked, LockHeight: 100}
	require.ErrorIs(t, VerifyKernelFeatures([]types.TxKernel{k}, 99, false), consensuserr.ErrTxLockHeight)
	require.NoError(t, VerifyKernelFeatures([]types.TxKernel{k}, 100, false))
}

func TestVerifyKernelFeaturesNRDRange(t *testing.T) {
	bad := types.TxKernel{Features: types.KernelNoRecentDuplicate, RelativeHeight: 0}
	require.ErrorIs(t, VerifyKernelFeatures([]types.TxKernel{bad}, 1, false), consensuserr.ErrCorruptedData)

	tooFar := types.TxKernel{Features: types.KernelNoRecentDuplicate, RelativeHeight: types.MaxNRDRelativeHeight + 1}
	require.ErrorIs(t, VerifyKernelFeatures([]types.TxKernel{tooFar}, 1, false), consensuserr.ErrCorruptedData)

	ok := types.TxKernel{Features: types.KernelNoRecentDuplicate, RelativeHeight: 2}
	require.NoError(t, VerifyKernelFeatures([]types.TxKernel{ok}, 1, false))
}

func TestVerifyKernelFeaturesCoinbaseDisallowedInPool(t *testing.T) {
	k := types.TxKernel{Features: types.KernelCoinbase}
	require.ErrorIs(t, VerifyKernelFeatures([]types.TxKernel{k}, 1, false), consensuserr.ErrCoinbaseNotAllowed)
	require.NoError(t, VerifyKernelFeatures([]types.TxKernel{k}, 1, true))
}

// TestNRDIndexRelativeHeight exercises relative_height=2: a duplicate
// excess is rejected at the same height it was first seen and one block
// later, and accepted two blocks later.
func TestNRDIndexRelativeHeight(t *testing.T) {
	excess := commitFor(3)

	idx := NewNRDIndex()
	require.NoError(t, idx.CheckAndRecord(excess, 2, 100))
	require.ErrorIs(t, idx.CheckAndRecord(excess, 2, 100), consensuserr.ErrNRDRelativeHeight)

	idx2 := NewNRDIndex()
	require.NoError(t, idx2.CheckAndRecord(excess, 2, 100))
	require.ErrorIs(t, idx2.CheckAndRecord(excess, 2, 101), consensuserr.ErrNRDRelativeHeight)
	require.NoError(t, idx2.CheckAndRecord(excess, 2, 102))
}

// TestNRDIndexRelativeHeightOne covers relative_height=1: a duplicate
// excess at the same height it was first seen is still rejected
// (h-last == 0 < relative_height).
func TestNRDIndexRelativeHeightOne(t *testing.T) {
	excess := commitFor(4)

	idx := NewNRDIndex()
	require.NoError(t, idx.CheckAndRecord(excess, 1, 100))
	require.ErrorIs(t, idx.CheckAndRecord(excess, 1, 100), consensuserr.ErrNRDRelativeHeight)
}
