package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rawblock/mwnode/internal/config"
	"github.com/rawblock/mwnode/internal/crypto"
	"github.com/rawblock/mwnode/internal/txhashset"
	"github.com/rawblock/mwnode/internal/types"
	"github.com/rawblock/mwnode/internal/validate"
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
		MaxBlockWeight:           40_000,
		NRDEnabled:               true,
		NRDActivationHeight:      0,
		DandelionEpochSeconds:    600,
		DandelionStemProbability: 0, // deterministic: never stems, for test simplicity
		DandelionEmbargoSeconds: 180,
	}
}

func plainTx(excessByte byte) types.Transaction {
	var excess crypto.Commitment
	excess[0] = excessByte
	body := types.TransactionBody{
		Outputs: []types.Output{{OutputIdentifier: types.OutputIdentifier{Commitment: excess}}},
		Kernels: []types.TxKernel{{Features: types.KernelPlain, Excess: excess}},
	}
	body.SortBody()
	return types.Transaction{Body: body}
}

func TestAddToPoolAcceptsFluffTransaction(t *testing.T) {
	p := New(testParams(), fakeCapability{}, nil)
	set := txhashset.New(fakeCapability{})
	view := set.View()

	tx := plainTx(1)
	err := p.AddToPool(Source{}, tx, false, view, validate.NewNRDIndex(), 100, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, p.TxpoolSize())
	require.Equal(t, 0, p.StempoolSize())
}

func TestAddToPoolRejectsExactDuplicate(t *testing.T) {
	p := New(testParams(), fakeCapability{}, nil)
	set := txhashset.New(fakeCapability{})
	view := set.View()

	tx := plainTx(2)
	require.NoError(t, p.AddToPool(Source{}, tx, false, view, validate.NewNRDIndex(), 100, time.Now()))
	err := p.AddToPool(Source{}, tx, false, view, validate.NewNRDIndex(), 100, time.Now())
	require.Error(t, err)
}

func TestAddToPoolRejectsNRDWhenDisabled(t *testing.T) {
	params := testParams()
	params.NRDEnabled = false
	p := New(params, fakeCapability{}, nil)
	set := txhashset.New(fakeCapability{})
	view := set.View()

	var excess crypto.Commitment
	excess[0] = 3
	body := types.TransactionBody{
		Outputs: []types.Output{{OutputIdentifier: types.OutputIdentifier{Commitment: excess}}},
		Kernels: []types.TxKernel{{Features: types.KernelNoRecentDuplicate, Excess: excess, RelativeHeight: 2}},
	}
	body.SortBody()
	tx := types.Transaction{Body: body}

	err := p.AddToPool(Source{}, tx, false, view, validate.NewNRDIndex(), 100, time.Now())
	require.Error(t, err)
}

func TestCheckEmbargoesFluffsExpiredStemEntries(t *testing.T) {
	params := testParams()
	params.DandelionStemProbability = 100 // force stem for this test
	p := New(params, fakeCapability{}, nil)
	set := txhashset.New(fakeCapability{})
	view := set.View()

	tx := plainTx(4)
	require.NoError(t, p.AddToPool(Source{}, tx, true, view, validate.NewNRDIndex(), 100, time.Now()))
	require.Equal(t, 1, p.StempoolSize())

	fluffed := p.CheckEmbargoes(time.Now().Add(time.Hour))
	require.Len(t, fluffed, 1)
	require.Equal(t, 0, p.StempoolSize())
	require.Equal(t, 1, p.TxpoolSize())
}

func TestReconcileDropsConfirmedTransactions(t *testing.T) {
	p := New(testParams(), fakeCapability{}, nil)
	set := txhashset.New(fakeCapability{})
	view := set.View()

	tx := plainTx(5)
	require.NoError(t, p.AddToPool(Source{}, tx, false, view, validate.NewNRDIndex(), 100, time.Now()))
	require.Equal(t, 1, p.TxpoolSize())

	p.Reconcile(types.Block{Body: types.TransactionBody{Kernels: tx.Body.Kernels}})
	require.Equal(t, 0, p.TxpoolSize())
}

func TestReconcileLeavesUnrelatedTransactionsInPlace(t *testing.T) {
	p := New(testParams(), fakeCapability{}, nil)
	set := txhashset.New(fakeCapability{})
	view := set.View()

	tx := plainTx(6)
	require.NoError(t, p.AddToPool(Source{}, tx, false, view, validate.NewNRDIndex(), 100, time.Now()))

	var otherExcess crypto.Commitment
	otherExcess[0] = 99
	p.Reconcile(types.Block{Body: types.TransactionBody{
		Kernels: []types.TxKernel{{Features: types.KernelPlain, Excess: otherExcess}},
	}})
	require.Equal(t, 1, p.TxpoolSize())
}
