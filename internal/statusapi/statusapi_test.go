package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
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

func init() { gin.SetMode(gin.TestMode) }

func newTestChain(t *testing.T) *chain.Chain {
	genesis := types.Block{Header: types.Header{Height: 0, PrevHash: crypto.ZeroHash, Timestamp: time.Unix(1000, 0)}}
	c, err := chain.New(config.ConsensusParams{CoinbaseMaturity: 10, ReorgCacheWindowSeconds: 1800}, fakeCapability{}, genesis, nil, nil)
	require.NoError(t, err)
	return c
}

func TestHandleStatusReturnsHeadInfo(t *testing.T) {
	c := newTestChain(t)
	r := SetupRouter(c, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "head")
	require.Contains(t, body, "header_head")
}

func TestHandleHeadReportsHeight(t *testing.T) {
	c := newTestChain(t)
	r := SetupRouter(c, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/head", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, float64(0), body["height"])
}
