package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rawblock/mwnode/internal/types"
	"github.com/stretchr/testify/require"
)

func TestPutGetHeaderRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "chain.db"))
	require.NoError(t, err)
	defer s.Close()

	h := types.Header{Height: 5, Timestamp: time.Unix(100, 0)}
	require.NoError(t, s.PutHeader(h))

	got, found, err := s.GetHeader(h.Hash())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, h.Height, got.Height)

	hash, found, err := s.HashAtHeight(5)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, h.Hash(), hash)
}

func TestBlockBodyRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "chain.db"))
	require.NoError(t, err)
	defer s.Close()

	var hash types.Header
	body := types.TransactionBody{Kernels: []types.TxKernel{{Features: types.KernelPlain, Fee: 10}}}
	require.NoError(t, s.PutBlockBody(hash.Hash(), body))

	got, found, err := s.GetBlockBody(hash.Hash())
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got.Kernels, 1)
}

func TestMetaRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "chain.db"))
	require.NoError(t, err)
	defer s.Close()

	_, found, err := s.GetMeta("head")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.PutMeta("head", []byte("abc")))
	v, found, err := s.GetMeta("head")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("abc"), v)
}
