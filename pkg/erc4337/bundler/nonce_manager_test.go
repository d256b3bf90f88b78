package bundler

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNonces struct {
	mu    sync.Mutex
	value int64
	err   error
}

func (s *stubNonces) Nonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return big.NewInt(s.value), nil
}

func (s *stubNonces) set(v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
}

func TestNonceManagerUsesMaxOfChainAndCache(t *testing.T) {
	chain := &stubNonces{value: 4}
	nm := NewNonceManager(chain, nil)
	sender := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	ctx := context.Background()

	n, err := nm.GetNextNonce(ctx, sender)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n.Int64())

	// two operations in flight, chain has not caught up
	nm.IncrementNonce(sender, n)
	nm.IncrementNonce(sender, big.NewInt(5))
	n, err = nm.GetNextNonce(ctx, sender)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n.Int64())

	// chain moved past the cache (operations mined or replaced elsewhere)
	chain.set(9)
	n, err = nm.Nonce(ctx, sender)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n.Int64())
}

func TestNonceManagerResetAndSet(t *testing.T) {
	chain := &stubNonces{value: 1}
	nm := NewNonceManager(chain, nil)
	sender := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	nm.SetNonce(sender, big.NewInt(10))
	cached, ok := nm.GetCachedNonce(sender)
	require.True(t, ok)
	assert.Equal(t, int64(10), cached.Int64())

	// the returned value is a copy
	cached.SetInt64(99)
	again, _ := nm.GetCachedNonce(sender)
	assert.Equal(t, int64(10), again.Int64())

	nm.ResetNonce(sender)
	_, ok = nm.GetCachedNonce(sender)
	assert.False(t, ok)

	n, err := nm.GetNextNonce(context.Background(), sender)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.Int64())
}

func TestNonceManagerPropagatesFetchErrors(t *testing.T) {
	nm := NewNonceManager(&stubNonces{err: errors.New("rpc down")}, nil)
	_, err := nm.GetNextNonce(context.Background(), common.Address{})
	assert.EqualError(t, err, "rpc down")
}

func TestNonceManagerConcurrentUse(t *testing.T) {
	nm := NewNonceManager(&stubNonces{value: 0}, nil)
	sender := common.HexToAddress("0x00000000000000000000000000000000000000cc")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			nm.SetNonce(sender, big.NewInt(int64(i)))
			_, _ = nm.GetNextNonce(context.Background(), sender)
			_, _ = nm.GetCachedNonce(sender)
		}(i)
	}
	wg.Wait()

	_, ok := nm.GetCachedNonce(sender)
	assert.True(t, ok)
}
