package entrypoint

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	lastCall ethereum.CallMsg
	out      []byte
	err      error
}

func (f *fakeCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.lastCall = call
	return f.out, f.err
}

func TestNonceReaderCallsGetNonce(t *testing.T) {
	caller := &fakeCaller{out: common.LeftPadBytes(big.NewInt(42).Bytes(), 32)}
	sender := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	nonce, err := NewNonceReader(caller, AddressV07).Nonce(context.Background(), sender)
	require.NoError(t, err)
	assert.Equal(t, int64(42), nonce.Int64())

	require.NotNil(t, caller.lastCall.To)
	assert.Equal(t, AddressV07, *caller.lastCall.To)
	selector := nonceABI.Methods["getNonce"].ID
	assert.True(t, bytes.HasPrefix(caller.lastCall.Data, selector))
	// selector + address word + key word
	assert.Len(t, caller.lastCall.Data, 4+32+32)
	assert.Equal(t, common.LeftPadBytes(sender.Bytes(), 32), caller.lastCall.Data[4:36])
}

func TestNonceReaderPropagatesErrors(t *testing.T) {
	caller := &fakeCaller{err: errors.New("execution reverted")}
	_, err := NewNonceReader(caller, AddressV06).Nonce(context.Background(), common.Address{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "execution reverted")

	caller = &fakeCaller{out: []byte{0x01}}
	_, err = NewNonceReader(caller, AddressV06).Nonce(context.Background(), common.Address{})
	assert.Error(t, err)
}
