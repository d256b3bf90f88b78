package account

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCode struct {
	code map[common.Address][]byte
	err  error
}

func (f fakeCode) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return f.code[account], f.err
}

var (
	safeAddr    = common.HexToAddress("0x9C5f2A1e1b6E9B7a0e13F6c5D5f0d4bC3e2A1b00")
	counterAddr = common.HexToAddress("0x7AA30a4Ce0c9Dd4Ec3D5D1C6bD0Ab5dA8b4D6e0F")
)

func TestDeployed(t *testing.T) {
	reader := fakeCode{code: map[common.Address][]byte{safeAddr: {0x60, 0x80}}}

	ok, err := Deployed(context.Background(), reader, safeAddr)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Deployed(context.Background(), reader, counterAddr)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Deployed(context.Background(), fakeCode{err: errors.New("boom")}, safeAddr)
	assert.ErrorContains(t, err, "boom")
}

func TestStaticAccount(t *testing.T) {
	initCode := InitCode(common.HexToAddress("0x4e1DCf7AD4e460CfD30791CCC4F9c8a4f820ec67"), []byte{0x16, 0x88})
	require.Len(t, initCode, 22)

	acct := StaticAccount{Sender: safeAddr, InitCode: initCode}
	sender, code, err := acct.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, safeAddr, sender)
	assert.Equal(t, initCode, code)

	code[0] = 0xff
	assert.NotEqual(t, byte(0xff), acct.InitCode[0])
}

func TestSafeCallEncodesExecuteUserOp(t *testing.T) {
	increment := crypto.Keccak256([]byte("increment()"))[:4]
	call := SafeCall{To: counterAddr, Data: increment}

	data, err := call.EncodeCall(context.Background())
	require.NoError(t, err)

	selector := crypto.Keccak256([]byte("executeUserOp(address,uint256,bytes,uint8)"))[:4]
	assert.Equal(t, selector, data[:4])

	args, err := moduleABI.Methods["executeUserOp"].Inputs.Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, args, 4)
	assert.Equal(t, counterAddr, args[0].(common.Address))
	assert.Equal(t, int64(0), args[1].(*big.Int).Int64())
	assert.Equal(t, increment, args[2].([]byte))
	assert.Equal(t, OperationCall, args[3].(uint8))
}

func TestRawCall(t *testing.T) {
	data, err := RawCall{0x01, 0x02}.EncodeCall(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, data)
}
