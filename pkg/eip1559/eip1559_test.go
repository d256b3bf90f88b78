package eip1559

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedPrice struct {
	price *big.Int
	err   error
}

func (f fixedPrice) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.price, f.err
}

func TestSuggestFee(t *testing.T) {
	fees, err := NewSource(fixedPrice{price: big.NewInt(3_000_000_000)}).Fees(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "6000000000", fees.MaxFeePerGas.String())
	assert.Equal(t, "300000000", fees.MaxPriorityFeePerGas.String())
}

func TestSuggestFeeTinyPriceKeepsNonZeroTip(t *testing.T) {
	fees, err := SuggestFee(context.Background(), fixedPrice{price: big.NewInt(5)})
	require.NoError(t, err)
	assert.Equal(t, int64(10), fees.MaxFeePerGas.Int64())
	assert.Equal(t, int64(1), fees.MaxPriorityFeePerGas.Int64())
}

func TestSuggestFeeError(t *testing.T) {
	_, err := SuggestFee(context.Background(), fixedPrice{err: errors.New("rpc down")})
	assert.Error(t, err)
}

func TestDefaultFees(t *testing.T) {
	fees := DefaultFees()
	assert.Equal(t, int64(1), fees.MaxFeePerGas.Int64())
	assert.Equal(t, int64(1), fees.MaxPriorityFeePerGas.Int64())
}
