package eip1559

import (
	"context"
	"math/big"
)

// GasPriceSuggester is satisfied by *ethclient.Client.
type GasPriceSuggester interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Fees is a pair of EIP-1559 fee caps in wei.
type Fees struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// DefaultFees is used when no fee source is configured.
func DefaultFees() Fees {
	return Fees{MaxFeePerGas: big.NewInt(1), MaxPriorityFeePerGas: big.NewInt(1)}
}

// SuggestFee derives fee caps from the node's legacy gas price: the max fee
// is twice the price and the tip a tenth of it.
func SuggestFee(ctx context.Context, client GasPriceSuggester) (Fees, error) {
	price, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return Fees{}, err
	}
	maxFee := new(big.Int).Mul(price, big.NewInt(2))
	tip := new(big.Int).Div(price, big.NewInt(10))
	if tip.Sign() == 0 {
		tip = big.NewInt(1)
	}
	return Fees{MaxFeePerGas: maxFee, MaxPriorityFeePerGas: tip}, nil
}

// Source suggests fees from a node on every call.
type Source struct {
	client GasPriceSuggester
}

func NewSource(client GasPriceSuggester) *Source {
	return &Source{client: client}
}

func (s *Source) Fees(ctx context.Context) (Fees, error) {
	return SuggestFee(ctx, s.client)
}
