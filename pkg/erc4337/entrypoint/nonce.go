package entrypoint

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const getNonceABI = `[{
	"inputs": [
		{"internalType": "address", "name": "sender", "type": "address"},
		{"internalType": "uint192", "name": "key", "type": "uint192"}
	],
	"name": "getNonce",
	"outputs": [{"internalType": "uint256", "name": "nonce", "type": "uint256"}],
	"stateMutability": "view",
	"type": "function"
}]`

var nonceABI abi.ABI

func init() {
	var err error
	nonceABI, err = abi.JSON(strings.NewReader(getNonceABI))
	if err != nil {
		panic(fmt.Errorf("invalid EntryPoint getNonce ABI: %w", err))
	}
}

// NonceReader reads the account nonce for a sender from an EntryPoint. Both
// v0.6 and v0.7 expose the same getNonce(address,uint192) view.
type NonceReader struct {
	caller     ethereum.ContractCaller
	entrypoint common.Address
	key        *big.Int
}

// NewNonceReader uses nonce key 0, the sequential channel used by Safe accounts.
func NewNonceReader(caller ethereum.ContractCaller, entrypoint common.Address) *NonceReader {
	return &NonceReader{caller: caller, entrypoint: entrypoint, key: big.NewInt(0)}
}

// Nonce returns the next nonce the EntryPoint expects from sender.
func (r *NonceReader) Nonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	data, err := nonceABI.Pack("getNonce", sender, r.key)
	if err != nil {
		return nil, fmt.Errorf("failed to pack getNonce: %w", err)
	}

	to := r.entrypoint
	out, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("getNonce call to %s failed: %w", r.entrypoint.Hex(), err)
	}

	values, err := nonceABI.Unpack("getNonce", out)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getNonce result: %w", err)
	}
	nonce, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getNonce result type %T", values[0])
	}
	return nonce, nil
}
