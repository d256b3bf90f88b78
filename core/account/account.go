// Package account supplies the smart account side of a UserOperation: the
// sender address, its init code and the call data it executes.
package account

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Factory resolves the sender of an operation together with the init code
// that deploys it.
type Factory interface {
	Account(ctx context.Context) (sender common.Address, initCode []byte, err error)
}

// CallEncoder produces the callData the account executes.
type CallEncoder interface {
	EncodeCall(ctx context.Context) ([]byte, error)
}

// CodeReader is satisfied by *ethclient.Client.
type CodeReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
}

// Deployed reports whether any code lives at addr.
func Deployed(ctx context.Context, reader CodeReader, addr common.Address) (bool, error) {
	code, err := reader.CodeAt(ctx, addr, nil)
	if err != nil {
		return false, fmt.Errorf("read code at %s: %w", addr.Hex(), err)
	}
	return len(code) > 0, nil
}

// StaticAccount is a Factory for an account whose address and init code are
// already known.
type StaticAccount struct {
	Sender   common.Address
	InitCode []byte
}

func (a StaticAccount) Account(ctx context.Context) (common.Address, []byte, error) {
	return a.Sender, common.CopyBytes(a.InitCode), nil
}

// InitCode packs factory followed by the factory call.
func InitCode(factory common.Address, factoryCall []byte) []byte {
	out := append([]byte{}, factory.Bytes()...)
	return append(out, factoryCall...)
}

// RawCall is a CallEncoder returning fixed bytes.
type RawCall []byte

func (c RawCall) EncodeCall(ctx context.Context) ([]byte, error) {
	return common.CopyBytes(c), nil
}
