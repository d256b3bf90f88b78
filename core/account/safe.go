package account

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Safe operation types understood by the 4337 module.
const (
	OperationCall         uint8 = 0
	OperationDelegateCall uint8 = 1
)

const safe4337ModuleABI = `[{
	"type": "function",
	"name": "executeUserOp",
	"stateMutability": "nonpayable",
	"inputs": [
		{"name": "to", "type": "address"},
		{"name": "value", "type": "uint256"},
		{"name": "data", "type": "bytes"},
		{"name": "operation", "type": "uint8"}
	],
	"outputs": []
}]`

var moduleABI abi.ABI

func init() {
	var err error
	moduleABI, err = abi.JSON(strings.NewReader(safe4337ModuleABI))
	if err != nil {
		panic(fmt.Errorf("invalid Safe4337Module ABI: %w", err))
	}
}

// SafeCall is a single call executed by a Safe through executeUserOp.
type SafeCall struct {
	To        common.Address
	Value     *big.Int
	Data      []byte
	Operation uint8
}

func (c SafeCall) EncodeCall(ctx context.Context) ([]byte, error) {
	return PackExecuteUserOp(c.To, c.Value, c.Data, c.Operation)
}

// PackExecuteUserOp encodes Safe4337Module.executeUserOp.
func PackExecuteUserOp(to common.Address, value *big.Int, data []byte, operation uint8) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	if data == nil {
		data = []byte{}
	}
	return moduleABI.Pack("executeUserOp", to, value, data, operation)
}
