// Package userop holds the canonical ERC-4337 UserOperation and its
// translation to and from the JSON-RPC wire shapes spoken by relays.
package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserOperation is the version independent form of an operation. Numeric
// fields are *big.Int, a nil value is read as zero.
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	InitCode             []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte

	// fingerprint of the signed fields at the time Signature was attached
	signedOver common.Hash
}

// NewDraft returns an operation with zero gas, zero fees and an empty
// signature.
func NewDraft(sender common.Address, nonce *big.Int, initCode, callData []byte) *UserOperation {
	return &UserOperation{
		Sender:               sender,
		Nonce:                valueOrZero(nonce),
		InitCode:             common.CopyBytes(initCode),
		CallData:             common.CopyBytes(callData),
		CallGasLimit:         new(big.Int),
		VerificationGasLimit: new(big.Int),
		PreVerificationGas:   new(big.Int),
		MaxFeePerGas:         new(big.Int),
		MaxPriorityFeePerGas: new(big.Int),
		PaymasterAndData:     []byte{},
		Signature:            []byte{},
	}
}

// Fingerprint hashes every field covered by a signature. Any change to gas,
// fees, initCode, callData or paymasterAndData changes the fingerprint.
func (op *UserOperation) Fingerprint() common.Hash {
	var buf []byte
	buf = append(buf, common.LeftPadBytes(op.Sender.Bytes(), 32)...)
	buf = append(buf, word(op.Nonce)...)
	buf = append(buf, crypto.Keccak256(op.InitCode)...)
	buf = append(buf, crypto.Keccak256(op.CallData)...)
	buf = append(buf, word(op.CallGasLimit)...)
	buf = append(buf, word(op.VerificationGasLimit)...)
	buf = append(buf, word(op.PreVerificationGas)...)
	buf = append(buf, word(op.MaxFeePerGas)...)
	buf = append(buf, word(op.MaxPriorityFeePerGas)...)
	buf = append(buf, crypto.Keccak256(op.PaymasterAndData)...)
	return crypto.Keccak256Hash(buf)
}

// SetSignature attaches sig and remembers which field values it covers.
func (op *UserOperation) SetSignature(sig []byte) {
	op.Signature = common.CopyBytes(sig)
	op.signedOver = op.Fingerprint()
}

// IsFinal reports whether the operation carries a signature produced over
// its current field values. A draft, or an operation patched after signing,
// is not final and must be re-signed before submission.
func (op *UserOperation) IsFinal() bool {
	if len(op.Signature) == 0 {
		return false
	}
	return op.signedOver == op.Fingerprint()
}

// Copy returns a deep copy, including the signature bookkeeping.
func (op *UserOperation) Copy() *UserOperation {
	cpy := &UserOperation{
		Sender:               op.Sender,
		Nonce:                copyBig(op.Nonce),
		InitCode:             common.CopyBytes(op.InitCode),
		CallData:             common.CopyBytes(op.CallData),
		CallGasLimit:         copyBig(op.CallGasLimit),
		VerificationGasLimit: copyBig(op.VerificationGasLimit),
		PreVerificationGas:   copyBig(op.PreVerificationGas),
		MaxFeePerGas:         copyBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: copyBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     common.CopyBytes(op.PaymasterAndData),
		Signature:            common.CopyBytes(op.Signature),
		signedOver:           op.signedOver,
	}
	return cpy
}

// TotalGas is callGasLimit + verificationGasLimit + preVerificationGas.
func (op *UserOperation) TotalGas() *big.Int {
	total := new(big.Int).Add(valueOrZero(op.CallGasLimit), valueOrZero(op.VerificationGasLimit))
	return total.Add(total, valueOrZero(op.PreVerificationGas))
}

// MaxCost is the upper bound in wei the operation may be charged.
func (op *UserOperation) MaxCost() *big.Int {
	return new(big.Int).Mul(op.TotalGas(), valueOrZero(op.MaxFeePerGas))
}

func word(v *big.Int) []byte {
	return common.LeftPadBytes(valueOrZero(v).Bytes(), 32)
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
