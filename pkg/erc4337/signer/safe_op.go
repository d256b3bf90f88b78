package signer

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/samber/lo"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

// validityPrefixLength is the number of zero bytes in front of the
// concatenated owner signatures. The module reads validAfter/validUntil
// from this slot; all zero means no time restriction.
const validityPrefixLength = 12

// noTimeRestriction is the uint48 zero used for validAfter and validUntil.
const noTimeRestriction = "0x000000000000"

var safeOpTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"SafeOp": {
		{Name: "safe", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "initCode", Type: "bytes"},
		{Name: "callData", Type: "bytes"},
		{Name: "callGasLimit", Type: "uint256"},
		{Name: "verificationGasLimit", Type: "uint256"},
		{Name: "preVerificationGas", Type: "uint256"},
		{Name: "maxFeePerGas", Type: "uint256"},
		{Name: "maxPriorityFeePerGas", Type: "uint256"},
		{Name: "paymasterAndData", Type: "bytes"},
		{Name: "validAfter", Type: "uint48"},
		{Name: "validUntil", Type: "uint48"},
		{Name: "entryPoint", Type: "address"},
	},
}

// Entry is one owner's signature.
type Entry struct {
	Signer    common.Address
	Signature []byte
}

// SafeOpTypedData builds the SafeOp typed data for op, scoped to chainID and
// the 4337 module acting as verifying contract.
func SafeOpTypedData(op *userop.UserOperation, chainID *big.Int, entryPoint, verifyingContract common.Address) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       safeOpTypes,
		PrimaryType: "SafeOp",
		Domain: apitypes.TypedDataDomain{
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"safe":                 op.Sender.Hex(),
			"nonce":                quantity(op.Nonce),
			"initCode":             hexutil.Bytes(op.InitCode),
			"callData":             hexutil.Bytes(op.CallData),
			"callGasLimit":         quantity(op.CallGasLimit),
			"verificationGasLimit": quantity(op.VerificationGasLimit),
			"preVerificationGas":   quantity(op.PreVerificationGas),
			"maxFeePerGas":         quantity(op.MaxFeePerGas),
			"maxPriorityFeePerGas": quantity(op.MaxPriorityFeePerGas),
			"paymasterAndData":     hexutil.Bytes(op.PaymasterAndData),
			"validAfter":           noTimeRestriction,
			"validUntil":           noTimeRestriction,
			"entryPoint":           entryPoint.Hex(),
		},
	}
}

// Combine orders entries by lowercased signer address and concatenates their
// signatures after the zero validity prefix. The module verifies owners in
// ascending order, so the output does not depend on the input order.
func Combine(entries []Entry) []byte {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return strings.ToLower(sorted[i].Signer.Hex()) < strings.ToLower(sorted[j].Signer.Hex())
	})

	out := make([]byte, validityPrefixLength)
	for _, e := range sorted {
		out = append(out, e.Signature...)
	}
	return out
}

// SignUserOperation collects a SafeOp signature from every signer and
// returns the combined signature bytes. It does not modify op.
func SignUserOperation(
	ctx context.Context,
	op *userop.UserOperation,
	signers []Signer,
	chainID *big.Int,
	entryPoint common.Address,
	verifyingContract common.Address,
) ([]byte, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("no signers configured")
	}
	if chainID == nil {
		return nil, fmt.Errorf("chain id is required for signing")
	}
	unique := lo.UniqBy(signers, func(s Signer) common.Address { return s.Address() })
	if len(unique) != len(signers) {
		return nil, fmt.Errorf("duplicate signer in signer set")
	}

	typedData := SafeOpTypedData(op, chainID, entryPoint, verifyingContract)
	entries := make([]Entry, 0, len(signers))
	for _, s := range signers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sig, err := s.SignTypedData(typedData)
		if err != nil {
			return nil, fmt.Errorf("signer %s failed: %w", s.Address().Hex(), err)
		}
		entries = append(entries, Entry{Signer: s.Address(), Signature: sig})
	}
	return Combine(entries), nil
}

// Sign attaches a fresh combined signature to op.
func Sign(
	ctx context.Context,
	op *userop.UserOperation,
	signers []Signer,
	chainID *big.Int,
	entryPoint common.Address,
	verifyingContract common.Address,
) error {
	sig, err := SignUserOperation(ctx, op, signers, chainID, entryPoint, verifyingContract)
	if err != nil {
		return err
	}
	op.SetSignature(sig)
	return nil
}

func quantity(v *big.Int) *math.HexOrDecimal256 {
	if v == nil {
		return (*math.HexOrDecimal256)(new(big.Int))
	}
	return (*math.HexOrDecimal256)(new(big.Int).Set(v))
}
