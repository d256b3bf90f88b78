package orchestrator

import (
	"math/big"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/bundler"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

// GasMarginPercent is the safety margin applied to estimated gas limits.
const GasMarginPercent = 10

// Inflate returns floor(x * (100+GasMarginPercent) / 100).
func Inflate(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	out := new(big.Int).Mul(x, big.NewInt(100+GasMarginPercent))
	return out.Div(out, big.NewInt(100))
}

// ApplyEstimate patches op with est. Call and verification gas limits are
// inflated by GasMarginPercent; fields the relay did not report keep their
// draft value before inflation. A zero or missing preVerificationGas keeps
// the draft value since sponsored relays settle that fee after execution.
// For v0.7 the paymaster limits are patched into paymasterAndData when the
// operation names a paymaster.
//
// Patching invalidates any signature on op.
func ApplyEstimate(op *userop.UserOperation, est *bundler.GasEstimate, version entrypoint.Version) error {
	if est == nil {
		return ErrEstimationFailed
	}

	if est.PreVerificationGas != nil && est.PreVerificationGas.Sign() > 0 {
		op.PreVerificationGas = new(big.Int).Set(est.PreVerificationGas)
	}
	if est.CallGasLimit != nil {
		op.CallGasLimit = new(big.Int).Set(est.CallGasLimit)
	}
	if est.VerificationGasLimit != nil {
		op.VerificationGasLimit = new(big.Int).Set(est.VerificationGasLimit)
	}
	op.CallGasLimit = Inflate(op.CallGasLimit)
	op.VerificationGasLimit = Inflate(op.VerificationGasLimit)

	if version != entrypoint.V07 {
		return nil
	}
	if est.PaymasterVerificationGasLimit == nil && est.PaymasterPostOpGasLimit == nil {
		return nil
	}
	pm := userop.ParsePaymasterAndData(op.PaymasterAndData)
	if pm.Paymaster == nil {
		return nil
	}
	if est.PaymasterVerificationGasLimit != nil {
		pm.VerificationGasLimit = Inflate(est.PaymasterVerificationGasLimit)
	}
	if est.PaymasterPostOpGasLimit != nil {
		pm.PostOpGasLimit = Inflate(est.PaymasterPostOpGasLimit)
	}
	op.PaymasterAndData = pm.Pack()
	return nil
}
