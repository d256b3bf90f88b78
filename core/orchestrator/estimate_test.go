package orchestrator

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/userop-relay/core/testutil"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/bundler"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

func TestInflate(t *testing.T) {
	for in, want := range map[int64]int64{
		0:      0,
		1:      1,
		9:      9,
		10:     11,
		19:     20,
		100000: 110000,
		30400:  33440,
		350001: 385001,
	} {
		assert.Equal(t, want, Inflate(big.NewInt(in)).Int64(), "inflate %d", in)
	}
	assert.Equal(t, int64(0), Inflate(nil).Int64())
}

func draftOp() *userop.UserOperation {
	op := userop.NewDraft(testutil.TestSender, big.NewInt(0), nil, []byte{0x01})
	op.PreVerificationGas = big.NewInt(21000)
	op.CallGasLimit = big.NewInt(1000)
	op.VerificationGasLimit = big.NewInt(2000)
	return op
}

func TestApplyEstimate(t *testing.T) {
	op := draftOp()
	err := ApplyEstimate(op, &bundler.GasEstimate{
		PreVerificationGas:   big.NewInt(48000),
		CallGasLimit:         big.NewInt(100000),
		VerificationGasLimit: big.NewInt(200001),
	}, entrypoint.V06)
	require.NoError(t, err)

	assert.Equal(t, int64(48000), op.PreVerificationGas.Int64())
	assert.Equal(t, int64(110000), op.CallGasLimit.Int64())
	assert.Equal(t, int64(220001), op.VerificationGasLimit.Int64())
}

func TestApplyEstimateKeepsDraftPreVerificationGasWhenZero(t *testing.T) {
	for name, pvg := range map[string]*big.Int{"zero": big.NewInt(0), "absent": nil} {
		t.Run(name, func(t *testing.T) {
			op := draftOp()
			require.NoError(t, ApplyEstimate(op, &bundler.GasEstimate{
				PreVerificationGas:   pvg,
				CallGasLimit:         big.NewInt(100),
				VerificationGasLimit: big.NewInt(100),
			}, entrypoint.V07))
			assert.Equal(t, int64(21000), op.PreVerificationGas.Int64())
		})
	}
}

func TestApplyEstimateInflatesDraftValuesForMissingFields(t *testing.T) {
	op := draftOp()
	require.NoError(t, ApplyEstimate(op, &bundler.GasEstimate{CallGasLimit: big.NewInt(500)}, entrypoint.V06))
	assert.Equal(t, int64(550), op.CallGasLimit.Int64())
	assert.Equal(t, int64(2200), op.VerificationGasLimit.Int64())
}

func TestApplyEstimateNil(t *testing.T) {
	assert.ErrorIs(t, ApplyEstimate(draftOp(), nil, entrypoint.V06), ErrEstimationFailed)
}

func TestApplyEstimatePatchesPaymasterLimitsOnV07(t *testing.T) {
	paymaster := common.HexToAddress("0x00000000000000fB866DaAA79352cC568a005D96")
	est := &bundler.GasEstimate{
		CallGasLimit:                  big.NewInt(100),
		VerificationGasLimit:          big.NewInt(100),
		PaymasterVerificationGasLimit: big.NewInt(1000),
		PaymasterPostOpGasLimit:       big.NewInt(50),
	}

	op := draftOp()
	op.PaymasterAndData = append(paymaster.Bytes(), 0xaa, 0xbb)
	require.NoError(t, ApplyEstimate(op, est, entrypoint.V07))

	pm := userop.ParsePaymasterAndData(op.PaymasterAndData)
	require.NotNil(t, pm.Paymaster)
	assert.Equal(t, paymaster, *pm.Paymaster)
	assert.Equal(t, int64(1100), pm.VerificationGasLimit.Int64())
	assert.Equal(t, int64(55), pm.PostOpGasLimit.Int64())
	assert.Equal(t, []byte{0xaa, 0xbb}, pm.Data)

	// v0.6 leaves paymasterAndData alone
	op = draftOp()
	op.PaymasterAndData = append(paymaster.Bytes(), 0xaa, 0xbb)
	original := common.CopyBytes(op.PaymasterAndData)
	require.NoError(t, ApplyEstimate(op, est, entrypoint.V06))
	assert.Equal(t, original, op.PaymasterAndData)

	// no paymaster, nothing to patch
	op = draftOp()
	require.NoError(t, ApplyEstimate(op, est, entrypoint.V07))
	assert.Empty(t, op.PaymasterAndData)
}
