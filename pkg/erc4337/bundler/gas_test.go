package bundler

import (
	"context"
	"math/big"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/userop-relay/core/testutil"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

var fallbackWire = map[string]string{
	"preVerificationGas":   "0xc350",
	"verificationGasLimit": "0x76c0",
	"callGasLimit":         "0x55730",
}

func TestEstimateV07TransportFailureUsesFallback(t *testing.T) {
	relay := testutil.NewFakeRelay()
	defer relay.Close()
	relay.Handle(MethodEstimateUserOperationGas, func(testutil.RelayCall) (int, string) {
		return http.StatusServiceUnavailable, ""
	})

	rec := newCountingRecorder()
	est, err := newTestClient(t, relay.URL, rec).EstimateUserOperationGas(context.Background(), entrypoint.AddressV07, testOperation())
	require.NoError(t, err)
	require.NotNil(t, est)
	assert.True(t, est.Fallback)
	assert.Equal(t, fallbackWire, est.Wire())
	assert.Equal(t, 1, rec.fallbacks["v0.7"])
}

func TestEstimateV07RelayErrorUsesFallback(t *testing.T) {
	relay := testutil.NewFakeRelay()
	defer relay.Close()
	relay.Error(MethodEstimateUserOperationGas, -32602, "invalid user operation")

	est, err := newTestClient(t, relay.URL, nil).EstimateUserOperationGas(context.Background(), entrypoint.AddressV07, testOperation())
	require.NoError(t, err)
	require.NotNil(t, est)
	assert.True(t, est.Fallback)
	assert.Equal(t, fallbackWire, est.Wire())
}

func TestEstimateV07PartialResultIsCompletedFromFallback(t *testing.T) {
	relay := testutil.NewFakeRelay()
	defer relay.Close()
	relay.Result(MethodEstimateUserOperationGas, `{"callGasLimit":"0x55730"}`)

	est, err := newTestClient(t, relay.URL, nil).EstimateUserOperationGas(context.Background(), entrypoint.AddressV07, testOperation())
	require.NoError(t, err)
	require.NotNil(t, est)
	assert.True(t, est.Fallback)
	assert.Equal(t, fallbackWire, est.Wire())
}

func TestEstimateV07FullResult(t *testing.T) {
	relay := testutil.NewFakeRelay()
	defer relay.Close()
	relay.Result(MethodEstimateUserOperationGas, `{
		"preVerificationGas": "0x0",
		"callGasLimit": "0x0x1d4c0",
		"verificationGasLimit": "0x0186a0",
		"paymasterVerificationGasLimit": "0x7530",
		"paymasterPostOpGasLimit": "0x1"
	}`)

	est, err := newTestClient(t, relay.URL, nil).EstimateUserOperationGas(context.Background(), entrypoint.AddressV07, testOperation())
	require.NoError(t, err)
	require.NotNil(t, est)
	assert.False(t, est.Fallback)
	assert.Equal(t, int64(0), est.PreVerificationGas.Int64())
	assert.Equal(t, int64(120000), est.CallGasLimit.Int64())
	assert.Equal(t, int64(100000), est.VerificationGasLimit.Int64())
	assert.Equal(t, int64(30000), est.PaymasterVerificationGasLimit.Int64())
	assert.Equal(t, int64(1), est.PaymasterPostOpGasLimit.Int64())
}

func TestEstimateV06FailureIsAbsent(t *testing.T) {
	relay := testutil.NewFakeRelay()
	defer relay.Close()
	relay.Error(MethodEstimateUserOperationGas, -32500, "AA23 reverted")

	rec := newCountingRecorder()
	est, err := newTestClient(t, relay.URL, rec).EstimateUserOperationGas(context.Background(), entrypoint.AddressV06, testOperation())
	assert.NoError(t, err)
	assert.Nil(t, est)
	assert.Equal(t, 1, rec.fallbacks["v0.6"])
}

func TestEstimateV06AcceptsNumericFields(t *testing.T) {
	relay := testutil.NewFakeRelay()
	defer relay.Close()
	relay.Result(MethodEstimateUserOperationGas, `{"preVerificationGas":48000,"callGasLimit":"0x5208","verificationGasLimit":"0x186a0"}`)

	est, err := newTestClient(t, relay.URL, nil).EstimateUserOperationGas(context.Background(), entrypoint.AddressV06, testOperation())
	require.NoError(t, err)
	require.NotNil(t, est)
	assert.Equal(t, int64(48000), est.PreVerificationGas.Int64())
	assert.Equal(t, int64(21000), est.CallGasLimit.Int64())
	assert.Nil(t, est.PaymasterVerificationGasLimit)
	assert.False(t, est.Fallback)
}

func TestEstimateSendsZeroedDraft(t *testing.T) {
	relay := testutil.NewFakeRelay()
	defer relay.Close()
	relay.Result(MethodEstimateUserOperationGas, `{"preVerificationGas":"0x1","callGasLimit":"0x1","verificationGasLimit":"0x1"}`)

	op := userop.NewDraft(testutil.TestSender, big.NewInt(9), nil, []byte{0x01})
	op.MaxFeePerGas = big.NewInt(77)
	_, err := newTestClient(t, relay.URL, nil).EstimateUserOperationGas(context.Background(), entrypoint.AddressV06, op)
	require.NoError(t, err)

	calls := relay.Calls(MethodEstimateUserOperationGas)
	require.Len(t, calls, 1)
	sent := calls[0].Params.Array()[0]
	assert.Equal(t, "0x0", sent.Get("maxFeePerGas").String())
	assert.Equal(t, "0x0", sent.Get("callGasLimit").String())
	assert.Equal(t, "0x9", sent.Get("nonce").String())
	assert.Equal(t, userop.EncodeBytes(userop.DummySignature()), sent.Get("signature").String())
	assert.True(t, sent.Get("initCode").Exists())
	assert.Equal(t, entrypoint.AddressV06.Hex(), calls[0].Params.Array()[1].String())
}

func TestEstimateCancelledContext(t *testing.T) {
	relay := testutil.NewFakeRelay()
	defer relay.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	est, err := newTestClient(t, relay.URL, nil).EstimateUserOperationGas(ctx, entrypoint.AddressV07, testOperation())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, est)
}
