package bundler

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/userop-relay/core/testutil"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

type countingRecorder struct {
	mu        sync.Mutex
	calls     map[string]int
	fallbacks map[string]int
	polls     map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{calls: map[string]int{}, fallbacks: map[string]int{}, polls: map[string]int{}}
}

func (r *countingRecorder) IncRelayCall(method, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[method+"/"+status]++
}

func (r *countingRecorder) IncEstimateFallback(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[version]++
}

func (r *countingRecorder) IncPollAttempt(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls[outcome]++
}

func (r *countingRecorder) IncOutcome(state string)            {}
func (r *countingRecorder) ObserveRunDuration(seconds float64) {}

func newTestClient(t *testing.T, baseURL string, rec *countingRecorder) *Client {
	t.Helper()
	opts := Options{
		BaseURL: baseURL,
		ChainID: testutil.TestChainID,
		APIKey:  testutil.TestAPIKey,
		Timeout: 2 * time.Second,
	}
	if rec != nil {
		opts.Metrics = rec
	}
	c, err := NewClient(opts)
	require.NoError(t, err)
	return c
}

func testOperation() *userop.UserOperation {
	op := userop.NewDraft(testutil.TestSender, big.NewInt(5), nil, []byte{0x01, 0x02})
	op.CallGasLimit = big.NewInt(1000)
	op.MaxFeePerGas = big.NewInt(1)
	op.MaxPriorityFeePerGas = big.NewInt(1)
	op.SetSignature([]byte{0xaa})
	return op
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t,
		"https://api.gelato.digital/bundlers/11155111/rpc?sponsorApiKey=abc",
		Endpoint("https://api.gelato.digital/", 11155111, "abc"))
	assert.Equal(t,
		"http://relay/bundlers/1/rpc?sponsorApiKey=a%2Bb",
		Endpoint("http://relay", 1, "a+b"))
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	_, err := NewClient(Options{})
	assert.Error(t, err)
}

func TestCallSpeaksJSONRPC(t *testing.T) {
	relay := testutil.NewFakeRelay()
	defer relay.Close()
	relay.Result(MethodSupportedEntryPoints, `["0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789","0x0000000071727De22E5E9d8BAf0edAc6f37da032"]`)

	c := newTestClient(t, relay.URL, nil)
	eps, err := c.SupportedEntryPoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []common.Address{entrypoint.AddressV06, entrypoint.AddressV07}, eps)

	calls := relay.Calls(MethodSupportedEntryPoints)
	require.Len(t, calls, 1)
	assert.Equal(t, "/bundlers/11155111/rpc", calls[0].Path)
	assert.Equal(t, "sponsorApiKey="+testutil.TestAPIKey, calls[0].Query)
	assert.True(t, calls[0].Params.IsArray())
}

func TestCallNonJSONBodyIsTransportError(t *testing.T) {
	relay := testutil.NewFakeRelay()
	defer relay.Close()
	relay.Handle(MethodSupportedEntryPoints, func(testutil.RelayCall) (int, string) {
		return http.StatusBadGateway, "<html>bad gateway</html>"
	})

	rec := newCountingRecorder()
	_, err := newTestClient(t, relay.URL, rec).Call(context.Background(), MethodSupportedEntryPoints)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, 1, rec.calls[MethodSupportedEntryPoints+"/transport_error"])
}

func TestCallUnreachableRelayIsTransportError(t *testing.T) {
	relay := testutil.NewFakeRelay()
	url := relay.URL
	relay.Close()

	_, err := newTestClient(t, url, nil).Call(context.Background(), MethodSupportedEntryPoints)
	assert.ErrorIs(t, err, ErrTransport)
}

func TestSendUserOperationReturnsTaskID(t *testing.T) {
	relay := testutil.NewFakeRelay()
	defer relay.Close()
	relay.Result(MethodSendUserOperation, `"0xtask123"`)

	op := testOperation()
	taskID, err := newTestClient(t, relay.URL, nil).SendUserOperation(context.Background(), entrypoint.AddressV07, op)
	require.NoError(t, err)
	assert.Equal(t, "0xtask123", taskID)

	calls := relay.Calls(MethodSendUserOperation)
	require.Len(t, calls, 1)
	params := calls[0].Params.Array()
	require.Len(t, params, 2)
	assert.Equal(t, entrypoint.AddressV07.Hex(), params[1].String())
	// v0.7 wire shape
	assert.True(t, params[0].Get("factory").Exists())
	assert.False(t, params[0].Get("initCode").Exists())
	assert.Equal(t, "0x5", params[0].Get("nonce").String())
	assert.Equal(t, "0xaa", params[0].Get("signature").String())
}

func TestSendUserOperationRejections(t *testing.T) {
	cases := map[string]struct {
		body    string
		message string
		code    int64
	}{
		"error string": {`{"jsonrpc":"2.0","id":1,"error":"insufficient funds"}`, "insufficient funds", 0},
		"error object": {`{"jsonrpc":"2.0","id":1,"error":{"code":-32500,"message":"AA21 didn't pay prefund"}}`, "AA21 didn't pay prefund", -32500},
		"message only": {`{"message":"invalid sponsor key"}`, "invalid sponsor key", 0},
		"empty result": {`{"jsonrpc":"2.0","id":1,"result":""}`, "relay accepted the operation without a task id", 0},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			relay := testutil.NewFakeRelay()
			defer relay.Close()
			body := tc.body
			relay.Handle(MethodSendUserOperation, func(testutil.RelayCall) (int, string) { return http.StatusOK, body })

			_, err := newTestClient(t, relay.URL, nil).SendUserOperation(context.Background(), entrypoint.AddressV06, testOperation())
			var relayErr *RelayError
			require.True(t, errors.As(err, &relayErr), "got %v", err)
			assert.Equal(t, tc.message, relayErr.Message)
			assert.Equal(t, tc.code, relayErr.Code)
			assert.False(t, errors.Is(err, ErrTransport))
		})
	}
}
