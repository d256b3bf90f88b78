package testutil

import (
	"crypto/ecdsa"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tidwall/gjson"
)

const (
	// well known test keys, never fund them
	testKey1 = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testKey2 = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

	TestChainID = int64(11155111)
	TestAPIKey  = "test-sponsor-key"
)

var (
	Safe4337Module = common.HexToAddress("0x75cf11467937ce3F2f357CE24ffc3DBF8fD5c226")
	TestSender     = common.HexToAddress("0x9C5f2A1e1b6E9B7a0e13F6c5D5f0d4bC3e2A1b00")
	CounterAddress = common.HexToAddress("0x7AA30a4Ce0c9Dd4Ec3D5D1C6bD0Ab5dA8b4D6e0F")
)

func GetLogger() sdklogging.Logger {
	logger, err := sdklogging.NewZapLogger("development")
	if err != nil {
		panic(err)
	}
	return logger
}

func TestKey1() *ecdsa.PrivateKey { return mustKey(testKey1) }
func TestKey2() *ecdsa.PrivateKey { return mustKey(testKey2) }

func mustKey(hex string) *ecdsa.PrivateKey {
	key, err := crypto.HexToECDSA(hex)
	if err != nil {
		panic(err)
	}
	return key
}

// RelayCall is one JSON-RPC request received by a FakeRelay.
type RelayCall struct {
	Path   string
	Query  string
	Method string
	Params gjson.Result
}

// RelayHandler answers one call with an HTTP status and a raw body.
type RelayHandler func(call RelayCall) (int, string)

// FakeRelay is an httptest server speaking the relay's JSON-RPC dialect.
// Methods without a handler answer with a -32601 error.
type FakeRelay struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]RelayHandler
	calls    []RelayCall
}

func NewFakeRelay() *FakeRelay {
	f := &FakeRelay{handlers: map[string]RelayHandler{}}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	return f
}

func (f *FakeRelay) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	req := gjson.ParseBytes(body)
	call := RelayCall{
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Method: req.Get("method").String(),
		Params: req.Get("params"),
	}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	handler, ok := f.handlers[call.Method]
	f.mu.Unlock()

	status, out := http.StatusOK, ErrorBody(req.Get("id").Raw, -32601, "method not found")
	if ok {
		status, out = handler(call)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(out))
}

func (f *FakeRelay) Handle(method string, handler RelayHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = handler
}

// Result makes method answer with result, a raw JSON value.
func (f *FakeRelay) Result(method, result string) {
	f.Handle(method, func(RelayCall) (int, string) {
		return http.StatusOK, ResultBody(result)
	})
}

// Error makes method answer with a JSON-RPC error object.
func (f *FakeRelay) Error(method string, code int, message string) {
	f.Handle(method, func(RelayCall) (int, string) {
		return http.StatusOK, ErrorBody("1", code, message)
	})
}

// Sequence answers method with results in order, repeating the last one.
func (f *FakeRelay) Sequence(method string, results ...string) {
	var (
		mu   sync.Mutex
		next int
	)
	f.Handle(method, func(RelayCall) (int, string) {
		mu.Lock()
		defer mu.Unlock()
		r := results[next]
		if next < len(results)-1 {
			next++
		}
		return http.StatusOK, ResultBody(r)
	})
}

// Calls returns the received calls for method, or every call when method
// is empty.
func (f *FakeRelay) Calls(method string) []RelayCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []RelayCall
	for _, c := range f.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func ResultBody(result string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"result":%s}`, result)
}

func ErrorBody(id string, code int, message string) string {
	if id == "" {
		id = "1"
	}
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%s,"error":{"code":%d,"message":%q}}`, id, code, message)
}

// ReceiptJSON builds a settled eth_getUserOperationReceipt result whose
// logs contain a UserOperationEvent from entryPoint carrying userOpHash,
// followed by an unrelated log.
func ReceiptJSON(entryPoint common.Address, userOpHash, txHash string, success bool) string {
	return fmt.Sprintf(`{
		"userOpHash": %q,
		"sender": %q,
		"success": %t,
		"actualGasUsed": "0x1a2b3",
		"actualGasCost": "0x5f5e100",
		"reason": "",
		"logs": [
			{"address": %q, "topics": ["0xbb47ee3e183a558b1a2ff0874b079f3fc5478b7454eacf2bfc5af2ff5878f972"]},
			{"address": %q, "topics": ["0x49628fd1471006c1482da88028e9ce4dbb080b815c9b0344d39e5a8e6ec1419f", %q, "0x0000000000000000000000009c5f2a1e1b6e9b7a0e13f6c5d5f0d4bc3e2a1b00"]},
			{"address": "0x1111111111111111111111111111111111111111", "topics": ["0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"]}
		],
		"receipt": {"transactionHash": %q, "gasUsed": "0x2f4a0", "status": "0x1"}
	}`, userOpHash, TestSender.Hex(), success, entryPoint.Hex(), entryPoint.Hex(), userOpHash, txHash)
}
