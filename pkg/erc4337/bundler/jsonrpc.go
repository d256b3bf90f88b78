package bundler

import (
	"github.com/tidwall/gjson"
)

const (
	MethodEstimateUserOperationGas = "eth_estimateUserOperationGas"
	MethodSendUserOperation        = "eth_sendUserOperation"
	MethodGetUserOperationReceipt  = "eth_getUserOperationReceipt"
	MethodSupportedEntryPoints     = "eth_supportedEntryPoints"
)

// JSONRPCRequest is the envelope POSTed to the relay.
type JSONRPCRequest struct {
	ID      int64         `json:"id"`
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

// Response is a relay reply. The shape is loose: relays answer with a
// JSON-RPC error object, a bare error string or a top-level message, so
// fields are read on demand.
type Response struct {
	Method string
	Status int
	Body   gjson.Result
}

// Result returns the "result" member.
func (r Response) Result() gjson.Result {
	return r.Body.Get("result")
}

// HasResult is true when "result" is present and not null.
func (r Response) HasResult() bool {
	res := r.Result()
	return res.Exists() && res.Type != gjson.Null
}

// Err converts an error-shaped response into a *RelayError. It returns nil
// when the response carries a result.
func (r Response) Err() *RelayError {
	if r.HasResult() {
		return nil
	}
	return relayErrorFrom(r.Method, r.Body)
}

func relayErrorFrom(method string, body gjson.Result) *RelayError {
	relayErr := &RelayError{Method: method}

	errField := body.Get("error")
	switch {
	case errField.IsObject():
		relayErr.Code = errField.Get("code").Int()
		relayErr.Message = errField.Get("message").String()
		if data := errField.Get("data"); data.Exists() {
			relayErr.Data = data.Raw
		}
	case errField.Exists() && errField.Type != gjson.Null:
		relayErr.Message = errField.String()
	case body.Get("message").Exists():
		relayErr.Message = body.Get("message").String()
	default:
		relayErr.Message = "relay returned no result"
	}
	return relayErr
}
