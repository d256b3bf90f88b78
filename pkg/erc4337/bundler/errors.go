package bundler

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport marks a failed round trip: connection errors, timeouts or
	// a body that is not JSON.
	ErrTransport = errors.New("relay transport failure")

	// ErrMalformedReceipt is returned when a receipt result is present but
	// not shaped like a UserOperation receipt.
	ErrMalformedReceipt = errors.New("malformed user operation receipt")

	// ErrUserOpHashUndetermined is recorded on a settled receipt when no
	// UserOperationEvent from the EntryPoint could be found in its logs.
	ErrUserOpHashUndetermined = errors.New("receipt present but user operation hash undeterminable")

	// ErrSettlementTimeout is returned when polling gave up before the relay
	// reported a receipt.
	ErrSettlementTimeout = errors.New("settlement polling exhausted before a receipt was available")
)

// RelayError is an error reported by the relay itself.
type RelayError struct {
	Method  string
	Code    int64
	Message string
	Data    string
}

func (e *RelayError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: relay error %d: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}
