package orchestrator

import (
	"errors"

	"github.com/AvaProtocol/userop-relay/core/config"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/bundler"
)

var (
	ErrConfig = config.ErrConfig

	// ErrEstimationFailed is returned when no usable gas estimate was
	// obtained.
	ErrEstimationFailed = errors.New("gas estimation failed")

	// ErrSubmissionRejected wraps the relay's *bundler.RelayError.
	ErrSubmissionRejected = errors.New("user operation rejected by relay")

	// ErrNotFinal guards against submitting an operation whose signature
	// does not cover its current field values.
	ErrNotFinal = errors.New("user operation is not signed over its final values")

	// ErrAlreadyRun is returned when an Orchestrator is reused.
	ErrAlreadyRun = errors.New("orchestrator already ran")

	// ErrSettlementFailed is returned when the relay reports the operation
	// as failed.
	ErrSettlementFailed = errors.New("user operation settled as failed")

	ErrMalformedReceipt       = bundler.ErrMalformedReceipt
	ErrUserOpHashUndetermined = bundler.ErrUserOpHashUndetermined
	ErrSettlementTimeout      = bundler.ErrSettlementTimeout
	ErrTransport              = bundler.ErrTransport
)
