package bundler

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/gjson"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

type SettlementStatus string

const (
	StatusPending SettlementStatus = "pending"
	StatusSuccess SettlementStatus = "success"
	StatusFailed  SettlementStatus = "failed"
)

// Settlement is the interpreted outcome of eth_getUserOperationReceipt.
type Settlement struct {
	TaskID          string
	Status          SettlementStatus
	TransactionHash string
	// UserOpHash is empty when UserOpHashErr is set.
	UserOpHash    string
	UserOpHashErr error
	ActualGasUsed *big.Int
	GasUsed       *big.Int
	// Success mirrors the receipt's success flag when the relay sent one.
	Success *bool
	Reason  string
	// Error is the relay's error payload for a failed settlement.
	Error string
}

// Links are human facing references for a settlement.
type Links struct {
	Transaction string
	UserOp      string
}

// Links formats explorer links for chainLabel (e.g. "sepolia").
func (s *Settlement) Links(chainLabel string) Links {
	var l Links
	if s.TransactionHash != "" {
		l.Transaction = fmt.Sprintf("https://%s.etherscan.io/tx/%s", chainLabel, s.TransactionHash)
	}
	if s.UserOpHash != "" {
		l.UserOp = fmt.Sprintf("https://jiffyscan.xyz/userOpHash/%s?network=%s", s.UserOpHash, chainLabel)
	}
	return l
}

// ParseReceipt interprets a receipt response for an operation sent to
// entryPoint.
//
// A null or missing result is pending. A result with receipt.transactionHash is
// settled; the user operation hash is taken from the EntryPoint's
// UserOperationEvent log, wherever it sits among the logs. A result without
// a transaction hash is failed with the relay's error text.
func ParseReceipt(resp Response, entryPoint common.Address) (*Settlement, error) {
	if !resp.HasResult() {
		// relays answer "not found" style errors until the operation lands,
		// so an error without a result is still pending
		return &Settlement{Status: StatusPending, Error: errorText(resp.Body)}, nil
	}

	result := resp.Result()
	if !result.IsObject() {
		return nil, fmt.Errorf("%w: result is %s", ErrMalformedReceipt, result.Raw)
	}

	txHash := result.Get("receipt.transactionHash").String()
	if txHash == "" {
		s := &Settlement{Status: StatusFailed, Reason: result.Get("reason").String()}
		s.Error = errorText(resp.Body)
		if s.Error == "" {
			s.Error = s.Reason
		}
		if s.Error == "" {
			s.Error = "receipt without transaction hash"
		}
		return s, nil
	}

	s := &Settlement{
		Status:          StatusSuccess,
		TransactionHash: txHash,
		Reason:          result.Get("reason").String(),
	}

	var err error
	if s.ActualGasUsed, err = optionalQuantityOf(result.Get("actualGasUsed")); err != nil {
		return nil, fmt.Errorf("%w: actualGasUsed: %v", ErrMalformedReceipt, err)
	}
	if s.GasUsed, err = optionalQuantityOf(result.Get("receipt.gasUsed")); err != nil {
		return nil, fmt.Errorf("%w: receipt.gasUsed: %v", ErrMalformedReceipt, err)
	}

	if flag := result.Get("success"); flag.Exists() && flag.Type != gjson.Null {
		ok := flag.Bool()
		s.Success = &ok
		if !ok {
			// included on chain, but the call reverted
			s.Status = StatusFailed
			s.Error = s.Reason
			if s.Error == "" {
				s.Error = "user operation reverted"
			}
		}
	}

	s.UserOpHash, s.UserOpHashErr = findUserOpHash(result.Get("logs"), entryPoint)
	return s, nil
}

// findUserOpHash scans logs for the EntryPoint's UserOperationEvent and
// returns its first indexed topic.
func findUserOpHash(logs gjson.Result, entryPoint common.Address) (string, error) {
	if !logs.IsArray() {
		return "", ErrUserOpHashUndetermined
	}
	eventTopic := entrypoint.UserOperationEventTopic.Hex()
	for _, l := range logs.Array() {
		if !strings.EqualFold(l.Get("address").String(), entryPoint.Hex()) {
			continue
		}
		topics := l.Get("topics").Array()
		if len(topics) < 2 || !strings.EqualFold(topics[0].String(), eventTopic) {
			continue
		}
		return topics[1].String(), nil
	}
	return "", ErrUserOpHashUndetermined
}

func errorText(body gjson.Result) string {
	errField := body.Get("error")
	switch {
	case errField.IsObject():
		return errField.Get("message").String()
	case errField.Exists() && errField.Type != gjson.Null:
		return errField.String()
	case body.Get("result.error").Exists():
		return body.Get("result.error").String()
	}
	return ""
}

// quantityOf reads a JSON value that is either a hex string or a plain
// number.
func quantityOf(v gjson.Result) (*big.Int, error) {
	if v.Type == gjson.Number {
		n, ok := new(big.Int).SetString(v.Raw, 10)
		if !ok {
			return nil, fmt.Errorf("invalid number %s", v.Raw)
		}
		return n, nil
	}
	return userop.ParseQuantity(v.String())
}

func optionalQuantityOf(v gjson.Result) (*big.Int, error) {
	if !v.Exists() || v.Type == gjson.Null {
		return nil, nil
	}
	return quantityOf(v)
}
