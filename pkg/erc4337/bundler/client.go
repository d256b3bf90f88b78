// Package bundler is the client side of a relay/bundler JSON-RPC endpoint:
// gas estimation, submission, receipt lookup and settlement polling.
// The relay is stateless from the client's point of view.
package bundler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/AvaProtocol/userop-relay/metrics"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
	"github.com/AvaProtocol/userop-relay/pkg/logger"
	"github.com/AvaProtocol/userop-relay/version"
)

const DefaultRequestTimeout = 30 * time.Second

// Options configures a Client.
type Options struct {
	// BaseURL of the relay, e.g. https://api.gelato.digital
	BaseURL string
	ChainID int64
	APIKey  string
	Timeout time.Duration
	Logger  logger.Logger
	Metrics metrics.Recorder
}

// Client talks to exactly one relay endpoint. It holds no per-operation
// state and is safe for concurrent use.
type Client struct {
	http     *resty.Client
	baseURL  string
	endpoint string
	logger   logger.Logger
	metrics  metrics.Recorder
	nextID   atomic.Int64
}

// Endpoint builds {baseURL}/bundlers/{chainID}/rpc?sponsorApiKey={apiKey}.
func Endpoint(baseURL string, chainID int64, apiKey string) string {
	base := strings.TrimRight(baseURL, "/")
	return fmt.Sprintf("%s/bundlers/%d/rpc?sponsorApiKey=%s", base, chainID, url.QueryEscape(apiKey))
}

func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("relay base url is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid relay base url: %w", err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	httpClient := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", version.UserAgent())

	return &Client{
		http:     httpClient,
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		endpoint: Endpoint(opts.BaseURL, opts.ChainID, opts.APIKey),
		logger:   logger.EnsureLogger(opts.Logger),
		metrics:  metrics.EnsureRecorder(opts.Metrics),
	}, nil
}

// TaskStatusURL is the relay page that tracks a submitted operation.
func (c *Client) TaskStatusURL(taskID string) string {
	return c.baseURL + "/tasks/status/" + taskID
}

// Call issues one JSON-RPC request. A non-nil error is always a transport
// failure; relay-level errors come back inside the Response.
func (c *Client) Call(ctx context.Context, method string, params ...interface{}) (Response, error) {
	if params == nil {
		params = []interface{}{}
	}
	req := JSONRPCRequest{
		ID:      c.nextID.Add(1),
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post(c.endpoint)
	if err != nil {
		c.metrics.IncRelayCall(method, "transport_error")
		return Response{Method: method}, fmt.Errorf("%w: %s: %v", ErrTransport, method, err)
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		c.metrics.IncRelayCall(method, "transport_error")
		return Response{Method: method, Status: resp.StatusCode()},
			fmt.Errorf("%w: %s: status %d with non-JSON body %q", ErrTransport, method, resp.StatusCode(), safePreview(string(body), 200))
	}

	out := Response{Method: method, Status: resp.StatusCode(), Body: gjson.ParseBytes(body)}
	if out.HasResult() {
		c.metrics.IncRelayCall(method, "ok")
	} else {
		c.metrics.IncRelayCall(method, "rejected")
	}
	c.logger.Debug("relay call", "method", method, "status", resp.StatusCode(), "body", safePreview(string(body), 500))
	return out, nil
}

// SendUserOperation submits a signed operation. It returns the relay's task
// identifier, a *RelayError when the relay rejected it, or an error wrapping
// ErrTransport.
func (c *Client) SendUserOperation(ctx context.Context, entryPoint common.Address, op *userop.UserOperation) (string, error) {
	version := entrypoint.DetectVersion(entryPoint.Hex(), c.logger)
	wire := userop.ToWire(op, version)

	c.logger.Info("submitting user operation",
		"entryPoint", entryPoint.Hex(),
		"version", version.String(),
		"sender", op.Sender.Hex(),
		"nonce", userop.EncodeQuantity(op.Nonce),
		"signature", safePreview(userop.EncodeBytes(op.Signature), 50))

	resp, err := c.Call(ctx, MethodSendUserOperation, wire, entryPoint.Hex())
	if err != nil {
		return "", err
	}
	if relayErr := resp.Err(); relayErr != nil {
		return "", relayErr
	}

	taskID := resp.Result().String()
	if taskID == "" {
		return "", &RelayError{Method: MethodSendUserOperation, Message: "relay accepted the operation without a task id"}
	}
	return taskID, nil
}

// GetUserOperationReceipt fetches the receipt for a task. A pending
// operation comes back with a null result.
func (c *Client) GetUserOperationReceipt(ctx context.Context, taskID string) (Response, error) {
	return c.Call(ctx, MethodGetUserOperationReceipt, taskID)
}

// SupportedEntryPoints lists the EntryPoint addresses the relay accepts.
func (c *Client) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	resp, err := c.Call(ctx, MethodSupportedEntryPoints)
	if err != nil {
		return nil, err
	}
	if relayErr := resp.Err(); relayErr != nil {
		return nil, relayErr
	}

	result := resp.Result()
	if !result.IsArray() {
		return nil, &RelayError{Method: MethodSupportedEntryPoints, Message: "result is not a list: " + result.Raw}
	}
	var out []common.Address
	for _, item := range result.Array() {
		if common.IsHexAddress(item.String()) {
			out = append(out, common.HexToAddress(item.String()))
		}
	}
	return out, nil
}

// safePreview returns a truncated preview of s with ellipsis when longer than n
func safePreview(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
