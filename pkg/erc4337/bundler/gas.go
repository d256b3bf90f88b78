package bundler

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/tidwall/gjson"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/entrypoint"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

var (
	// Conservative values used when a v0.7 estimation fails. v0.6 has no
	// fallback.
	FallbackPreVerificationGas   = big.NewInt(50000)
	FallbackVerificationGasLimit = big.NewInt(30400)
	FallbackCallGasLimit         = big.NewInt(350000)
)

// GasEstimate is the relay's answer to eth_estimateUserOperationGas. A nil
// field was not reported.
type GasEstimate struct {
	PreVerificationGas            *big.Int
	CallGasLimit                  *big.Int
	VerificationGasLimit          *big.Int
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int

	// Fallback is set when the values are the hardcoded v0.7 defaults
	// rather than relay output.
	Fallback bool
}

// FallbackGasEstimate returns a fresh copy of the v0.7 defaults.
func FallbackGasEstimate() *GasEstimate {
	return &GasEstimate{
		PreVerificationGas:   new(big.Int).Set(FallbackPreVerificationGas),
		VerificationGasLimit: new(big.Int).Set(FallbackVerificationGasLimit),
		CallGasLimit:         new(big.Int).Set(FallbackCallGasLimit),
		Fallback:             true,
	}
}

// Wire renders the estimate with hex quantities, absent fields omitted.
func (g *GasEstimate) Wire() map[string]string {
	out := map[string]string{}
	put := func(k string, v *big.Int) {
		if v != nil {
			out[k] = userop.EncodeQuantity(v)
		}
	}
	put("preVerificationGas", g.PreVerificationGas)
	put("callGasLimit", g.CallGasLimit)
	put("verificationGasLimit", g.VerificationGasLimit)
	put("paymasterVerificationGasLimit", g.PaymasterVerificationGasLimit)
	put("paymasterPostOpGasLimit", g.PaymasterPostOpGasLimit)
	return out
}

// EstimateUserOperationGas asks the relay to estimate gas for a draft
// operation. Gas and fee fields are sent zeroed.
//
// Failures are not returned as errors. For a v0.6 EntryPoint a failed
// estimation yields (nil, nil); for v0.7 it yields the fallback estimate.
// Only a cancelled context produces an error.
func (c *Client) EstimateUserOperationGas(ctx context.Context, entryPoint common.Address, op *userop.UserOperation) (*GasEstimate, error) {
	version := entrypoint.DetectVersion(entryPoint.Hex(), c.logger)
	wire := userop.EstimationWire(op, version)

	resp, err := c.Call(ctx, MethodEstimateUserOperationGas, wire, entryPoint.Hex())
	if err == nil {
		if relayErr := resp.Err(); relayErr != nil {
			err = relayErr
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return c.estimationFailed(version, err), nil
	}

	est, ok := c.parseGasEstimate(resp.Result())
	if !ok {
		return c.estimationFailed(version, &RelayError{
			Method:  MethodEstimateUserOperationGas,
			Message: "result carries no usable gas values: " + resp.Result().Raw,
		}), nil
	}
	if version == entrypoint.V07 && est.fillFromFallback() {
		c.logger.Warn("relay omitted gas fields, filled from fallback values", "estimate", est.Wire())
	}

	c.logger.Info("received gas estimation", "entryPoint", entryPoint.Hex(), "estimate", est.Wire())
	return est, nil
}

// fillFromFallback completes a partial v0.7 estimate with the fallback
// triple. It reports whether anything was filled.
func (g *GasEstimate) fillFromFallback() bool {
	filled := false
	fill := func(dst **big.Int, v *big.Int) {
		if *dst == nil {
			*dst = new(big.Int).Set(v)
			filled = true
		}
	}
	fill(&g.PreVerificationGas, FallbackPreVerificationGas)
	fill(&g.VerificationGasLimit, FallbackVerificationGasLimit)
	fill(&g.CallGasLimit, FallbackCallGasLimit)
	if filled {
		g.Fallback = true
	}
	return filled
}

func (c *Client) estimationFailed(version entrypoint.Version, cause error) *GasEstimate {
	c.metrics.IncEstimateFallback(version.String())
	if version == entrypoint.V07 {
		c.logger.Warn("gas estimation failed, using fallback values",
			"version", version.String(), "error", cause)
		return FallbackGasEstimate()
	}
	c.logger.Error("gas estimation failed", "version", version.String(), "error", cause)
	return nil
}

// parseGasEstimate decodes the known fields. Fields that are missing or not
// valid hex are left nil. ok is false when nothing could be decoded.
func (c *Client) parseGasEstimate(result gjson.Result) (*GasEstimate, bool) {
	if !result.IsObject() {
		return nil, false
	}

	est := &GasEstimate{}
	fields := []struct {
		name string
		dst  **big.Int
	}{
		{"preVerificationGas", &est.PreVerificationGas},
		{"callGasLimit", &est.CallGasLimit},
		{"verificationGasLimit", &est.VerificationGasLimit},
		{"paymasterVerificationGasLimit", &est.PaymasterVerificationGasLimit},
		{"paymasterPostOpGasLimit", &est.PaymasterPostOpGasLimit},
	}

	found := false
	for _, f := range fields {
		raw := result.Get(f.name)
		if !raw.Exists() || raw.Type == gjson.Null {
			continue
		}
		v, err := quantityOf(raw)
		if err != nil {
			c.logger.Warn("ignoring unparsable gas field", "field", f.name, "value", raw.Raw, "error", err)
			continue
		}
		*f.dst = v
		found = true
	}
	return est, found
}
