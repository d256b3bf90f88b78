package userop

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/entrypoint"
)

// FromWire decodes a JSON operation in either wire shape. The presence of
// any v0.7-only key selects the v0.7 shape.
func FromWire(raw []byte) (*UserOperation, entrypoint.Version, error) {
	if !gjson.ValidBytes(raw) {
		return nil, "", fmt.Errorf("user operation is not valid json")
	}

	parsed := gjson.ParseBytes(raw)
	var w WireOperation = &V06Operation{}
	for _, key := range []string{"factory", "factoryData", "paymaster", "paymasterData"} {
		if parsed.Get(key).Exists() {
			w = &V07Operation{}
			break
		}
	}

	if err := json.Unmarshal(raw, w); err != nil {
		return nil, "", fmt.Errorf("decode %s user operation: %w", w.Version(), err)
	}
	op, err := w.Decode()
	if err != nil {
		return nil, "", err
	}
	return op, w.Version(), nil
}
