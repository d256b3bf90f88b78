package userop

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EncodeQuantity renders v as 0x-prefixed lowercase hex without leading
// zeros. nil and zero both encode as "0x0".
func EncodeQuantity(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return "0x0"
	}
	return hexutil.EncodeBig(v)
}

// EncodeBytes renders b as 0x-prefixed hex, "0x" when empty.
func EncodeBytes(b []byte) string {
	return hexutil.Encode(b)
}

// ParseQuantity decodes a hex quantity as returned by relays. It is more
// forgiving than hexutil.DecodeBig: leading zeros and a doubled 0x prefix
// are accepted.
func ParseQuantity(s string) (*big.Int, error) {
	raw := strings.TrimSpace(s)
	for strings.HasPrefix(raw, "0x") || strings.HasPrefix(raw, "0X") {
		raw = raw[2:]
	}
	if raw == "" {
		return nil, fmt.Errorf("empty hex quantity %q", s)
	}
	v, ok := new(big.Int).SetString(raw, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return v, nil
}

// decodeBytes accepts "", "0x" and odd-length input leniently.
func decodeBytes(s string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if raw == "" {
		return []byte{}, nil
	}
	if len(raw)%2 == 1 {
		raw = "0" + raw
	}
	return hexutil.Decode("0x" + raw)
}
