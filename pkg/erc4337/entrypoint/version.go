// Package entrypoint knows about the deployed ERC-4337 EntryPoint contracts:
// which protocol version an address speaks and how to read account nonces
// from it.
package entrypoint

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/userop-relay/pkg/logger"
)

// Version is the EntryPoint protocol revision. It decides the wire shape of a
// UserOperation.
type Version string

const (
	V06 Version = "v0.6"
	V07 Version = "v0.7"
)

var (
	// Canonical singleton deployments, identical on every chain.
	AddressV06 = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	AddressV07 = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")

	// UserOperationEvent(bytes32 indexed userOpHash, address indexed sender, address indexed paymaster,
	// uint256 nonce, bool success, uint256 actualGasCost, uint256 actualGasUsed)
	// Same signature for v0.6 and v0.7.
	UserOperationEventTopic = common.HexToHash("0x49628fd1471006c1482da88028e9ce4dbb080b815c9b0344d39e5a8e6ec1419f")
)

func (v Version) String() string {
	return string(v)
}

// DetectVersion classifies an EntryPoint address. Unknown addresses are
// treated as v0.6 and a warning is logged; this never fails.
func DetectVersion(address string, lgr logger.Logger) Version {
	switch {
	case strings.EqualFold(address, AddressV07.Hex()):
		return V07
	case strings.EqualFold(address, AddressV06.Hex()):
		return V06
	}

	logger.EnsureLogger(lgr).Warn("unknown EntryPoint address, assuming v0.6 wire format",
		"entryPoint", address)
	return V06
}

// IsKnown reports whether address is one of the canonical EntryPoints.
func IsKnown(address string) bool {
	return strings.EqualFold(address, AddressV06.Hex()) || strings.EqualFold(address, AddressV07.Hex())
}
