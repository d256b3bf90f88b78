// Package signer produces Safe4337Module "SafeOp" EIP-712 signatures over
// UserOperations and combines signatures from several owners.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// Signer is one owner of the account.
type Signer interface {
	Address() common.Address
	SignTypedData(typedData apitypes.TypedData) ([]byte, error)
}

// PrivateKeySigner signs with an in-memory secp256k1 key.
type PrivateKeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func NewPrivateKeySigner(key *ecdsa.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// FromPrivateKeyHex accepts the key with or without 0x prefix.
func FromPrivateKeyHex(privateKeyHex string) (*PrivateKeySigner, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewPrivateKeySigner(key), nil
}

func (s *PrivateKeySigner) Address() common.Address {
	return s.address
}

// SignTypedData returns a 65 byte r||s||v signature with v in {27, 28}.
func (s *PrivateKeySigner) SignTypedData(typedData apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
