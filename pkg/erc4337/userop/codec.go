package userop

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/entrypoint"
)

const (
	addressLength = common.AddressLength
	gasWordLength = 32
)

// PaymasterFields is paymasterAndData split into its v0.7 components. Nil
// members are absent.
type PaymasterFields struct {
	Paymaster            *common.Address
	VerificationGasLimit *big.Int
	PostOpGasLimit       *big.Int
	Data                 []byte
}

// ParseInitCode splits initCode into the factory address and the factory
// call data. Input shorter than an address yields both absent.
func ParseInitCode(initCode []byte) (*common.Address, []byte) {
	if len(initCode) < addressLength {
		return nil, nil
	}
	factory := common.BytesToAddress(initCode[:addressLength])
	return &factory, common.CopyBytes(initCode[addressLength:])
}

// ParsePaymasterAndData splits paymasterAndData. Shorter than an address:
// everything absent. When at least two 32 byte words follow the address they
// are read as the verification and post-op gas limits and the remainder is
// the paymaster data; otherwise every byte after the address is opaque data.
func ParsePaymasterAndData(paymasterAndData []byte) PaymasterFields {
	if len(paymasterAndData) < addressLength {
		return PaymasterFields{}
	}

	paymaster := common.BytesToAddress(paymasterAndData[:addressLength])
	rest := paymasterAndData[addressLength:]
	if len(rest) < 2*gasWordLength {
		return PaymasterFields{Paymaster: &paymaster, Data: common.CopyBytes(rest)}
	}

	return PaymasterFields{
		Paymaster:            &paymaster,
		VerificationGasLimit: new(big.Int).SetBytes(rest[:gasWordLength]),
		PostOpGasLimit:       new(big.Int).SetBytes(rest[gasWordLength : 2*gasWordLength]),
		Data:                 common.CopyBytes(rest[2*gasWordLength:]),
	}
}

// Pack is the inverse of ParsePaymasterAndData.
func (p PaymasterFields) Pack() []byte {
	if p.Paymaster == nil {
		return []byte{}
	}
	out := append([]byte{}, p.Paymaster.Bytes()...)
	if p.VerificationGasLimit != nil || p.PostOpGasLimit != nil {
		out = append(out, word(p.VerificationGasLimit)...)
		out = append(out, word(p.PostOpGasLimit)...)
	}
	return append(out, p.Data...)
}

// WireOperation is the JSON body a relay expects for one EntryPoint version.
// It is either a *V06Operation or a *V07Operation.
type WireOperation interface {
	Version() entrypoint.Version
	// Decode converts the wire form back to the canonical operation.
	Decode() (*UserOperation, error)
}

// V06Operation is the EntryPoint v0.6 wire shape.
type V06Operation struct {
	Sender               string `json:"sender"`
	Nonce                string `json:"nonce"`
	InitCode             string `json:"initCode"`
	CallData             string `json:"callData"`
	CallGasLimit         string `json:"callGasLimit"`
	VerificationGasLimit string `json:"verificationGasLimit"`
	PreVerificationGas   string `json:"preVerificationGas"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	PaymasterAndData     string `json:"paymasterAndData"`
	Signature            string `json:"signature"`
}

// V07Operation is the EntryPoint v0.7 wire shape with initCode and
// paymasterAndData unpacked.
type V07Operation struct {
	Sender                        string `json:"sender"`
	Nonce                         string `json:"nonce"`
	Factory                       string `json:"factory"`
	FactoryData                   string `json:"factoryData"`
	CallData                      string `json:"callData"`
	CallGasLimit                  string `json:"callGasLimit"`
	VerificationGasLimit          string `json:"verificationGasLimit"`
	PreVerificationGas            string `json:"preVerificationGas"`
	MaxFeePerGas                  string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          string `json:"maxPriorityFeePerGas"`
	Paymaster                     string `json:"paymaster"`
	PaymasterVerificationGasLimit string `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       string `json:"paymasterPostOpGasLimit"`
	PaymasterData                 string `json:"paymasterData"`
	Signature                     string `json:"signature"`
}

func (w *V06Operation) Version() entrypoint.Version { return entrypoint.V06 }
func (w *V07Operation) Version() entrypoint.Version { return entrypoint.V07 }

// ToWire converts op into the shape for version.
func ToWire(op *UserOperation, version entrypoint.Version) WireOperation {
	if version == entrypoint.V07 {
		factory, factoryData := ParseInitCode(op.InitCode)
		pm := ParsePaymasterAndData(op.PaymasterAndData)

		w := &V07Operation{
			Sender:                        op.Sender.Hex(),
			Nonce:                         EncodeQuantity(op.Nonce),
			Factory:                       addressOrZero(factory),
			FactoryData:                   EncodeBytes(factoryData),
			CallData:                      EncodeBytes(op.CallData),
			CallGasLimit:                  EncodeQuantity(op.CallGasLimit),
			VerificationGasLimit:          EncodeQuantity(op.VerificationGasLimit),
			PreVerificationGas:            EncodeQuantity(op.PreVerificationGas),
			MaxFeePerGas:                  EncodeQuantity(op.MaxFeePerGas),
			MaxPriorityFeePerGas:          EncodeQuantity(op.MaxPriorityFeePerGas),
			Paymaster:                     addressOrZero(pm.Paymaster),
			PaymasterVerificationGasLimit: EncodeQuantity(pm.VerificationGasLimit),
			PaymasterPostOpGasLimit:       EncodeQuantity(pm.PostOpGasLimit),
			PaymasterData:                 EncodeBytes(pm.Data),
			Signature:                     EncodeBytes(op.Signature),
		}
		return w
	}

	return &V06Operation{
		Sender:               op.Sender.Hex(),
		Nonce:                EncodeQuantity(op.Nonce),
		InitCode:             EncodeBytes(op.InitCode),
		CallData:             EncodeBytes(op.CallData),
		CallGasLimit:         EncodeQuantity(op.CallGasLimit),
		VerificationGasLimit: EncodeQuantity(op.VerificationGasLimit),
		PreVerificationGas:   EncodeQuantity(op.PreVerificationGas),
		MaxFeePerGas:         EncodeQuantity(op.MaxFeePerGas),
		MaxPriorityFeePerGas: EncodeQuantity(op.MaxPriorityFeePerGas),
		PaymasterAndData:     EncodeBytes(op.PaymasterAndData),
		Signature:            EncodeBytes(op.Signature),
	}
}

// EstimationWire is ToWire with every gas and fee field zeroed, which tells
// the relay to estimate them. An unsigned operation gets a dummy signature
// of the right length since relays only run a length check on it.
func EstimationWire(op *UserOperation, version entrypoint.Version) WireOperation {
	draft := op.Copy()
	draft.CallGasLimit = new(big.Int)
	draft.VerificationGasLimit = new(big.Int)
	draft.PreVerificationGas = new(big.Int)
	draft.MaxFeePerGas = new(big.Int)
	draft.MaxPriorityFeePerGas = new(big.Int)
	if len(draft.Signature) == 0 {
		draft.Signature = DummySignature()
	}

	if version == entrypoint.V07 {
		pm := ParsePaymasterAndData(draft.PaymasterAndData)
		if pm.VerificationGasLimit != nil {
			pm.VerificationGasLimit = new(big.Int)
			pm.PostOpGasLimit = new(big.Int)
			draft.PaymasterAndData = pm.Pack()
		}
	}
	return ToWire(draft, version)
}

// DummySignature is a 12 byte validity prefix followed by one 65 byte ECDSA
// sized placeholder.
func DummySignature() []byte {
	sig := make([]byte, 12+65)
	for i := 12; i < 12+64; i++ {
		sig[i] = 0xff
	}
	sig[len(sig)-1] = 0x1c
	return sig
}

func (w *V06Operation) Decode() (*UserOperation, error) {
	op := &UserOperation{Sender: common.HexToAddress(w.Sender)}
	var err error

	quantities := []struct {
		dst **big.Int
		src string
		nm  string
	}{
		{&op.Nonce, w.Nonce, "nonce"},
		{&op.CallGasLimit, w.CallGasLimit, "callGasLimit"},
		{&op.VerificationGasLimit, w.VerificationGasLimit, "verificationGasLimit"},
		{&op.PreVerificationGas, w.PreVerificationGas, "preVerificationGas"},
		{&op.MaxFeePerGas, w.MaxFeePerGas, "maxFeePerGas"},
		{&op.MaxPriorityFeePerGas, w.MaxPriorityFeePerGas, "maxPriorityFeePerGas"},
	}
	for _, q := range quantities {
		if *q.dst, err = ParseQuantity(q.src); err != nil {
			return nil, fmt.Errorf("decode %s: %w", q.nm, err)
		}
	}

	blobs := []struct {
		dst *[]byte
		src string
		nm  string
	}{
		{&op.InitCode, w.InitCode, "initCode"},
		{&op.CallData, w.CallData, "callData"},
		{&op.PaymasterAndData, w.PaymasterAndData, "paymasterAndData"},
		{&op.Signature, w.Signature, "signature"},
	}
	for _, b := range blobs {
		if *b.dst, err = decodeBytes(b.src); err != nil {
			return nil, fmt.Errorf("decode %s: %w", b.nm, err)
		}
	}
	return op, nil
}

// Decode packs factory/factoryData and the paymaster fields back into
// initCode and paymasterAndData. A zero factory or paymaster address means
// absent. Paymaster gas limits that are both zero are treated as absent.
func (w *V07Operation) Decode() (*UserOperation, error) {
	legacy := &V06Operation{
		Sender:               w.Sender,
		Nonce:                w.Nonce,
		CallData:             w.CallData,
		CallGasLimit:         w.CallGasLimit,
		VerificationGasLimit: w.VerificationGasLimit,
		PreVerificationGas:   w.PreVerificationGas,
		MaxFeePerGas:         w.MaxFeePerGas,
		MaxPriorityFeePerGas: w.MaxPriorityFeePerGas,
		Signature:            w.Signature,
	}
	op, err := legacy.Decode()
	if err != nil {
		return nil, err
	}

	if factory := common.HexToAddress(w.Factory); factory != (common.Address{}) {
		factoryData, err := decodeBytes(w.FactoryData)
		if err != nil {
			return nil, fmt.Errorf("decode factoryData: %w", err)
		}
		op.InitCode = append(factory.Bytes(), factoryData...)
	}

	if paymaster := common.HexToAddress(w.Paymaster); paymaster != (common.Address{}) {
		pm := PaymasterFields{Paymaster: &paymaster}
		if pm.Data, err = decodeBytes(w.PaymasterData); err != nil {
			return nil, fmt.Errorf("decode paymasterData: %w", err)
		}
		vgl, err := optionalQuantity(w.PaymasterVerificationGasLimit)
		if err != nil {
			return nil, fmt.Errorf("decode paymasterVerificationGasLimit: %w", err)
		}
		pogl, err := optionalQuantity(w.PaymasterPostOpGasLimit)
		if err != nil {
			return nil, fmt.Errorf("decode paymasterPostOpGasLimit: %w", err)
		}
		if vgl.Sign() != 0 || pogl.Sign() != 0 {
			pm.VerificationGasLimit, pm.PostOpGasLimit = vgl, pogl
		}
		op.PaymasterAndData = pm.Pack()
	}
	return op, nil
}

func optionalQuantity(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	return ParseQuantity(s)
}

func addressOrZero(addr *common.Address) string {
	if addr == nil {
		return common.Address{}.Hex()
	}
	return addr.Hex()
}
