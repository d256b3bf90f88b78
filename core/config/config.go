// Package config loads the relay client settings from a YAML file overlaid
// with environment variables.
package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
)

// ErrConfig marks a missing or invalid setting.
var ErrConfig = errors.New("invalid configuration")

const (
	DefaultRelayBaseURL   = "https://api.gelato.digital"
	DefaultPollInterval   = 25 * time.Second
	DefaultRequestTimeout = 30 * time.Second
)

// Config is the validated, typed configuration.
type Config struct {
	Environment sdklogging.LogLevel

	PrivateKeys    []*ecdsa.PrivateKey
	EntryPoint     string
	APIKey         string
	ChainLabel     string
	ChainID        int64
	RPCURL         string
	Safe4337Module common.Address
	RelayBaseURL   string

	// Sender and InitCode describe the account. A nil Sender means the
	// account has to be supplied by the caller.
	Sender   *common.Address
	InitCode []byte

	Call             CallConfig
	PaymasterAndData []byte

	PollInterval              time.Duration
	MaxPollAttempts           uint64
	MaxWait                   time.Duration
	RequestTimeout            time.Duration
	CheckSupportedEntryPoints bool
	MetricsAddr               string
}

type CallConfig struct {
	To        common.Address
	Value     *big.Int
	Data      []byte
	Operation uint8
}

// ConfigRaw is read from the yaml file.
type ConfigRaw struct {
	Environment    sdklogging.LogLevel `yaml:"environment"`
	PrivateKeys    []string            `yaml:"private_keys" validate:"min=1,dive,required"`
	EntryPoint     string              `yaml:"entrypoint_address" validate:"required,eth_addr"`
	APIKey         string              `yaml:"api_key" validate:"required"`
	ChainLabel     string              `yaml:"chain"`
	ChainID        int64               `yaml:"chain_id" validate:"gt=0"`
	RPCURL         string              `yaml:"rpc_url" validate:"omitempty,url"`
	Safe4337Module string              `yaml:"safe_4337_module_address" validate:"required,eth_addr"`
	RelayBaseURL   string              `yaml:"relay_base_url" validate:"required,url"`

	Sender           string        `yaml:"sender" validate:"omitempty,eth_addr"`
	InitCode         string        `yaml:"init_code" validate:"omitempty,hexadecimal"`
	Call             CallRaw       `yaml:"call"`
	PaymasterAndData string        `yaml:"paymaster_and_data" validate:"omitempty,hexadecimal"`
	Polling          PollRaw       `yaml:"polling"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`

	CheckSupportedEntryPoints bool   `yaml:"check_supported_entrypoints"`
	MetricsAddr               string `yaml:"metrics_address"`
}

type CallRaw struct {
	To        string `yaml:"to" validate:"omitempty,eth_addr"`
	Value     string `yaml:"value" validate:"omitempty,number"`
	Data      string `yaml:"data" validate:"omitempty,hexadecimal"`
	Operation uint8  `yaml:"operation" validate:"lte=1"`
}

type PollRaw struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts uint64        `yaml:"max_attempts"`
	MaxWait     time.Duration `yaml:"max_wait"`
}

var validate = validator.New()

// NewConfig reads configFilePath (optional), loads .env if present, applies
// the environment overlay and validates the result.
func NewConfig(configFilePath string) (*Config, error) {
	var raw ConfigRaw
	if configFilePath != "" {
		data, err := os.ReadFile(configFilePath)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrConfig, configFilePath, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrConfig, configFilePath, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: load .env: %v", ErrConfig, err)
	}
	if err := raw.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return raw.Build()
}

// ApplyEnv overlays environment variables on top of the file values.
func (raw *ConfigRaw) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("PK"); ok && v != "" {
		raw.PrivateKeys = splitList(v)
	}
	str("GELATO_ENTRYPOINT_ADDRESS", &raw.EntryPoint)
	str("GELATO_API_KEY", &raw.APIKey)
	str("GELATO_CHAIN", &raw.ChainLabel)
	str("GELATO_RPC_URL", &raw.RPCURL)
	str("GELATO_RELAY_URL", &raw.RelayBaseURL)
	str("SAFE_4337_MODULE_ADDRESS", &raw.Safe4337Module)
	str("ENVIRONMENT", (*string)(&raw.Environment))

	if v, ok := lookup("GELATO_CHAIN_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: GELATO_CHAIN_ID %q is not a number", ErrConfig, v)
		}
		raw.ChainID = id
	}
	return nil
}

// Build fills defaults, validates and converts raw into a Config.
func (raw ConfigRaw) Build() (*Config, error) {
	if raw.RelayBaseURL == "" {
		raw.RelayBaseURL = DefaultRelayBaseURL
	}
	if raw.Environment == "" {
		raw.Environment = sdklogging.Development
	}
	if raw.Polling.Interval <= 0 {
		raw.Polling.Interval = DefaultPollInterval
	}
	if raw.RequestTimeout <= 0 {
		raw.RequestTimeout = DefaultRequestTimeout
	}
	raw.InitCode = strip0x(raw.InitCode)
	raw.PaymasterAndData = strip0x(raw.PaymasterAndData)
	raw.Call.Data = strip0x(raw.Call.Data)

	if err := validate.Struct(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	keys := make([]*ecdsa.PrivateKey, 0, len(raw.PrivateKeys))
	for i, k := range raw.PrivateKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(k), "0x"))
		if err != nil {
			return nil, fmt.Errorf("%w: private key #%d: %v", ErrConfig, i, err)
		}
		keys = append(keys, key)
	}

	cfg := &Config{
		Environment:               raw.Environment,
		PrivateKeys:               keys,
		EntryPoint:                raw.EntryPoint,
		APIKey:                    raw.APIKey,
		ChainLabel:                raw.ChainLabel,
		ChainID:                   raw.ChainID,
		RPCURL:                    raw.RPCURL,
		Safe4337Module:            common.HexToAddress(raw.Safe4337Module),
		RelayBaseURL:              strings.TrimRight(raw.RelayBaseURL, "/"),
		InitCode:                  mustHex(raw.InitCode),
		PaymasterAndData:          mustHex(raw.PaymasterAndData),
		PollInterval:              raw.Polling.Interval,
		MaxPollAttempts:           raw.Polling.MaxAttempts,
		MaxWait:                   raw.Polling.MaxWait,
		RequestTimeout:            raw.RequestTimeout,
		CheckSupportedEntryPoints: raw.CheckSupportedEntryPoints,
		MetricsAddr:               raw.MetricsAddr,
		Call: CallConfig{
			To:        common.HexToAddress(raw.Call.To),
			Value:     new(big.Int),
			Data:      mustHex(raw.Call.Data),
			Operation: raw.Call.Operation,
		},
	}
	if raw.Sender != "" {
		sender := common.HexToAddress(raw.Sender)
		cfg.Sender = &sender
	}
	if raw.Call.Value != "" {
		cfg.Call.Value.SetString(raw.Call.Value, 10)
	}
	if cfg.ChainLabel == "" {
		cfg.ChainLabel = "sepolia"
	}
	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func strip0x(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}

// mustHex decodes hex that already passed validation. Odd length input is
// left padded.
func mustHex(s string) []byte {
	if s == "" {
		return []byte{}
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hexutil.Decode("0x" + s)
	if err != nil {
		return []byte{}
	}
	return b
}
