package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

// DefaultContractAddress is the deployed WavePortal contract.
const DefaultContractAddress = "0x79843CB27804ce9ce5DA0bdbf7Df31DE12FB7630"

// EnvPrefix is prepended to every environment variable, e.g. WAVE_RPC_URL.
const EnvPrefix = "WAVE"

// Order values accepted for the wave log display policy.
const (
	OrderNewestFirst = "newest_first"
	OrderLedger      = "ledger"
)

// Config holds all configurable parameters for the wave client.
type Config struct {
	// Ledger node used for reads, receipts and raw broadcasts
	RPCURL string
	// Signing agent speaking EIP-1193 methods over JSON-RPC.
	// Empty means the local key agent is used when a mnemonic is set.
	AgentURL string

	// Local key agent
	Mnemonic      string
	AccountIndex  uint32
	PreAuthorized bool

	ContractAddress common.Address
	// ChainID 0 asks the node.
	ChainID         int64
	DefaultGasPrice *big.Int

	// Finality
	ReceiptPollInterval time.Duration
	ConfirmationDepth   uint64
	FinalityTimeout     time.Duration

	// AccountPollInterval 0 disables account-change detection.
	AccountPollInterval time.Duration

	// Reads
	ReadRetries    int
	ReadRPS        float64
	ContextTimeout time.Duration

	Order            string
	MaxMessageLength int
}

// Default returns a Config populated with default values.
func Default() Config {
	return Config{
		RPCURL: "http://127.0.0.1:8545",

		ContractAddress: common.HexToAddress(DefaultContractAddress),
		DefaultGasPrice: big.NewInt(20_000_000_000), // 20 gwei

		ReceiptPollInterval: 2 * time.Second,
		ConfirmationDepth:   1,
		FinalityTimeout:     2 * time.Minute,

		ReadRetries:    3,
		ReadRPS:        5,
		ContextTimeout: 15 * time.Second,

		Order:            OrderNewestFirst,
		MaxMessageLength: 1024,
	}
}

// SetDefaults registers Default() values on v so flags and env fall back to them.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("rpc_url", d.RPCURL)
	v.SetDefault("agent_url", "")
	v.SetDefault("mnemonic", "")
	v.SetDefault("account_index", 0)
	v.SetDefault("pre_authorized", false)
	v.SetDefault("contract_address", d.ContractAddress.Hex())
	v.SetDefault("chain_id", d.ChainID)
	v.SetDefault("default_gas_price", d.DefaultGasPrice.String())
	v.SetDefault("receipt_poll_interval", d.ReceiptPollInterval)
	v.SetDefault("confirmation_depth", d.ConfirmationDepth)
	v.SetDefault("finality_timeout", d.FinalityTimeout)
	v.SetDefault("account_poll_interval", d.AccountPollInterval)
	v.SetDefault("read_retries", d.ReadRetries)
	v.SetDefault("read_rps", d.ReadRPS)
	v.SetDefault("context_timeout", d.ContextTimeout)
	v.SetDefault("order", d.Order)
	v.SetDefault("max_message_length", d.MaxMessageLength)
}

// NewViper returns a viper instance reading WAVE_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// FromEnv returns a Config populated from environment variables,
// falling back to defaults for unset values.
func FromEnv() (Config, error) {
	return Load(NewViper())
}

// Load reads a Config out of v. Unset keys keep their defaults.
func Load(v *viper.Viper) (Config, error) {
	cfg := Default()

	cfg.RPCURL = strings.TrimSpace(v.GetString("rpc_url"))
	cfg.AgentURL = strings.TrimSpace(v.GetString("agent_url"))
	cfg.Mnemonic = strings.TrimSpace(v.GetString("mnemonic"))
	cfg.AccountIndex = v.GetUint32("account_index")
	cfg.PreAuthorized = v.GetBool("pre_authorized")

	if s := strings.TrimSpace(v.GetString("contract_address")); s != "" {
		if !common.IsHexAddress(s) {
			return Config{}, fmt.Errorf("contract_address %q is not a hex address", s)
		}
		cfg.ContractAddress = common.HexToAddress(s)
	}
	cfg.ChainID = v.GetInt64("chain_id")
	if s := strings.TrimSpace(v.GetString("default_gas_price")); s != "" {
		price, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return Config{}, fmt.Errorf("default_gas_price %q is not a base-10 integer", s)
		}
		cfg.DefaultGasPrice = price
	}

	cfg.ReceiptPollInterval = v.GetDuration("receipt_poll_interval")
	cfg.ConfirmationDepth = v.GetUint64("confirmation_depth")
	cfg.FinalityTimeout = v.GetDuration("finality_timeout")
	cfg.AccountPollInterval = v.GetDuration("account_poll_interval")

	cfg.ReadRetries = v.GetInt("read_retries")
	cfg.ReadRPS = v.GetFloat64("read_rps")
	cfg.ContextTimeout = v.GetDuration("context_timeout")

	cfg.Order = strings.ToLower(strings.TrimSpace(v.GetString("order")))
	cfg.MaxMessageLength = v.GetInt("max_message_length")

	return cfg, cfg.Validate()
}

// Validate checks the values that cannot be fixed by falling back to defaults.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if c.ContractAddress == (common.Address{}) {
		return fmt.Errorf("contract_address is required")
	}
	if c.ChainID < 0 {
		return fmt.Errorf("chain_id must not be negative")
	}
	for name, d := range map[string]time.Duration{
		"receipt_poll_interval": c.ReceiptPollInterval,
		"finality_timeout":      c.FinalityTimeout,
		"account_poll_interval": c.AccountPollInterval,
		"context_timeout":       c.ContextTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.ReceiptPollInterval == 0 {
		return fmt.Errorf("receipt_poll_interval must be positive")
	}
	if c.ReadRetries < 0 {
		return fmt.Errorf("read_retries must not be negative")
	}
	switch c.Order {
	case OrderNewestFirst, OrderLedger:
	default:
		return fmt.Errorf("order must be %q or %q, got %q", OrderNewestFirst, OrderLedger, c.Order)
	}
	return nil
}
