// Package config loads the operator configuration from flags, environment
// variables, the flat .env file and an optional YAML config file.
package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Bidon15/mpoolctl/internal/amount"
	"github.com/Bidon15/mpoolctl/internal/chain"
	"github.com/Bidon15/mpoolctl/internal/launchpad"
)

// BaseUSDC is the canonical USDC token on Base.
const BaseUSDC = "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"

// Defaults.
const (
	DefaultEnvFile          = ".env"
	DefaultDeploymentsFile  = "deployments.json"
	DefaultDepositAmountETH = "0.002"
	DefaultBuyAmountETH     = "0.001"
	DefaultPropagationDelay = 15 * time.Second
	DefaultHTTPTimeout      = 30 * time.Second
	DefaultReceiptTimeout   = 3 * time.Minute
	DefaultUSDCDecimals     = 6
	DefaultArtifactsDir     = "out"
	DefaultLogFormat        = "text"
	DefaultLogLevel         = "info"
)

// Config contains the operator configuration.
type Config struct {
	// Signer and chain
	PrivateKey string `mapstructure:"private_key" json:"-"`
	RPCURL     string `mapstructure:"rpc_url" validate:"required,url"`
	ChainID    uint64 `mapstructure:"chain_id"`
	Network    string `mapstructure:"network"`

	// Protocol addresses (optional ones default to the signer or owner)
	ProtocolOwner   string `mapstructure:"protocol_owner" validate:"omitempty,eth_addr"`
	USDCAddress     string `mapstructure:"usdc_address" validate:"required,eth_addr"`
	USDCDecimals    int    `mapstructure:"usdc_decimals" validate:"min=0,max=36"`
	OracleAddress   string `mapstructure:"oracle_address" validate:"omitempty,eth_addr"`
	TreasuryAddress string `mapstructure:"treasury_address" validate:"omitempty,eth_addr"`
	BuybackAddress  string `mapstructure:"buyback_address" validate:"omitempty,eth_addr"`

	// External services
	LaunchpadURL     string        `mapstructure:"launchpad_url" validate:"omitempty,url"`
	AgentRegistryURL string        `mapstructure:"agent_registry_url" validate:"omitempty,url"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout" validate:"min=0"`

	// Files
	ArtifactsDir    string `mapstructure:"artifacts_dir"`
	EnvFile         string `mapstructure:"env_file"`
	DeploymentsFile string `mapstructure:"deployments_file"`
	TokenParamsFile string `mapstructure:"token_params_file"`
	MetricsFile     string `mapstructure:"metrics_file"`

	// Token launch
	DepositAmountETH string        `mapstructure:"deposit_amount_eth" validate:"required,numeric"`
	PropagationDelay time.Duration `mapstructure:"propagation_delay" validate:"min=0"`
	BuyAmountETH     string        `mapstructure:"buy_amount_eth" validate:"omitempty,numeric"`
	TokenSlot        string        `mapstructure:"token_slot" validate:"omitempty,oneof=mpool mpoolV3"`

	// Transactions
	MinBalanceETH  string        `mapstructure:"min_balance_eth" validate:"omitempty,numeric"`
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout" validate:"min=0"`

	// Agent registration
	AgentName        string `mapstructure:"agent_name" validate:"max=64"`
	AgentDescription string `mapstructure:"agent_description" validate:"max=512"`

	// Logging
	LogFormat string `mapstructure:"log_format" validate:"omitempty,oneof=text json"`
	LogLevel  string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// Setting describes one configuration key.
type Setting struct {
	Key     string
	Env     string
	Default any
	Secret  bool
}

// Settings lists every key in display order.
var Settings = []Setting{
	{Key: "private_key", Env: "PRIVATE_KEY", Secret: true},
	{Key: "rpc_url", Env: "RPC_URL"},
	{Key: "chain_id", Env: "CHAIN_ID"},
	{Key: "network", Env: "NETWORK"},
	{Key: "protocol_owner", Env: "PROTOCOL_OWNER"},
	{Key: "usdc_address", Env: "USDC_ADDRESS", Default: BaseUSDC},
	{Key: "usdc_decimals", Env: "USDC_DECIMALS", Default: DefaultUSDCDecimals},
	{Key: "oracle_address", Env: "ORACLE_ADDRESS"},
	{Key: "treasury_address", Env: "TREASURY_ADDRESS"},
	{Key: "buyback_address", Env: "BUYBACK_ADDRESS"},
	{Key: "launchpad_url", Env: "LAUNCHPAD_URL"},
	{Key: "agent_registry_url", Env: "AGENT_REGISTRY_URL"},
	{Key: "http_timeout", Env: "HTTP_TIMEOUT", Default: DefaultHTTPTimeout},
	{Key: "artifacts_dir", Env: "ARTIFACTS_DIR", Default: DefaultArtifactsDir},
	{Key: "env_file", Env: "ENV_FILE", Default: DefaultEnvFile},
	{Key: "deployments_file", Env: "DEPLOYMENTS_FILE", Default: DefaultDeploymentsFile},
	{Key: "token_params_file", Env: "TOKEN_PARAMS_FILE"},
	{Key: "metrics_file", Env: "METRICS_FILE"},
	{Key: "deposit_amount_eth", Env: "DEPOSIT_AMOUNT_ETH", Default: DefaultDepositAmountETH},
	{Key: "propagation_delay", Env: "PROPAGATION_DELAY", Default: DefaultPropagationDelay},
	{Key: "buy_amount_eth", Env: "BUY_AMOUNT_ETH", Default: DefaultBuyAmountETH},
	{Key: "token_slot", Env: "TOKEN_SLOT", Default: "mpool"},
	{Key: "min_balance_eth", Env: "MIN_BALANCE_ETH"},
	{Key: "receipt_timeout", Env: "RECEIPT_TIMEOUT", Default: DefaultReceiptTimeout},
	{Key: "agent_name", Env: "AGENT_NAME"},
	{Key: "agent_description", Env: "AGENT_DESCRIPTION"},
	{Key: "log_format", Env: "LOG_FORMAT", Default: DefaultLogFormat},
	{Key: "log_level", Env: "LOG_LEVEL", Default: DefaultLogLevel},
}

// Bind registers defaults and environment bindings on v. A variable that is
// set but empty overrides its default, so BUY_AMOUNT_ETH= disables the buy.
func Bind(v *viper.Viper) {
	v.AllowEmptyEnv(true)
	for _, s := range Settings {
		if s.Default != nil {
			v.SetDefault(s.Key, s.Default)
		}
		_ = v.BindEnv(s.Key, s.Env)
	}
}

// LoadEnvFile exports the KEY=VALUE pairs of path into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load decodes v into a Config, applies defaults and validates it.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c, viper.DecodeHook(durationHook)); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.ApplyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// durationHook parses durations and decodes an empty string as zero, which
// ApplyDefaults then replaces with the default.
func durationHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	text := reflect.ValueOf(data).String()
	if text == "" {
		return time.Duration(0), nil
	}
	return time.ParseDuration(text)
}

// ApplyDefaults sets default values for optional fields.
func (c *Config) ApplyDefaults() {
	if c.USDCAddress == "" {
		c.USDCAddress = BaseUSDC
	}
	if c.USDCDecimals == 0 {
		c.USDCDecimals = DefaultUSDCDecimals
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = DefaultHTTPTimeout
	}
	if c.ArtifactsDir == "" {
		c.ArtifactsDir = DefaultArtifactsDir
	}
	if c.EnvFile == "" {
		c.EnvFile = DefaultEnvFile
	}
	if c.DeploymentsFile == "" {
		c.DeploymentsFile = DefaultDeploymentsFile
	}
	if c.DepositAmountETH == "" {
		c.DepositAmountETH = DefaultDepositAmountETH
	}
	if c.PropagationDelay == 0 {
		c.PropagationDelay = DefaultPropagationDelay
	}
	if c.ReceiptTimeout == 0 {
		c.ReceiptTimeout = DefaultReceiptTimeout
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// Validate checks that required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := amount.ParseEther(c.DepositAmountETH); err != nil {
		return fmt.Errorf("deposit_amount_eth: %w", err)
	}
	if c.MinBalanceETH != "" {
		if _, err := amount.ParseEther(c.MinBalanceETH); err != nil {
			return fmt.Errorf("min_balance_eth: %w", err)
		}
	}
	return nil
}

// Key parses the signer key.
func (c *Config) Key() (*ecdsa.PrivateKey, error) {
	if c.PrivateKey == "" {
		return nil, fmt.Errorf("PRIVATE_KEY is required")
	}
	return chain.ParsePrivateKey(c.PrivateKey)
}

// Signer derives the signer address from the key.
func (c *Config) Signer() (common.Address, error) {
	key, err := c.Key()
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(key.PublicKey), nil
}

// Owner returns the protocol owner, defaulting to signer.
func (c *Config) Owner(signer common.Address) common.Address {
	return addressOr(c.ProtocolOwner, signer)
}

// Oracle returns the oracle address, defaulting to signer.
func (c *Config) Oracle(signer common.Address) common.Address {
	return addressOr(c.OracleAddress, signer)
}

// Treasury returns the treasury address, defaulting to the owner.
func (c *Config) Treasury(signer common.Address) common.Address {
	return addressOr(c.TreasuryAddress, c.Owner(signer))
}

// Buyback returns the buyback recipient, defaulting to the owner.
func (c *Config) Buyback(signer common.Address) common.Address {
	return addressOr(c.BuybackAddress, c.Owner(signer))
}

// USDC returns the stablecoin address.
func (c *Config) USDC() common.Address {
	return common.HexToAddress(c.USDCAddress)
}

// DepositAmount returns the deposit funding in wei.
func (c *Config) DepositAmount() (*big.Int, error) {
	return amount.ParseEther(c.DepositAmountETH)
}

// MinBalance returns the configured minimum signer balance in wei, or nil.
func (c *Config) MinBalance() (*big.Int, error) {
	if c.MinBalanceETH == "" {
		return nil, nil
	}
	return amount.ParseEther(c.MinBalanceETH)
}

// TokenParams loads the token launch parameters from TokenParamsFile, or
// returns the default MPOOL launch owned by owner.
func (c *Config) TokenParams(owner common.Address) (launchpad.DeployParams, error) {
	if c.TokenParamsFile == "" {
		return DefaultTokenParams(owner), nil
	}
	data, err := os.ReadFile(c.TokenParamsFile)
	if err != nil {
		return launchpad.DeployParams{}, fmt.Errorf("read token params: %w", err)
	}
	params, err := launchpad.LoadDeployParamsYAML(data)
	if err != nil {
		return launchpad.DeployParams{}, err
	}
	if params.TokenOwner == "" {
		params.TokenOwner = owner.Hex()
	}
	return params, nil
}

// DefaultTokenParams is a ten million token launch with 40% of supply in
// the pool and all fees to owner.
func DefaultTokenParams(owner common.Address) launchpad.DeployParams {
	return launchpad.DeployParams{
		Name:          "MPOOL",
		Symbol:        "MPOOL",
		TokenOwner:    owner.Hex(),
		TotalSupply:   launchpad.NewBaseUnits(amount.MustTokens(10_000_000, amount.EtherDecimals)),
		LpBps:         4000,
		FeeRecipients: []launchpad.FeeRecipient{{Address: owner.Hex(), Bps: 10000, Admin: owner.Hex()}},
	}
}

// Entry is one row of the masked configuration view.
type Entry struct {
	Env   string `json:"env"`
	Value string `json:"value"`
}

// Masked returns the effective configuration with secrets masked.
func Masked(v *viper.Viper) []Entry {
	out := make([]Entry, 0, len(Settings))
	for _, s := range Settings {
		val := v.GetString(s.Key)
		if s.Secret {
			val = mask(val)
		}
		out = append(out, Entry{Env: s.Env, Value: val})
	}
	return out
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) <= 10:
		return strings.Repeat("*", len(s))
	default:
		return s[:6] + strings.Repeat("*", 8) + s[len(s)-4:]
	}
}

func addressOr(s string, fallback common.Address) common.Address {
	if s == "" {
		return fallback
	}
	return common.HexToAddress(s)
}
