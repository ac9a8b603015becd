package launchpad

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"gopkg.in/yaml.v3"

	"github.com/Bidon15/mpoolctl/internal/deployerr"
)

// BaseUnits is an integer amount at the token's native precision, carried
// as a decimal string. JSON or YAML numbers are rejected: a raw 10000000
// would be read by the launchpad as 10^7 base units rather than 10^7 tokens.
type BaseUnits string

// NewBaseUnits formats n as BaseUnits.
func NewBaseUnits(n *big.Int) BaseUnits { return BaseUnits(n.String()) }

// Int parses the amount.
func (b BaseUnits) Int() (*big.Int, error) {
	n, ok := new(big.Int).SetString(string(b), 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q is not a non-negative integer", deployerr.ErrInvalidRequest, string(b))
	}
	return n, nil
}

func (b *BaseUnits) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '"' {
		return fmt.Errorf("%w: base-unit amount %s must be a decimal string", deployerr.ErrInvalidRequest, data)
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*b = BaseUnits(s)
	return nil
}

func (b *BaseUnits) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode || node.ShortTag() != "!!str" {
		return fmt.Errorf("%w: base-unit amount %q at line %d must be a quoted string",
			deployerr.ErrInvalidRequest, node.Value, node.Line)
	}
	*b = BaseUnits(node.Value)
	return nil
}

// FeeRecipient receives a share of trading fees.
type FeeRecipient struct {
	Address string `json:"address" yaml:"address" validate:"required,eth_addr"`
	Bps     int    `json:"bps" yaml:"bps" validate:"min=0,max=10000"`
	Admin   string `json:"admin,omitempty" yaml:"admin,omitempty" validate:"omitempty,eth_addr"`
}

// AirdropRecipient receives tokens at launch.
type AirdropRecipient struct {
	Address string    `json:"address" yaml:"address" validate:"required,eth_addr"`
	Amount  BaseUnits `json:"amount" yaml:"amount" validate:"required,numeric"`
}

// Airdrop configures launch-time distribution.
type Airdrop struct {
	Enabled    bool               `json:"enabled" yaml:"enabled"`
	Recipients []AirdropRecipient `json:"recipients,omitempty" yaml:"recipients,omitempty" validate:"dive"`
}

// DeployParams describes the token to launch.
type DeployParams struct {
	Name          string         `json:"name" yaml:"name" validate:"required"`
	Symbol        string         `json:"symbol" yaml:"symbol" validate:"required"`
	Image         string         `json:"image,omitempty" yaml:"image,omitempty" validate:"omitempty,url"`
	TokenOwner    string         `json:"tokenOwner" yaml:"tokenOwner" validate:"required,eth_addr"`
	TotalSupply   BaseUnits      `json:"totalSupply" yaml:"totalSupply" validate:"required,numeric"`
	LpBps         int            `json:"lpBps" yaml:"lpBps" validate:"min=0,max=10000"`
	FeeRecipients []FeeRecipient `json:"feeRecipients" yaml:"feeRecipients" validate:"required,min=1,dive"`
	Airdrop       Airdrop        `json:"airdrop" yaml:"airdrop"`
	Metadata      string         `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// DeployRequest is the body of POST /deploy.
type DeployRequest struct {
	DepositAddress string `json:"depositAddress" validate:"required,eth_addr"`
	DeployParams
}

// BuyRequest is the body of POST /deploy/{token}/buy.
type BuyRequest struct {
	Pool          string `json:"pool" validate:"required,eth_addr"`
	TokenIsToken0 bool   `json:"tokenIsToken0"`
	BuyAmountETH  string `json:"buyAmountETH" validate:"required,numeric"`
}

// DepositResponse is returned by POST /deposit.
type DepositResponse struct {
	OK             bool   `json:"ok"`
	DepositAddress string `json:"depositAddress,omitempty"`
	RequiredAmount Amount `json:"requiredAmount,omitempty"`
	Message        string `json:"message,omitempty"`
}

// DeployResponse is returned by POST /deploy.
type DeployResponse struct {
	OK            bool   `json:"ok"`
	Token         string `json:"token,omitempty"`
	Pool          string `json:"pool,omitempty"`
	TxHash        string `json:"txHash,omitempty"`
	TokenIsToken0 *bool  `json:"tokenIsToken0,omitempty"`
	Basescan      string `json:"basescan,omitempty"`
	Message       string `json:"message,omitempty"`
}

// BuyResponse is returned by POST /deploy/{token}/buy.
type BuyResponse struct {
	OK      bool            `json:"ok"`
	TxHash  string          `json:"txHash,omitempty"`
	Links   json.RawMessage `json:"links,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Amount is a response amount the service may send as number or string.
type Amount string

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	*a = Amount(data)
	return nil
}

// DecodeDeployParams parses untyped JSON into DeployParams, rejecting
// numeric supply and airdrop amounts.
func DecodeDeployParams(raw []byte) (DeployParams, error) {
	var p DeployParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return DeployParams{}, fmt.Errorf("decode deploy params: %w", err)
	}
	return p, nil
}

// LoadDeployParamsYAML parses a token parameters file.
func LoadDeployParamsYAML(data []byte) (DeployParams, error) {
	var p DeployParams
	if err := yaml.Unmarshal(data, &p); err != nil {
		return DeployParams{}, fmt.Errorf("decode token params: %w", err)
	}
	return p, nil
}
