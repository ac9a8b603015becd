// Package preflight provides pre-deployment validation checks.
package preflight

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/mpoolctl/internal/amount"
	"github.com/Bidon15/mpoolctl/internal/chain"
)

// DefaultTimeout is the default timeout for RPC calls.
const DefaultTimeout = 10 * time.Second

// CheckName identifies a specific pre-flight check.
type CheckName string

const (
	// CheckRPCReachable verifies the RPC endpoint is reachable.
	CheckRPCReachable CheckName = "rpc_reachable"
	// CheckChainIDMatch verifies the chain ID matches the configured value.
	CheckChainIDMatch CheckName = "chain_id_match"
	// CheckSignerBalance verifies the signer has sufficient funds.
	CheckSignerBalance CheckName = "signer_balance"
	// CheckArtifacts verifies every contract the plan deploys has an artifact.
	CheckArtifacts CheckName = "artifacts_present"
)

// CheckResult represents the result of a single pre-flight check.
type CheckResult struct {
	Name    CheckName      `json:"name"`
	Passed  bool           `json:"passed"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Request contains the parameters for pre-flight checks.
type Request struct {
	RPCURL     string   `json:"rpc_url"`
	ChainID    uint64   `json:"chain_id,omitempty"`
	Signer     string   `json:"signer"`
	MinBalance *big.Int `json:"min_balance_wei,omitempty"`
	Artifacts  []string `json:"artifacts,omitempty"`
}

// Response contains the results of all pre-flight checks.
type Response struct {
	OK                 bool          `json:"ok"`
	Checks             []CheckResult `json:"checks"`
	Signer             string        `json:"signer"`
	Network            string        `json:"network,omitempty"`
	RequiredFundingETH string        `json:"required_funding_eth"`
	CurrentBalanceETH  string        `json:"current_balance_eth,omitempty"`
}

// Backend is the RPC surface the checks need.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Dialer opens a Backend for an RPC URL.
type Dialer func(ctx context.Context, rpcURL string) (Backend, error)

func dialEthclient(ctx context.Context, rpcURL string) (Backend, error) {
	return chain.Dial(ctx, rpcURL)
}

// Checker performs pre-flight validation checks.
type Checker struct {
	timeout   time.Duration
	dial      Dialer
	artifacts chain.ArtifactSource
}

// NewChecker creates a new pre-flight checker.
func NewChecker() *Checker {
	return &Checker{
		timeout: DefaultTimeout,
		dial:    dialEthclient,
	}
}

// WithTimeout sets a custom timeout for RPC calls.
func (c *Checker) WithTimeout(timeout time.Duration) *Checker {
	c.timeout = timeout
	return c
}

// WithDialer replaces the RPC dialer.
func (c *Checker) WithDialer(dial Dialer) *Checker {
	c.dial = dial
	return c
}

// WithArtifacts enables the artifact check against src.
func (c *Checker) WithArtifacts(src chain.ArtifactSource) *Checker {
	c.artifacts = src
	return c
}

// RunChecks performs all pre-flight checks and returns the results.
func (c *Checker) RunChecks(ctx context.Context, req *Request) (*Response, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	required := req.MinBalance
	if required == nil {
		required = new(big.Int)
	}

	response := &Response{
		OK:                 true,
		Checks:             make([]CheckResult, 0, 4),
		Signer:             common.HexToAddress(req.Signer).Hex(),
		RequiredFundingETH: weiToETHString(required),
	}

	if c.artifacts != nil && len(req.Artifacts) > 0 {
		result := c.checkArtifacts(req.Artifacts)
		response.Checks = append(response.Checks, result)
		if !result.Passed {
			response.OK = false
		}
	}

	backend, chainID, reachable := c.checkRPCReachable(rpcCtx, req.RPCURL)
	response.Checks = append(response.Checks, reachable)
	if !reachable.Passed {
		response.OK = false
		return response, nil
	}
	if closer, ok := backend.(interface{ Close() }); ok {
		defer closer.Close()
	}
	response.Network = GetNetworkName(chainID.Uint64())

	chainIDResult := c.checkChainIDMatch(chainID, req.ChainID)
	response.Checks = append(response.Checks, chainIDResult)
	if !chainIDResult.Passed {
		response.OK = false
	}

	balanceResult := c.checkSignerBalance(rpcCtx, backend, req.Signer, required)
	response.Checks = append(response.Checks, balanceResult)
	if !balanceResult.Passed {
		response.OK = false
	}
	if haveETH, ok := balanceResult.Details["have_eth"].(string); ok {
		response.CurrentBalanceETH = haveETH
	}

	return response, nil
}

// validateRequest validates the pre-flight request parameters.
func (c *Checker) validateRequest(req *Request) error {
	if req.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if req.Signer == "" {
		return fmt.Errorf("signer is required")
	}
	if !common.IsHexAddress(req.Signer) {
		return fmt.Errorf("signer is not a valid Ethereum address")
	}
	if req.MinBalance != nil && req.MinBalance.Sign() < 0 {
		return fmt.Errorf("min_balance_wei must not be negative")
	}
	return nil
}

// checkRPCReachable dials the endpoint and reads its chain ID.
func (c *Checker) checkRPCReachable(ctx context.Context, rpcURL string) (Backend, *big.Int, CheckResult) {
	result := CheckResult{
		Name: CheckRPCReachable,
	}

	backend, err := c.dial(ctx, rpcURL)
	if err != nil {
		result.Message = fmt.Sprintf("Failed to connect to RPC: %v", err)
		result.Details = map[string]any{"error": err.Error()}
		return nil, nil, result
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		result.Message = fmt.Sprintf("RPC connection failed: %v", err)
		result.Details = map[string]any{"error": err.Error()}
		return nil, nil, result
	}

	result.Passed = true
	result.Message = "Connected to RPC successfully"
	return backend, chainID, result
}

// checkChainIDMatch compares the reported chain ID with the configured one.
// An unset expectation passes.
func (c *Checker) checkChainIDMatch(actual *big.Int, expected uint64) CheckResult {
	result := CheckResult{
		Name: CheckChainIDMatch,
	}

	if expected == 0 {
		result.Passed = true
		result.Message = fmt.Sprintf("Chain ID %d (not pinned)", actual.Uint64())
		result.Details = map[string]any{"chain_id": actual.Uint64()}
		return result
	}

	if actual.Cmp(new(big.Int).SetUint64(expected)) != 0 {
		result.Message = fmt.Sprintf("Chain ID mismatch: expected %d, got %d", expected, actual.Uint64())
		result.Details = map[string]any{
			"expected": expected,
			"actual":   actual.Uint64(),
		}
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Chain ID %d confirmed", expected)
	result.Details = map[string]any{"chain_id": expected}
	return result
}

// checkSignerBalance verifies the signer has sufficient funds.
func (c *Checker) checkSignerBalance(ctx context.Context, backend Backend, signer string, requiredWei *big.Int) CheckResult {
	result := CheckResult{
		Name: CheckSignerBalance,
	}

	balance, err := backend.BalanceAt(ctx, common.HexToAddress(signer), nil)
	if err != nil {
		result.Message = fmt.Sprintf("Failed to get signer balance: %v", err)
		result.Details = map[string]any{"error": err.Error()}
		return result
	}

	haveETH := weiToETHString(balance)
	needETH := weiToETHString(requiredWei)

	result.Details = map[string]any{
		"have_wei": balance.String(),
		"need_wei": requiredWei.String(),
		"have_eth": haveETH,
		"need_eth": needETH,
	}

	if balance.Cmp(requiredWei) < 0 {
		result.Message = fmt.Sprintf("Insufficient signer balance: have %s ETH, need %s ETH", haveETH, needETH)
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("Signer has sufficient balance: %s ETH", haveETH)
	return result
}

// checkArtifacts resolves every artifact name.
func (c *Checker) checkArtifacts(names []string) CheckResult {
	result := CheckResult{
		Name: CheckArtifacts,
	}

	var missing []string
	for _, name := range names {
		if _, err := c.artifacts.Artifact(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		result.Message = fmt.Sprintf("Missing contract artifacts: %v", missing)
		result.Details = map[string]any{"missing": missing}
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("%d contract artifacts found", len(names))
	return result
}

// weiToETHString converts wei to a human-readable ETH string.
func weiToETHString(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return amount.FormatEther(wei)
}

// GetNetworkName returns a human-readable name for a chain ID.
func GetNetworkName(chainID uint64) string {
	switch chainID {
	case 1:
		return "Ethereum Mainnet"
	case 11155111:
		return "Sepolia"
	case 8453:
		return "Base"
	case 84532:
		return "Base Sepolia"
	case 31337:
		return "Local"
	default:
		return fmt.Sprintf("Chain %d", chainID)
	}
}
