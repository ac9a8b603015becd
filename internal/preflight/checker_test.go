package preflight

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/mpoolctl/internal/chain"
)

const signer = "0x1234567890123456789012345678901234567890"

type fakeBackend struct {
	chainID    int64
	balance    *big.Int
	chainErr   error
	balanceErr error
	closed     bool
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	if f.chainErr != nil {
		return nil, f.chainErr
	}
	return big.NewInt(f.chainID), nil
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeBackend) Close() { f.closed = true }

func dialer(b *fakeBackend) Dialer {
	return func(ctx context.Context, rpcURL string) (Backend, error) {
		return b, nil
	}
}

func eth(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

func TestNewChecker(t *testing.T) {
	checker := NewChecker()
	assert.NotNil(t, checker)
	assert.Equal(t, DefaultTimeout, checker.timeout)
}

func TestChecker_WithTimeout(t *testing.T) {
	checker := NewChecker().WithTimeout(5 * time.Second)
	assert.Equal(t, 5*time.Second, checker.timeout)
}

func TestChecker_ValidateRequest(t *testing.T) {
	checker := NewChecker()

	tests := []struct {
		name    string
		req     *Request
		wantErr string
	}{
		{
			name:    "valid request",
			req:     &Request{RPCURL: "https://mainnet.base.org", Signer: signer},
			wantErr: "",
		},
		{
			name:    "missing rpc_url",
			req:     &Request{Signer: signer},
			wantErr: "rpc_url is required",
		},
		{
			name:    "missing signer",
			req:     &Request{RPCURL: "https://mainnet.base.org"},
			wantErr: "signer is required",
		},
		{
			name:    "invalid signer",
			req:     &Request{RPCURL: "https://mainnet.base.org", Signer: "0x123"},
			wantErr: "signer is not a valid Ethereum address",
		},
		{
			name:    "negative balance",
			req:     &Request{RPCURL: "https://mainnet.base.org", Signer: signer, MinBalance: big.NewInt(-1)},
			wantErr: "min_balance_wei must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checker.validateRequest(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestChecker_RunChecks(t *testing.T) {
	tests := []struct {
		name       string
		backend    *fakeBackend
		chainID    uint64
		minBalance *big.Int
		wantOK     bool
		failed     []CheckName
	}{
		{
			name:       "all pass",
			backend:    &fakeBackend{chainID: 8453, balance: eth(2)},
			chainID:    8453,
			minBalance: eth(1),
			wantOK:     true,
		},
		{
			name:    "chain id not pinned",
			backend: &fakeBackend{chainID: 84532, balance: eth(1)},
			wantOK:  true,
		},
		{
			name:       "chain id mismatch",
			backend:    &fakeBackend{chainID: 1, balance: eth(2)},
			chainID:    8453,
			minBalance: eth(1),
			failed:     []CheckName{CheckChainIDMatch},
		},
		{
			name:       "insufficient balance",
			backend:    &fakeBackend{chainID: 8453, balance: big.NewInt(1000)},
			chainID:    8453,
			minBalance: eth(1),
			failed:     []CheckName{CheckSignerBalance},
		},
		{
			name:       "balance error",
			backend:    &fakeBackend{chainID: 8453, balanceErr: errors.New("boom")},
			minBalance: eth(1),
			failed:     []CheckName{CheckSignerBalance},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker().WithDialer(dialer(tt.backend))
			resp, err := checker.RunChecks(context.Background(), &Request{
				RPCURL:     "http://rpc",
				ChainID:    tt.chainID,
				Signer:     signer,
				MinBalance: tt.minBalance,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, resp.OK)
			assert.Len(t, resp.Checks, 3)
			assert.True(t, tt.backend.closed)

			var failed []CheckName
			for _, c := range resp.Checks {
				if !c.Passed {
					failed = append(failed, c.Name)
				}
			}
			assert.Equal(t, tt.failed, failed)
		})
	}
}

func TestChecker_RunChecks_Balance(t *testing.T) {
	checker := NewChecker().WithDialer(dialer(&fakeBackend{chainID: 8453, balance: eth(3)}))
	resp, err := checker.RunChecks(context.Background(), &Request{
		RPCURL:     "http://rpc",
		Signer:     signer,
		MinBalance: big.NewInt(2_000_000_000_000_000),
	})
	require.NoError(t, err)
	assert.Equal(t, "3", resp.CurrentBalanceETH)
	assert.Equal(t, "0.002", resp.RequiredFundingETH)
	assert.Equal(t, "Base", resp.Network)
}

func TestChecker_RunChecks_Unreachable(t *testing.T) {
	checker := NewChecker().WithDialer(func(ctx context.Context, rpcURL string) (Backend, error) {
		return nil, errors.New("connection refused")
	})
	resp, err := checker.RunChecks(context.Background(), &Request{RPCURL: "http://rpc", Signer: signer})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	require.Len(t, resp.Checks, 1)
	assert.Equal(t, CheckRPCReachable, resp.Checks[0].Name)
	assert.False(t, resp.Checks[0].Passed)
}

func TestChecker_RunChecks_ChainIDError(t *testing.T) {
	checker := NewChecker().WithDialer(dialer(&fakeBackend{chainErr: errors.New("eof")}))
	resp, err := checker.RunChecks(context.Background(), &Request{RPCURL: "http://rpc", Signer: signer})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	require.Len(t, resp.Checks, 1)
	assert.Contains(t, resp.Checks[0].Message, "eof")
}

func TestChecker_RunChecks_InvalidRequest(t *testing.T) {
	resp, err := NewChecker().RunChecks(context.Background(), &Request{})
	assert.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "invalid request")
}

func TestChecker_Artifacts(t *testing.T) {
	src := chain.StaticArtifacts{"Router": &chain.Artifact{Name: "Router"}}
	checker := NewChecker().
		WithDialer(dialer(&fakeBackend{chainID: 8453, balance: eth(1)})).
		WithArtifacts(src)

	resp, err := checker.RunChecks(context.Background(), &Request{
		RPCURL:    "http://rpc",
		Signer:    signer,
		Artifacts: []string{"Router", "FeeRouter"},
	})
	require.NoError(t, err)
	assert.False(t, resp.OK)
	require.Len(t, resp.Checks, 4)
	assert.Equal(t, CheckArtifacts, resp.Checks[0].Name)
	assert.Equal(t, []string{"FeeRouter"}, resp.Checks[0].Details["missing"])
}

func TestGetNetworkName(t *testing.T) {
	tests := []struct {
		chainID  uint64
		expected string
	}{
		{1, "Ethereum Mainnet"},
		{11155111, "Sepolia"},
		{8453, "Base"},
		{84532, "Base Sepolia"},
		{999999, "Chain 999999"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetNetworkName(tt.chainID))
		})
	}
}

func TestCheckName_Constants(t *testing.T) {
	assert.Equal(t, CheckName("rpc_reachable"), CheckRPCReachable)
	assert.Equal(t, CheckName("chain_id_match"), CheckChainIDMatch)
	assert.Equal(t, CheckName("signer_balance"), CheckSignerBalance)
	assert.Equal(t, CheckName("artifacts_present"), CheckArtifacts)
}
