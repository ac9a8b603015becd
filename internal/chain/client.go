// Package chain submits signed transactions to an EVM chain and reads back
// state. Transactions are sent one at a time; each waits for its receipt
// before the call returns.
package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Bidon15/mpoolctl/internal/deployerr"
)

// DefaultReceiptTimeout bounds the wait for a transaction receipt.
const DefaultReceiptTimeout = 3 * time.Minute

// gasBufferPercent is added on top of the node's gas estimate.
const gasBufferPercent = 20

// Backend is the subset of *ethclient.Client the client needs.
type Backend interface {
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

var _ Backend = (*ethclient.Client)(nil)

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// ParsePrivateKey decodes a hex secp256k1 key with or without 0x prefix.
func ParsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// Config contains client settings.
type Config struct {
	Logger *slog.Logger

	// ReceiptTimeout bounds each wait for confirmation.
	ReceiptTimeout time.Duration
}

// Receipt is the outcome of a mined transaction.
type Receipt struct {
	TxHash          common.Hash
	BlockNumber     uint64
	GasUsed         uint64
	ContractAddress common.Address
	Events          []Event
}

// Event is a log decoded against a known contract ABI.
type Event struct {
	Address common.Address
	Name    string
	Args    map[string]any
}

// Client signs with a single key and submits strictly in call order.
type Client struct {
	backend   Backend
	key       *ecdsa.PrivateKey
	signer    common.Address
	artifacts ArtifactSource
	config    Config
	logger    *slog.Logger

	mu      sync.Mutex
	chainID *big.Int
	abis    map[common.Address]abi.ABI
	funcs   *funcCache
}

// NewClient creates a chain client.
func NewClient(backend Backend, key *ecdsa.PrivateKey, artifacts ArtifactSource, config Config) *Client {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.ReceiptTimeout <= 0 {
		config.ReceiptTimeout = DefaultReceiptTimeout
	}

	return &Client{
		backend:   backend,
		key:       key,
		signer:    crypto.PubkeyToAddress(key.PublicKey),
		artifacts: artifacts,
		config:    config,
		logger:    logger,
		abis:      make(map[common.Address]abi.ABI),
		funcs:     newFuncCache(),
	}
}

// Signer returns the address derived from the configured key.
func (c *Client) Signer() common.Address { return c.signer }

// ChainID returns the chain id reported by the node, cached after the first call.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	c.chainID = id
	return id, nil
}

// Balance returns the native balance of addr.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	bal, err := c.backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("get balance of %s: %w", addr.Hex(), err)
	}
	return bal, nil
}

// Code returns the deployed bytecode at addr, empty if none.
func (c *Client) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	code, err := c.backend.CodeAt(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("get code at %s: %w", addr.Hex(), err)
	}
	return code, nil
}

// EnsureFunds fails with InsufficientFundsError when the signer holds less than need.
func (c *Client) EnsureFunds(ctx context.Context, need *big.Int) error {
	if need == nil || need.Sign() == 0 {
		return nil
	}
	have, err := c.Balance(ctx, c.signer)
	if err != nil {
		return err
	}
	if have.Cmp(need) < 0 {
		return &deployerr.InsufficientFundsError{Have: have, Need: new(big.Int).Set(need)}
	}
	return nil
}

// Deploy creates a contract from the named artifact and returns its address
// once the creation receipt shows code at that address.
func (c *Client) Deploy(ctx context.Context, artifact string, args ...any) (common.Address, common.Hash, error) {
	art, err := c.artifacts.Artifact(artifact)
	if err != nil {
		return common.Address{}, common.Hash{}, err
	}

	packed, err := art.ABI.Pack("", args...)
	if err != nil {
		return common.Address{}, common.Hash{}, fmt.Errorf("pack %s constructor: %w", artifact, err)
	}
	data := append(append([]byte(nil), art.Bytecode...), packed...)

	c.logger.Info("deploying contract",
		slog.String("artifact", artifact),
		slog.Int("constructor_args", len(args)),
	)

	signed, receipt, err := c.submit(ctx, nil, nil, data, art.ABI)
	if err != nil {
		if errors.Is(err, deployerr.ErrTxReverted) || errors.Is(err, context.DeadlineExceeded) {
			return common.Address{}, hashOf(signed), &deployerr.DeployFailedError{Artifact: artifact, Reason: err.Error()}
		}
		return common.Address{}, hashOf(signed), err
	}

	addr := receipt.ContractAddress
	code, err := c.Code(ctx, addr)
	if err != nil {
		return common.Address{}, signed.Hash(), err
	}
	if len(code) == 0 {
		return common.Address{}, signed.Hash(), &deployerr.DeployFailedError{
			Artifact: artifact,
			Reason:   fmt.Sprintf("no code at %s after creation", addr.Hex()),
		}
	}

	c.RegisterABI(addr, art.ABI)

	c.logger.Info("contract deployed",
		slog.String("artifact", artifact),
		slog.String("address", addr.Hex()),
		slog.String("tx_hash", signed.Hash().Hex()),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	return addr, signed.Hash(), nil
}

// RegisterABI associates an ABI with an address so its logs are decoded.
func (c *Client) RegisterABI(addr common.Address, a abi.ABI) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abis[addr] = a
}

// SendTx calls method (a signature such as "setRouter(address)") on to.
func (c *Client) SendTx(ctx context.Context, to common.Address, method string, value *big.Int, args ...any) (*Receipt, error) {
	fn, err := c.funcs.get(method, "")
	if err != nil {
		return nil, err
	}
	data, err := fn.EncodeArgs(args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	c.logger.Info("sending transaction",
		slog.String("to", to.Hex()),
		slog.String("method", method),
	)

	_, receipt, err := c.submit(ctx, &to, value, data, abi.ABI{})
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", method, to.Hex(), err)
	}
	return receipt, nil
}

// Transfer sends native currency to a plain address.
func (c *Client) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*Receipt, error) {
	c.logger.Info("sending native transfer",
		slog.String("to", to.Hex()),
		slog.String("amount_wei", amount.String()),
	)
	_, receipt, err := c.submit(ctx, &to, amount, nil, abi.ABI{})
	if err != nil {
		return nil, fmt.Errorf("transfer to %s: %w", to.Hex(), err)
	}
	return receipt, nil
}

// Call performs a read-only call and decodes the single return value.
// Unsigned integers decode to *big.Int.
func (c *Client) Call(ctx context.Context, to common.Address, method, returns string, args ...any) (any, error) {
	fn, err := c.funcs.get(method, returns)
	if err != nil {
		return nil, err
	}
	data, err := fn.EncodeArgs(args...)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{From: c.signer, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, to.Hex(), err)
	}
	return decodeReturn(returns, out)
}

func (c *Client) submit(ctx context.Context, to *common.Address, value *big.Int, data []byte, contractABI abi.ABI) (*types.Transaction, *Receipt, error) {
	if value == nil {
		value = new(big.Int)
	}

	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, nil, err
	}

	nonce, err := c.backend.PendingNonceAt(ctx, c.signer)
	if err != nil {
		return nil, nil, fmt.Errorf("get nonce: %w", err)
	}

	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("get gas price: %w", err)
	}

	gasEstimate, err := c.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.signer,
		To:    to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: estimate gas: %v", deployerr.ErrTxReverted, err)
	}
	gasLimit := gasEstimate + gasEstimate*gasBufferPercent/100

	// The signer must cover the value plus the worst-case fee of this transaction.
	cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	cost.Add(cost, value)
	if err := c.EnsureFunds(ctx, cost); err != nil {
		return nil, nil, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       to,
		Value:    value,
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return nil, nil, fmt.Errorf("sign transaction: %w", err)
	}

	if err := c.backend.SendTransaction(ctx, signedTx); err != nil {
		return nil, nil, fmt.Errorf("send transaction: %w", err)
	}

	c.logger.Info("transaction submitted",
		slog.String("tx_hash", signedTx.Hash().Hex()),
		slog.Uint64("nonce", nonce),
		slog.Uint64("gas_limit", gasLimit),
	)

	waitCtx, cancel := context.WithTimeout(ctx, c.config.ReceiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, c.backend, signedTx)
	if err != nil {
		return signedTx, nil, fmt.Errorf("wait for receipt %s: %w", signedTx.Hash().Hex(), err)
	}

	if receipt.Status != types.ReceiptStatusSuccessful {
		return signedTx, nil, fmt.Errorf("%w: %s", deployerr.ErrTxReverted, signedTx.Hash().Hex())
	}

	return signedTx, toReceipt(receipt, c.abiFor(contractABI)), nil
}

func (c *Client) abiFor(fallback abi.ABI) func(common.Address) (abi.ABI, bool) {
	return func(addr common.Address) (abi.ABI, bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if a, ok := c.abis[addr]; ok {
			return a, true
		}
		if len(fallback.Events) > 0 {
			return fallback, true
		}
		return abi.ABI{}, false
	}
}

func hashOf(tx *types.Transaction) common.Hash {
	if tx == nil {
		return common.Hash{}
	}
	return tx.Hash()
}
