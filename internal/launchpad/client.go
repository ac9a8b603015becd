// Package launchpad is a typed client for the token launchpad API: create a
// deposit address, deploy a token funded from it, and place the initial buy.
package launchpad

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"

	"github.com/go-playground/validator/v10"

	"github.com/Bidon15/mpoolctl/internal/deployerr"
	"github.com/Bidon15/mpoolctl/internal/httpapi"
)

// TotalBps is the basis-point total fee recipients must add up to.
const TotalBps = 10000

// Client calls the launchpad.
type Client struct {
	api      *httpapi.Client
	validate *validator.Validate
	logger   *slog.Logger
}

// NewClient creates a launchpad client for baseURL.
func NewClient(baseURL string, logger *slog.Logger, opts ...httpapi.Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:      httpapi.NewClient(baseURL, append([]httpapi.Option{httpapi.WithLogger(logger)}, opts...)...),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// CreateDeposit requests a fresh deposit address.
func (c *Client) CreateDeposit(ctx context.Context) (*DepositResponse, error) {
	var resp DepositResponse
	if err := c.api.Post(ctx, "deposit", struct{}{}, &resp); err != nil {
		return nil, fmt.Errorf("create deposit: %w", err)
	}
	c.logger.Info("launchpad deposit created",
		slog.String("deposit_address", resp.DepositAddress),
		slog.String("required_amount", string(resp.RequiredAmount)),
	)
	return &resp, nil
}

// DeployToken launches a token funded from depositAddress.
func (c *Client) DeployToken(ctx context.Context, depositAddress string, params DeployParams) (*DeployResponse, error) {
	req := DeployRequest{DepositAddress: depositAddress, DeployParams: params}
	if err := c.Validate(req); err != nil {
		return nil, err
	}

	var resp DeployResponse
	if err := c.api.Post(ctx, "deploy", req, &resp); err != nil {
		return nil, fmt.Errorf("deploy token: %w", err)
	}
	c.logger.Info("launchpad token deployed",
		slog.String("token", resp.Token),
		slog.String("pool", resp.Pool),
		slog.String("tx_hash", resp.TxHash),
	)
	return &resp, nil
}

// InitialBuy places the first buy on the token's pool.
func (c *Client) InitialBuy(ctx context.Context, token string, req BuyRequest) (*BuyResponse, error) {
	if err := c.validate.Var(token, "required,eth_addr"); err != nil {
		return nil, fmt.Errorf("%w: token: %v", deployerr.ErrInvalidRequest, err)
	}
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", deployerr.ErrInvalidRequest, err)
	}

	var resp BuyResponse
	path := "deploy/" + url.PathEscape(token) + "/buy"
	if err := c.api.Post(ctx, path, req, &resp); err != nil {
		return nil, fmt.Errorf("initial buy: %w", err)
	}
	c.logger.Info("launchpad initial buy placed",
		slog.String("token", token),
		slog.String("tx_hash", resp.TxHash),
	)
	return &resp, nil
}

// Validate checks request shape and the invariants the struct tags cannot
// express.
func (c *Client) Validate(req DeployRequest) error {
	if err := c.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", deployerr.ErrInvalidRequest, err)
	}

	supply, err := req.TotalSupply.Int()
	if err != nil {
		return fmt.Errorf("totalSupply: %w", err)
	}

	total := 0
	for _, r := range req.FeeRecipients {
		total += r.Bps
	}
	if total != TotalBps {
		return fmt.Errorf("%w: fee recipient bps sum to %d, want %d", deployerr.ErrInvalidRequest, total, TotalBps)
	}

	if req.Airdrop.Enabled {
		if len(req.Airdrop.Recipients) == 0 {
			return fmt.Errorf("%w: airdrop enabled without recipients", deployerr.ErrInvalidRequest)
		}
		sum := new(big.Int)
		for i, r := range req.Airdrop.Recipients {
			n, err := r.Amount.Int()
			if err != nil {
				return fmt.Errorf("airdrop recipient %d: %w", i, err)
			}
			sum.Add(sum, n)
		}
		if sum.Cmp(supply) > 0 {
			return fmt.Errorf("%w: airdrop total %s exceeds supply %s", deployerr.ErrInvalidRequest, sum, supply)
		}
	}
	return nil
}

// Endpoint names understood by Gateway.
const (
	EndpointDeposit = "deposit"
	EndpointDeploy  = "deploy"
	EndpointBuy     = "deploy/{token}/buy"
)

// Gateway exposes the typed client as a generic JSON service for plan
// httpPost steps. Untyped bodies are decoded into the typed requests, so
// shape checks run before any HTTP call.
type Gateway struct {
	client *Client
}

// NewGateway wraps a client.
func NewGateway(client *Client) *Gateway {
	return &Gateway{client: client}
}

// Post dispatches endpoint to the matching typed operation.
func (g *Gateway) Post(ctx context.Context, endpoint string, path map[string]string, body map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	switch endpoint {
	case EndpointDeposit:
		resp, err := g.client.CreateDeposit(ctx)
		if err != nil {
			return nil, err
		}
		return httpapi.Fields(resp)

	case EndpointDeploy:
		var deposit string
		if err := decodeField(body, "depositAddress", &deposit); err != nil {
			return nil, err
		}
		raw, ok := body["params"]
		if !ok {
			return nil, fmt.Errorf("%w: deploy body has no params", deployerr.ErrInvalidRequest)
		}
		params, err := DecodeDeployParams(raw)
		if err != nil {
			return nil, err
		}
		resp, err := g.client.DeployToken(ctx, deposit, params)
		if err != nil {
			return nil, err
		}
		return httpapi.Fields(resp)

	case EndpointBuy:
		token := path["token"]
		var req BuyRequest
		if err := decodeField(body, "pool", &req.Pool); err != nil {
			return nil, err
		}
		if err := decodeField(body, "tokenIsToken0", &req.TokenIsToken0); err != nil {
			return nil, err
		}
		if err := decodeField(body, "buyAmountETH", &req.BuyAmountETH); err != nil {
			return nil, err
		}
		resp, err := g.client.InitialBuy(ctx, token, req)
		if err != nil {
			return nil, err
		}
		return httpapi.Fields(resp)

	default:
		return nil, fmt.Errorf("%w: unknown launchpad endpoint %q", deployerr.ErrInvalidRequest, endpoint)
	}
}

func decodeField(body map[string]json.RawMessage, name string, dst any) error {
	raw, ok := body[name]
	if !ok {
		return fmt.Errorf("%w: body field %s is required", deployerr.ErrInvalidRequest, name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: body field %s: %v", deployerr.ErrInvalidRequest, name, err)
	}
	return nil
}
