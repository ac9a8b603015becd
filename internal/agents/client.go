// Package agents registers an operator agent with the agent registry.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/Bidon15/mpoolctl/internal/deployerr"
	"github.com/Bidon15/mpoolctl/internal/httpapi"
)

// EndpointRegister is the registration endpoint.
const EndpointRegister = "agents/register"

// RegisterRequest is the body of POST /agents/register.
type RegisterRequest struct {
	Name          string            `json:"name" validate:"required,max=64"`
	Description   string            `json:"description,omitempty" validate:"max=512"`
	WalletAddress string            `json:"walletAddress" validate:"required,eth_addr"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// RegisterResponse is returned on success.
type RegisterResponse struct {
	OK      bool   `json:"ok"`
	AgentID string `json:"agentId,omitempty"`
	Message string `json:"message,omitempty"`
}

// Client calls the registry.
type Client struct {
	api      *httpapi.Client
	validate *validator.Validate
	logger   *slog.Logger
}

// NewClient creates a registry client.
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

// Register registers an agent and returns its id.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", deployerr.ErrInvalidRequest, err)
	}

	var resp RegisterResponse
	if err := c.api.Post(ctx, EndpointRegister, req, &resp); err != nil {
		return nil, fmt.Errorf("register agent: %w", err)
	}

	c.logger.Info("agent registered",
		slog.String("agent_id", resp.AgentID),
		slog.String("wallet", req.WalletAddress),
	)
	return &resp, nil
}

// Gateway adapts the client to plan httpPost steps.
type Gateway struct {
	client *Client
}

// NewGateway wraps a client.
func NewGateway(client *Client) *Gateway {
	return &Gateway{client: client}
}

// Post implements the orchestrator's service interface.
func (g *Gateway) Post(ctx context.Context, endpoint string, _ map[string]string, body map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	if endpoint != EndpointRegister {
		return nil, fmt.Errorf("%w: unknown registry endpoint %q", deployerr.ErrInvalidRequest, endpoint)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode registration: %w", err)
	}
	var req RegisterRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: registration body: %v", deployerr.ErrInvalidRequest, err)
	}

	resp, err := g.client.Register(ctx, req)
	if err != nil {
		return nil, err
	}
	return httpapi.Fields(resp)
}
