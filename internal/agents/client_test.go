package agents

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/mpoolctl/internal/deployerr"
)

const wallet = "0x00000000000000000000000000000000000000aa"

func newRegistry(t *testing.T, status int, resp string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var got map[string]any
	r := chi.NewRouter()
	r.Post("/agents/register", func(w http.ResponseWriter, req *http.Request) {
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&got))
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestRegister(t *testing.T) {
	srv, got := newRegistry(t, http.StatusOK, `{"ok":true,"agentId":"agent-42"}`)
	c := NewClient(srv.URL, nil)

	resp, err := c.Register(context.Background(), RegisterRequest{
		Name:          "mpool-keeper",
		WalletAddress: wallet,
		Metadata:      map[string]string{"network": "base"},
	})
	require.NoError(t, err)
	assert.Equal(t, "agent-42", resp.AgentID)
	assert.Equal(t, "mpool-keeper", (*got)["name"])
	assert.Equal(t, wallet, (*got)["walletAddress"])
}

func TestRegister_Invalid(t *testing.T) {
	srv, got := newRegistry(t, http.StatusOK, `{"ok":true}`)
	c := NewClient(srv.URL, nil)

	_, err := c.Register(context.Background(), RegisterRequest{Name: "x", WalletAddress: "nope"})
	assert.ErrorIs(t, err, deployerr.ErrInvalidRequest)
	assert.Nil(t, *got)
}

func TestGateway(t *testing.T) {
	srv, _ := newRegistry(t, http.StatusOK, `{"ok":true,"agentId":"agent-7"}`)
	g := NewGateway(NewClient(srv.URL, nil))

	out, err := g.Post(context.Background(), EndpointRegister, nil, map[string]json.RawMessage{
		"name":          json.RawMessage(`"keeper"`),
		"walletAddress": json.RawMessage(`"` + wallet + `"`),
		"metadata":      json.RawMessage(`{"role":"oracle"}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"agent-7"`, string(out["agentId"]))

	_, err = g.Post(context.Background(), "agents/unknown", nil, nil)
	assert.ErrorIs(t, err, deployerr.ErrInvalidRequest)
}

func TestGateway_Rejected(t *testing.T) {
	srv, _ := newRegistry(t, http.StatusConflict, `{"ok":false,"message":"name taken"}`)
	g := NewGateway(NewClient(srv.URL, nil))

	_, err := g.Post(context.Background(), EndpointRegister, nil, map[string]json.RawMessage{
		"name":          json.RawMessage(`"keeper"`),
		"walletAddress": json.RawMessage(`"` + wallet + `"`),
	})
	assert.ErrorIs(t, err, deployerr.ErrLaunchpadRejected)
}
