package launchpad

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/mpoolctl/internal/deployerr"
)

const (
	owner   = "0x00000000000000000000000000000000000000aa"
	deposit = "0x00000000000000000000000000000000000000dd"
	token   = "0x00000000000000000000000000000000000000e1"
	pool    = "0x00000000000000000000000000000000000000e2"
)

type fakeLaunchpad struct {
	hits       atomic.Int32
	lastDeploy map[string]any
	lastBuy    map[string]any
	buyPath    string
	deployResp string
	buyStatus  int
}

func (f *fakeLaunchpad) server(t *testing.T) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Post("/deposit", func(w http.ResponseWriter, req *http.Request) {
		f.hits.Add(1)
		_, _ = io.WriteString(w, `{"ok":true,"depositAddress":"`+deposit+`","requiredAmount":"0.002"}`)
	})
	r.Post("/deploy", func(w http.ResponseWriter, req *http.Request) {
		f.hits.Add(1)
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&f.lastDeploy))
		resp := f.deployResp
		if resp == "" {
			resp = `{"ok":true,"token":"` + token + `","pool":"` + pool + `","txHash":"0xfeed","tokenIsToken0":false}`
		}
		_, _ = io.WriteString(w, resp)
	})
	r.Post("/deploy/{token}/buy", func(w http.ResponseWriter, req *http.Request) {
		f.hits.Add(1)
		f.buyPath = chi.URLParam(req, "token")
		assert.NoError(t, json.NewDecoder(req.Body).Decode(&f.lastBuy))
		if f.buyStatus != 0 {
			w.WriteHeader(f.buyStatus)
			_, _ = io.WriteString(w, `{"ok":false,"message":"buy failed"}`)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true,"txHash":"0xb0b"}`)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func validParams() DeployParams {
	return DeployParams{
		Name:        "MPOOL",
		Symbol:      "MPOOL",
		TokenOwner:  owner,
		TotalSupply: "10000000000000000000000000",
		LpBps:       4000,
		FeeRecipients: []FeeRecipient{
			{Address: owner, Bps: 10000, Admin: owner},
		},
		Airdrop: Airdrop{
			Enabled:    true,
			Recipients: []AirdropRecipient{{Address: owner, Amount: "6000000000000000000000000"}},
		},
	}
}

func TestDeployFlow(t *testing.T) {
	fake := &fakeLaunchpad{}
	srv := fake.server(t)
	c := NewClient(srv.URL, nil)
	ctx := context.Background()

	dep, err := c.CreateDeposit(ctx)
	require.NoError(t, err)
	assert.Equal(t, deposit, dep.DepositAddress)
	assert.Equal(t, Amount("0.002"), dep.RequiredAmount)

	resp, err := c.DeployToken(ctx, dep.DepositAddress, validParams())
	require.NoError(t, err)
	assert.Equal(t, token, resp.Token)
	require.NotNil(t, resp.TokenIsToken0)
	assert.False(t, *resp.TokenIsToken0)

	assert.Equal(t, deposit, fake.lastDeploy["depositAddress"])
	assert.Equal(t, "10000000000000000000000000", fake.lastDeploy["totalSupply"], "supply travels as a string")
	assert.EqualValues(t, 4000, fake.lastDeploy["lpBps"])

	_, err = c.InitialBuy(ctx, resp.Token, BuyRequest{Pool: resp.Pool, TokenIsToken0: *resp.TokenIsToken0, BuyAmountETH: "0.001"})
	require.NoError(t, err)
	assert.Equal(t, token, fake.buyPath)
	assert.Equal(t, false, fake.lastBuy["tokenIsToken0"])
	assert.Equal(t, "0.001", fake.lastBuy["buyAmountETH"])
}

func TestDeployToken_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *DeployParams)
	}{
		{name: "bps do not sum", mutate: func(p *DeployParams) { p.FeeRecipients[0].Bps = 9000 }},
		{name: "lp bps out of range", mutate: func(p *DeployParams) { p.LpBps = 10001 }},
		{name: "bad owner", mutate: func(p *DeployParams) { p.TokenOwner = "owner" }},
		{name: "missing name", mutate: func(p *DeployParams) { p.Name = "" }},
		{name: "fractional supply", mutate: func(p *DeployParams) { p.TotalSupply = "1.5" }},
		{name: "airdrop exceeds supply", mutate: func(p *DeployParams) { p.TotalSupply = "10" }},
		{name: "no fee recipients", mutate: func(p *DeployParams) { p.FeeRecipients = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeLaunchpad{}
			c := NewClient(fake.server(t).URL, nil)

			params := validParams()
			tt.mutate(&params)
			_, err := c.DeployToken(context.Background(), deposit, params)
			assert.ErrorIs(t, err, deployerr.ErrInvalidRequest)
			assert.Zero(t, fake.hits.Load(), "validation must fail before any HTTP call")
		})
	}
}

func TestGateway_RejectsNumericSupply(t *testing.T) {
	fake := &fakeLaunchpad{}
	g := NewGateway(NewClient(fake.server(t).URL, nil))

	params := `{"name":"MPOOL","symbol":"MPOOL","tokenOwner":"` + owner + `","totalSupply":10000000,"lpBps":4000,` +
		`"feeRecipients":[{"address":"` + owner + `","bps":10000}],"airdrop":{"enabled":false}}`
	body := map[string]json.RawMessage{
		"depositAddress": json.RawMessage(`"` + deposit + `"`),
		"params":         json.RawMessage(params),
	}

	_, err := g.Post(context.Background(), EndpointDeploy, nil, body)
	assert.ErrorIs(t, err, deployerr.ErrInvalidRequest)
	assert.Zero(t, fake.hits.Load())
}

func TestGateway_RejectsNumericAirdropAmount(t *testing.T) {
	raw := `{"totalSupply":"100","airdrop":{"enabled":true,"recipients":[{"address":"` + owner + `","amount":5}]}}`
	_, err := DecodeDeployParams([]byte(raw))
	assert.ErrorIs(t, err, deployerr.ErrInvalidRequest)
}

func TestLoadDeployParamsYAML(t *testing.T) {
	good := `
name: MPOOL
symbol: MPOOL
tokenOwner: "` + owner + `"
totalSupply: "10000000000000000000000000"
lpBps: 4000
feeRecipients:
  - address: "` + owner + `"
    bps: 10000
`
	p, err := LoadDeployParamsYAML([]byte(good))
	require.NoError(t, err)
	assert.Equal(t, BaseUnits("10000000000000000000000000"), p.TotalSupply)

	bad := `
name: MPOOL
totalSupply: 10000000
`
	_, err = LoadDeployParamsYAML([]byte(bad))
	assert.ErrorIs(t, err, deployerr.ErrInvalidRequest)
}

func TestGateway_Flow(t *testing.T) {
	fake := &fakeLaunchpad{}
	g := NewGateway(NewClient(fake.server(t).URL, nil))
	ctx := context.Background()

	out, err := g.Post(ctx, EndpointDeposit, nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `"`+deposit+`"`, string(out["depositAddress"]))

	raw, err := json.Marshal(validParams())
	require.NoError(t, err)
	out, err = g.Post(ctx, EndpointDeploy, nil, map[string]json.RawMessage{
		"depositAddress": json.RawMessage(`"` + deposit + `"`),
		"params":         raw,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `"`+token+`"`, string(out["token"]))
	assert.JSONEq(t, `false`, string(out["tokenIsToken0"]))
	assert.NotContains(t, out, "ok")

	_, err = g.Post(ctx, EndpointBuy, map[string]string{"token": token}, map[string]json.RawMessage{
		"pool":          json.RawMessage(`"` + pool + `"`),
		"tokenIsToken0": json.RawMessage(`false`),
		"buyAmountETH":  json.RawMessage(`"0.001"`),
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), fake.hits.Load())
}

func TestGateway_MissingResponseField(t *testing.T) {
	fake := &fakeLaunchpad{deployResp: `{"ok":true,"token":"` + token + `"}`}
	g := NewGateway(NewClient(fake.server(t).URL, nil))

	raw, err := json.Marshal(validParams())
	require.NoError(t, err)
	out, err := g.Post(context.Background(), EndpointDeploy, nil, map[string]json.RawMessage{
		"depositAddress": json.RawMessage(`"` + deposit + `"`),
		"params":         raw,
	})
	require.NoError(t, err)
	assert.NotContains(t, out, "pool")
	assert.NotContains(t, out, "tokenIsToken0")
}

func TestInitialBuy_Rejected(t *testing.T) {
	fake := &fakeLaunchpad{buyStatus: http.StatusInternalServerError}
	c := NewClient(fake.server(t).URL, nil)

	_, err := c.InitialBuy(context.Background(), token, BuyRequest{Pool: pool, BuyAmountETH: "0.001"})
	assert.ErrorIs(t, err, deployerr.ErrLaunchpadRejected)
}
