package plan

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bidon15/mpoolctl/internal/deployerr"
)

var (
	usdcAddr   = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	oracleAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func poolRouterBuilder() *Builder {
	b := NewBuilder("pool-router", "v3")
	usdc := b.Input("usdc", KindAddress)
	oracle := b.Input("oracle", KindAddress)
	pool := b.Deploy("v3.deploy", "InsurancePool", "v3", usdc.Arg(), oracle.Arg())
	router := b.Deploy("router.deploy", "Router", "router", usdc.Arg(), pool.Arg())
	b.Call("v3.setRouter", pool.Arg(), "setRouter(address)", router.Arg())
	b.Bind(pool, "V3_CONTRACT_ADDRESS")
	b.Bind(router, "ROUTER_ADDRESS")
	b.Verify("v3.router", pool.Arg(), "router()", "address", router.Arg())
	return b
}

func TestBuilder_Valid(t *testing.T) {
	p, err := poolRouterBuilder().Build()
	require.NoError(t, err)

	assert.Equal(t, "pool-router", p.Name)
	require.Len(t, p.Steps, 3)
	assert.Equal(t, KindDeploy, p.Steps[0].Kind())
	assert.Equal(t, KindCall, p.Steps[2].Kind())
	assert.Len(t, p.Deploys(), 2)

	out, ok := p.Producer("router")
	require.True(t, ok)
	assert.Equal(t, KindAddress, out.Kind)

	flat, ok := p.FlatKey("v3")
	require.True(t, ok)
	assert.Equal(t, "V3_CONTRACT_ADDRESS", flat)
	assert.Equal(t, 0, p.MinBalance.Sign())
}

func TestBuilder_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		build func(b *Builder)
	}{
		{
			name: "forward reference",
			build: func(b *Builder) {
				b.Deploy("a", "A", "a", Ref("b"))
				b.Deploy("b", "B", "b")
			},
		},
		{
			name: "handle from another builder",
			build: func(b *Builder) {
				other := NewBuilder("other", "")
				h := other.Input("x", KindAddress)
				b.Deploy("a", "A", "a", h.Arg())
			},
		},
		{
			name: "duplicate idempotency key",
			build: func(b *Builder) {
				b.Sleep("wait", time.Second)
				b.Sleep("wait", time.Second)
			},
		},
		{
			name: "output produced twice",
			build: func(b *Builder) {
				b.Deploy("a", "A", "addr")
				b.Deploy("b", "B", "addr")
			},
		},
		{
			name: "empty argument",
			build: func(b *Builder) {
				b.Deploy("a", "A", "a", Arg{})
			},
		},
		{
			name: "post output without field",
			build: func(b *Builder) {
				b.Post(PostSpec{Key: "p", Service: "svc", Endpoint: "e", Outputs: []Output{{Key: "x", Kind: KindString}}})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder("bad", "")
			tt.build(b)
			_, err := b.Build()
			require.Error(t, err)
			assert.ErrorIs(t, err, deployerr.ErrInvalidPlan)
		})
	}
}

func TestContext_WriteOnce(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.Set("v3", Address(usdcAddr)))

	err := c.Set("v3", Address(usdcAddr))
	assert.ErrorIs(t, err, deployerr.ErrContextOverwrite)

	require.NoError(t, c.Set("supply", Amount(big.NewInt(10))))
	assert.Equal(t, []string{"v3", "supply"}, c.Keys())
}

func TestContext_Resolve(t *testing.T) {
	c := NewContext()
	require.NoError(t, c.Set("usdc", Address(usdcAddr)))

	v, err := c.Resolve(Ref("usdc"))
	require.NoError(t, err)
	assert.True(t, v.Equal(Address(usdcAddr)))

	v, err = c.Resolve(Lit(Bool(true)))
	require.NoError(t, err)
	assert.Equal(t, "true", v.String())

	_, err = c.ResolveAll([]Arg{Ref("usdc"), Ref("missing")})
	assert.ErrorIs(t, err, deployerr.ErrReferenceUnresolved)
}

func TestValue_JSON(t *testing.T) {
	supply, _ := new(big.Int).SetString("10000000000000000000000000", 10)
	outputs := map[string]Value{
		"token":  Address(oracleAddr),
		"supply": Amount(supply),
		"flag":   Bool(true),
		"tx":     String("0xabc"),
	}
	raw, err := json.Marshal(outputs)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"token": "`+oracleAddr.Hex()+`",
		"supply": 10000000000000000000000000,
		"flag": true,
		"tx": "0xabc"
	}`, string(raw))

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))

	v, err := DecodeValue(KindAmount, decoded["supply"])
	require.NoError(t, err)
	assert.True(t, v.Equal(Amount(supply)))

	v, err = DecodeValue(KindAddress, decoded["token"])
	require.NoError(t, err)
	assert.True(t, v.Equal(Address(oracleAddr)))

	_, err = DecodeValue(KindAddress, json.RawMessage(`"0x1234"`))
	assert.Error(t, err)
}

func TestAssertOp(t *testing.T) {
	floor := Amount(new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil))

	ok, err := OpAtLeast.Holds(Amount(big.NewInt(10)), floor)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = OpAtLeast.Holds(floor, floor)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = OpAtLeast.Holds(String("x"), floor)
	assert.Error(t, err)

	ok, err = OpEqual.Holds(Address(usdcAddr), Address(usdcAddr))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRender(t *testing.T) {
	p, err := poolRouterBuilder().Build()
	require.NoError(t, err)

	out, err := Render(p)
	require.NoError(t, err)
	text := string(out)
	assert.Contains(t, text, "name: pool-router")
	assert.Contains(t, text, "kind: deploy")
	assert.Contains(t, text, "artifact: InsurancePool")
	assert.Contains(t, text, "$router")
	assert.Contains(t, text, "flatKey: ROUTER_ADDRESS")
}

func TestPlan_RequiredBalance(t *testing.T) {
	build := func(t *testing.T) *Plan {
		t.Helper()
		b := NewBuilder("launch", "token")
		deposit := b.Input("deposit", KindAddress)
		b.SendNative("fund", deposit.Arg(), Lit(Amount(big.NewInt(2_000_000_000_000_000))))
		b.Call("link", Lit(Address(oracleAddr)), "setMpoolToken(address)", deposit.Arg())
		b.MinBalance(big.NewInt(2_500_000_000_000_000))
		p, err := b.Build()
		require.NoError(t, err)
		return p
	}

	tests := []struct {
		name string
		done []string
		want int64
	}{
		{name: "nothing complete", want: 2_500_000_000_000_000},
		{name: "deposit funded", done: []string{"fund"}, want: 500_000_000_000_000},
		{name: "all submits complete", done: []string{"fund", "link"}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := build(t)
			done := func(key string) bool {
				for _, k := range tt.done {
					if k == key {
						return true
					}
				}
				return false
			}
			assert.Equal(t, big.NewInt(tt.want), p.RequiredBalance(done))
		})
	}

	t.Run("no floor", func(t *testing.T) {
		p, err := poolRouterBuilder().Build()
		require.NoError(t, err)
		assert.Equal(t, 0, p.RequiredBalance(nil).Sign())
	})
}
