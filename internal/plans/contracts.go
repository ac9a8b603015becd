package plans

import (
	"math/big"

	"github.com/Bidon15/mpoolctl/internal/plan"
	"github.com/Bidon15/mpoolctl/internal/store"
)

// Pool deploys the insurance pool and router and links them.
func Pool(p Params, _ Known) (*Bundle, error) {
	b := plan.NewBuilder(NamePool, store.SectionV3)
	in := newInputs(b)
	usdc := in.address("usdc", p.USDC)
	oracle := in.address("oracle", p.Oracle)

	v3 := b.Deploy(NamePool+".deploy.pool", ArtifactPool, "v3", usdc.Arg(), oracle.Arg())
	router := b.Deploy(NamePool+".deploy.router", ArtifactRouter, "router", usdc.Arg(), v3.Arg())
	b.Call(NamePool+".link.router", v3.Arg(), "setRouter(address)", router.Arg())

	b.Bind(v3, store.KeyV3Contract)
	b.Bind(router, store.KeyRouter)
	b.Record(store.SectionV3, "oracle", oracle.Arg())

	b.Verify("pool.router", v3.Arg(), "router()", "address", router.Arg())
	b.Verify("usdc.decimals", usdc.Arg(), "decimals()", "uint8", plan.Lit(plan.Amount(big.NewInt(int64(usdcDecimals(p))))))
	setMinBalance(b, p.MinBalance)

	return in.bundle()
}

// FeeSystem deploys staking and the fee router for the token already
// recorded in the selected slot.
func FeeSystem(p Params, known Known) (*Bundle, error) {
	slot := slotOf(p)
	tokenAddr, err := requireKnown(known, slot.TokenKey)
	if err != nil {
		return nil, err
	}

	b := plan.NewBuilder(NameFeeSystem, store.SectionFeeSystem)
	in := newInputs(b)
	token := in.address("token", tokenAddr)
	usdc := in.address("usdc", p.USDC)
	treasury := in.address("treasury", p.Treasury)
	buyback := in.address("buyback", p.Buyback)

	addFeeSystem(b, NameFeeSystem, token, usdc, treasury, buyback)
	setMinBalance(b, p.MinBalance)

	return in.bundle()
}

type feeSystem struct {
	staking   plan.Handle
	feeRouter plan.Handle
}

func addFeeSystem(b *plan.Builder, prefix string, token, usdc, treasury, buyback plan.Handle) feeSystem {
	staking := b.Deploy(prefix+".deploy.staking", ArtifactStaking, "staking", token.Arg(), usdc.Arg())
	feeRouter := b.Deploy(prefix+".deploy.feeRouter", ArtifactFeeRouter, "feeRouter",
		usdc.Arg(), staking.Arg(), treasury.Arg(), buyback.Arg())
	b.Call(prefix+".link.feeRouter", staking.Arg(), "setFeeRouter(address)", feeRouter.Arg())

	b.Bind(staking, store.KeyMpoolStaking)
	b.Bind(feeRouter, store.KeyFeeRouter)
	b.Record(store.SectionFeeSystem, "token", token.Arg())
	b.Record(store.SectionFeeSystem, "treasury", treasury.Arg())
	b.Record(store.SectionFeeSystem, "buyback", buyback.Arg())

	b.Verify("staking.feeRouter", staking.Arg(), "feeRouter()", "address", feeRouter.Arg())

	return feeSystem{staking: staking, feeRouter: feeRouter}
}

func usdcDecimals(p Params) int {
	if p.USDCDecimals == 0 {
		return 6
	}
	return p.USDCDecimals
}

func slotOf(p Params) Slot {
	if p.Slot.TokenKey == "" {
		return SlotMpool
	}
	return p.Slot
}

func setMinBalance(b *plan.Builder, wei *big.Int) {
	if wei != nil {
		b.MinBalance(wei)
	}
}
