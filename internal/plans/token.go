package plans

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/mpoolctl/internal/deployerr"
	"github.com/Bidon15/mpoolctl/internal/launchpad"
	"github.com/Bidon15/mpoolctl/internal/plan"
	"github.com/Bidon15/mpoolctl/internal/store"
)

// Token launches a token through the launchpad: reuse or create a deposit
// address, fund it, wait, deploy, attempt the initial buy, and point the
// router at the token when a router is known.
func Token(p Params, known Known) (*Bundle, error) {
	slot := slotOf(p)
	b := plan.NewBuilder(NameToken, slot.Section)
	in := newInputs(b)

	launched, err := addLaunch(b, in, NameToken, p, known)
	if err != nil {
		return nil, err
	}
	b.VerifyAtLeast("token.totalSupply", launched.token.Arg(), "totalSupply()", "uint256", plan.Lit(plan.Amount(MinSupply)))

	return in.bundle()
}

// Relaunch launches a token, checks its supply, deploys the fee system
// against it and seeds staking with tokens.
func Relaunch(p Params, known Known) (*Bundle, error) {
	slot := slotOf(p)
	b := plan.NewBuilder(NameRelaunch, slot.Section)
	in := newInputs(b)

	launched, err := addLaunch(b, in, NameRelaunch, p, known)
	if err != nil {
		return nil, err
	}

	supply := b.View(NameRelaunch+".supply.read", launched.token.Arg(), "totalSupply()", "uint256", "totalSupply")
	b.AssertAtLeast(NameRelaunch+".supply.check", supply.Arg(), plan.Lit(plan.Amount(MinSupply)))

	usdc := in.address("usdc", p.USDC)
	treasury := in.address("treasury", p.Treasury)
	buyback := in.address("buyback", p.Buyback)
	fees := addFeeSystem(b, NameRelaunch, launched.token, usdc, treasury, buyback)

	seed := plan.Lit(plan.Amount(StakingSeed))
	b.Call(NameRelaunch+".seed.staking", launched.token.Arg(), "transfer(address,uint256)", fees.staking.Arg(), seed)
	b.Record(store.SectionFeeSystem, "stakingSeed", seed)

	b.VerifyAtLeast("token.totalSupply", launched.token.Arg(), "totalSupply()", "uint256", plan.Lit(plan.Amount(MinSupply)))
	b.VerifyAtLeast("staking.balance", launched.token.Arg(), "balanceOf(address)", "uint256", seed, fees.staking.Arg())

	return in.bundle()
}

type launch struct {
	token plan.Handle
	pool  plan.Handle
}

func addLaunch(b *plan.Builder, in *inputs, prefix string, p Params, known Known) (launch, error) {
	slot := slotOf(p)
	if p.DepositAmount == nil || p.DepositAmount.Sign() <= 0 {
		return launch{}, fmt.Errorf("%w: deposit amount must be positive", deployerr.ErrInvalidPlan)
	}
	params, err := json.Marshal(p.Token)
	if err != nil {
		return launch{}, fmt.Errorf("encode token params: %w", err)
	}

	var deposit plan.Handle
	if addr, ok := reusableDeposit(known, prefix, slot); ok {
		deposit = in.address("depositAddress", addr)
	} else {
		out := b.Post(plan.PostSpec{
			Key:      prefix + ".deposit",
			Label:    "create deposit address",
			Service:  ServiceLaunchpad,
			Endpoint: launchpad.EndpointDeposit,
			Outputs: []plan.Output{
				{Key: "depositAddress", Kind: plan.KindAddress, Field: "depositAddress"},
			},
		})
		deposit = out["depositAddress"]
		b.Bind(deposit, slot.DepositKey)
	}

	b.SendNative(prefix+".deposit.fund", deposit.Arg(), plan.Lit(plan.Amount(p.DepositAmount)))
	b.Sleep(prefix+".deposit.wait", p.PropagationDelay)

	out := b.Post(plan.PostSpec{
		Key:      prefix + ".deploy",
		Label:    "deploy token " + p.Token.Symbol,
		Service:  ServiceLaunchpad,
		Endpoint: launchpad.EndpointDeploy,
		Body: []plan.Field{
			{Name: "depositAddress", Arg: deposit.Arg()},
			{Name: "params", Arg: plan.Lit(plan.JSON(params))},
		},
		Outputs: []plan.Output{
			{Key: "token", Kind: plan.KindAddress, Field: "token"},
			{Key: "pool", Kind: plan.KindAddress, Field: "pool"},
			{Key: "deployTx", Kind: plan.KindString, Field: "txHash"},
			{Key: "tokenIsToken0", Kind: plan.KindBool, Field: "tokenIsToken0"},
		},
	})
	token, pool := out["token"], out["pool"]
	b.Bind(token, slot.TokenKey)
	b.Bind(pool, slot.PoolKey)
	b.Bind(out["deployTx"], slot.DeployTxKey)

	if p.BuyAmountETH != "" {
		b.Post(plan.PostSpec{
			Key:      prefix + ".buy",
			Label:    "initial buy",
			Service:  ServiceLaunchpad,
			Endpoint: launchpad.EndpointBuy,
			Path:     []plan.Field{{Name: "token", Arg: token.Arg()}},
			Body: []plan.Field{
				{Name: "pool", Arg: pool.Arg()},
				{Name: "tokenIsToken0", Arg: out["tokenIsToken0"].Arg()},
				{Name: "buyAmountETH", Arg: plan.Lit(plan.String(p.BuyAmountETH))},
			},
			BestEffort: true,
		})
	}

	if routerAddr, ok := knownAddress(known, store.KeyRouter); ok {
		router := in.address("router", routerAddr)
		b.Call(prefix+".link.router", router.Arg(), "setMpoolToken(address)", token.Arg())
		b.Record(slot.Section, "router", router.Arg())
	}

	b.Record(slot.Section, "totalSupply", plan.Lit(plan.String(string(p.Token.TotalSupply))))
	b.Record(slot.Section, "lpBps", plan.Lit(plan.Amount(bigInt(p.Token.LpBps))))
	if total, err := airdropTotal(p.Token); err == nil && total.Sign() > 0 {
		b.Record(slot.Section, "airdropTotal", plan.Lit(plan.String(total.String())))
	}
	b.Record(slot.Section, "tokenIsToken0", out["tokenIsToken0"].Arg())

	setMinBalance(b, maxInt(p.MinBalance, p.DepositAmount))
	return launch{token: token, pool: pool}, nil
}

// reusableDeposit returns the recorded deposit of slot when this launch may
// use it: no launch has consumed it yet, or this plan already funded it and
// is resuming. A plan that created its own deposit replays that step instead.
func reusableDeposit(known Known, prefix string, slot Slot) (common.Address, bool) {
	addr, ok := knownAddress(known, slot.DepositKey)
	if !ok || completed(known, prefix+".deposit") {
		return common.Address{}, false
	}
	if _, consumed := knownAddress(known, slot.TokenKey); consumed && !completed(known, prefix+".deposit.fund") {
		return common.Address{}, false
	}
	return addr, true
}

func airdropTotal(params launchpad.DeployParams) (*big.Int, error) {
	total := new(big.Int)
	if !params.Airdrop.Enabled {
		return total, nil
	}
	for _, r := range params.Airdrop.Recipients {
		n, err := r.Amount.Int()
		if err != nil {
			return nil, err
		}
		total.Add(total, n)
	}
	return total, nil
}

func bigInt(n int) *big.Int {
	return big.NewInt(int64(n))
}
