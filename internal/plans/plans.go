// Package plans builds the deployment plans run by the mpoolctl commands.
package plans

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/mpoolctl/internal/amount"
	"github.com/Bidon15/mpoolctl/internal/deployerr"
	"github.com/Bidon15/mpoolctl/internal/launchpad"
	"github.com/Bidon15/mpoolctl/internal/plan"
	"github.com/Bidon15/mpoolctl/internal/store"
)

// Plan names, also used as command names.
const (
	NamePool          = "deploy-pool"
	NameToken         = "launch-token"
	NameFeeSystem     = "deploy-fee-system"
	NameRelaunch      = "relaunch"
	NameRegisterAgent = "register-agent"
)

// Service names addressed by httpPost steps.
const (
	ServiceLaunchpad = "launchpad"
	ServiceAgents    = "agents"
)

// Contract artifacts.
const (
	ArtifactPool      = "InsurancePool"
	ArtifactRouter    = "Router"
	ArtifactStaking   = "MpoolStaking"
	ArtifactFeeRouter = "FeeRouter"
)

// MinSupply is the smallest total supply a launched token may report,
// in base units.
var MinSupply = amount.MustTokens(1_000_000, amount.EtherDecimals)

// StakingSeed is the amount of freshly launched tokens moved into staking
// by a relaunch.
var StakingSeed = amount.MustTokens(2_500_000, amount.EtherDecimals)

// Slot selects which token keys a launch writes.
type Slot struct {
	Name        string
	Section     string
	TokenKey    string
	PoolKey     string
	DeployTxKey string
	DepositKey  string
}

var (
	// SlotMpool is the primary governance token.
	SlotMpool = Slot{
		Name:        "mpool",
		Section:     store.SectionMpoolToken,
		TokenKey:    store.KeyMpoolToken,
		PoolKey:     store.KeyMpoolPool,
		DeployTxKey: store.KeyMpoolDeployTx,
		DepositKey:  store.KeyMpoolDeposit,
	}

	// SlotMpoolV3 is the token paired with the V3 insurance pool.
	SlotMpoolV3 = Slot{
		Name:        "mpoolV3",
		Section:     store.SectionMpoolV3Token,
		TokenKey:    store.KeyMpoolV3Token,
		PoolKey:     store.KeyMpoolV3Pool,
		DeployTxKey: store.KeyMpoolV3DeployTx,
		DepositKey:  store.KeyMpoolV3Deposit,
	}
)

// SlotByName returns the slot called name.
func SlotByName(name string) (Slot, error) {
	switch name {
	case "", SlotMpool.Name:
		return SlotMpool, nil
	case SlotMpoolV3.Name:
		return SlotMpoolV3, nil
	default:
		return Slot{}, fmt.Errorf("unknown token slot %q (want %s or %s)", name, SlotMpool.Name, SlotMpoolV3.Name)
	}
}

// Params carries the operator inputs plans are built from.
type Params struct {
	Signer       common.Address
	USDC         common.Address
	USDCDecimals int
	Oracle       common.Address
	Owner        common.Address
	Treasury     common.Address
	Buyback      common.Address

	DepositAmount    *big.Int
	PropagationDelay time.Duration
	BuyAmountETH     string
	Token            launchpad.DeployParams
	Slot             Slot

	MinBalance *big.Int

	AgentName        string
	AgentDescription string
	AgentMetadata    map[string]string
}

// Known exposes values already persisted by earlier runs.
type Known interface {
	Get(flatKey string) (string, bool)
	Marker(key string) (*store.Marker, bool)
}

// Bundle is a plan together with the bootstrap values it declares.
type Bundle struct {
	Plan      *plan.Plan
	Bootstrap *plan.Context
}

type builderFunc func(Params, Known) (*Bundle, error)

var registry = map[string]builderFunc{
	NamePool:          Pool,
	NameToken:         Token,
	NameFeeSystem:     FeeSystem,
	NameRelaunch:      Relaunch,
	NameRegisterAgent: RegisterAgent,
}

// Names lists the available plans.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build builds the plan called name.
func Build(name string, p Params, known Known) (*Bundle, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown plan %q", deployerr.ErrInvalidPlan, name)
	}
	return fn(p, known)
}

// inputs declares bootstrap keys on a builder and collects their values.
type inputs struct {
	b    *plan.Builder
	vals *plan.Context
	errs []error
}

func newInputs(b *plan.Builder) *inputs {
	return &inputs{b: b, vals: plan.NewContext()}
}

func (in *inputs) address(key string, a common.Address) plan.Handle {
	if a == (common.Address{}) {
		in.errs = append(in.errs, fmt.Errorf("%w: %s is not configured", deployerr.ErrReferenceUnresolved, key))
	}
	h := in.b.Input(key, plan.KindAddress)
	if err := in.vals.Set(key, plan.Address(a)); err != nil {
		in.errs = append(in.errs, err)
	}
	return h
}

func (in *inputs) bundle() (*Bundle, error) {
	if len(in.errs) > 0 {
		return nil, in.errs[0]
	}
	p, err := in.b.Build()
	if err != nil {
		return nil, err
	}
	return &Bundle{Plan: p, Bootstrap: in.vals}, nil
}

func knownAddress(known Known, key string) (common.Address, bool) {
	if known == nil {
		return common.Address{}, false
	}
	v, ok := known.Get(key)
	if !ok || !common.IsHexAddress(v) {
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

// completed reports whether the step key has a completion marker.
func completed(known Known, key string) bool {
	if known == nil {
		return false
	}
	_, ok := known.Marker(key)
	return ok
}

func requireKnown(known Known, key string) (common.Address, error) {
	addr, ok := knownAddress(known, key)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s is not set; run the plan that produces it first", deployerr.ErrReferenceUnresolved, key)
	}
	return addr, nil
}

func maxInt(a, b *big.Int) *big.Int {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case a.Cmp(b) >= 0:
		return a
	default:
		return b
	}
}
