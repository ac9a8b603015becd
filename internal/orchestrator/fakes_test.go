package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/mpoolctl/internal/chain"
	"github.com/Bidon15/mpoolctl/internal/deployerr"
)

// fakeChain records every submission and hands out sequential addresses.
type fakeChain struct {
	mu sync.Mutex

	signer  common.Address
	next    byte
	balance *big.Int
	needs   []*big.Int

	deploys   []string
	calls     []string
	values    []*big.Int
	transfers []common.Address
	views     []string

	deployed   map[string]common.Address
	viewResult map[string]any
	failDeploy map[string]error
	failCall   map[string]error
	onDeploy   func(artifact string)
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		signer:     common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		deployed:   make(map[string]common.Address),
		viewResult: make(map[string]any),
		failDeploy: make(map[string]error),
		failCall:   make(map[string]error),
	}
}

func (f *fakeChain) Signer() common.Address { return f.signer }

// EnsureFunds records need and fails when balance is set and below it.
func (f *fakeChain) EnsureFunds(ctx context.Context, need *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.needs = append(f.needs, need)
	if f.balance != nil && f.balance.Cmp(need) < 0 {
		return &deployerr.InsufficientFundsError{Have: f.balance, Need: need}
	}
	return nil
}

func (f *fakeChain) Deploy(ctx context.Context, artifact string, args ...any) (common.Address, common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.onDeploy != nil {
		f.onDeploy(artifact)
	}
	if err := f.failDeploy[artifact]; err != nil {
		return common.Address{}, common.Hash{}, err
	}
	if err := ctx.Err(); err != nil {
		return common.Address{}, common.Hash{}, err
	}
	f.next++
	addr := common.BytesToAddress([]byte{0xc0, f.next})
	f.deploys = append(f.deploys, artifact)
	f.deployed[artifact] = addr
	return addr, common.BytesToHash([]byte{f.next}), nil
}

func (f *fakeChain) SendTx(ctx context.Context, to common.Address, method string, value *big.Int, args ...any) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.failCall[method]; err != nil {
		return nil, err
	}
	f.calls = append(f.calls, fmt.Sprintf("%s@%s", method, to.Hex()))
	f.values = append(f.values, value)
	return &chain.Receipt{TxHash: common.BytesToHash([]byte(method)), BlockNumber: uint64(len(f.calls))}, nil
}

func (f *fakeChain) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, to)
	return &chain.Receipt{TxHash: common.BytesToHash(to.Bytes())}, nil
}

func (f *fakeChain) Call(ctx context.Context, to common.Address, method, returns string, args ...any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.views = append(f.views, method)
	v, ok := f.viewResult[method]
	if !ok {
		return nil, fmt.Errorf("no view result for %s", method)
	}
	return v, nil
}

func (f *fakeChain) submissions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deploys) + len(f.calls) + len(f.transfers)
}

// fakeService answers httpPost steps from a table.
type fakeService struct {
	mu        sync.Mutex
	responses map[string]map[string]json.RawMessage
	errs      map[string]error
	hits      map[string]int
	bodies    map[string]map[string]json.RawMessage
}

func newFakeService() *fakeService {
	return &fakeService{
		responses: make(map[string]map[string]json.RawMessage),
		errs:      make(map[string]error),
		hits:      make(map[string]int),
		bodies:    make(map[string]map[string]json.RawMessage),
	}
}

func (f *fakeService) Post(ctx context.Context, endpoint string, path map[string]string, body map[string]json.RawMessage) (map[string]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[endpoint]++
	f.bodies[endpoint] = body
	if err := f.errs[endpoint]; err != nil {
		return nil, err
	}
	return f.responses[endpoint], nil
}
