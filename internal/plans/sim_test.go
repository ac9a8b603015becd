package plans

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/Bidon15/mpoolctl/internal/chain"
)

// simChain keeps just enough contract state to answer the views the plans
// verify.
type simChain struct {
	mu sync.Mutex

	signer  common.Address
	next    byte
	supply  *big.Int
	code    map[common.Address]string
	state   map[common.Address]map[string]any
	failing map[string]error

	deploys   []string
	calls     []string
	transfers map[common.Address]*big.Int
}

func newSimChain() *simChain {
	return &simChain{
		signer:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		supply:    new(big.Int).Exp(big.NewInt(10), big.NewInt(25), nil),
		code:      make(map[common.Address]string),
		state:     make(map[common.Address]map[string]any),
		failing:   make(map[string]error),
		transfers: make(map[common.Address]*big.Int),
	}
}

// launched marks an address deployed outside the signer's control.
func (s *simChain) launched(addr common.Address, name string) {
	s.code[addr] = name
	s.state[addr] = map[string]any{}
}

func (s *simChain) Signer() common.Address { return s.signer }

func (s *simChain) EnsureFunds(context.Context, *big.Int) error { return nil }

func (s *simChain) Deploy(ctx context.Context, artifact string, args ...any) (common.Address, common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing[artifact]; err != nil {
		return common.Address{}, common.Hash{}, err
	}
	s.next++
	addr := common.BytesToAddress([]byte{0xde, 0xad, s.next})
	s.launched(addr, artifact)
	s.deploys = append(s.deploys, artifact)
	return addr, common.BytesToHash([]byte{s.next}), nil
}

func (s *simChain) SendTx(ctx context.Context, to common.Address, method string, value *big.Int, args ...any) (*chain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing[method]; err != nil {
		return nil, err
	}
	if _, ok := s.code[to]; !ok {
		return nil, fmt.Errorf("call %s: no contract at %s", method, to.Hex())
	}
	s.calls = append(s.calls, method)

	switch method {
	case "setRouter(address)":
		s.state[to]["router()"] = args[0]
	case "setFeeRouter(address)":
		s.state[to]["feeRouter()"] = args[0]
	case "setMpoolToken(address)":
		s.state[to]["mpoolToken()"] = args[0]
	case "transfer(address,uint256)":
		s.state[to]["balanceOf:"+args[0].(common.Address).Hex()] = args[1]
	}
	return &chain.Receipt{TxHash: common.BytesToHash([]byte(method)), BlockNumber: uint64(len(s.calls))}, nil
}

func (s *simChain) Transfer(ctx context.Context, to common.Address, amount *big.Int) (*chain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transfers[to] = new(big.Int).Set(amount)
	return &chain.Receipt{TxHash: common.BytesToHash(to.Bytes())}, nil
}

func (s *simChain) Call(ctx context.Context, to common.Address, method, returns string, args ...any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch method {
	case "totalSupply()":
		return s.supply, nil
	case "decimals()":
		return big.NewInt(6), nil
	case "balanceOf(address)":
		if v, ok := s.state[to]["balanceOf:"+args[0].(common.Address).Hex()]; ok {
			return v, nil
		}
		return new(big.Int), nil
	}
	v, ok := s.state[to][method]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return v, nil
}

func (s *simChain) Code(ctx context.Context, addr common.Address) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.code[addr]; !ok {
		return nil, nil
	}
	return []byte{0x60, 0x80}, nil
}

func (s *simChain) count(method string) int {
	n := 0
	for _, c := range s.calls {
		if c == method {
			n++
		}
	}
	return n
}

const (
	lpDeposit = "0x00000000000000000000000000000000000000dd"
	lpToken   = "0x00000000000000000000000000000000000000e1"
	lpPool    = "0x00000000000000000000000000000000000000e2"
)

type fakeLaunchpad struct {
	mu        sync.Mutex
	hits      map[string]int
	lastBuy   string
	buyStatus int
}

func (f *fakeLaunchpad) hit(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[name]++
}

func (f *fakeLaunchpad) server(t *testing.T) *httptest.Server {
	t.Helper()
	f.hits = make(map[string]int)
	r := chi.NewRouter()
	r.Post("/deposit", func(w http.ResponseWriter, req *http.Request) {
		f.hit("deposit")
		_, _ = io.WriteString(w, `{"ok":true,"depositAddress":"`+lpDeposit+`","requiredAmount":"0.002"}`)
	})
	r.Post("/deploy", func(w http.ResponseWriter, req *http.Request) {
		f.hit("deploy")
		body, err := io.ReadAll(req.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), `"totalSupply":"10000000000000000000000000"`)
		_, _ = io.WriteString(w, `{"ok":true,"token":"`+lpToken+`","pool":"`+lpPool+`","txHash":"0xfeed","tokenIsToken0":false,"basescan":"https://basescan.org/tx/0xfeed"}`)
	})
	r.Post("/deploy/{token}/buy", func(w http.ResponseWriter, req *http.Request) {
		f.hit("buy")
		body, err := io.ReadAll(req.Body)
		assert.NoError(t, err)
		f.mu.Lock()
		f.lastBuy = string(body)
		f.mu.Unlock()
		assert.True(t, strings.EqualFold(lpToken, chi.URLParam(req, "token")))
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
