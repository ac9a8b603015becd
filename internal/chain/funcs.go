package chain

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/lmittmann/w3"
)

// funcCache holds parsed method signatures keyed by signature and return type.
type funcCache struct {
	mu    sync.Mutex
	funcs map[string]*w3.Func
}

func newFuncCache() *funcCache {
	return &funcCache{funcs: make(map[string]*w3.Func)}
}

func (c *funcCache) get(signature, returns string) (*w3.Func, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := signature + "->" + returns
	if fn, ok := c.funcs[key]; ok {
		return fn, nil
	}
	fn, err := w3.NewFunc(signature, returns)
	if err != nil {
		return nil, fmt.Errorf("parse method %q: %w", signature, err)
	}
	c.funcs[key] = fn
	return fn, nil
}

// EncodeCall returns calldata for signature applied to args.
func EncodeCall(signature string, args ...any) ([]byte, error) {
	fn, err := w3.NewFunc(signature, "")
	if err != nil {
		return nil, fmt.Errorf("parse method %q: %w", signature, err)
	}
	return fn.EncodeArgs(args...)
}

// decodeReturn unpacks a single return value of the given Solidity type.
func decodeReturn(returns string, out []byte) (any, error) {
	if returns == "" {
		return nil, nil
	}
	typ, err := abi.NewType(returns, "", nil)
	if err != nil {
		return nil, fmt.Errorf("return type %q: %w", returns, err)
	}
	vals, err := abi.Arguments{{Type: typ}}.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("decode %s return: %w", returns, err)
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("decode %s return: got %d values", returns, len(vals))
	}
	return normalize(vals[0]), nil
}

// normalize widens fixed-size unsigned integers to *big.Int.
func normalize(v any) any {
	switch n := v.(type) {
	case uint8:
		return new(big.Int).SetUint64(uint64(n))
	case uint16:
		return new(big.Int).SetUint64(uint64(n))
	case uint32:
		return new(big.Int).SetUint64(uint64(n))
	case uint64:
		return new(big.Int).SetUint64(n)
	default:
		return v
	}
}
