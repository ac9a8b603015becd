package plan

import (
	"fmt"

	"github.com/Bidon15/mpoolctl/internal/deployerr"
)

// Context is the ordered, write-once name to value map threaded through one
// plan execution.
type Context struct {
	order  []string
	values map[string]Value
}

// NewContext returns an empty Context.
func NewContext() *Context {
	return &Context{values: make(map[string]Value)}
}

// Set records key. Setting a key twice is an error even if the value matches.
func (c *Context) Set(key string, v Value) error {
	if v.IsZero() {
		return fmt.Errorf("set %q: empty value", key)
	}
	if _, ok := c.values[key]; ok {
		return fmt.Errorf("%w: %s", deployerr.ErrContextOverwrite, key)
	}
	c.order = append(c.order, key)
	c.values[key] = v
	return nil
}

// Get returns the value for key.
func (c *Context) Get(key string) (Value, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Has reports whether key is set.
func (c *Context) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Keys returns keys in insertion order.
func (c *Context) Keys() []string {
	return append([]string(nil), c.order...)
}

// Len returns the number of keys.
func (c *Context) Len() int { return len(c.order) }

// Resolve returns the value an Arg denotes.
func (c *Context) Resolve(a Arg) (Value, error) {
	if a.Ref == "" {
		if a.Lit.IsZero() {
			return Value{}, fmt.Errorf("%w: empty argument", deployerr.ErrReferenceUnresolved)
		}
		return a.Lit, nil
	}
	v, ok := c.values[a.Ref]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", deployerr.ErrReferenceUnresolved, a.Ref)
	}
	return v, nil
}

// ResolveAll resolves every arg in order.
func (c *Context) ResolveAll(args []Arg) ([]Value, error) {
	out := make([]Value, len(args))
	for i, a := range args {
		v, err := c.Resolve(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
