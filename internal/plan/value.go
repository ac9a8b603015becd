package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// Kind tags the type held by a Value.
type Kind string

const (
	KindAddress Kind = "address"
	KindAmount  Kind = "amount"
	KindString  Kind = "string"
	KindBool    Kind = "bool"
	KindJSON    Kind = "json"
)

// Value is a tagged union of the types that flow through a Context.
type Value struct {
	kind Kind
	addr common.Address
	amt  *big.Int
	str  string
	b    bool
	raw  json.RawMessage
}

// Address wraps an address.
func Address(a common.Address) Value { return Value{kind: KindAddress, addr: a} }

// Amount wraps a non-negative integer amount. The value is copied.
func Amount(n *big.Int) Value {
	if n == nil {
		n = new(big.Int)
	}
	return Value{kind: KindAmount, amt: new(big.Int).Set(n)}
}

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// JSON wraps a literal JSON document, typically a request fragment.
func JSON(raw json.RawMessage) Value {
	return Value{kind: KindJSON, raw: append(json.RawMessage(nil), raw...)}
}

// MustJSON marshals v and wraps the result. It panics on marshal failure and
// is intended for plan construction from typed request structs.
func MustJSON(v any) Value {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("plan: marshal literal: %v", err))
	}
	return JSON(raw)
}

func (v Value) Kind() Kind { return v.kind }

// IsZero reports whether v was never assigned.
func (v Value) IsZero() bool { return v.kind == "" }

func (v Value) AsAddress() (common.Address, bool) { return v.addr, v.kind == KindAddress }

func (v Value) AsAmount() (*big.Int, bool) {
	if v.kind != KindAmount {
		return nil, false
	}
	return new(big.Int).Set(v.amt), true
}

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

func (v Value) AsJSON() (json.RawMessage, bool) { return v.raw, v.kind == KindJSON }

// Native returns the Go value used for ABI encoding.
func (v Value) Native() any {
	switch v.kind {
	case KindAddress:
		return v.addr
	case KindAmount:
		return new(big.Int).Set(v.amt)
	case KindBool:
		return v.b
	case KindJSON:
		return v.raw
	default:
		return v.str
	}
}

// String renders the canonical text form: checksummed addresses, decimal
// amounts and verbatim strings.
func (v Value) String() string {
	switch v.kind {
	case KindAddress:
		return v.addr.Hex()
	case KindAmount:
		return v.amt.String()
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindJSON:
		return string(v.raw)
	default:
		return v.str
	}
}

// Equal compares kind and content. Addresses compare on bytes and amounts
// on their integer form.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindAddress:
		return v.addr == o.addr
	case KindAmount:
		return v.amt.Cmp(o.amt) == 0
	case KindBool:
		return v.b == o.b
	case KindJSON:
		return bytes.Equal(v.raw, o.raw)
	default:
		return v.str == o.str
	}
}

// MarshalJSON encodes addresses as checksummed strings, amounts as JSON
// numbers and booleans as JSON booleans.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindAddress:
		return json.Marshal(v.addr.Hex())
	case KindAmount:
		return []byte(v.amt.String()), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindJSON:
		if len(v.raw) == 0 {
			return []byte("null"), nil
		}
		return v.raw, nil
	case "":
		return []byte("null"), nil
	default:
		return json.Marshal(v.str)
	}
}

// DecodeValue parses raw JSON as a Value of the given kind. Amounts are
// accepted as JSON numbers or decimal strings.
func DecodeValue(kind Kind, raw json.RawMessage) (Value, error) {
	switch kind {
	case KindAddress:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, fmt.Errorf("decode address: %w", err)
		}
		return ParseAddress(s)
	case KindAmount:
		text := string(bytes.Trim(bytes.TrimSpace(raw), `"`))
		n, ok := new(big.Int).SetString(text, 10)
		if !ok || n.Sign() < 0 {
			return Value{}, fmt.Errorf("decode amount: invalid integer %s", raw)
		}
		return Amount(n), nil
	case KindBool:
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return Value{}, fmt.Errorf("decode bool: %w", err)
		}
		return Bool(b), nil
	case KindJSON:
		return JSON(raw), nil
	case KindString:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, fmt.Errorf("decode string: %w", err)
		}
		return String(s), nil
	default:
		return Value{}, fmt.Errorf("unknown value kind %q", kind)
	}
}

// ParseAddress validates a hex address and wraps it.
func ParseAddress(s string) (Value, error) {
	if !common.IsHexAddress(s) {
		return Value{}, fmt.Errorf("invalid address %q", s)
	}
	return Address(common.HexToAddress(s)), nil
}

// ParseText converts the text form of a value back into a Value of the given
// kind. It is used for values read from the flat configuration file.
func ParseText(kind Kind, s string) (Value, error) {
	switch kind {
	case KindAddress:
		return ParseAddress(s)
	case KindAmount:
		n, ok := new(big.Int).SetString(s, 10)
		if !ok || n.Sign() < 0 {
			return Value{}, fmt.Errorf("invalid amount %q", s)
		}
		return Amount(n), nil
	case KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, fmt.Errorf("invalid bool %q", s)
		}
		return Bool(b), nil
	case KindJSON:
		if !json.Valid([]byte(s)) {
			return Value{}, fmt.Errorf("invalid json %q", s)
		}
		return JSON(json.RawMessage(s)), nil
	default:
		return String(s), nil
	}
}
