// Package plan describes deployments as pure data: an ordered list of
// steps whose inputs may reference the outputs of earlier steps.
package plan

import (
	"fmt"
	"math/big"
	"strings"
	"time"
)

// StepKind names the action a step performs.
type StepKind string

const (
	KindDeploy     StepKind = "deploy"
	KindCall       StepKind = "call"
	KindView       StepKind = "view"
	KindHTTPPost   StepKind = "httpPost"
	KindSendNative StepKind = "sendNative"
	KindSleep      StepKind = "sleep"
	KindAssert     StepKind = "assert"
)

// Arg is either a literal value or a reference to a Context key.
type Arg struct {
	Ref   string
	Lit   Value
	owner *Builder
}

// Lit wraps a literal value as an argument.
func Lit(v Value) Arg { return Arg{Lit: v} }

// Ref references a context key by name. Prefer Handle.Arg inside builders.
func Ref(key string) Arg { return Arg{Ref: key} }

// IsRef reports whether the argument is a reference.
func (a Arg) IsRef() bool { return a.Ref != "" }

// IsZero reports whether the argument is unset.
func (a Arg) IsZero() bool { return a.Ref == "" && a.Lit.IsZero() }

func (a Arg) String() string {
	if a.Ref != "" {
		return "$" + a.Ref
	}
	return a.Lit.String()
}

// MarshalYAML renders references as $key and literals in text form.
func (a Arg) MarshalYAML() (any, error) {
	return a.String(), nil
}

// Field is a named argument, used for request bodies and URL path segments.
type Field struct {
	Name string `yaml:"name"`
	Arg  Arg    `yaml:"value"`
}

// Output declares a value a step writes into the Context. For httpPost steps
// Field names the response field it is copied from.
type Output struct {
	Key   string `yaml:"key"`
	Kind  Kind   `yaml:"kind"`
	Field string `yaml:"field,omitempty"`
}

// Meta holds the attributes every step carries.
type Meta struct {
	// Key is the idempotency key recorded in the store once the step completes.
	Key   string `yaml:"key"`
	Label string `yaml:"label,omitempty"`
	// BestEffort is only honoured on httpPost steps.
	BestEffort bool `yaml:"bestEffort,omitempty"`
}

// Step is one atomic unit of plan execution.
type Step interface {
	Info() Meta
	Kind() StepKind
	Inputs() []Arg
	Outputs() []Output
}

// Deploy creates a contract from a named artifact.
type Deploy struct {
	Meta     `yaml:",inline"`
	Artifact string `yaml:"artifact"`
	Args     []Arg  `yaml:"args,omitempty"`
	Output   string `yaml:"output"`
}

func (s *Deploy) Info() Meta        { return s.Meta }
func (s *Deploy) Kind() StepKind    { return KindDeploy }
func (s *Deploy) Inputs() []Arg     { return s.Args }
func (s *Deploy) Outputs() []Output { return []Output{{Key: s.Output, Kind: KindAddress}} }

// Call sends a state-changing transaction and expects a successful receipt.
// Method is a human-readable signature such as "setRouter(address)".
type Call struct {
	Meta   `yaml:",inline"`
	Target Arg    `yaml:"target"`
	Method string `yaml:"method"`
	Args   []Arg  `yaml:"args,omitempty"`
	Value  Arg    `yaml:"value,omitempty"`
}

func (s *Call) Info() Meta     { return s.Meta }
func (s *Call) Kind() StepKind { return KindCall }
func (s *Call) Inputs() []Arg {
	in := append([]Arg{s.Target}, s.Args...)
	if !s.Value.IsZero() {
		in = append(in, s.Value)
	}
	return in
}
func (s *Call) Outputs() []Output { return nil }

// View performs a read-only call and stores the single decoded return value.
type View struct {
	Meta    `yaml:",inline"`
	Target  Arg    `yaml:"target"`
	Method  string `yaml:"method"`
	Returns string `yaml:"returns"`
	Args    []Arg  `yaml:"args,omitempty"`
	Output  string `yaml:"output"`
}

func (s *View) Info() Meta     { return s.Meta }
func (s *View) Kind() StepKind { return KindView }
func (s *View) Inputs() []Arg  { return append([]Arg{s.Target}, s.Args...) }
func (s *View) Outputs() []Output {
	return []Output{{Key: s.Output, Kind: ReturnKind(s.Returns)}}
}

// Post calls an HTTP service. Endpoint may contain {name} placeholders that
// are filled from Path.
type Post struct {
	Meta     `yaml:",inline"`
	Service  string   `yaml:"service"`
	Endpoint string   `yaml:"endpoint"`
	Path     []Field  `yaml:"path,omitempty"`
	Body     []Field  `yaml:"body,omitempty"`
	Fields   []Output `yaml:"outputs,omitempty"`
}

func (s *Post) Info() Meta     { return s.Meta }
func (s *Post) Kind() StepKind { return KindHTTPPost }
func (s *Post) Inputs() []Arg {
	in := make([]Arg, 0, len(s.Path)+len(s.Body))
	for _, f := range s.Path {
		in = append(in, f.Arg)
	}
	for _, f := range s.Body {
		in = append(in, f.Arg)
	}
	return in
}
func (s *Post) Outputs() []Output { return s.Fields }

// SendNative transfers native currency.
type SendNative struct {
	Meta   `yaml:",inline"`
	To     Arg `yaml:"to"`
	Amount Arg `yaml:"amount"`
}

func (s *SendNative) Info() Meta        { return s.Meta }
func (s *SendNative) Kind() StepKind    { return KindSendNative }
func (s *SendNative) Inputs() []Arg     { return []Arg{s.To, s.Amount} }
func (s *SendNative) Outputs() []Output { return nil }

// Sleep waits for external propagation. It always executes.
type Sleep struct {
	Meta     `yaml:",inline"`
	Duration time.Duration `yaml:"duration"`
}

func (s *Sleep) Info() Meta        { return s.Meta }
func (s *Sleep) Kind() StepKind    { return KindSleep }
func (s *Sleep) Inputs() []Arg     { return nil }
func (s *Sleep) Outputs() []Output { return nil }

// AssertOp is the comparison an Assert step applies.
type AssertOp string

const (
	OpEqual   AssertOp = "eq"
	OpAtLeast AssertOp = "gte"
)

// Assert compares two values without touching the network.
type Assert struct {
	Meta `yaml:",inline"`
	A    Arg      `yaml:"a"`
	B    Arg      `yaml:"b"`
	Op   AssertOp `yaml:"op"`
}

func (s *Assert) Info() Meta        { return s.Meta }
func (s *Assert) Kind() StepKind    { return KindAssert }
func (s *Assert) Inputs() []Arg     { return []Arg{s.A, s.B} }
func (s *Assert) Outputs() []Output { return nil }

// Holds reports whether a and b satisfy op.
func (op AssertOp) Holds(a, b Value) (bool, error) {
	switch op {
	case OpEqual:
		return a.Equal(b), nil
	case OpAtLeast:
		x, ok1 := a.AsAmount()
		y, ok2 := b.AsAmount()
		if !ok1 || !ok2 {
			return false, fmt.Errorf("gte requires amounts, got %s and %s", a.Kind(), b.Kind())
		}
		return x.Cmp(y) >= 0, nil
	default:
		return false, fmt.Errorf("unknown assert op %q", op)
	}
}

// ReturnKind maps a Solidity return type to the Value kind it decodes into.
func ReturnKind(abiType string) Kind {
	switch {
	case abiType == "address":
		return KindAddress
	case abiType == "bool":
		return KindBool
	case strings.HasPrefix(abiType, "uint"):
		return KindAmount
	default:
		return KindString
	}
}

// Binding maps a context key to the flat configuration key it is persisted under.
type Binding struct {
	Key     string `yaml:"key"`
	FlatKey string `yaml:"flatKey"`
}

// Record is written into a structured section after a successful run.
type Record struct {
	Section string `yaml:"section"`
	Field   string `yaml:"field"`
	Arg     Arg    `yaml:"value"`
}

// Check is a read-back assertion evaluated by the verifier: Method on Target
// must return Expect.
type Check struct {
	Name    string   `yaml:"name"`
	Target  Arg      `yaml:"target"`
	Method  string   `yaml:"method"`
	Returns string   `yaml:"returns"`
	Args    []Arg    `yaml:"args,omitempty"`
	Expect  Arg      `yaml:"expect"`
	Op      AssertOp `yaml:"op"`
}

// Input is a key supplied by the bootstrap context rather than a step.
type Input struct {
	Key  string `yaml:"key"`
	Kind Kind   `yaml:"kind"`
}

// Plan is an immutable, validated deployment description.
type Plan struct {
	Name     string
	Section  string
	Inputs   []Input
	Steps    []Step
	Bindings []Binding
	Records  []Record
	Checks   []Check
	// MinBalance is the signer balance required before any transaction.
	MinBalance *big.Int
}

// Producer returns the output declaration for key, searching inputs and steps.
func (p *Plan) Producer(key string) (Output, bool) {
	for _, in := range p.Inputs {
		if in.Key == key {
			return Output{Key: in.Key, Kind: in.Kind}, true
		}
	}
	for _, s := range p.Steps {
		for _, o := range s.Outputs() {
			if o.Key == key {
				return o, true
			}
		}
	}
	return Output{}, false
}

// FlatKey returns the flat configuration key a context key is bound to.
func (p *Plan) FlatKey(key string) (string, bool) {
	for _, b := range p.Bindings {
		if b.Key == key {
			return b.FlatKey, true
		}
	}
	return "", false
}

// Deploys returns the deploy steps in plan order.
func (p *Plan) Deploys() []*Deploy {
	var out []*Deploy
	for _, s := range p.Steps {
		if d, ok := s.(*Deploy); ok {
			out = append(out, d)
		}
	}
	return out
}

// Step returns the step with the given idempotency key.
func (p *Plan) Step(key string) (Step, bool) {
	for _, s := range p.Steps {
		if s.Info().Key == key {
			return s, true
		}
	}
	return nil, false
}

// RequiredBalance returns the signer balance still needed to finish p, given
// which step keys are already complete. Literal amounts of completed
// sendNative steps are deducted from MinBalance. The result is zero when no
// transaction-submitting step remains.
func (p *Plan) RequiredBalance(done func(key string) bool) *big.Int {
	need := new(big.Int)
	if p.MinBalance != nil {
		need.Set(p.MinBalance)
	}
	pending := false
	for _, s := range p.Steps {
		complete := done != nil && done(s.Info().Key)
		switch step := s.(type) {
		case *Deploy, *Call:
			pending = pending || !complete
		case *SendNative:
			if !complete {
				pending = true
				continue
			}
			if amt, ok := step.Amount.Lit.AsAmount(); ok && !step.Amount.IsRef() {
				need.Sub(need, amt)
			}
		}
	}
	if !pending || need.Sign() < 0 {
		return new(big.Int)
	}
	return need
}
