package plan

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/Bidon15/mpoolctl/internal/deployerr"
)

// Handle names a value produced by an earlier step or supplied as input.
// Handles are only valid in the builder that issued them.
type Handle struct {
	Key   string
	Kind  Kind
	owner *Builder
}

// Arg converts the handle into a reference argument.
func (h Handle) Arg() Arg { return Arg{Ref: h.Key, owner: h.owner} }

// PostSpec describes an httpPost step.
type PostSpec struct {
	Key        string
	Label      string
	Service    string
	Endpoint   string
	Path       []Field
	Body       []Field
	Outputs    []Output
	BestEffort bool
}

// Builder assembles a Plan, rejecting references to values that are not yet
// available at the point of use.
type Builder struct {
	plan     Plan
	produced map[string]Kind
	stepKeys map[string]bool
	errs     []error
}

// NewBuilder starts a plan. section names the structured store section that
// receives the deployment record.
func NewBuilder(name, section string) *Builder {
	return &Builder{
		plan:     Plan{Name: name, Section: section},
		produced: make(map[string]Kind),
		stepKeys: make(map[string]bool),
	}
}

func (b *Builder) fail(format string, args ...any) {
	b.errs = append(b.errs, fmt.Errorf(format, args...))
}

func (b *Builder) handle(key string, kind Kind) Handle {
	return Handle{Key: key, Kind: kind, owner: b}
}

func (b *Builder) checkArgs(where string, args ...Arg) {
	for _, a := range args {
		if a.IsZero() {
			b.fail("%s: empty argument", where)
			continue
		}
		if !a.IsRef() {
			continue
		}
		if a.owner != nil && a.owner != b {
			b.fail("%s: reference %q belongs to another plan", where, a.Ref)
			continue
		}
		if _, ok := b.produced[a.Ref]; !ok {
			b.fail("%s: reference %q is not produced by an earlier step", where, a.Ref)
		}
	}
}

func (b *Builder) produce(where, key string, kind Kind) Handle {
	if key == "" {
		b.fail("%s: empty output key", where)
	} else if _, ok := b.produced[key]; ok {
		b.fail("%s: output %q already produced", where, key)
	}
	b.produced[key] = kind
	return b.handle(key, kind)
}

func (b *Builder) add(s Step) {
	key := s.Info().Key
	if key == "" {
		b.fail("%s step: empty idempotency key", s.Kind())
	} else if b.stepKeys[key] {
		b.fail("duplicate idempotency key %q", key)
	}
	b.stepKeys[key] = true
	b.plan.Steps = append(b.plan.Steps, s)
}

// Input declares a bootstrap key.
func (b *Builder) Input(key string, kind Kind) Handle {
	h := b.produce("input", key, kind)
	b.plan.Inputs = append(b.plan.Inputs, Input{Key: key, Kind: kind})
	return h
}

// Deploy appends a contract creation whose address is stored under output.
func (b *Builder) Deploy(key, artifact, output string, args ...Arg) Handle {
	b.checkArgs(key, args...)
	if artifact == "" {
		b.fail("%s: empty artifact", key)
	}
	b.add(&Deploy{Meta: Meta{Key: key, Label: "deploy " + artifact}, Artifact: artifact, Args: args, Output: output})
	return b.produce(key, output, KindAddress)
}

// Call appends a state-changing method call.
func (b *Builder) Call(key string, target Arg, method string, args ...Arg) {
	b.checkArgs(key, append([]Arg{target}, args...)...)
	b.add(&Call{Meta: Meta{Key: key, Label: method}, Target: target, Method: method, Args: args})
}

// CallWithValue appends a payable method call.
func (b *Builder) CallWithValue(key string, target Arg, value Arg, method string, args ...Arg) {
	b.checkArgs(key, append([]Arg{target, value}, args...)...)
	b.add(&Call{Meta: Meta{Key: key, Label: method}, Target: target, Method: method, Args: args, Value: value})
}

// View appends a read-only call whose single return value is stored under output.
func (b *Builder) View(key string, target Arg, method, returns, output string, args ...Arg) Handle {
	b.checkArgs(key, append([]Arg{target}, args...)...)
	b.add(&View{Meta: Meta{Key: key, Label: method}, Target: target, Method: method, Returns: returns, Args: args, Output: output})
	return b.produce(key, output, ReturnKind(returns))
}

// Post appends an HTTP call and returns a handle per declared output.
func (b *Builder) Post(spec PostSpec) map[string]Handle {
	for _, f := range spec.Path {
		b.checkArgs(spec.Key, f.Arg)
	}
	for _, f := range spec.Body {
		b.checkArgs(spec.Key, f.Arg)
	}
	if spec.Service == "" || spec.Endpoint == "" {
		b.fail("%s: service and endpoint are required", spec.Key)
	}
	label := spec.Label
	if label == "" {
		label = spec.Service + " " + spec.Endpoint
	}
	b.add(&Post{
		Meta:     Meta{Key: spec.Key, Label: label, BestEffort: spec.BestEffort},
		Service:  spec.Service,
		Endpoint: spec.Endpoint,
		Path:     spec.Path,
		Body:     spec.Body,
		Fields:   spec.Outputs,
	})
	out := make(map[string]Handle, len(spec.Outputs))
	for _, o := range spec.Outputs {
		if o.Field == "" {
			b.fail("%s: output %q has no response field", spec.Key, o.Key)
		}
		out[o.Key] = b.produce(spec.Key, o.Key, o.Kind)
	}
	return out
}

// SendNative appends a plain value transfer.
func (b *Builder) SendNative(key string, to, value Arg) {
	b.checkArgs(key, to, value)
	b.add(&SendNative{Meta: Meta{Key: key, Label: "send native"}, To: to, Amount: value})
}

// Sleep appends a wait.
func (b *Builder) Sleep(key string, d time.Duration) {
	if d < 0 {
		b.fail("%s: negative duration", key)
	}
	b.add(&Sleep{Meta: Meta{Key: key, Label: "sleep " + d.String()}, Duration: d})
}

// AssertEqual appends an equality check.
func (b *Builder) AssertEqual(key string, a, other Arg) {
	b.checkArgs(key, a, other)
	b.add(&Assert{Meta: Meta{Key: key, Label: "assert equal"}, A: a, B: other, Op: OpEqual})
}

// AssertAtLeast appends a check that a >= floor.
func (b *Builder) AssertAtLeast(key string, a, floor Arg) {
	b.checkArgs(key, a, floor)
	b.add(&Assert{Meta: Meta{Key: key, Label: "assert at least"}, A: a, B: floor, Op: OpAtLeast})
}

// Bind persists h under a flat configuration key when it is produced.
func (b *Builder) Bind(h Handle, flatKey string) {
	if h.owner != b {
		b.fail("bind %s: handle belongs to another plan", flatKey)
		return
	}
	b.plan.Bindings = append(b.plan.Bindings, Binding{Key: h.Key, FlatKey: flatKey})
}

// Record writes a into the structured section after a successful run.
func (b *Builder) Record(section, field string, a Arg) {
	b.checkArgs("record "+field, a)
	b.plan.Records = append(b.plan.Records, Record{Section: section, Field: field, Arg: a})
}

// Verify declares a read-back check for the verifier.
func (b *Builder) Verify(name string, target Arg, method, returns string, expect Arg, args ...Arg) {
	b.verify(name, target, method, returns, expect, OpEqual, args...)
}

// VerifyAtLeast declares a read-back check that the view result is >= expect.
func (b *Builder) VerifyAtLeast(name string, target Arg, method, returns string, expect Arg, args ...Arg) {
	b.verify(name, target, method, returns, expect, OpAtLeast, args...)
}

func (b *Builder) verify(name string, target Arg, method, returns string, expect Arg, op AssertOp, args ...Arg) {
	b.checkArgs("verify "+name, append([]Arg{target, expect}, args...)...)
	b.plan.Checks = append(b.plan.Checks, Check{
		Name:    name,
		Target:  target,
		Method:  method,
		Returns: returns,
		Args:    args,
		Expect:  expect,
		Op:      op,
	})
}

// MinBalance sets the balance the signer must hold before any submit.
func (b *Builder) MinBalance(wei *big.Int) {
	b.plan.MinBalance = new(big.Int).Set(wei)
}

// Build validates and returns the plan.
func (b *Builder) Build() (*Plan, error) {
	if b.plan.Name == "" {
		b.fail("plan has no name")
	}
	for _, bind := range b.plan.Bindings {
		if bind.FlatKey == "" {
			b.fail("binding for %q has no flat key", bind.Key)
		}
	}
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("%w: %s: %w", deployerr.ErrInvalidPlan, b.plan.Name, errors.Join(b.errs...))
	}
	p := b.plan
	if p.MinBalance == nil {
		p.MinBalance = new(big.Int)
	}
	return &p, nil
}
