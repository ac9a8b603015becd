// Package verifier re-reads deployed state and compares it with what a plan
// recorded. It never submits transactions and never writes the store.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/mpoolctl/internal/chain"
	"github.com/Bidon15/mpoolctl/internal/deployerr"
	"github.com/Bidon15/mpoolctl/internal/metrics"
	"github.com/Bidon15/mpoolctl/internal/plan"
	"github.com/Bidon15/mpoolctl/internal/store"
)

// Reader is the read-only chain surface used for verification.
type Reader interface {
	Code(ctx context.Context, addr common.Address) ([]byte, error)
	Call(ctx context.Context, to common.Address, method, returns string, args ...any) (any, error)
}

var _ Reader = (*chain.Client)(nil)

// Snapshot is the persisted state a plan left behind.
type Snapshot interface {
	Get(flatKey string) (string, bool)
	Marker(key string) (*store.Marker, bool)
}

var _ Snapshot = (*store.Store)(nil)

// CheckResult is the outcome of one comparison.
type CheckResult struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Expected string `json:"expected,omitempty"`
	Observed string `json:"observed,omitempty"`
	Message  string `json:"message"`
}

// Report collects the results for a plan.
type Report struct {
	Plan    string        `json:"plan"`
	Passed  bool          `json:"passed"`
	Results []CheckResult `json:"results"`
}

// Err returns the failed checks as joined MismatchErrors, or nil.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Passed {
			continue
		}
		errs = append(errs, &deployerr.MismatchError{
			Check:    res.Name,
			Expected: res.Expected,
			Observed: res.Observed,
		})
	}
	return errors.Join(errs...)
}

// Verifier checks deployed contracts against a snapshot.
type Verifier struct {
	reader Reader
	logger *slog.Logger
}

// New creates a verifier.
func New(reader Reader, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{reader: reader, logger: logger}
}

// Verify resolves every address the plan deploys and every declared check
// from the snapshot and compares them with the chain. bootstrap supplies
// the plan's inputs.
func (v *Verifier) Verify(ctx context.Context, p *plan.Plan, snap Snapshot, bootstrap *plan.Context) (*Report, error) {
	r := &resolver{plan: p, snap: snap, bootstrap: bootstrap}
	report := &Report{Plan: p.Name, Passed: true}

	add := func(res CheckResult) {
		outcome := "passed"
		if !res.Passed {
			outcome = "failed"
			report.Passed = false
			v.logger.Warn("verification failed",
				slog.String("plan", p.Name),
				slog.String("check", res.Name),
				slog.String("expected", res.Expected),
				slog.String("observed", res.Observed),
			)
		}
		metrics.VerifyChecks.WithLabelValues(p.Name, outcome).Inc()
		report.Results = append(report.Results, res)
	}

	for _, d := range p.Deploys() {
		add(v.checkCode(ctx, r, d))
	}
	for _, c := range p.Checks {
		add(v.checkView(ctx, r, c))
	}

	v.logger.Info("verification complete",
		slog.String("plan", p.Name),
		slog.Int("checks", len(report.Results)),
		slog.Bool("passed", report.Passed),
	)
	return report, nil
}

func (v *Verifier) checkCode(ctx context.Context, r *resolver, d *plan.Deploy) CheckResult {
	res := CheckResult{Name: "code " + d.Artifact, Expected: "non-empty"}

	val, err := r.resolve(plan.Ref(d.Output))
	if err != nil {
		res.Message = err.Error()
		res.Observed = "unresolved"
		return res
	}
	addr, _ := val.AsAddress()
	code, err := v.reader.Code(ctx, addr)
	if err != nil {
		res.Message = fmt.Sprintf("read code at %s: %v", addr.Hex(), err)
		return res
	}
	res.Observed = fmt.Sprintf("%d bytes", len(code))
	if len(code) == 0 {
		res.Message = fmt.Sprintf("no code at %s", addr.Hex())
		return res
	}
	res.Passed = true
	res.Message = fmt.Sprintf("%s has code at %s", d.Artifact, addr.Hex())
	return res
}

func (v *Verifier) checkView(ctx context.Context, r *resolver, c plan.Check) CheckResult {
	res := CheckResult{Name: c.Name}

	expect, err := r.resolve(c.Expect)
	if err != nil {
		res.Message = err.Error()
		res.Observed = "unresolved"
		return res
	}
	res.Expected = expect.String()
	if c.Op == plan.OpAtLeast {
		res.Expected = ">= " + res.Expected
	}

	target, err := r.resolve(c.Target)
	if err != nil {
		res.Message = err.Error()
		res.Observed = "unresolved"
		return res
	}
	addr, ok := target.AsAddress()
	if !ok {
		res.Message = fmt.Sprintf("target %s is not an address", c.Target)
		return res
	}

	args := make([]any, 0, len(c.Args))
	for _, a := range c.Args {
		val, err := r.resolve(a)
		if err != nil {
			res.Message = err.Error()
			res.Observed = "unresolved"
			return res
		}
		args = append(args, val.Native())
	}

	got, err := v.reader.Call(ctx, addr, c.Method, c.Returns, args...)
	if err != nil {
		res.Message = fmt.Sprintf("%s on %s: %v", c.Method, addr.Hex(), err)
		return res
	}
	observed, err := toValue(got)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	res.Observed = observed.String()

	holds, err := c.Op.Holds(observed, expect)
	if err != nil {
		res.Message = err.Error()
		return res
	}
	res.Passed = holds
	if holds {
		res.Message = fmt.Sprintf("%s returned %s", c.Method, res.Observed)
	} else {
		res.Message = fmt.Sprintf("%s returned %s, want %s", c.Method, res.Observed, res.Expected)
	}
	return res
}

func toValue(got any) (plan.Value, error) {
	switch x := got.(type) {
	case common.Address:
		return plan.Address(x), nil
	case *big.Int:
		return plan.Amount(x), nil
	case bool:
		return plan.Bool(x), nil
	case string:
		return plan.String(x), nil
	default:
		return plan.Value{}, fmt.Errorf("unsupported return type %T", got)
	}
}
