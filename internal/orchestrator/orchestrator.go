// Package orchestrator executes deployment plans step by step. Completed
// steps are recorded in the store after each success so that an
// interrupted run resumes at the first incomplete step without repeating
// on-chain work.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/Bidon15/mpoolctl/internal/chain"
	"github.com/Bidon15/mpoolctl/internal/deployerr"
	"github.com/Bidon15/mpoolctl/internal/metrics"
	"github.com/Bidon15/mpoolctl/internal/plan"
	"github.com/Bidon15/mpoolctl/internal/store"
)

// Chain is the on-chain surface the orchestrator drives.
type Chain interface {
	Signer() common.Address
	EnsureFunds(ctx context.Context, need *big.Int) error
	Deploy(ctx context.Context, artifact string, args ...any) (common.Address, common.Hash, error)
	SendTx(ctx context.Context, to common.Address, method string, value *big.Int, args ...any) (*chain.Receipt, error)
	Transfer(ctx context.Context, to common.Address, amount *big.Int) (*chain.Receipt, error)
	Call(ctx context.Context, to common.Address, method, returns string, args ...any) (any, error)
}

var _ Chain = (*chain.Client)(nil)

// Service is an HTTP service addressed by httpPost steps.
type Service interface {
	Post(ctx context.Context, endpoint string, path map[string]string, body map[string]json.RawMessage) (map[string]json.RawMessage, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config contains configuration for the orchestrator.
type Config struct {
	// Logger for structured logging
	Logger *slog.Logger

	// Network is recorded in the plan's structured section.
	Network string

	// Sleep replaces the wall-clock wait used by sleep steps.
	Sleep SleepFunc

	// Now returns the timestamp recorded on markers.
	Now func() time.Time
}

// Orchestrator runs plans against a chain, a set of services and a store.
// It owns the signer and the store for the duration of a run.
type Orchestrator struct {
	chain    Chain
	services map[string]Service
	store    *store.Store
	config   Config
	logger   *slog.Logger
}

// New creates an orchestrator. services maps the service names used in
// httpPost steps to their clients.
func New(c Chain, services map[string]Service, st *store.Store, config Config) *Orchestrator {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.Sleep == nil {
		config.Sleep = sleepContext
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	if services == nil {
		services = map[string]Service{}
	}

	return &Orchestrator{
		chain:    c,
		services: services,
		store:    st,
		config:   config,
		logger:   logger,
	}
}

// Result summarizes a run.
type Result struct {
	RunID    string
	Plan     string
	Context  *plan.Context
	Executed []string
	Skipped  []string
	Soft     []string
}

// StepError reports the step a run stopped at.
type StepError struct {
	Plan  string
	Index int
	Key   string
	Kind  plan.StepKind
	Label string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("plan %s: step %d %q (%s): %v", e.Plan, e.Index+1, e.Key, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Run executes p. bootstrap supplies the plan's declared inputs. Cancelling
// ctx stops the run between steps; a step already executing is allowed to
// finish and is persisted before the run aborts.
func (o *Orchestrator) Run(ctx context.Context, p *plan.Plan, bootstrap *plan.Context) (*Result, error) {
	runID := uuid.New().String()
	logger := o.logger.With(slog.String("plan", p.Name), slog.String("run_id", runID))

	res := &Result{RunID: runID, Plan: p.Name, Context: plan.NewContext()}

	if err := seedContext(p, bootstrap, res.Context); err != nil {
		metrics.RunsTotal.WithLabelValues(p.Name, "failed").Inc()
		return res, err
	}

	logger.Info("starting plan",
		slog.Int("steps", len(p.Steps)),
		slog.String("signer", o.chain.Signer().Hex()),
	)

	// The plan-wide floor is checked once, less any native value already sent.
	// Each submit then checks its own value and fee.
	need := p.RequiredBalance(func(key string) bool {
		_, ok := o.store.Marker(key)
		return ok
	})
	if err := o.chain.EnsureFunds(ctx, need); err != nil {
		metrics.RunsTotal.WithLabelValues(p.Name, "failed").Inc()
		return res, err
	}

	for i, step := range p.Steps {
		meta := step.Info()
		stepLogger := logger.With(
			slog.Int("step", i+1),
			slog.String("key", meta.Key),
			slog.String("kind", string(step.Kind())),
		)

		if err := ctx.Err(); err != nil {
			stepLogger.Warn("run cancelled before step")
			return res, o.fail(p, i, step, fmt.Errorf("%w: %w", deployerr.ErrAborted, context.Cause(ctx)))
		}

		if step.Kind() != plan.KindSleep {
			if marker, ok := o.store.Marker(meta.Key); ok {
				if err := o.loadMarker(p, step, marker, res.Context); err != nil {
					return res, o.fail(p, i, step, err)
				}
				stepLogger.Info("step already complete, skipping", slog.String("status", marker.Status))
				metrics.StepsTotal.WithLabelValues(p.Name, string(step.Kind()), metrics.OutcomeSkipped).Inc()
				res.Skipped = append(res.Skipped, meta.Key)
				continue
			}
		}

		inputs, err := res.Context.ResolveAll(step.Inputs())
		if err != nil {
			return res, o.fail(p, i, step, err)
		}

		// Sleep honours cancellation; every other step runs to completion.
		stepCtx := context.WithoutCancel(ctx)
		if step.Kind() == plan.KindSleep {
			stepCtx = ctx
		}

		stepLogger.Info("executing step", slog.String("label", meta.Label))
		start := time.Now()
		outputs, err := o.execute(stepCtx, p, step, inputs)
		metrics.StepDuration.WithLabelValues(p.Name, string(step.Kind())).Observe(time.Since(start).Seconds())

		if err != nil {
			if meta.BestEffort && step.Kind() == plan.KindHTTPPost {
				stepLogger.Warn("best-effort step failed, continuing", slog.String("error", err.Error()))
				o.store.MarkStepComplete(meta.Key, store.Marker{
					CompletedAt: o.config.Now(),
					Status:      store.StatusCompleteSoft,
					RunID:       runID,
				})
				if err := o.store.Save(); err != nil {
					return res, o.fail(p, i, step, err)
				}
				metrics.StepsTotal.WithLabelValues(p.Name, string(step.Kind()), metrics.OutcomeSoft).Inc()
				res.Soft = append(res.Soft, meta.Key)
				continue
			}
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				err = fmt.Errorf("%w: %w", deployerr.ErrAborted, err)
			}
			stepLogger.Error("step failed", slog.String("error", err.Error()))
			return res, o.fail(p, i, step, err)
		}

		if err := o.commit(p, step, outputs, runID, res.Context); err != nil {
			return res, o.fail(p, i, step, err)
		}

		metrics.StepsTotal.WithLabelValues(p.Name, string(step.Kind()), metrics.OutcomeExecuted).Inc()
		res.Executed = append(res.Executed, meta.Key)
		stepLogger.Info("step complete", slog.Duration("elapsed", time.Since(start)))
	}

	if err := o.finish(p, res.Context); err != nil {
		metrics.RunsTotal.WithLabelValues(p.Name, "failed").Inc()
		return res, err
	}

	metrics.RunsTotal.WithLabelValues(p.Name, "success").Inc()
	logger.Info("plan complete",
		slog.Int("executed", len(res.Executed)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Int("soft_failed", len(res.Soft)),
	)
	return res, nil
}

func seedContext(p *plan.Plan, bootstrap, into *plan.Context) error {
	if bootstrap != nil {
		for _, k := range bootstrap.Keys() {
			v, _ := bootstrap.Get(k)
			if err := into.Set(k, v); err != nil {
				return err
			}
		}
	}
	for _, in := range p.Inputs {
		v, ok := into.Get(in.Key)
		if !ok {
			return fmt.Errorf("%w: bootstrap input %s", deployerr.ErrReferenceUnresolved, in.Key)
		}
		if v.Kind() != in.Kind {
			return fmt.Errorf("%w: bootstrap input %s is %s, want %s", deployerr.ErrInvalidPlan, in.Key, v.Kind(), in.Kind)
		}
	}
	return nil
}

// loadMarker restores a completed step's outputs into the context.
func (o *Orchestrator) loadMarker(p *plan.Plan, step plan.Step, marker *store.Marker, vals *plan.Context) error {
	if marker.Status == store.StatusCompleteSoft {
		return nil
	}
	for _, out := range step.Outputs() {
		raw, ok := marker.Outputs[out.Key]
		if !ok {
			return fmt.Errorf("%w: marker %s has no output %s", deployerr.ErrConfigCorrupt, step.Info().Key, out.Key)
		}
		v, err := plan.DecodeValue(out.Kind, raw)
		if err != nil {
			return fmt.Errorf("%w: marker %s output %s: %v", deployerr.ErrConfigCorrupt, step.Info().Key, out.Key, err)
		}
		if err := vals.Set(out.Key, v); err != nil {
			return err
		}
		if err := o.bind(p, out.Key, v); err != nil {
			return err
		}
	}
	return nil
}

// commit merges outputs into the context, mirrors bound outputs into the
// flat view, records the marker and saves.
func (o *Orchestrator) commit(p *plan.Plan, step plan.Step, outputs map[string]plan.Value, runID string, vals *plan.Context) error {
	recorded := make(map[string]json.RawMessage, len(outputs))
	for _, out := range step.Outputs() {
		v, ok := outputs[out.Key]
		if !ok {
			return fmt.Errorf("%w: step produced no %s", deployerr.ErrSchemaMismatch, out.Key)
		}
		if err := vals.Set(out.Key, v); err != nil {
			return err
		}
		if err := o.bind(p, out.Key, v); err != nil {
			return err
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode output %s: %w", out.Key, err)
		}
		recorded[out.Key] = raw
	}

	if step.Kind() != plan.KindSleep {
		o.store.MarkStepComplete(step.Info().Key, store.Marker{
			CompletedAt: o.config.Now(),
			Status:      store.StatusComplete,
			RunID:       runID,
			Outputs:     recorded,
		})
	}
	return o.store.Save()
}

func (o *Orchestrator) bind(p *plan.Plan, key string, v plan.Value) error {
	flatKey, ok := p.FlatKey(key)
	if !ok {
		return nil
	}
	if cur, ok := o.store.Get(flatKey); ok && cur == v.String() {
		return nil
	}
	return o.store.Set(flatKey, v.String())
}

// finish writes the plan's deployment record.
func (o *Orchestrator) finish(p *plan.Plan, vals *plan.Context) error {
	if p.Section != "" {
		if err := o.store.SetField(p.Section, "deployedAt", o.config.Now().Format(time.RFC3339)); err != nil {
			return err
		}
		if o.config.Network != "" {
			if err := o.store.SetField(p.Section, "network", o.config.Network); err != nil {
				return err
			}
		}
	}
	for _, r := range p.Records {
		v, err := vals.Resolve(r.Arg)
		if err != nil {
			// Records may refer to outputs of best-effort steps that did not run.
			o.logger.Warn("skipping deployment record",
				slog.String("section", r.Section),
				slog.String("field", r.Field),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := o.store.SetField(r.Section, r.Field, v); err != nil {
			return err
		}
	}
	return o.store.Save()
}

// fail persists the snapshot and wraps err with the failing step.
func (o *Orchestrator) fail(p *plan.Plan, index int, step plan.Step, err error) error {
	metrics.StepsTotal.WithLabelValues(p.Name, string(step.Kind()), metrics.OutcomeFailed).Inc()
	metrics.RunsTotal.WithLabelValues(p.Name, "failed").Inc()

	stepErr := &StepError{
		Plan:  p.Name,
		Index: index,
		Key:   step.Info().Key,
		Kind:  step.Kind(),
		Label: step.Info().Label,
		Err:   err,
	}
	if saveErr := o.store.Save(); saveErr != nil {
		return errors.Join(stepErr, fmt.Errorf("persist after failure: %w", saveErr))
	}
	return stepErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
