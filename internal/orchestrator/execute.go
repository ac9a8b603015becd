package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Bidon15/mpoolctl/internal/deployerr"
	"github.com/Bidon15/mpoolctl/internal/metrics"
	"github.com/Bidon15/mpoolctl/internal/plan"
)

// execute performs one step with its inputs already resolved, in the order
// returned by step.Inputs().
func (o *Orchestrator) execute(ctx context.Context, p *plan.Plan, step plan.Step, inputs []plan.Value) (map[string]plan.Value, error) {
	switch s := step.(type) {
	case *plan.Deploy:
		addr, txHash, err := o.chain.Deploy(ctx, s.Artifact, natives(inputs)...)
		metrics.TransactionsSubmitted.WithLabelValues(p.Name).Inc()
		if err != nil {
			return nil, err
		}
		metrics.ContractsDeployed.WithLabelValues(p.Name).Inc()
		o.logger.Info("deployed",
			slog.String("artifact", s.Artifact),
			slog.String("address", addr.Hex()),
			slog.String("tx_hash", txHash.Hex()),
		)
		return map[string]plan.Value{s.Output: plan.Address(addr)}, nil

	case *plan.Call:
		target, err := addressOf(inputs[0], "call target")
		if err != nil {
			return nil, err
		}
		args := inputs[1 : 1+len(s.Args)]
		var value *big.Int
		if !s.Value.IsZero() {
			if value, err = amountOf(inputs[len(inputs)-1], "call value"); err != nil {
				return nil, err
			}
		}
		receipt, err := o.chain.SendTx(ctx, target, s.Method, value, natives(args)...)
		metrics.TransactionsSubmitted.WithLabelValues(p.Name).Inc()
		if err != nil {
			return nil, err
		}
		o.logger.Info("call confirmed",
			slog.String("method", s.Method),
			slog.String("tx_hash", receipt.TxHash.Hex()),
			slog.Uint64("block", receipt.BlockNumber),
			slog.Int("events", len(receipt.Events)),
		)
		return nil, nil

	case *plan.View:
		target, err := addressOf(inputs[0], "view target")
		if err != nil {
			return nil, err
		}
		got, err := o.chain.Call(ctx, target, s.Method, s.Returns, natives(inputs[1:])...)
		if err != nil {
			return nil, err
		}
		v, err := valueOf(got)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Method, err)
		}
		return map[string]plan.Value{s.Output: v}, nil

	case *plan.Post:
		return o.post(ctx, s, inputs)

	case *plan.SendNative:
		to, err := addressOf(inputs[0], "transfer recipient")
		if err != nil {
			return nil, err
		}
		amount, err := amountOf(inputs[1], "transfer amount")
		if err != nil {
			return nil, err
		}
		receipt, err := o.chain.Transfer(ctx, to, amount)
		metrics.TransactionsSubmitted.WithLabelValues(p.Name).Inc()
		if err != nil {
			return nil, err
		}
		o.logger.Info("transfer confirmed", slog.String("tx_hash", receipt.TxHash.Hex()))
		return nil, nil

	case *plan.Sleep:
		return nil, o.config.Sleep(ctx, s.Duration)

	case *plan.Assert:
		ok, err := s.Op.Holds(inputs[0], inputs[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", deployerr.ErrVerifyMismatch, err)
		}
		if !ok {
			return nil, &deployerr.MismatchError{
				Check:    s.Key + " (" + string(s.Op) + ")",
				Expected: inputs[1].String(),
				Observed: inputs[0].String(),
			}
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: unsupported step kind %s", deployerr.ErrInvalidPlan, step.Kind())
	}
}

func (o *Orchestrator) post(ctx context.Context, s *plan.Post, inputs []plan.Value) (map[string]plan.Value, error) {
	svc, ok := o.services[s.Service]
	if !ok {
		return nil, fmt.Errorf("%w: no client for service %q", deployerr.ErrInvalidPlan, s.Service)
	}

	path := make(map[string]string, len(s.Path))
	endpoint := s.Endpoint
	for i, f := range s.Path {
		path[f.Name] = inputs[i].String()
	}
	for name, v := range path {
		endpoint = strings.ReplaceAll(endpoint, "{"+name+"}", v)
	}

	body := make(map[string]json.RawMessage, len(s.Body))
	for i, f := range s.Body {
		raw, err := json.Marshal(inputs[len(s.Path)+i])
		if err != nil {
			return nil, fmt.Errorf("encode body field %s: %w", f.Name, err)
		}
		body[f.Name] = raw
	}

	o.logger.Info("calling service",
		slog.String("service", s.Service),
		slog.String("endpoint", endpoint),
	)

	resp, err := svc.Post(ctx, s.Endpoint, path, body)
	if err != nil {
		return nil, err
	}

	out := make(map[string]plan.Value, len(s.Fields))
	for _, f := range s.Fields {
		raw, ok := resp[f.Field]
		if !ok || string(raw) == "null" {
			return nil, fmt.Errorf("%w: %s response has no %q", deployerr.ErrSchemaMismatch, s.Endpoint, f.Field)
		}
		v, err := plan.DecodeValue(f.Kind, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %s field %q: %v", deployerr.ErrSchemaMismatch, s.Endpoint, f.Field, err)
		}
		out[f.Key] = v
	}
	return out, nil
}

func natives(vals []plan.Value) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v.Native()
	}
	return out
}

func addressOf(v plan.Value, what string) (common.Address, error) {
	addr, ok := v.AsAddress()
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s must be an address, got %s", deployerr.ErrInvalidPlan, what, v.Kind())
	}
	return addr, nil
}

func amountOf(v plan.Value, what string) (*big.Int, error) {
	n, ok := v.AsAmount()
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an amount, got %s", deployerr.ErrInvalidPlan, what, v.Kind())
	}
	return n, nil
}

// valueOf converts a decoded view return into a Value.
func valueOf(got any) (plan.Value, error) {
	switch v := got.(type) {
	case common.Address:
		return plan.Address(v), nil
	case *big.Int:
		if v.Sign() < 0 {
			return plan.Value{}, fmt.Errorf("negative amount %s", v)
		}
		return plan.Amount(v), nil
	case bool:
		return plan.Bool(v), nil
	case string:
		return plan.String(v), nil
	default:
		return plan.Value{}, fmt.Errorf("unsupported return type %T", got)
	}
}
