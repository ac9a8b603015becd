package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Step outcomes.
const (
	OutcomeExecuted = "executed"
	OutcomeSkipped  = "skipped"
	OutcomeSoft     = "soft_failed"
	OutcomeFailed   = "failed"
)

// Step metrics - Track plan progress
var (
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpoolctl_steps_total",
			Help: "Plan steps by kind and outcome",
		},
		[]string{"plan", "kind", "outcome"},
	)

	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mpoolctl_step_duration_seconds",
			Help:    "Time taken to execute a plan step",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plan", "kind"},
	)
)

// Chain metrics - Track on-chain submissions
var (
	TransactionsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpoolctl_transactions_total",
			Help: "Transactions submitted by plan",
		},
		[]string{"plan"},
	)

	ContractsDeployed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpoolctl_contracts_deployed_total",
			Help: "Contracts created by plan",
		},
		[]string{"plan"},
	)
)

// Run metrics - Track run results
var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpoolctl_runs_total",
			Help: "Plan runs by result",
		},
		[]string{"plan", "result"},
	)

	VerifyChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mpoolctl_verify_checks_total",
			Help: "Verifier checks by result",
		},
		[]string{"plan", "result"},
	)
)

// WriteTextfile exports the default registry in the node_exporter textfile format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}
