package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Bidon15/mpoolctl/internal/config"
	"github.com/Bidon15/mpoolctl/internal/plan"
	"github.com/Bidon15/mpoolctl/internal/plans"
	"github.com/Bidon15/mpoolctl/internal/preflight"
	"github.com/Bidon15/mpoolctl/internal/verifier"
)

var preflightPlan string

var planCmd = &cobra.Command{
	Use:   "plan <name>",
	Short: "Print a plan without running it",
	Long: `Build the named plan from the current configuration and deployment record
and print it as YAML. Nothing is submitted and no file is written.

Steps that depend on earlier runs (a reused deposit address, the router
link) appear or disappear according to what is already recorded.`,
	Example: `  mpoolctl plan deploy-pool
  mpoolctl plan launch-token --slot mpoolV3`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: plans.Names(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindCommandFlags(cmd)
	},
	RunE: runPlanDryRun,
}

var verifyCmd = &cobra.Command{
	Use:   "verify <name>",
	Short: "Check deployed contracts against the deployment record",
	Long: `Re-read the deployment record and check that every contract the named plan
deploys has code and that every linkage the plan declares holds on chain.
Addresses are read from the loaded record. A hand edit to .env that disagrees
with deployments.json fails the load as a corrupt configuration before any
check runs. The record is never modified.`,
	Example:   `  mpoolctl verify deploy-pool`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: plans.Names(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindCommandFlags(cmd)
	},
	RunE: runVerify,
}

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Check RPC, chain ID, signer balance and artifacts",
	Long: `Run the checks every plan runs before submitting anything: the RPC endpoint
answers, the chain ID matches CHAIN_ID when set, and the signer holds enough
native currency. With --plan the balance floor and the artifact list come
from that plan.`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindCommandFlags(cmd)
	},
	RunE: runPreflightCmd,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect CLI configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Print every configuration key with its effective value. The private key is masked.`,
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

func init() {
	for _, c := range []*cobra.Command{planCmd, verifyCmd} {
		addPlanFlags(c, plans.NameToken)
		addPlanFlags(c, plans.NameRegisterAgent)
	}
	addPlanFlags(preflightCmd, plans.NameToken)
	preflightCmd.Flags().StringVar(&preflightPlan, "plan", "", "take the balance floor and artifacts from this plan")

	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(planCmd, verifyCmd, preflightCmd, configCmd)
}

func runPlanDryRun(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	bundle, err := rt.build(args[0])
	if err != nil {
		return err
	}

	if jsonOut {
		return printJSON(cmd.OutOrStdout(), describePlan(bundle))
	}
	data, err := plan.Render(bundle.Plan)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

// planSummary is the JSON form of a dry run.
type planSummary struct {
	Name       string            `json:"name"`
	Section    string            `json:"section,omitempty"`
	MinBalance string            `json:"min_balance_wei"`
	Steps      []stepSummary     `json:"steps"`
	Bindings   map[string]string `json:"bindings,omitempty"`
}

type stepSummary struct {
	Key        string `json:"key"`
	Kind       string `json:"kind"`
	Label      string `json:"label,omitempty"`
	BestEffort bool   `json:"best_effort,omitempty"`
}

func describePlan(bundle *plans.Bundle) planSummary {
	p := bundle.Plan
	out := planSummary{Name: p.Name, Section: p.Section, MinBalance: "0"}
	if p.MinBalance != nil {
		out.MinBalance = p.MinBalance.String()
	}
	for _, s := range p.Steps {
		meta := s.Info()
		out.Steps = append(out.Steps, stepSummary{
			Key:        meta.Key,
			Kind:       string(s.Kind()),
			Label:      meta.Label,
			BestEffort: meta.BestEffort,
		})
	}
	if len(p.Bindings) > 0 {
		out.Bindings = make(map[string]string, len(p.Bindings))
		for _, b := range p.Bindings {
			out.Bindings[b.Key] = b.FlatKey
		}
	}
	return out
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	bundle, err := rt.build(args[0])
	if err != nil {
		return err
	}
	client, closeFn, err := rt.dial(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	report, err := verifier.New(client, rt.logger).Verify(ctx, bundle.Plan, rt.store, bundle.Bootstrap)
	flushMetrics(rt)
	if err != nil {
		return err
	}

	if jsonOut {
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
		return report.Err()
	}

	status := colorGreen("passed")
	if !report.Passed {
		status = colorRed("failed")
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Verification of %s %s\n", colorBold(report.Plan), status)
	printReport(cmd.OutOrStdout(), report)
	return report.Err()
}

func runPreflightCmd(cmd *cobra.Command, args []string) error {
	var (
		rt  *runtime
		p   *plan.Plan
		err error
	)
	if preflightPlan != "" {
		if rt, err = newRuntime(cmd); err != nil {
			return err
		}
		bundle, err := rt.build(preflightPlan)
		if err != nil {
			return err
		}
		p = bundle.Plan
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		rt = &runtime{cfg: cfg, logger: newLogger(cmd.ErrOrStderr(), cfg)}
	}

	resp, err := rt.runPreflight(commandContext(cmd), p)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		if err := printJSON(out, resp); err != nil {
			return err
		}
	} else {
		printPreflight(out, resp)
	}
	if !resp.OK {
		return preflightErr(resp)
	}
	return nil
}

func printPreflight(w io.Writer, resp *preflight.Response) {
	_, _ = fmt.Fprintf(w, "Signer:   %s\n", resp.Signer)
	if resp.Network != "" {
		_, _ = fmt.Fprintf(w, "Network:  %s\n", resp.Network)
	}
	if resp.CurrentBalanceETH != "" {
		_, _ = fmt.Fprintf(w, "Balance:  %s ETH (need %s ETH)\n", resp.CurrentBalanceETH, resp.RequiredFundingETH)
	}
	_, _ = fmt.Fprintln(w)
	printChecks(w, resp.Checks)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	entries := config.Masked(viper.GetViper())
	if jsonOut {
		return printJSON(cmd.OutOrStdout(), entries)
	}

	w := newTable(cmd.OutOrStdout())
	printTableHeader(w, "KEY", "VALUE")
	for _, e := range entries {
		value := e.Value
		if value == "" {
			value = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", e.Env, value)
	}
	return w.Flush()
}

// newTable creates a new tabwriter for formatted output.
func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

// printTableHeader prints a bold header row.
func printTableHeader(w *tabwriter.Writer, columns ...string) {
	for i, col := range columns {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, colorBold(col))
	}
	_, _ = fmt.Fprintln(w)
}

func commandContext(cmd *cobra.Command) context.Context {
	if c := cmd.Context(); c != nil {
		return c
	}
	return context.Background()
}
