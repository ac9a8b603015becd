package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Bidon15/mpoolctl/internal/agents"
	"github.com/Bidon15/mpoolctl/internal/chain"
	"github.com/Bidon15/mpoolctl/internal/config"
	"github.com/Bidon15/mpoolctl/internal/deployerr"
	"github.com/Bidon15/mpoolctl/internal/httpapi"
	"github.com/Bidon15/mpoolctl/internal/launchpad"
	"github.com/Bidon15/mpoolctl/internal/metrics"
	"github.com/Bidon15/mpoolctl/internal/orchestrator"
	"github.com/Bidon15/mpoolctl/internal/plan"
	"github.com/Bidon15/mpoolctl/internal/plans"
	"github.com/Bidon15/mpoolctl/internal/preflight"
	"github.com/Bidon15/mpoolctl/internal/store"
	"github.com/Bidon15/mpoolctl/internal/verifier"
)

var planHelp = map[string]struct{ short, long string }{
	plans.NamePool: {
		short: "Deploy the insurance pool and router and link them",
		long: `Deploy the InsurancePool and Router contracts and call setRouter on the
pool. Writes V3_CONTRACT_ADDRESS and ROUTER_ADDRESS.`,
	},
	plans.NameToken: {
		short: "Launch the MPOOL token through the launchpad",
		long: `Create (or reuse) a launchpad deposit address, fund it, deploy the token
and its pool, and place the initial buy when BUY_AMOUNT_ETH is set. When a
router is already deployed it is pointed at the new token.

The --slot flag selects which token keys are written (mpool or mpoolV3).`,
	},
	plans.NameFeeSystem: {
		short: "Deploy staking and the fee router for a launched token",
		long: `Deploy MpoolStaking and FeeRouter for the token in the selected slot and
link them. Requires a token launched by launch-token.`,
	},
	plans.NameRelaunch: {
		short: "Launch a token, check its supply, deploy fees and seed staking",
		long: `Launch a new token, refuse to continue unless its total supply is at
least 1,000,000 tokens, deploy the fee system for it and transfer the
staking seed into the staking contract.`,
	},
	plans.NameRegisterAgent: {
		short: "Register the signer as an agent with the registry",
		long: `Register an agent named by --agent-name (or AGENT_NAME) with the signer as
its wallet. Writes AGENT_ID.`,
	},
}

func init() {
	for _, name := range plans.Names() {
		rootCmd.AddCommand(newPlanCommand(name))
	}
}

func newPlanCommand(name string) *cobra.Command {
	help := planHelp[name]
	cmd := &cobra.Command{
		Use:   name,
		Short: help.short,
		Long: help.long + `

Completed steps are skipped on re-run. Interrupting with Ctrl-C lets the
current step finish and persist before the run stops.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindCommandFlags(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, name)
		},
	}
	addPlanFlags(cmd, name)
	return cmd
}

// addPlanFlags registers the per-plan flags shared by the run, plan and
// verify commands.
func addPlanFlags(cmd *cobra.Command, name string) {
	switch name {
	case plans.NameToken, plans.NameFeeSystem, plans.NameRelaunch:
		cmd.Flags().String("slot", "", "token slot: mpool or mpoolV3 (or TOKEN_SLOT)")
	case plans.NameRegisterAgent:
		cmd.Flags().String("agent-name", "", "agent name (or AGENT_NAME)")
		cmd.Flags().String("agent-description", "", "agent description (or AGENT_DESCRIPTION)")
		cmd.Flags().StringToString("metadata", nil, "agent metadata as key=value pairs")
	}
}

// bindCommandFlags binds the flags of cmd to their configuration keys.
// Binding happens per invocation because several commands share a key.
func bindCommandFlags(cmd *cobra.Command) error {
	for key, flag := range map[string]string{
		"token_slot":        "slot",
		"agent_name":        "agent-name",
		"agent_description": "agent-description",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := viper.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// runtime holds everything a command needs after configuration is loaded.
type runtime struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	metadata map[string]string
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg)
	st, err := store.Load(cfg.EnvFile, cfg.DeploymentsFile, store.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: logger, store: st}
	if cmd.Flags().Lookup("metadata") != nil {
		if rt.metadata, err = cmd.Flags().GetStringToString("metadata"); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

// params assembles plan parameters from the configuration.
func (r *runtime) params() (plans.Params, error) {
	cfg := r.cfg
	signer, err := cfg.Signer()
	if err != nil {
		return plans.Params{}, err
	}
	deposit, err := cfg.DepositAmount()
	if err != nil {
		return plans.Params{}, err
	}
	minBalance, err := cfg.MinBalance()
	if err != nil {
		return plans.Params{}, err
	}
	slot, err := plans.SlotByName(cfg.TokenSlot)
	if err != nil {
		return plans.Params{}, err
	}
	owner := cfg.Owner(signer)
	token, err := cfg.TokenParams(owner)
	if err != nil {
		return plans.Params{}, err
	}

	return plans.Params{
		Signer:           signer,
		USDC:             cfg.USDC(),
		USDCDecimals:     cfg.USDCDecimals,
		Oracle:           cfg.Oracle(signer),
		Owner:            owner,
		Treasury:         cfg.Treasury(signer),
		Buyback:          cfg.Buyback(signer),
		DepositAmount:    deposit,
		PropagationDelay: cfg.PropagationDelay,
		BuyAmountETH:     cfg.BuyAmountETH,
		Token:            token,
		Slot:             slot,
		MinBalance:       minBalance,
		AgentName:        cfg.AgentName,
		AgentDescription: cfg.AgentDescription,
		AgentMetadata:    r.metadata,
	}, nil
}

func (r *runtime) build(name string) (*plans.Bundle, error) {
	p, err := r.params()
	if err != nil {
		return nil, err
	}
	return plans.Build(name, p, r.store)
}

// services returns the HTTP services configured by URL.
func (r *runtime) services() map[string]orchestrator.Service {
	opts := []httpapi.Option{httpapi.WithTimeout(r.cfg.HTTPTimeout)}
	out := map[string]orchestrator.Service{}
	if r.cfg.LaunchpadURL != "" {
		out[plans.ServiceLaunchpad] = launchpad.NewGateway(launchpad.NewClient(r.cfg.LaunchpadURL, r.logger, opts...))
	}
	if r.cfg.AgentRegistryURL != "" {
		out[plans.ServiceAgents] = agents.NewGateway(agents.NewClient(r.cfg.AgentRegistryURL, r.logger, opts...))
	}
	return out
}

// dial connects the chain client. The returned func closes the connection.
func (r *runtime) dial(ctx context.Context) (*chain.Client, func(), error) {
	key, err := r.cfg.Key()
	if err != nil {
		return nil, nil, err
	}
	backend, err := chain.Dial(ctx, r.cfg.RPCURL)
	if err != nil {
		return nil, nil, err
	}
	client := chain.NewClient(backend, key, chain.NewDirArtifacts(r.cfg.ArtifactsDir), chain.Config{
		Logger:         r.logger,
		ReceiptTimeout: r.cfg.ReceiptTimeout,
	})
	return client, backend.Close, nil
}

// missingServices lists the services p posts to that are not configured.
func missingServices(p *plan.Plan, configured map[string]orchestrator.Service) []string {
	seen := map[string]bool{}
	var missing []string
	for _, s := range p.Steps {
		post, ok := s.(*plan.Post)
		if !ok || seen[post.Service] {
			continue
		}
		seen[post.Service] = true
		if _, ok := configured[post.Service]; !ok {
			missing = append(missing, post.Service)
		}
	}
	sort.Strings(missing)
	return missing
}

// serviceEnv names the variable that configures a service.
func serviceEnv(service string) string {
	switch service {
	case plans.ServiceLaunchpad:
		return "LAUNCHPAD_URL"
	case plans.ServiceAgents:
		return "AGENT_REGISTRY_URL"
	default:
		return strings.ToUpper(service) + "_URL"
	}
}

// artifactNames lists the distinct artifacts p deploys.
func artifactNames(p *plan.Plan) []string {
	seen := map[string]bool{}
	var names []string
	for _, d := range p.Deploys() {
		if !seen[d.Artifact] {
			seen[d.Artifact] = true
			names = append(names, d.Artifact)
		}
	}
	return names
}

// runPreflight checks RPC, chain ID, balance and artifacts before a plan
// submits anything.
func (r *runtime) runPreflight(ctx context.Context, p *plan.Plan) (*preflight.Response, error) {
	signer, err := r.cfg.Signer()
	if err != nil {
		return nil, err
	}
	checker := preflight.NewChecker().WithArtifacts(chain.NewDirArtifacts(r.cfg.ArtifactsDir))
	req := &preflight.Request{
		RPCURL:  r.cfg.RPCURL,
		ChainID: r.cfg.ChainID,
		Signer:  signer.Hex(),
	}
	if p != nil {
		req.MinBalance = p.RequiredBalance(func(key string) bool {
			_, ok := r.store.Marker(key)
			return ok
		})
		req.Artifacts = artifactNames(p)
	}
	return checker.RunChecks(ctx, req)
}

// preflightErr classifies a failed preflight response.
func preflightErr(resp *preflight.Response) error {
	for _, c := range resp.Checks {
		if !c.Passed && c.Name == preflight.CheckSignerBalance {
			return fmt.Errorf("%w: %s", deployerr.ErrInsufficientFunds, c.Message)
		}
	}
	for _, c := range resp.Checks {
		if !c.Passed {
			return fmt.Errorf("preflight %s: %s", c.Name, c.Message)
		}
	}
	return errors.New("preflight failed")
}

func runPlan(cmd *cobra.Command, name string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}
	bundle, err := rt.build(name)
	if err != nil {
		return err
	}
	p := bundle.Plan

	services := rt.services()
	if missing := missingServices(p, services); len(missing) > 0 {
		envs := make([]string, len(missing))
		for i, m := range missing {
			envs[i] = serviceEnv(m)
		}
		return fmt.Errorf("plan %s needs %s", name, strings.Join(envs, ", "))
	}

	resp, err := rt.runPreflight(ctx, p)
	if err != nil {
		return err
	}
	if !resp.OK {
		printChecks(out, resp.Checks)
		return preflightErr(resp)
	}

	client, closeFn, err := rt.dial(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	network := rt.cfg.Network
	if network == "" {
		network = resp.Network
	}
	orch := orchestrator.New(client, services, rt.store, orchestrator.Config{
		Logger:  rt.logger,
		Network: network,
	})

	res, runErr := orch.Run(ctx, p, bundle.Bootstrap)
	if runErr != nil {
		writeBanner(cmd.ErrOrStderr(), p, res, runErr)
		flushMetrics(rt)
		return runErr
	}

	report, err := verifier.New(client, rt.logger).Verify(context.WithoutCancel(ctx), p, rt.store, bundle.Bootstrap)
	flushMetrics(rt)
	if err != nil {
		return err
	}

	if jsonOut {
		if err := printJSON(out, map[string]any{
			"plan":     res.Plan,
			"run_id":   res.RunID,
			"executed": res.Executed,
			"skipped":  res.Skipped,
			"soft":     res.Soft,
			"verify":   report,
		}); err != nil {
			return err
		}
		return report.Err()
	}

	_, _ = fmt.Fprintf(out, "%s Plan %s complete (%d executed, %d skipped)\n",
		colorGreen("✓"), colorBold(res.Plan), len(res.Executed), len(res.Skipped))
	for _, key := range res.Soft {
		_, _ = fmt.Fprintf(out, "  %s best-effort step %s failed; marked complete-soft\n", colorYellow("!"), key)
	}
	for _, key := range plannedBindings(p) {
		if v, ok := rt.store.Get(key); ok {
			_, _ = fmt.Fprintf(out, "  %s=%s\n", key, v)
		}
	}
	printReport(out, report)
	return report.Err()
}

func plannedBindings(p *plan.Plan) []string {
	keys := make([]string, 0, len(p.Bindings))
	for _, b := range p.Bindings {
		keys = append(keys, b.FlatKey)
	}
	return keys
}

func flushMetrics(rt *runtime) {
	if rt.cfg.MetricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(rt.cfg.MetricsFile); err != nil {
		rt.logger.Warn("failed to write metrics", slog.String("error", err.Error()))
	}
}

// writeBanner prints the failure summary: the plan, the step it stopped at,
// the values captured before the failure and how to resume.
func writeBanner(w io.Writer, p *plan.Plan, res *orchestrator.Result, err error) {
	_, _ = fmt.Fprintf(w, "\n%s plan %s failed\n", colorRed("✗"), colorBold(p.Name))

	var stepErr *orchestrator.StepError
	if errors.As(err, &stepErr) {
		_, _ = fmt.Fprintf(w, "  step:   %d/%d %s (%s)\n", stepErr.Index+1, len(p.Steps), stepErr.Key, stepErr.Kind)
		if stepErr.Label != "" {
			_, _ = fmt.Fprintf(w, "          %s\n", stepErr.Label)
		}
		_, _ = fmt.Fprintf(w, "  error:  %v\n", stepErr.Err)
	} else {
		_, _ = fmt.Fprintf(w, "  error:  %v\n", err)
	}

	if res != nil && res.Context != nil {
		inputs := map[string]bool{}
		for _, in := range p.Inputs {
			inputs[in.Key] = true
		}
		var captured []string
		for _, key := range res.Context.Keys() {
			if inputs[key] {
				continue
			}
			v, _ := res.Context.Get(key)
			captured = append(captured, fmt.Sprintf("    %s = %s", key, v))
		}
		if len(captured) > 0 {
			_, _ = fmt.Fprintln(w, "  captured:")
			for _, line := range captured {
				_, _ = fmt.Fprintln(w, line)
			}
		}
	}

	if errors.Is(err, deployerr.ErrAborted) {
		_, _ = fmt.Fprintln(w, "  interrupted; completed steps were saved")
	}
	_, _ = fmt.Fprintf(w, "  resume: mpoolctl %s\n", p.Name)
}

func printReport(w io.Writer, report *verifier.Report) {
	for _, r := range report.Results {
		mark := colorGreen("✓")
		if !r.Passed {
			mark = colorRed("✗")
		}
		line := fmt.Sprintf("  %s %s", mark, r.Name)
		if r.Expected != "" || r.Observed != "" {
			line += fmt.Sprintf(" (expected %s, observed %s)", r.Expected, r.Observed)
		}
		if r.Message != "" && !r.Passed {
			line += ": " + r.Message
		}
		_, _ = fmt.Fprintln(w, line)
	}
}

func printChecks(w io.Writer, checks []preflight.CheckResult) {
	for _, c := range checks {
		mark := colorGreen("✓")
		if !c.Passed {
			mark = colorRed("✗")
		}
		_, _ = fmt.Fprintf(w, "  %s %-18s %s\n", mark, c.Name, c.Message)
	}
}
