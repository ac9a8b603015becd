package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Bidon15/mpoolctl/internal/config"
	"github.com/Bidon15/mpoolctl/internal/deployerr"
)

// Version information - set via ldflags during build
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Global flag variables
var (
	cfgFile         string
	envFile         string
	deploymentsFile string
	metricsFile     string
	logFormat       string
	logLevel        string
	jsonOut         bool
	verbose         bool
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "mpoolctl",
	Short: "mpoolctl - deploy and wire the MPOOL contracts",
	Long: `mpoolctl runs resumable deployment plans for the MPOOL contract family.

Every completed step is recorded in deployments.json and the addresses it
produced are written to the .env file. Re-running a command after a failure
resumes at the first incomplete step.

Configuration (in order of priority):
  1. Command-line flags
  2. Environment variables (PRIVATE_KEY, RPC_URL, LAUNCHPAD_URL, ...)
  3. The .env file (--env-file or ENV_FILE)
  4. Config file (--config, YAML)

Get started:
  $ mpoolctl preflight
  $ mpoolctl plan deploy-pool
  $ mpoolctl deploy-pool`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// versionCmd prints version information
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print the version, commit hash, and build date of mpoolctl",
	Run: func(cmd *cobra.Command, args []string) {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "mpoolctl %s\n", Version)
		if verbose {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  commit:  %s\n", Commit)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  built:   %s\n", BuildDate)
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Add persistent flags for all commands
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "YAML config file")
	flags.StringVar(&envFile, "env-file", "", "flat KEY=VALUE file read at startup and updated by plans (or ENV_FILE, default .env)")
	flags.StringVar(&deploymentsFile, "deployments-file", "", "structured deployment record (or DEPLOYMENTS_FILE, default deployments.json)")
	flags.StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file after each run (or METRICS_FILE)")
	flags.StringVar(&logFormat, "log-format", "", "log format: text or json (or LOG_FORMAT)")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (or LOG_LEVEL)")
	flags.BoolVar(&jsonOut, "json", false, "output in JSON format")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which is cancelled on
// interrupt.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// ExecuteWithArgs runs the root command with the provided arguments (for testing)
func ExecuteWithArgs(args []string) error {
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(context.Background())
}

// SetOutput sets the output writer for the root command (for testing)
func SetOutput(w io.Writer) {
	rootCmd.SetOut(w)
	rootCmd.SetErr(w)
}

// ResetFlags resets all global flags and configuration to their defaults (for testing)
func ResetFlags() {
	cfgFile = ""
	envFile = ""
	deploymentsFile = ""
	metricsFile = ""
	logFormat = ""
	logLevel = ""
	jsonOut = false
	verbose = false
	preflightPlan = ""
	resetCommandFlags(rootCmd)
	viper.Reset()
}

// resetCommandFlags restores every flag of c and its subcommands to its
// default. Map flags keep earlier entries.
func resetCommandFlags(c *cobra.Command) {
	c.Flags().VisitAll(func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	for _, sub := range c.Commands() {
		resetCommandFlags(sub)
	}
}

// initConfig loads the .env file into the environment and binds viper to
// flags, environment variables and the optional config file.
func initConfig() {
	path := envFile
	if path == "" {
		path = os.Getenv("ENV_FILE")
	}
	if path == "" {
		path = config.DefaultEnvFile
	}
	if err := config.LoadEnvFile(path); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", colorYellow("Warning:"), err)
	}

	v := viper.GetViper()
	config.Bind(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "%s read config: %v\n", colorYellow("Warning:"), err)
		}
	}

	overrides := map[string]string{
		"env_file":         envFile,
		"deployments_file": deploymentsFile,
		"metrics_file":     metricsFile,
		"log_format":       logFormat,
		"log_level":        logLevel,
	}
	for key, val := range overrides {
		if val != "" {
			v.Set(key, val)
		}
	}
	if envFile == "" {
		v.Set("env_file", path)
	}
}

// loadConfig resolves the typed configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// newLogger builds the process logger from the configuration.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case errors.Is(err, deployerr.ErrAborted):
		return 130
	case errors.Is(err, deployerr.ErrConfigCorrupt):
		return 3
	case errors.Is(err, deployerr.ErrInsufficientFunds):
		return 4
	case errors.Is(err, deployerr.ErrVerifyMismatch):
		return 5
	default:
		return 1
	}
}

// Output helpers

// printJSON outputs data as formatted JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Terminal colors

func colorRed(s string) string {
	if !isTTY() {
		return s
	}
	return "\033[31m" + s + "\033[0m"
}

func colorGreen(s string) string {
	if !isTTY() {
		return s
	}
	return "\033[32m" + s + "\033[0m"
}

func colorYellow(s string) string {
	if !isTTY() {
		return s
	}
	return "\033[33m" + s + "\033[0m"
}

func colorBold(s string) string {
	if !isTTY() {
		return s
	}
	return "\033[1m" + s + "\033[0m"
}

func isTTY() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
