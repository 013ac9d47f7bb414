package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/scttfrdmn/pipekit/config"
	"github.com/scttfrdmn/pipekit/observability"
)

// version is set at build time via -ldflags.
var version = "dev"

var globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
	demo       bool
}

// Loaded by the root command before any subcommand runs.
var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pipekit",
	Short: "Run multi-step LLM pipelines",
	Long: "pipekit runs declarative pipelines of LLM and tool steps: sequential and\n" +
		"parallel stages over a shared context, with artifacts, checkpoints and events.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRunE: loadConfig,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&globalFlags.configPath, "config", "", "Path to a YAML config file")
	f.StringVar(&globalFlags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	f.StringVar(&globalFlags.logFormat, "log-format", "", "Log format: text or json")
	f.BoolVar(&globalFlags.demo, "demo", false, "Answer every model call with canned demo responses")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	c, err := config.Load(globalFlags.configPath)
	if err != nil {
		return err
	}
	if globalFlags.logLevel != "" {
		c.Logging.Level = globalFlags.logLevel
	}
	if globalFlags.logFormat != "" {
		c.Logging.Format = globalFlags.logFormat
	}
	if globalFlags.demo {
		c.LLM.Provider = "mock"
	}

	l, err := observability.ConfigureLogging(observability.LoggingConfig{
		Level:        c.Logging.Level,
		Format:       c.Logging.Format,
		Writer:       cmd.ErrOrStderr(),
		TraceContext: c.Observability.OTLPEndpoint != "" || c.Observability.ConsoleTraces,
	})
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}
