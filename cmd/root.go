package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/devpulse/internal/config"
	"github.com/okian/devpulse/pkg/logger"
)

// rootOptions carries state shared by all subcommands.
type rootOptions struct {
	logLevel string
	cfg      *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "devpulse",
		Short: "Engineering analytics over repository activity",
		Long: `devpulse computes DORA, quality, productivity and collaboration metrics
for configured scopes, detects anomalies and forecasts metric trends.

Configuration is layered: defaults, then the YAML file named by
DEVPULSE_CONFIG, then DEVPULSE_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log_level (debug|info|warn|error)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newComputeCommand(opts))
	cmd.AddCommand(newScopesCommand(opts))

	return cmd
}

// setup loads configuration and initializes logging on the command's stderr.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if err := logger.InitWithWriter(cmd.ErrOrStderr(), cfg.LogJSON); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(cmd.Context(), "invalid log_level; falling back to info",
			logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	o.cfg = cfg
	return nil
}
