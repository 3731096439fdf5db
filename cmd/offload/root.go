package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/phrazzld/offload/internal/config"
	"github.com/phrazzld/offload/internal/platform/logger"
)

type rootOptions struct {
	cfgFile   string
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "offload",
		Short:         "Run work in the background and observe its lifecycle",
		Long:          `offload schedules task envelopes on a bounded worker pool and reports the started, finished, failed and restored events each one emits.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (YAML); OFFLOAD_* environment variables take precedence")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: json or text")

	cmd.AddCommand(newRunCmd(opts))

	return cmd
}

// loadConfig reads the configuration and applies the persistent flag overrides.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadFile(o.cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = o.logFormat
	}
	return cfg, nil
}

// setupLogger writes logs to the command's error stream so the summary on
// stdout stays machine readable.
func setupLogger(cmd *cobra.Command, cfg config.LogConfig) (*slog.Logger, error) {
	log, err := logger.SetupWithWriter(cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}
	return log, nil
}
