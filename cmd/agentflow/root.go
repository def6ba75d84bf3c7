package main

import (
	"fmt"

	"github.com/phrazzld/agentflow/internal/config"
	"github.com/spf13/cobra"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "agentflow",
		Short:         "Background task coordinator with session-backed outcome routing",
		Long:          "agentflow runs LLM calls on a bounded worker pool, routes each outcome to its live subscriber or records it in the owning session, and manages the session store.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ./agentflow.yaml or ~/.agentflow/agentflow.yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override server.log_level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newSessionsCmd(opts),
		newGenerateCmd(opts),
		newTokenCmd(opts),
	)

	return rootCmd
}

// loadConfig reads configuration and applies flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFile(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.Server.LogLevel = o.logLevel
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openApp loads configuration and wires the application. Logs go to the
// command's stderr so stdout stays machine-readable.
func (o *rootOptions) openApp(cmd *cobra.Command) (*application, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return newApplication(cmd.Context(), cfg, cmd.ErrOrStderr())
}
