// Package cli implements the loandesk command line.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"loandesk/internal/config"
	"loandesk/internal/telemetry"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the root command for the loandesk binary.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "loandesk",
		Short: "Library loan desk",
		Long:  "Lends books to members, tracks due dates, renewals and fines.",
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override log level (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewAddLibrarianCommand(opts))

	return cmd
}

// load reads the configuration and builds the process logger.
func (o *RootOptions) load() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if o.LogLevel != "" {
		cfg.LogLevel = o.LogLevel
	}
	logger := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
