package cli

import (
	"github.com/spf13/cobra"

	"loandesk/internal/storage/postgres"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "migrate",
		Short:         "Create the database tables",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.load()
			if err != nil {
				return err
			}
			db, err := postgres.Open(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			logger.Info("schema applied")
			return nil
		},
	}
}
