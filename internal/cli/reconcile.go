package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewReconcileCommand creates the reconcile command, a one-shot overdue sweep.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "reconcile",
		Short:         "Mark every active loan past its due date as overdue",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := rootOpts.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			updated, err := a.loans.ReconcileAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("reconcile: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d loan(s) marked overdue\n", updated)
			return nil
		},
	}
}
