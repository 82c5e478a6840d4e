package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"loandesk/internal/membership"
)

// LibrarianOptions holds flags for the add-librarian command.
type LibrarianOptions struct {
	*RootOptions
	Email string
	Name  string
}

// NewAddLibrarianCommand creates the add-librarian command. The password
// is read from LOANDESK_PASSWORD so it stays out of shell history.
func NewAddLibrarianCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LibrarianOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add-librarian <username>",
		Short: "Register a member with the librarian role",
		Example: `  LOANDESK_PASSWORD=s3cret loandesk add-librarian alice --email alice@example.org`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv("LOANDESK_PASSWORD")
			if password == "" {
				return errors.New("LOANDESK_PASSWORD must be set")
			}

			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			name := opts.Name
			if name == "" {
				name = args[0]
			}
			member, err := a.members.Register(cmd.Context(), membership.Registration{
				Username: args[0],
				Email:    opts.Email,
				Name:     name,
				Password: password,
				Role:     membership.RoleLibrarian,
			})
			if err != nil {
				return fmt.Errorf("register librarian: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "librarian %s created (%s)\n", member.Username, member.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "email address (required)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name (defaults to username)")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}
