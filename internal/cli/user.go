package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUserCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newUserCreateCmd(flags), newUserResetPasswordCmd(flags))
	return cmd
}

func newUserCreateCmd(flags *rootFlags) *cobra.Command {
	var admin bool
	cmd := &cobra.Command{
		Use:   "create <username> <password>",
		Short: "Create an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.users.CreateUser(cmd.Context(), args[0], args[1], admin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s id=%d role=%s\n", user.Username, user.ID, user.Role.Name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&admin, "admin", false, "grant the administrator role")
	return cmd
}

func newUserResetPasswordCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-password <username> <new-password>",
		Short: "Replace an account's password",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.users.ResetPassword(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", args[0])
			return nil
		},
	}
}
