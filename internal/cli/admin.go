package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/backend"
)

// AdminPasswordEnv supplies the password for admin create when --password is omitted.
const AdminPasswordEnv = "MANPOWER_ADMIN_PASSWORD"

func newAdminCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator account tasks",
	}
	cmd.AddCommand(newAdminCreateCmd(configPath), newAdminSessionsCmd(configPath), newAdminRevokeCmd(configPath))
	return cmd
}

func newAdminCreateCmd(configPath *string) *cobra.Command {
	var in backend.RegisterInput

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an administrator account",
		Long:  "create registers a password account with the admin role. Self sign-up can only create employees, so this is how the first administrator is made.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if in.Password == "" {
				in.Password = os.Getenv(AdminPasswordEnv)
			}
			switch {
			case strings.TrimSpace(in.Email) == "":
				return errors.New("--email is required")
			case strings.TrimSpace(in.FullName) == "":
				return errors.New("--name is required")
			case in.Password == "":
				return fmt.Errorf("--password or %s is required", AdminPasswordEnv)
			}

			a, err := loadApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			accounts, err := a.accounts(cmd.Context())
			if err != nil {
				return err
			}

			id, err := accounts.CreateAdmin(cmd.Context(), in)
			if err != nil {
				return err
			}
			a.logger.Info("administrator created", "user_id", id)
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Email, "email", "", "login email")
	cmd.Flags().StringVar(&in.FullName, "name", "", "full name")
	cmd.Flags().StringVar(&in.Password, "password", "", "password (prefer "+AdminPasswordEnv+")")
	cmd.Flags().StringVar(&in.Department, "department", "", "department")
	return cmd
}

func newAdminSessionsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions <user-id>",
		Short: "List the active sessions of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			accounts, err := a.accounts(cmd.Context())
			if err != nil {
				return err
			}

			ids, err := accounts.ActiveSessions(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d active session(s)\n", len(ids))
			return nil
		},
	}
}

func newAdminRevokeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <user-id>",
		Short: "End every session of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()
			accounts, err := a.accounts(cmd.Context())
			if err != nil {
				return err
			}

			n, err := accounts.RevokeUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			a.logger.Info("sessions revoked", "user_id", args[0], "count", n)
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d session(s)\n", n)
			return nil
		},
	}
}
