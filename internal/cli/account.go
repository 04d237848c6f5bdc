package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"carrental.app/rentalctl/internal/session"
)

func newRegisterCmd(withApp appRunner) *cobra.Command {
	var (
		reg           session.Registration
		agency        bool
		passwordStdin bool
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a customer account (or apply for an agency account)",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			if reg.Email == "" {
				return errors.New("--email is required")
			}
			p := newPrompter(cmd, passwordStdin)
			password, err := p.ask("Password")
			if err != nil {
				return err
			}
			reg.Password = password
			if agency {
				reg.Role = session.RoleAgencyAdmin
			}

			res := app.Session.Register(cmd.Context(), reg)
			if !res.Success {
				return errors.New(res.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		}),
	}
	cmd.Flags().StringVar(&reg.Email, "email", "", "account email")
	cmd.Flags().StringVar(&reg.Name, "name", "", "full name")
	cmd.Flags().StringVar(&reg.Username, "username", "", "username (defaults to the email's local part)")
	cmd.Flags().StringVar(&reg.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&reg.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&reg.PhoneNumber, "phone", "", "phone number")
	cmd.Flags().BoolVar(&agency, "agency", false, "apply for an agency account")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")
	return cmd
}

func newProfileCmd(withApp appRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage your profile",
	}

	var firstName, lastName, phone string
	update := &cobra.Command{
		Use:   "update",
		Short: "Update profile fields; only the flags given are sent",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			if err := app.requireLogin(""); err != nil {
				return err
			}
			var upd session.ProfileUpdate
			if cmd.Flags().Changed("first-name") {
				upd.FirstName = &firstName
			}
			if cmd.Flags().Changed("last-name") {
				upd.LastName = &lastName
			}
			if cmd.Flags().Changed("phone") {
				upd.PhoneNumber = &phone
			}
			if upd.Empty() {
				return errors.New("nothing to update, pass --first-name, --last-name or --phone")
			}

			res := app.Session.UpdateProfile(cmd.Context(), upd)
			if !res.Success {
				return errors.New(res.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		}),
	}
	update.Flags().StringVar(&firstName, "first-name", "", "first name")
	update.Flags().StringVar(&lastName, "last-name", "", "last name")
	update.Flags().StringVar(&phone, "phone", "", "phone number")

	cmd.AddCommand(update)
	return cmd
}

func newPasswordCmd(withApp appRunner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "password",
		Short: "Manage your password",
	}

	var stdin bool
	change := &cobra.Command{
		Use:   "change",
		Short: "Change your password",
		Long: `Change your password. The current password, the new password and its
confirmation are prompted for, or read as three lines with --stdin.`,
		Args: cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, app *App, args []string) error {
			if err := app.requireLogin(""); err != nil {
				return err
			}
			p := newPrompter(cmd, stdin)
			var pc session.PasswordChange
			var err error
			if pc.OldPassword, err = p.ask("Current password"); err != nil {
				return err
			}
			if pc.NewPassword, err = p.ask("New password"); err != nil {
				return err
			}
			if pc.ConfirmNewPassword, err = p.ask("Confirm new password"); err != nil {
				return err
			}

			res := app.Session.ChangePassword(cmd.Context(), pc)
			if !res.Success {
				return errors.New(strings.TrimSpace(res.Error))
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		}),
	}
	change.Flags().BoolVar(&stdin, "stdin", false, "read the three passwords from stdin without prompts")

	cmd.AddCommand(change)
	return cmd
}
