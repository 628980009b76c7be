package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/sessionctl/pkg/sessionctl/autherr"
	"github.com/telekom/sessionctl/pkg/sessionctl/session"
)

func NewAuthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Sign in and out through the identity CLI",
	}
	cmd.AddCommand(
		newAuthLoginCommand(),
		newAuthStatusCommand(),
		newAuthLogoutCommand(),
	)
	return cmd
}

func newAuthLoginCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in, reusing a valid token unless --force is set",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			sess, err := rt.Session()
			if err != nil {
				return err
			}
			ac, err := sess.Login(cmd.Context(), session.LoginOptions{Force: force, NonInteractive: rt.NonInteractive()})
			if err != nil {
				return err
			}
			return rt.writeStatus(ac)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Sign in again even if the current token is valid")
	return cmd
}

func newAuthStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session state without signing in",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			_, _, ac, err := rt.establish(cmd.Context())
			if err != nil && !isSignedOut(err) {
				return err
			}
			return rt.writeStatus(ac)
		},
	}
}

func newAuthLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out of the identity CLI and clear the saved selection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			sess, err := rt.Session()
			if err != nil {
				return err
			}
			if err := sess.Logout(cmd.Context()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Signed out")
			return nil
		},
	}
}

// isSignedOut reports errors that describe a session state rather than a
// failure to determine it.
func isSignedOut(err error) bool {
	switch autherr.KindOf(err) {
	case autherr.TokenAbsent, autherr.TokenExpired:
		return true
	}
	return false
}
