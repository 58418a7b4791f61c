package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"otakushelf/internal/listapi"
	"otakushelf/internal/session"
)

func addAuth(topLevel *cobra.Command, a *app) {
	var email, password, username string

	login := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the token",
		Example: `
otakushelf login --email me@example.com
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.askMissing(&email, "Email", false); err != nil {
				return err
			}
			if err := a.askMissing(&password, "Password", true); err != nil {
				return err
			}
			return a.authenticate(cmd.Context(), func(ctx context.Context, c *listapi.Client) (listapi.Session, error) {
				return c.Login(ctx, email, password)
			})
		},
	}
	login.Flags().StringVar(&email, "email", "", "account email")
	login.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")

	register := &cobra.Command{
		Use:   "register",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range []struct {
				v      *string
				label  string
				secret bool
			}{{&username, "Username", false}, {&email, "Email", false}, {&password, "Password", true}} {
				if err := a.askMissing(f.v, f.label, f.secret); err != nil {
					return err
				}
			}
			return a.authenticate(cmd.Context(), func(ctx context.Context, c *listapi.Client) (listapi.Session, error) {
				return c.Register(ctx, username, email, password)
			})
		},
	}
	register.Flags().StringVar(&username, "username", "", "display name")
	register.Flags().StringVar(&email, "email", "", "account email")
	register.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := readCredentials(a.cfg.TokenPath)
			if errors.Is(err, errNotLoggedIn) {
				fmt.Fprintln(a.out, "not logged in")
				return nil
			}
			if err == nil {
				// The local token goes either way; a server that cannot be reached
				// keeps the token valid until it expires.
				if err := a.listClient(creds.Token).Logout(cmd.Context()); err != nil && !session.NeedsLogin(err) {
					a.logger.Warn("server logout failed", zap.Error(err))
				}
			}
			if err := clearCredentials(a.cfg.TokenPath); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			fmt.Fprintln(a.out, "logged out")
			return nil
		},
	}

	topLevel.AddCommand(login, register, logout)
}

func (a *app) askMissing(v *string, label string, secret bool) error {
	if *v != "" {
		return nil
	}
	s, err := a.ask(label, secret)
	if err != nil {
		return err
	}
	if s == "" {
		return errors.New(strings.ToLower(label) + " is required")
	}
	*v = s
	return nil
}

func (a *app) authenticate(ctx context.Context, call func(context.Context, *listapi.Client) (listapi.Session, error)) error {
	sess, err := call(ctx, a.listClient(""))
	if err != nil {
		if reason := listapi.Reason(err); reason != "" {
			return fmt.Errorf("sign in: %s", reason)
		}
		return err
	}
	creds := credentials{Token: sess.Token, UserID: sess.User.ID, Username: sess.User.Username}
	if err := saveCredentials(a.cfg.TokenPath, creds); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	fmt.Fprintf(a.out, "signed in as %s\n", color.New(color.Bold).Sprint(sess.User.Username))
	return nil
}
