package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidfriends/toptop/internal/ability"
	"github.com/vidfriends/toptop/internal/api"
	"github.com/vidfriends/toptop/internal/models"
	"github.com/vidfriends/toptop/internal/oauth"
	"github.com/vidfriends/toptop/internal/session"
)

func (c *cli) loginCommand() *cobra.Command {
	var (
		email, password, provider string
		timeout                   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with email and password or an OAuth provider",
		Long: `Start a session.

With --provider the browser login is completed through a local callback
listener on TOPTOP_OAUTH_CALLBACK_PORT.

Examples:
  toptop login --email me@example.com --password secret
  toptop login --provider github`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			var (
				user models.User
				err  error
			)
			if provider != "" {
				user, err = c.loginWithProvider(ctx, provider, timeout)
			} else {
				user, err = c.loginWithPassword(ctx, email, password)
			}
			if err != nil {
				return err
			}

			if user.ID != "" {
				if _, err := c.deps.feed.SyncFollowing(ctx, user.ID); err != nil {
					c.deps.logger.Warn("following list not synced", "error", err)
				}
			}

			if c.jsonOut {
				return c.printJSON(map[string]any{"loggedIn": true, "user": user})
			}
			c.printf("Logged in as %s\n", displayName(user))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&provider, "provider", "", "OAuth provider (google, github)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "how long to wait for the OAuth callback")
	return cmd
}

func (c *cli) loginWithPassword(ctx context.Context, email, password string) (models.User, error) {
	result, err := c.deps.client.Auth.Login(ctx, email, password)
	if err != nil {
		return models.User{}, fmt.Errorf("login: %w", err)
	}
	if result.User != nil {
		return *result.User, nil
	}
	return c.deps.client.Users.Profile(ctx)
}

func (c *cli) loginWithProvider(ctx context.Context, provider string, timeout time.Duration) (models.User, error) {
	loginURL, err := c.deps.client.Auth.OAuthURL(provider)
	if err != nil {
		return models.User{}, err
	}

	listener := oauth.NewListener(c.deps.cfg.OAuthCallbackPort, c.deps.client.Auth, c.deps.logger)
	if err := listener.Start(); err != nil {
		return models.User{}, fmt.Errorf("start oauth listener: %w", err)
	}

	fmt.Fprintf(c.stderr, "Open %s in your browser to continue.\nWaiting for the callback on %s\n", loginURL, listener.CallbackURL())

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	user, err := listener.Wait(waitCtx)
	if err != nil {
		return models.User{}, fmt.Errorf("%s login: %w", provider, err)
	}
	return user, nil
}

func (c *cli) signupCommand() *cobra.Command {
	var req api.SignUpRequest
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result, err := c.deps.client.Auth.SignUp(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("signup: %w", err)
			}
			if c.jsonOut {
				return c.printJSON(result)
			}
			msg := result.Message
			if msg == "" {
				msg = "Account created."
			}
			c.printf("%s Log in with: toptop login --email %s\n", msg, req.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&req.Username, "username", "", "public username")
	cmd.Flags().StringVar(&req.Password, "password", "", "password")
	cmd.Flags().StringVar(&req.ConfirmPassword, "confirm-password", "", "password confirmation")
	return cmd
}

func (c *cli) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !c.deps.session.LoggedIn() {
				return api.ErrNotLoggedIn
			}
			if err := c.deps.client.Auth.Logout(cmd.Context()); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			if c.jsonOut {
				return c.printJSON(map[string]bool{"loggedIn": false})
			}
			c.printf("Logged out\n")
			return nil
		},
	}
}

func (c *cli) forgotPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "forgot-password <email>",
		Short: "Email a password reset code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := c.deps.client.Auth.ForgotPassword(cmd.Context(), args[0])
			alreadySent := errors.Is(err, api.ErrOTPAlreadySent)
			if err != nil && !alreadySent {
				return fmt.Errorf("forgot password: %w", err)
			}

			if c.jsonOut {
				return c.printJSON(map[string]any{"sent": true, "alreadySent": alreadySent})
			}
			if alreadySent {
				c.printf("A reset code was already sent to %s.\n", args[0])
			} else {
				c.printf("A reset code was sent to %s.\n", args[0])
			}
			c.printf("Reset with: toptop reset-password --email %s --code <code>\n", args[0])
			return nil
		},
	}
}

func (c *cli) resetPasswordCommand() *cobra.Command {
	var req api.ResetPasswordRequest
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password using an emailed code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.deps.client.Auth.ResetPassword(cmd.Context(), req); err != nil {
				return fmt.Errorf("reset password: %w", err)
			}
			if c.jsonOut {
				return c.printJSON(map[string]bool{"reset": true})
			}
			c.printf("Password updated. Log in with your new password.\n")
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Email, "email", "", "account email")
	cmd.Flags().StringVar(&req.OTP, "code", "", "6-digit reset code")
	cmd.Flags().StringVar(&req.NewPassword, "password", "", "new password")
	cmd.Flags().StringVar(&req.ConfirmPassword, "confirm-password", "", "new password confirmation")
	return cmd
}

type whoami struct {
	LoggedIn      bool            `json:"loggedIn"`
	Role          string          `json:"role"`
	User          *models.User    `json:"user,omitempty"`
	CanRefresh    bool            `json:"canRefresh"`
	AccessExpires *time.Time      `json:"accessExpires,omitempty"`
	Following     int             `json:"following"`
	Grants        []ability.Grant `json:"grants"`
}

func (c *cli) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			snap := c.deps.session.Current()
			ab := c.ability()
			out := whoami{
				LoggedIn:   snap.LoggedIn(),
				Role:       ab.Role(),
				User:       snap.User,
				CanRefresh: snap.RefreshToken != "",
				Following:  len(snap.Following),
				Grants:     ab.Grants(),
			}
			if snap.LoggedIn() {
				if exp, err := session.AccessExpiry(snap.AccessToken); err == nil {
					out.AccessExpires = &exp
				}
			}

			if c.jsonOut {
				return c.printJSON(out)
			}
			if !out.LoggedIn {
				c.printf("Not logged in (role %s)\n", out.Role)
				return nil
			}
			name := "unknown user"
			if out.User != nil {
				name = displayName(*out.User)
			}
			c.printf("Logged in as %s (role %s)\n", name, out.Role)
			if out.AccessExpires != nil {
				c.printf("Access token expires %s\n", out.AccessExpires.Local().Format(time.RFC1123))
			}
			if !out.CanRefresh {
				c.printf("No refresh token: the session ends when the access token expires\n")
			}
			c.printf("Following %d accounts\n", out.Following)
			return nil
		},
	}
}
