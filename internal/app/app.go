// Package app implements the toptop command-line client.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidfriends/toptop/internal/ability"
	"github.com/vidfriends/toptop/internal/api"
	"github.com/vidfriends/toptop/internal/config"
	"github.com/vidfriends/toptop/internal/logging"
	"github.com/vidfriends/toptop/internal/models"
)

// shutdownTimeout bounds how long pending view reports may delay exit.
const shutdownTimeout = 5 * time.Second

type builder func(ctx context.Context, cfg config.Config, stderr io.Writer) (*dependencies, cleanupFunc, error)

// cli holds the state shared by every command of one invocation.
type cli struct {
	stdout     io.Writer
	stderr     io.Writer
	loadConfig func() (config.Config, error)
	build      builder

	jsonOut bool

	deps    *dependencies
	cleanup cleanupFunc
	span    *logging.Span
}

// Run builds the toptop command tree and executes it with args.
func Run(ctx context.Context, args []string) error {
	c := &cli{
		stdout:     os.Stdout,
		stderr:     os.Stderr,
		loadConfig: config.Load,
		build:      buildDependencies,
	}
	return c.execute(ctx, args)
}

func (c *cli) execute(ctx context.Context, args []string) error {
	root := c.rootCommand()
	root.SetArgs(args)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	err := root.ExecuteContext(ctx)
	c.span.End(err)

	if c.cleanup != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := c.cleanup(shutdownCtx); cerr != nil {
			c.deps.logger.Warn("cleanup failed", "error", cerr)
		}
		c.cleanup = nil
	}
	return err
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "toptop",
		Short: "TopTop short-video client",
		Long: `Browse, watch and engage with TopTop short videos from the terminal.

Examples:
  toptop login --email me@example.com --password secret
  toptop feed --variant mobile
  toptop watch --count 5
  toptop like 65f0c2...
  toptop upload ./clip.mp4 --title "My first video"`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "print machine-readable JSON")

	root.AddCommand(
		c.loginCommand(),
		c.signupCommand(),
		c.logoutCommand(),
		c.forgotPasswordCommand(),
		c.resetPasswordCommand(),
		c.whoamiCommand(),
		c.profileCommand(),
		c.followingCommand(),
		c.followCommand(),
		c.feedCommand(),
		c.likeCommand(),
		c.saveCommand(),
		c.shareCommand(),
		c.commentCommand(),
		c.watchCommand(),
		c.uploadCommand(),
		c.canCommand(),
	)
	return root
}

// setup loads configuration and builds dependencies once per invocation.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if c.deps == nil {
		cfg, err := c.loadConfig()
		if err != nil {
			return err
		}
		deps, cleanup, err := c.build(cmd.Context(), cfg, c.stderr)
		if err != nil {
			return err
		}
		c.deps, c.cleanup = deps, cleanup
	}

	ctx, span := logging.StartSpan(logging.WithLogger(cmd.Context(), c.deps.logger), cmd.CommandPath())
	c.span = span
	cmd.SetContext(ctx)
	return nil
}

// ability returns the grants of the current session.
func (c *cli) ability() ability.Ability {
	snap := c.deps.session.Current()
	role := ""
	if snap.User != nil {
		role = snap.User.Role
	}
	return ability.GrantsFor(ability.RoleFor(snap.LoggedIn(), role))
}

// require refuses to run a command the current role cannot perform.
func (c *cli) require(action ability.Action, subject ability.Subject) error {
	if ability.CanRender(c.ability(), action, subject) {
		return nil
	}
	if !c.deps.session.LoggedIn() {
		return fmt.Errorf("%w: log in to %s %s", api.ErrNotLoggedIn, action, subject)
	}
	return fmt.Errorf("not permitted to %s %s", action, subject)
}

// viewer returns the logged-in user, asking the server when the session
// holds no user id.
func (c *cli) viewer(ctx context.Context) (models.User, error) {
	if !c.deps.session.LoggedIn() {
		return models.User{}, api.ErrNotLoggedIn
	}
	if user, ok := c.deps.session.User(); ok && user.ID != "" {
		return user, nil
	}
	return c.deps.client.Users.Profile(ctx)
}

// viewerID is the id used to derive liked and saved flags. It is empty for
// guests.
func (c *cli) viewerID() string {
	if user, ok := c.deps.session.User(); ok {
		return user.ID
	}
	return ""
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) printf(format string, args ...any) {
	fmt.Fprintf(c.stdout, format, args...)
}

func (c *cli) newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(c.stdout, 0, 0, 2, ' ', 0)
}

func printTableHeader(w io.Writer, columns ...string) {
	for i, col := range columns {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, col)
	}
	fmt.Fprintln(w)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

func displayName(u models.User) string {
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}
