// Package cli implements whyfailctl, a command line client of the
// WhyFail.club data core.
package cli

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	whyfail "github.com/whyfailclub/whyfail.go"
	"github.com/whyfailclub/whyfail.go/contrib/community"
	"github.com/whyfailclub/whyfail.go/pkg/backend/memory"
	"github.com/whyfailclub/whyfail.go/pkg/backend/sqlite"
	"github.com/whyfailclub/whyfail.go/pkg/config"
)

// RootOptions holds the global flags.
type RootOptions struct {
	ConfigPath string
	User       string
	Format     string
}

var ValidFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "whyfailctl",
		Short: "Command line client for WhyFail.club",
		Long: `Command line client for WhyFail.club.

Reads and writes go through the same cache and invalidation core the
application uses. The backend is chosen by the config file or the
WHYFAIL_BACKEND, WHYFAIL_URL and WHYFAIL_SQLITE_PATH variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVarP(&opts.User, "user", "u", "", "act as this user id (overrides the config)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	cmd.AddCommand(NewJournalCommand(opts))
	cmd.AddCommand(NewStoriesCommand(opts))
	cmd.AddCommand(NewSessionsCommand(opts))
	cmd.AddCommand(NewSOSCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewAnalyticsCommand(opts))
	cmd.AddCommand(NewInvokeCommand(opts))

	return cmd
}

// app is what a command runs against: a client over the configured backend
// and the community services on top of it.
type app struct {
	client *whyfail.Client
	svc    *community.Service
	out    *Output
}

func (o *RootOptions) open(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load config", err)
	}
	if o.User != "" {
		cfg.Identity.UserID = o.User
	}

	client, err := whyfail.FromConfig(cmd.Context(), cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open backend", err)
	}
	registerStandIns(client)

	return &app{
		client: client,
		svc:    community.New(client),
		out:    &Output{Format: o.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr()},
	}, nil
}

// registerStandIns gives in-process backends the procedures the hosted
// backend provides.
func registerStandIns(c *whyfail.Client) {
	procs := community.StandInProcedures(c.Backend(), time.Now)
	for name, fn := range procs {
		switch b := c.Backend().(type) {
		case *memory.Backend:
			b.Register(name, memory.Procedure(fn))
		case *sqlite.Backend:
			b.Register(name, sqlite.Procedure(fn))
		}
	}
}

func (a *app) close() {
	a.svc.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.client.Close(ctx); err != nil {
		a.client.Logger().Warn("Failed to close client", "error", err)
	}
}

// run opens the app, runs fn and closes the app again.
func (o *RootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := o.open(cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(cmd.Context(), a)
}

// FormatOf returns the --format the command line asked for, falling back to
// text when it is unset or invalid.
func FormatOf(root *cobra.Command) string {
	f, err := root.PersistentFlags().GetString("format")
	if err != nil || !slices.Contains(ValidFormats, f) {
		return "text"
	}
	return f
}
