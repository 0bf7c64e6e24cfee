package cli

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/whyfailclub/whyfail.go/contrib/community"
)

func NewSessionsCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"mentalk"},
		Short:   "MenTalk peer support sessions",
	}
	cmd.AddCommand(newSessionsListCommand(root))
	cmd.AddCommand(newSessionsCreateCommand(root))
	cmd.AddCommand(newSessionMembershipCommand(root, "join", "Join a session", (*community.Service).JoinSession))
	cmd.AddCommand(newSessionMembershipCommand(root, "leave", "Leave a session", (*community.Service).LeaveSession))
	return cmd
}

type sessionView struct {
	community.Session
	Joined bool `json:"joined"`
}

func newSessionsListCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List upcoming sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.run(cmd, func(ctx context.Context, a *app) error {
				sessions, err := a.svc.Sessions(ctx)
				if err != nil {
					return err
				}
				// Signed-out users can still browse.
				mine, _ := a.svc.MyParticipations(ctx)

				views := make([]sessionView, len(sessions))
				for i, s := range sessions {
					views[i] = sessionView{Session: s, Joined: slices.Contains(mine, s.ID)}
				}
				return a.out.Print(views, func(w io.Writer) {
					if len(views) == 0 {
						fmt.Fprintln(w, "No upcoming sessions.")
						return
					}
					for _, v := range views {
						mark := " "
						if v.Joined {
							mark = "*"
						}
						fmt.Fprintf(w, "%s %s  %s  %s  %d/%d  %dmin\n", mark, v.ScheduledFor, v.ID, v.Title,
							v.Participants, v.MaxParticipants, v.DurationMinutes)
					}
				})
			})
		},
	}
}

func newSessionsCreateCommand(root *RootOptions) *cobra.Command {
	var ns community.NewSession
	var at string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Schedule a session you host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			when, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return WrapExitError(ExitCommandError, "--at must be an RFC 3339 time", err)
			}
			ns.ScheduledFor = when

			return root.run(cmd, func(ctx context.Context, a *app) error {
				s, err := a.svc.CreateSession(ctx, ns)
				if err != nil {
					return err
				}
				return a.out.Print(s, func(w io.Writer) {
					fmt.Fprintf(w, "Scheduled session %s for %s\n", s.ID, s.ScheduledFor)
				})
			})
		},
	}
	cmd.Flags().StringVar(&ns.Title, "title", "", "session title")
	cmd.Flags().StringVar(&ns.Description, "description", "", "what the session is about")
	cmd.Flags().StringVar(&at, "at", "", "start time, RFC 3339")
	cmd.Flags().IntVar(&ns.DurationMinutes, "duration", community.DefaultSessionMinutes, "length in minutes")
	cmd.Flags().IntVar(&ns.MaxParticipants, "max", community.DefaultSessionParticipants, "participant limit")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func newSessionMembershipCommand(root *RootOptions, use, short string,
	op func(*community.Service, context.Context, string) error,
) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.run(cmd, func(ctx context.Context, a *app) error {
				if err := op(a.svc, ctx, args[0]); err != nil {
					return err
				}
				return a.out.Print(map[string]string{"session_id": args[0], "action": use}, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %s\n", use, args[0])
				})
			})
		},
	}
}
