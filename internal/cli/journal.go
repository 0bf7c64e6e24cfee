package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/whyfailclub/whyfail.go/contrib/community"
)

func NewJournalCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Read and write your failure journal",
	}
	cmd.AddCommand(newJournalListCommand(root))
	cmd.AddCommand(newJournalWriteCommand(root))
	return cmd
}

func newJournalListCommand(root *RootOptions) *cobra.Command {
	var recent bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your journal entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.run(cmd, func(ctx context.Context, a *app) error {
				list := a.svc.Entries
				if recent {
					list = a.svc.RecentEntries
				}
				entries, err := list(ctx)
				if err != nil {
					return err
				}
				return a.out.Print(entries, func(w io.Writer) {
					if len(entries) == 0 {
						fmt.Fprintln(w, "No journal entries yet.")
						return
					}
					for _, e := range entries {
						printEntry(w, e)
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&recent, "recent", false, "only the five most recent entries")
	return cmd
}

func printEntry(w io.Writer, e community.JournalEntry) {
	visibility := "private"
	if e.IsPublic {
		visibility = "public"
	}
	fmt.Fprintf(w, "%s  %s  [%s]  %s\n", e.CreatedAt, e.ID, visibility, e.Title)
	if e.MoodBefore != nil && e.MoodAfter != nil {
		fmt.Fprintf(w, "    mood %d -> %d\n", *e.MoodBefore, *e.MoodAfter)
	}
	if len(e.Tags) > 0 {
		fmt.Fprintf(w, "    tags: %s\n", strings.Join(e.Tags, ", "))
	}
}

type journalWriteOptions struct {
	title, content, plan  string
	public                bool
	tags                  []string
	moodBefore, moodAfter int
}

func newJournalWriteCommand(root *RootOptions) *cobra.Command {
	opts := &journalWriteOptions{}

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a journal entry",
		Long: `Write a journal entry.

The entry is sent to moderation after it is stored. Public entries appear
in the stories feed under your name unless anonymous mode is on.

Example:
  whyfailctl journal write --title "Lost the pitch" --content "..." \
    --tag career --mood-before 3 --mood-after 6 --public`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entry := community.NewEntry{
				Title:          opts.title,
				Content:        opts.content,
				IsPublic:       opts.public,
				BounceBackPlan: opts.plan,
				Tags:           opts.tags,
			}
			if cmd.Flags().Changed("mood-before") {
				entry.MoodBefore = &opts.moodBefore
			}
			if cmd.Flags().Changed("mood-after") {
				entry.MoodAfter = &opts.moodAfter
			}

			return root.run(cmd, func(ctx context.Context, a *app) error {
				created, err := a.svc.CreateEntry(ctx, entry)
				if err != nil {
					return err
				}
				return a.out.Print(created, func(w io.Writer) {
					fmt.Fprintf(w, "Saved entry %s\n", created.ID)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.title, "title", "", "entry title")
	cmd.Flags().StringVar(&opts.content, "content", "", "what happened")
	cmd.Flags().StringVar(&opts.plan, "plan", "", "your bounce-back plan")
	cmd.Flags().BoolVar(&opts.public, "public", false, "share the entry as a story")
	cmd.Flags().StringArrayVar(&opts.tags, "tag", nil, "tag, repeatable")
	cmd.Flags().IntVar(&opts.moodBefore, "mood-before", 0, "mood before writing, 1 to 10")
	cmd.Flags().IntVar(&opts.moodAfter, "mood-after", 0, "mood after writing, 1 to 10")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}
