package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/whyfailclub/whyfail.go/contrib/community"
)

func NewStoriesCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stories",
		Short: "Browse the public failure stories",
	}
	cmd.AddCommand(newStoriesListCommand(root))
	return cmd
}

func newStoriesListCommand(root *RootOptions) *cobra.Command {
	var q community.StoryQuery
	var sort string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List public stories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q.Sort = community.StorySort(sort)
			return root.run(cmd, func(ctx context.Context, a *app) error {
				stories, err := a.svc.Stories(ctx, q)
				if err != nil {
					return err
				}
				return a.out.Print(stories, func(w io.Writer) {
					if len(stories) == 0 {
						fmt.Fprintln(w, "No stories match.")
						return
					}
					for _, s := range stories {
						fmt.Fprintf(w, "%s  %s (by %s)\n", s.CreatedAt, s.Title, s.Author)
					}
					if tags := community.Tags(stories); len(tags) > 0 {
						fmt.Fprintf(w, "\nTags: %s\n", strings.Join(tags, ", "))
					}
				})
			})
		},
	}
	cmd.Flags().StringVar(&sort, "sort", string(community.SortNewest), "newest, oldest or most_engaging")
	cmd.Flags().StringVar(&q.Tag, "tag", community.AllTags, "only stories with this tag")
	cmd.Flags().StringVar(&q.Search, "search", "", "case-insensitive match on title or content")
	return cmd
}
