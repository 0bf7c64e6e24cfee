package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func NewAnalyticsCommand(root *RootOptions) *cobra.Command {
	var generate bool

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show your emotional analytics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.run(cmd, func(ctx context.Context, a *app) error {
				if generate {
					if _, err := a.svc.GenerateAnalytics(ctx); err != nil {
						return err
					}
				}
				res, err := a.svc.Analytics(ctx)
				if err != nil {
					return err
				}
				return a.out.Print(res, func(w io.Writer) {
					if res == nil {
						fmt.Fprintln(w, "No analysis yet. Run with --generate to create one.")
						return
					}
					fmt.Fprintf(w, "Analysis of %s\n", res.AnalysisDate)
					if res.EmotionalTrend != nil {
						fmt.Fprintf(w, "Trend: %s\n", *res.EmotionalTrend)
					}
					if res.OptimismScore != nil {
						fmt.Fprintf(w, "Optimism: %.0f%%\n", *res.OptimismScore*100)
					}
					if len(res.KeyThemes) > 0 {
						fmt.Fprintf(w, "Themes: %s\n", strings.Join(res.KeyThemes, ", "))
					}
				})
			})
		},
	}
	cmd.Flags().BoolVar(&generate, "generate", false, "run a new analysis first")
	return cmd
}
