package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/whyfailclub/whyfail.go/pkg/models"
)

type watchEvent struct {
	Event  string `json:"event"`
	Filter string `json:"filter"`
	Seq    int    `json:"seq,omitempty"`
}

func NewWatchCommand(root *RootOptions) *cobra.Command {
	var (
		count   int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <table> [predicate]",
		Short: "Print a line whenever rows of a table change",
		Long: `Print a line whenever rows of a table change.

The predicate narrows the watch to rows where a column equals a value,
written as column=eq.value.

Example:
  whyfailctl watch journal_entries user_id=eq.u1 --count 1`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			predicate := ""
			if len(args) == 2 {
				predicate = args[1]
			}
			filter, err := models.ParseRealtimeFilter(args[0], predicate)
			if err != nil {
				return WrapExitError(ExitCommandError, "parse filter", err)
			}

			return root.run(cmd, func(ctx context.Context, a *app) error {
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				return watch(ctx, a, filter, count)
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many changes (0 = run until interrupted)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "exit after this long (0 = no limit)")
	return cmd
}

func watch(ctx context.Context, a *app, filter models.RealtimeFilter, count int) error {
	key := models.NewQueryKey("watch", filter.Table, filter.Predicate())
	changes := make(chan struct{}, 64)

	id := a.client.Bus().Subscribe(key, func(models.QueryKey) error {
		select {
		case changes <- struct{}{}:
		default:
		}
		return nil
	})
	defer a.client.Bus().Unsubscribe(key, id)

	if err := a.client.Watch(ctx, filter, key); err != nil {
		return err
	}
	defer func() {
		if err := a.client.Unwatch(filter, key); err != nil {
			a.client.Logger().Debug("Unwatch failed", "filter", filter.String(), "error", err)
		}
	}()

	if err := a.out.Event(watchEvent{Event: "watching", Filter: filter.String()}, "Watching "+filter.String()); err != nil {
		return err
	}

	for seen := 0; count == 0 || seen < count; {
		select {
		case <-ctx.Done():
			// Interrupted or timed out: both end the watch normally.
			return nil
		case <-changes:
			seen++
			ev := watchEvent{Event: "change", Filter: filter.String(), Seq: seen}
			if err := a.out.Event(ev, fmt.Sprintf("Change %d on %s", seen, filter.String())); err != nil {
				return err
			}
		}
	}
	return nil
}
