package whyfail

import (
	"context"
	"fmt"

	"github.com/whyfailclub/whyfail.go/pkg/models"
	"github.com/whyfailclub/whyfail.go/pkg/mutation"
	"github.com/whyfailclub/whyfail.go/pkg/query"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
	"github.com/whyfailclub/whyfail.go/pkg/store"
)

// Select returns a fetcher reading q. A single-row query yields one
// remote.Row (absence is a successful read of nil); any other query yields
// []remote.Row.
func (c *Client) Select(q remote.SelectQuery) query.Fetcher {
	return func(ctx context.Context) (any, error) {
		rows, err := c.backend.Select(ctx, q)
		if err != nil {
			return nil, err
		}
		if q.Single {
			if len(rows) == 0 {
				return nil, ErrNoRows
			}
			return rows[0], nil
		}
		return rows, nil
	}
}

// Query reads q through the cache under key and decodes the rows into T.
// When a refresh fails the rows from the last successful read are returned
// together with the error.
func Query[T any](ctx context.Context, c *Client, key models.QueryKey, q remote.SelectQuery, opts ...query.EnsureOption) ([]T, error) {
	q.Single = false
	entry, err := c.queries.Ensure(ctx, key, c.Select(q), opts...)
	if err != nil {
		rows, derr := decodeRows[T](entry)
		if derr != nil {
			return nil, err
		}
		return rows, err
	}
	return decodeRows[T](entry)
}

// QueryOne reads a single row. It returns nil without error when no row
// matches. Like Query, a failed refresh still yields the cached row.
func QueryOne[T any](ctx context.Context, c *Client, key models.QueryKey, q remote.SelectQuery, opts ...query.EnsureOption) (*T, error) {
	entry, err := c.queries.Ensure(ctx, key, c.Select(q.One()), opts...)
	if err != nil {
		row, derr := decodeRow[T](entry)
		if derr != nil {
			return nil, err
		}
		return row, err
	}
	return decodeRow[T](entry)
}

// Observe keeps key loaded and calls fn with the decoded rows after every
// settle of the key, including refetches caused by invalidation. The
// failure of the first read is returned along with the subscription.
func Observe[T any](ctx context.Context, c *Client, key models.QueryKey, q remote.SelectQuery, fn func(rows []T, entry store.Entry)) (*query.Subscription, error) {
	q.Single = false
	view := func(entry store.Entry) {
		rows, err := decodeRows[T](entry)
		if err != nil {
			c.logger.Warn("Failed to decode observed rows", "key", entry.Key.String(), "error", err)
		}
		fn(rows, entry)
	}
	return c.queries.Subscribe(ctx, key, c.Select(q), view)
}

// ObserveOne is Observe for a single-row query; row is nil when absent.
func ObserveOne[T any](ctx context.Context, c *Client, key models.QueryKey, q remote.SelectQuery, fn func(row *T, entry store.Entry)) (*query.Subscription, error) {
	view := func(entry store.Entry) {
		row, err := decodeRow[T](entry)
		if err != nil {
			c.logger.Warn("Failed to decode observed row", "key", entry.Key.String(), "error", err)
		}
		fn(row, entry)
	}
	return c.queries.Subscribe(ctx, key, c.Select(q.One()), view)
}

// Mutate runs write and, only if it succeeds, invalidates keys. The
// returned record carries the status of the run.
func Mutate[T any](ctx context.Context, c *Client, write func(ctx context.Context, backend remote.Collaborator) (T, error), keys ...models.QueryKey) (T, *mutation.Record, error) {
	rec, err := c.mutations.Run(ctx, func(ctx context.Context) (any, error) {
		return write(ctx, c.backend)
	}, keys...)

	var out T
	if err != nil {
		return out, rec, err
	}
	if v, ok := rec.Result().(T); ok {
		out = v
	}
	return out, rec, nil
}

func decodeRows[T any](entry store.Entry) ([]T, error) {
	if !entry.HasData || entry.Data == nil {
		return nil, nil
	}
	rows, ok := entry.Data.([]remote.Row)
	if !ok {
		return nil, fmt.Errorf("entry %s holds %T, not rows", entry.Key, entry.Data)
	}
	return remote.DecodeRows[T](rows)
}

func decodeRow[T any](entry store.Entry) (*T, error) {
	if !entry.HasData || entry.Data == nil {
		return nil, nil
	}
	row, ok := entry.Data.(remote.Row)
	if !ok {
		return nil, fmt.Errorf("entry %s holds %T, not a row", entry.Key, entry.Data)
	}
	v, err := remote.Decode[T](row)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
