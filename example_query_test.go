package whyfail_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/whyfailclub/whyfail.go"
	"github.com/whyfailclub/whyfail.go/pkg/backend/memory"
	"github.com/whyfailclub/whyfail.go/pkg/logger"
	"github.com/whyfailclub/whyfail.go/pkg/models"
	"github.com/whyfailclub/whyfail.go/pkg/remote"
	"github.com/whyfailclub/whyfail.go/pkg/store"
)

func ExampleQuery() {
	backend := memory.New(memory.WithLogger(logger.Nop()))
	if err := backend.Seed("journal_entries",
		remote.Row{"id": "e1", "user_id": "u1", "title": "Missed the deadline"},
		remote.Row{"id": "e2", "user_id": "u2", "title": "Someone else's entry"},
	); err != nil {
		panic(err)
	}

	c := whyfail.New(backend, whyfail.WithLogger(logger.Nop()))
	defer c.Close(context.Background()) //nolint:errcheck

	type Entry struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}

	entries, err := whyfail.Query[Entry](context.Background(), c,
		models.NewQueryKey("journal-entries", "u1"),
		remote.From("journal_entries").Where(remote.Eq("user_id", "u1")))
	if err != nil {
		panic(err)
	}
	for _, e := range entries {
		fmt.Println(e.ID, e.Title)
	}

	// Output:
	// e1 Missed the deadline
}

// ExampleQueryOne shows that a missing row is an empty result, not an error.
func ExampleQueryOne() {
	backend := memory.New(memory.WithLogger(logger.Nop()))
	c := whyfail.New(backend, whyfail.WithLogger(logger.Nop()))
	defer c.Close(context.Background()) //nolint:errcheck

	type Analytics struct {
		EmotionalTrend string `json:"emotional_trend"`
	}

	latest, err := whyfail.QueryOne[Analytics](context.Background(), c,
		models.NewQueryKey("emotional-analytics", "u1"),
		remote.From("emotional_analytics").Where(remote.Eq("user_id", "u1")).WithLimit(1))
	fmt.Println(latest == nil, err)

	// Output:
	// true <nil>
}

func ExampleMutate() {
	backend := memory.New(memory.WithLogger(logger.Nop()))
	c := whyfail.New(backend, whyfail.WithLogger(logger.Nop()))
	defer c.Close(context.Background()) //nolint:errcheck
	ctx := context.Background()

	type Entry struct {
		Title string `json:"title"`
	}
	key := models.NewQueryKey("journal-entries", "u1")
	q := remote.From("journal_entries").Where(remote.Eq("user_id", "u1"))

	sub, err := whyfail.Observe(ctx, c, key, q, func(rows []Entry, _ store.Entry) {
		fmt.Println("view shows", len(rows), "entries")
	})
	if err != nil {
		panic(err)
	}
	defer sub.Close()

	_, rec, err := whyfail.Mutate(ctx, c, func(ctx context.Context, b remote.Collaborator) (remote.Row, error) {
		return b.Insert(ctx, "journal_entries", remote.Row{"user_id": "u1", "title": "Day one"})
	}, key)
	if err != nil {
		panic(err)
	}
	c.Wait()
	fmt.Println("mutation", rec.Status())

	backend.FailNext(memory.OpInsert, errors.New("permission denied"))
	_, rec, err = whyfail.Mutate(ctx, c, func(ctx context.Context, b remote.Collaborator) (remote.Row, error) {
		return b.Insert(ctx, "journal_entries", remote.Row{"user_id": "u1", "title": "Day two"})
	}, key)
	c.Wait()
	var writeErr *remote.WriteError
	fmt.Println("mutation", rec.Status(), errors.As(err, &writeErr))

	// Output:
	// view shows 0 entries
	// view shows 1 entries
	// mutation success
	// mutation error true
}

func ExampleClient_Watch() {
	backend := memory.New(memory.WithLogger(logger.Nop()))
	c := whyfail.New(backend, whyfail.WithLogger(logger.Nop()))
	defer c.Close(context.Background()) //nolint:errcheck
	ctx := context.Background()

	type Entry struct {
		Title string `json:"title"`
	}
	key := models.NewQueryKey("journal-entries", "u1")
	shown := make(chan []Entry, 4)
	sub, err := whyfail.Observe(ctx, c, key,
		remote.From("journal_entries").Where(remote.Eq("user_id", "u1")),
		func(rows []Entry, _ store.Entry) { shown <- rows })
	if err != nil {
		panic(err)
	}
	defer sub.Close()
	<-shown

	filter := models.EqFilter("journal_entries", "user_id", "u1")
	if err := c.Watch(ctx, filter, key); err != nil {
		panic(err)
	}
	defer c.Unwatch(filter) //nolint:errcheck

	// Written elsewhere, e.g. by another device.
	if _, err := backend.Insert(ctx, "journal_entries", remote.Row{"user_id": "u1", "title": "From my phone"}); err != nil {
		panic(err)
	}

	rows := <-shown
	fmt.Println(len(rows), rows[0].Title)

	// Output:
	// 1 From my phone
}
