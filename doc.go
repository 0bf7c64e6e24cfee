// Package whyfail is the reactive data-sync core of WhyFail.club.
//
// A [Client] composes five parts over one backend adapter:
//
//   - a record store caching every read by its query key,
//   - a query runner fetching keys, de-duplicating concurrent reads and
//     tracking loading and error state per key,
//   - an invalidation bus mapping keys to refetch callbacks,
//   - a mutation runner publishing the keys a successful write affects,
//   - a live bridge turning backend row-change events into invalidations.
//
// # Reads
//
// [Query] and [QueryOne] read through the cache and decode rows into a
// tagged struct. [Observe] keeps a key loaded and calls back after every
// refetch, which is what a long-lived view does.
//
// # Writes
//
// [Mutate] runs a write and, only if it succeeds, invalidates the keys it
// names. Observed keys refetch exactly once per invalidation.
//
// # Live changes
//
// [Client.Watch] subscribes to row changes of a table, optionally narrowed
// to rows where one column equals a value, and invalidates keys when one
// arrives. Dropped channels are reopened with backoff; see
// [github.com/whyfailclub/whyfail.go/pkg/live].
//
// # Backends
//
// Adapters live under pkg/backend: an in-memory backend for tests, an
// embedded SQLite backend, and a CBOR RPC over WebSocket client.
// [FromConfig] builds the one a configuration names.
//
// The [github.com/whyfailclub/whyfail.go/contrib/community] package builds
// the WhyFail.club features (journal, stories, MenTalk sessions, SOS) on
// top of this package.
package whyfail
