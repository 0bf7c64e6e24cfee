// Package models holds the identifiers the data-synchronization core is
// keyed by: QueryKey for one cacheable read and RealtimeFilter for one live
// change feed.
package models
