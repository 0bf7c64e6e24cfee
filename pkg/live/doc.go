// Package live turns row-change notifications from the remote backend into
// invalidation publishes.
//
// A Bridge opens one channel per distinct RealtimeFilter no matter how many
// views watch it, and publishes the watched keys on every event. When a
// channel drops, the bridge reopens it using a Retryer and then publishes
// the keys once, because events may have been missed in between. While the
// channel is down views only see changes they cause themselves.
package live
