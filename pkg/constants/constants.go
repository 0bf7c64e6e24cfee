package constants

import "time"

const (
	// RequestIDLength size of id sent on WS request
	RequestIDLength = 16
	// CloseMessageCode identifier the message id for a close request
	CloseMessageCode = 1000
	// DefaultWSTimeout is how long a WebSocket request waits for its response
	DefaultWSTimeout = 30 * time.Second

	// DefaultStaleTime is how long a successful read counts as fresh.
	// Zero means every ensure refetches unless a fetch is already in flight.
	DefaultStaleTime = 0 * time.Second
	// DefaultGCGrace is how long an entry without subscribers survives
	// before it is evicted from the store.
	DefaultGCGrace = 5 * time.Minute
	// DefaultPollInterval is the change polling frequency of the SQLite backend.
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultEventBuffer is the buffer size of live event channels.
	DefaultEventBuffer = 64
)

var (
	WebsocketScheme       = "ws"
	SecureWebsocketScheme = "wss"
)

// TimestampLayout is fixed width so that lexical order of the stored strings
// is chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"
