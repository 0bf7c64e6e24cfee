// Package wire defines the CBOR frames exchanged between the rpcws client
// and a server: requests, responses and live notifications.
package wire

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/whyfailclub/whyfail.go/pkg/remote"
)

// Subprotocol is negotiated on the WebSocket handshake.
const Subprotocol = "cbor"

type Method string

const (
	MethodPing        Method = "ping"
	MethodSelect      Method = "select"
	MethodInsert      Method = "insert"
	MethodUpdate      Method = "update"
	MethodDelete      Method = "delete"
	MethodInvoke      Method = "invoke"
	MethodSubscribe   Method = "subscribe"
	MethodUnsubscribe Method = "unsubscribe"
)

// Request is sent by the client. Params per method:
//
//	select      [SelectQuery]
//	insert      [table, Row]
//	update      [table, []Filter, Row]
//	delete      [table, []Filter]
//	invoke      [procedure, args]
//	subscribe   [channelID, table, predicate]
//	unsubscribe [channelID]
type Request struct {
	ID     string `json:"id"`
	Method Method `json:"method"`
	Params []any  `json:"params,omitempty"`
}

// ServerRequest is Request as a server decodes it, with each param left
// raw until the method is known.
type ServerRequest struct {
	ID     string            `json:"id"`
	Method Method            `json:"method"`
	Params []cbor.RawMessage `json:"params,omitempty"`
}

// Frame is sent by the server: either a response, with the ID of the
// request it answers, or a notification for a live channel.
type Frame struct {
	ID           string           `json:"id,omitempty"`
	Error        *remote.RPCError `json:"error,omitempty"`
	Result       cbor.RawMessage  `json:"result,omitempty"`
	Notification *Notification    `json:"notification,omitempty"`
}

// Notification carries one event of a channel, or tells the client the
// server closed the channel (Closed with a Reason).
type Notification struct {
	Channel string        `json:"channel"`
	Event   *remote.Event `json:"event,omitempty"`
	Closed  bool          `json:"closed,omitempty"`
	Reason  string        `json:"reason,omitempty"`
}
