// Package messenger is the connection-oriented reliable transport the
// osd client treats as an external collaborator. The callback
// registration style (SetCallbacks, one dispatch point per connection)
// mirrors the teacher's BusManager.Handle/Subscribe split: a single
// owner installs callbacks once, the transport invokes them from its
// own read goroutines.
package messenger

import "context"

// Messenger sends byte messages to peer addresses and delivers reply
// and reset notifications back to whoever owns it.
type Messenger interface {
	// Send hands msg to the connection addressed to addr. Send is
	// non-blocking from the caller's point of view: delivery and
	// retries below the wire are the messenger's problem, not the
	// caller's.
	Send(ctx context.Context, addr string, msg []byte) error

	// SetCallbacks installs the reply and reset callbacks. Must be
	// called once before the first Send.
	SetCallbacks(onReply func(front []byte), onReset func(addr string))

	// Close tears down all connections.
	Close() error
}
