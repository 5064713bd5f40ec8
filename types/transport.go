// Package types defines core interfaces shared across the client, its
// transport implementations, and its logger.
package types

import "context"

// Transport abstracts the underlying duplex byte-stream connection to the
// database server. The client only ever has one concrete implementation
// (WebSocket), but the interface keeps the pipeline package testable
// against a fake.
type Transport interface {
	// Send writes data as a single outbound message, respecting ctx.
	Send(ctx context.Context, data []byte) error

	// ReceiveFrame blocks until the next frame of the current (or next)
	// inbound message is available. final reports whether this frame
	// completes its message. A message boundary is always signaled by a
	// frame with final == true, even if that frame carries no bytes.
	ReceiveFrame(ctx context.Context) (data []byte, final bool, err error)

	// Close terminates the transport, performing an orderly close
	// handshake where the underlying protocol supports one. After Close,
	// the transport must not be used again.
	Close() error

	// IsClosed reports whether Close has been called (or the transport
	// has detected the connection is no longer usable).
	IsClosed() bool
}
