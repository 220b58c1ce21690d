// Package transport moves protocol frames between two peers.
//
// A Transport is a bidirectional, ordered, reliable channel of frames. It does
// not interpret frames; correlation and dispatch belong to the peer on top.
//
//	peer ──Send(frame)──► Transport ══ conn / pipe / NATS subject ══ Transport ──Recv()──► peer
package transport

import (
	"context"

	"peer-rpc/protocol"
)

// Transport is the frame channel a peer runs on.
//
// Send is safe for concurrent use; each frame is delivered whole and in the
// order Send calls complete. Recv returns the same channel on every call. It is
// closed once the transport ends, after which Err reports why (nil for a clean
// close by either side).
type Transport interface {
	Send(ctx context.Context, f protocol.Frame) error
	Recv() <-chan protocol.Frame
	Err() error
	Close() error
}

const defaultRecvBuffer = 64
