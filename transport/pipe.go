package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"peer-rpc/protocol"
	"peer-rpc/rpcerr"
)

// pipe is the state shared by both ends. Closing either end breaks the pipe
// for sending; frames already sent are still delivered to the other end.
type pipe struct {
	done chan struct{}
	once sync.Once
}

func (p *pipe) close() { p.once.Do(func() { close(p.done) }) }

// PipeTransport is one end of an in-memory transport pair.
type PipeTransport struct {
	p      *pipe
	inbox  chan protocol.Frame
	recv   chan protocol.Frame
	closed chan struct{} // this end was closed locally
	once   sync.Once
	peer   *PipeTransport
}

func newPipeEnd(p *pipe) *PipeTransport {
	return &PipeTransport{
		p:      p,
		inbox:  make(chan protocol.Frame, defaultRecvBuffer),
		recv:   make(chan protocol.Frame),
		closed: make(chan struct{}),
	}
}

// Pipe returns two connected in-memory transports. Frames sent on one are
// received, in order, on the other.
func Pipe() (a, b *PipeTransport) {
	p := &pipe{done: make(chan struct{})}
	a, b = newPipeEnd(p), newPipeEnd(p)
	a.peer, b.peer = b, a
	go a.pump()
	go b.pump()
	return a, b
}

// pump owns recv so that it can be closed without racing senders.
func (t *PipeTransport) pump() {
	defer close(t.recv)
	for {
		select {
		case f := <-t.inbox:
			if !t.deliver(f) {
				return
			}
		case <-t.p.done:
			for {
				select {
				case f := <-t.inbox:
					if !t.deliver(f) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (t *PipeTransport) deliver(f protocol.Frame) bool {
	select {
	case t.recv <- f:
		return true
	case <-t.closed:
		return false
	}
}

func (t *PipeTransport) Send(ctx context.Context, f protocol.Frame) error {
	select {
	case <-t.p.done:
		return errors.Wrap(rpcerr.ErrClosed, "pipe send")
	default:
	}
	f = protocol.Frame{
		Header: append([]byte(nil), f.Header...),
		Body:   append([]byte(nil), f.Body...),
	}
	select {
	case t.peer.inbox <- f:
		return nil
	case <-t.p.done:
		return errors.Wrap(rpcerr.ErrClosed, "pipe send")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *PipeTransport) Recv() <-chan protocol.Frame { return t.recv }

func (t *PipeTransport) Err() error { return nil }

func (t *PipeTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	t.p.close()
	return nil
}
