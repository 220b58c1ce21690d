package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"peer-rpc/protocol"
	"peer-rpc/rpcerr"
)

const logPrefix = "transport:conn"

// Options configures a ConnTransport. The zero value disables heartbeats.
type Options struct {
	// Heartbeat is the interval between keep-alive frames. Zero disables them.
	Heartbeat time.Duration
	// RecvBuffer is the number of decoded frames queued ahead of the consumer.
	RecvBuffer int
}

// ConnTransport carries frames over a single stream connection.
//
// One goroutine (recvLoop) owns the read side: a stream must be parsed
// sequentially to find frame boundaries. Writers share the write side under
// a mutex so two frames never interleave.
type ConnTransport struct {
	conn    net.Conn
	sending sync.Mutex
	recv    chan protocol.Frame
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// NewConnTransport wraps conn and starts its reader and, if configured, its
// heartbeat goroutine.
func NewConnTransport(conn net.Conn, opts *Options) *ConnTransport {
	if opts == nil {
		opts = &Options{}
	}
	size := opts.RecvBuffer
	if size <= 0 {
		size = defaultRecvBuffer
	}
	t := &ConnTransport{
		conn: conn,
		recv: make(chan protocol.Frame, size),
		done: make(chan struct{}),
	}
	go t.recvLoop()
	if opts.Heartbeat > 0 {
		go t.heartbeatLoop(opts.Heartbeat)
	}
	return t
}

// Dial connects to addr and returns a transport over the new connection.
func Dial(ctx context.Context, network, addr string, opts *Options) (*ConnTransport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s %s", network, addr)
	}
	return NewConnTransport(conn, opts), nil
}

// Send writes one data frame. A deadline on ctx bounds the write.
func (t *ConnTransport) Send(ctx context.Context, f protocol.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.done:
		return errors.Wrap(rpcerr.ErrClosed, "send")
	default:
	}
	return t.write(ctx, protocol.KindData, f)
}

func (t *ConnTransport) write(ctx context.Context, kind protocol.Kind, f protocol.Frame) error {
	t.sending.Lock()
	defer t.sending.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(dl)
		defer t.conn.SetWriteDeadline(time.Time{})
	}
	if err := protocol.Encode(t.conn, kind, f); err != nil {
		return errors.Wrap(err, "send")
	}
	return nil
}

func (t *ConnTransport) Recv() <-chan protocol.Frame { return t.recv }

func (t *ConnTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close closes the connection. Recv is closed once the reader notices.
func (t *ConnTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

// LocalAddr and RemoteAddr expose the connection endpoints for logging.
func (t *ConnTransport) LocalAddr() net.Addr  { return t.conn.LocalAddr() }
func (t *ConnTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }

func (t *ConnTransport) recvLoop() {
	defer close(t.recv)
	for {
		kind, f, err := protocol.Decode(t.conn)
		if err != nil {
			t.fail(err)
			return
		}
		if kind == protocol.KindHeartbeat {
			continue
		}
		select {
		case t.recv <- f:
		case <-t.done:
			return
		}
	}
}

// fail records why the read side stopped. EOF and local Close are clean ends.
func (t *ConnTransport) fail(err error) {
	select {
	case <-t.done:
		return
	default:
	}
	if !errors.Is(err, io.EOF) {
		slog.Warn(fmt.Sprintf("%s - connection %s lost: %v", logPrefix, t.conn.RemoteAddr(), err))
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
	}
	t.Close()
}

func (t *ConnTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := t.write(context.Background(), protocol.KindHeartbeat, protocol.Frame{}); err != nil {
				slog.Debug(fmt.Sprintf("%s - heartbeat to %s stopped: %v", logPrefix, t.conn.RemoteAddr(), err))
				return
			}
		case <-t.done:
			return
		}
	}
}

// Listener accepts incoming connections as transports.
type Listener struct {
	ln   net.Listener
	opts *Options
}

// Listen announces on the local network address.
func Listen(network, addr string, opts *Options) (*Listener, error) {
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s %s", network, addr)
	}
	slog.Info(fmt.Sprintf("%s - listening on %s", logPrefix, ln.Addr()))
	return &Listener{ln: ln, opts: opts}, nil
}

// Accept waits for the next connection.
func (l *Listener) Accept() (*ConnTransport, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return NewConnTransport(conn, l.opts), nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

func (l *Listener) Close() error { return l.ln.Close() }
