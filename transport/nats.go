package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"peer-rpc/protocol"
	"peer-rpc/rpcerr"
)

const natsLogPrefix = "transport:nats"

// NATSTransport runs a peer over a pair of NATS subjects. Frames published on
// the remote subject are consumed by the other peer, which in turn publishes to
// our local subject. NATS keeps per-publisher ordering on a subject, which is
// all the peer needs.
//
// The NATS connection belongs to the caller and is not closed by Close.
type NATSTransport struct {
	nc     *nats.Conn
	remote string
	sub    *nats.Subscription
	msgs   chan *nats.Msg
	recv   chan protocol.Frame
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// NewNATSTransport subscribes to local and publishes to remote.
func NewNATSTransport(nc *nats.Conn, local, remote string) (*NATSTransport, error) {
	if local == "" || remote == "" {
		return nil, errors.Wrap(rpcerr.ErrConfiguration, "nats transport: local and remote subjects are required")
	}
	t := &NATSTransport{
		nc:     nc,
		remote: remote,
		msgs:   make(chan *nats.Msg, defaultRecvBuffer),
		recv:   make(chan protocol.Frame),
		done:   make(chan struct{}),
	}
	// the callback blocks instead of dropping; nats queues behind it
	sub, err := nc.Subscribe(local, func(m *nats.Msg) {
		select {
		case t.msgs <- m:
		case <-t.done:
		}
	})
	if err != nil {
		return nil, errors.Wrapf(err, "nats transport: subscribe %s", local)
	}
	// flush so that the subscription is live on the server before we return
	if err := nc.Flush(); err != nil {
		sub.Unsubscribe()
		return nil, errors.Wrap(err, "nats transport: flush")
	}
	t.sub = sub
	go t.pump()
	slog.Info(fmt.Sprintf("%s - subscribed to %s, publishing to %s", natsLogPrefix, local, remote))
	return t, nil
}

// ConnectNATS dials a NATS server for use with NewNATSTransport. onClosed, if
// set, runs when the connection is closed for good.
func ConnectNATS(url, name string, onClosed func()) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn(fmt.Sprintf("%s - disconnected: %v", natsLogPrefix, err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info(fmt.Sprintf("%s - reconnected to %s", natsLogPrefix, nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			slog.Info(fmt.Sprintf("%s - connection closed", natsLogPrefix))
			if onClosed != nil {
				onClosed()
			}
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to NATS at %s", url)
	}
	return nc, nil
}

func (t *NATSTransport) pump() {
	defer close(t.recv)
	for {
		select {
		case m := <-t.msgs:
			f, err := protocol.Unmarshal(m.Data)
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - dropping malformed frame on %s: %v", natsLogPrefix, m.Subject, err))
				continue
			}
			select {
			case t.recv <- f:
			case <-t.done:
				return
			}
		case <-t.done:
			return
		}
	}
}

func (t *NATSTransport) Send(ctx context.Context, f protocol.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-t.done:
		return errors.Wrap(rpcerr.ErrClosed, "nats send")
	default:
	}
	data, err := protocol.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "nats send")
	}
	if limit := t.nc.MaxPayload(); limit > 0 && int64(len(data)) > limit {
		return errors.Wrapf(nats.ErrMaxPayload, "nats send: frame of %d bytes", len(data))
	}
	if err := t.nc.Publish(t.remote, data); err != nil {
		if errors.Is(err, nats.ErrConnectionClosed) {
			t.fail(err)
			return errors.Wrap(rpcerr.ErrClosed, "nats send")
		}
		return errors.Wrapf(err, "nats send to %s", t.remote)
	}
	return nil
}

func (t *NATSTransport) Recv() <-chan protocol.Frame { return t.recv }

func (t *NATSTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Close stops the subscription and ends Recv.
func (t *NATSTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		if !t.nc.IsClosed() {
			err = t.sub.Unsubscribe()
		}
	})
	return err
}

func (t *NATSTransport) fail(err error) {
	t.mu.Lock()
	if t.err == nil {
		t.err = err
	}
	t.mu.Unlock()
	t.Close()
}
