// Package peer runs the RPC protocol over one transport.
//
// A Peer is symmetric: it both serves inbound FUNCTION and STREAM requests
// from its handler registries and issues outbound calls whose replies are
// matched by the request tracker.
//
//	transport.Recv ──► recvLoop ──┬─ FUNCTION/STREAM ──► go serve ──► handler ──► RESULT|FAILURE|ERROR
//	                              ├─ RESULT/FAILURE/ERROR ──► tracker.Resolve ──► waiting Invoke
//	                              └─ CANCEL ──► cancel in-flight handler context
package peer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"peer-rpc/codec"
	"peer-rpc/message"
	"peer-rpc/middleware"
	"peer-rpc/rpcerr"
	"peer-rpc/tracker"
	"peer-rpc/transport"
)

const logPrefix = "peer:peer"

// inflight is an inbound request whose handler is running.
type inflight struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool // set when the remote side sent CANCEL
}

// Peer is one side of an RPC session.
type Peer struct {
	tr      transport.Transport
	opts    Options
	wire    *codec.Wire
	tracker *tracker.Tracker

	outbound *semaphore.Weighted
	inbound  *semaphore.Weighted
	seq      atomic.Uint64

	mu        sync.RWMutex
	functions map[string]middleware.HandlerFunc
	streams   map[string]middleware.HandlerFunc
	chain     middleware.Middleware

	inflightMu sync.Mutex
	inflight   map[message.RequestID]*inflight
	wg         sync.WaitGroup // running handlers
	shutdown   bool           // protected by inflightMu

	ctx     context.Context // parent of handler contexts
	cancel  context.CancelFunc
	started atomic.Bool
	closed  atomic.Bool
	done    chan struct{}
	once    sync.Once
}

// New creates a peer over tr. Handlers may be registered before or after
// Start.
func New(tr transport.Transport, opts *Options) *Peer {
	o := opts.withDefaults()
	p := &Peer{
		tr:   tr,
		opts: o,
		wire: &codec.Wire{
			Serialize:   o.Serializer,
			Deserialize: o.Deserializer,
			Compressor:  o.Compressor,
		},
		outbound:  semaphore.NewWeighted(int64(o.MaxConcurrency)),
		inbound:   semaphore.NewWeighted(int64(o.MaxConcurrency)),
		functions: make(map[string]middleware.HandlerFunc),
		streams:   make(map[string]middleware.HandlerFunc),
		chain:     middleware.Chain(o.Middlewares...),
		inflight:  make(map[message.RequestID]*inflight),
		done:      make(chan struct{}),
	}
	p.tracker = tracker.New(p.emitCancel)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p
}

// HandleFunction registers h for FUNCTION requests to name. It replaces any
// function handler and removes any stream handler under the same name.
func (p *Peer) HandleFunction(name string, h middleware.HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.streams, name)
	p.functions[name] = h
}

// HandleStream registers h for STREAM requests to name. It replaces any
// stream handler and removes any function handler under the same name.
func (p *Peer) HandleStream(name string, h middleware.HandlerFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.functions, name)
	p.streams[name] = h
}

// Handlers lists the registered function and stream names.
func (p *Peer) Handlers() (functions, streams []string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for name := range p.functions {
		functions = append(functions, name)
	}
	for name := range p.streams {
		streams = append(streams, name)
	}
	return functions, streams
}

func (p *Peer) lookup(t message.RPCMessageType, name string) (middleware.HandlerFunc, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var h middleware.HandlerFunc
	if t == message.TypeStream {
		h = p.streams[name]
	} else {
		h = p.functions[name]
	}
	if h == nil {
		return nil, false
	}
	// Recover sits innermost so that a panic is caught on the goroutine that
	// runs the handler, even under TimeOutMiddleware.
	return p.chain(middleware.RecoverMiddleware()(h)), true
}

// Start launches the receive loop. Handler contexts derive from ctx.
func (p *Peer) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("peer already started")
	}
	context.AfterFunc(ctx, p.cancel)
	go p.recvLoop()
	return nil
}

// Done is closed once the peer has stopped and every pending call failed.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Err reports why the underlying transport ended, if it failed.
func (p *Peer) Err() error { return p.tr.Err() }

// Pending returns the number of outbound calls awaiting a reply.
func (p *Peer) Pending() int { return p.tracker.Len() }

// Shutdown stops serving new requests, waits up to timeout for running
// handlers, then cancels the stragglers and closes the transport. Pending
// outbound calls fail with rpcerr.ErrClosed.
func (p *Peer) Shutdown(timeout time.Duration) error {
	p.inflightMu.Lock()
	p.shutdown = true
	p.inflightMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
		p.cancel()
	}

	p.tr.Close()
	p.finish(rpcerr.ErrClosed)
	return err
}

// Close is Shutdown without waiting for handlers.
func (p *Peer) Close() error {
	p.cancel()
	err := p.tr.Close()
	p.finish(rpcerr.ErrClosed)
	return err
}

// finish fails every pending call and closes Done. Safe to call repeatedly.
func (p *Peer) finish(cause error) {
	p.once.Do(func() {
		p.closed.Store(true)
		if n := p.tracker.FailAll(errors.Wrap(cause, "peer stopped")); n > 0 {
			slog.Info(fmt.Sprintf("%s - failed %d pending calls: %v", logPrefix, n, cause))
		}
		close(p.done)
	})
}

// send encodes and writes one message.
func (p *Peer) send(ctx context.Context, msg *message.RPCMessage, compress bool) error {
	f, err := p.wire.Encode(msg, compress)
	if err != nil {
		return err
	}
	return p.tr.Send(ctx, f)
}

// emitCancel tells the remote side to abandon id. Best effort: the local
// outcome is already settled.
func (p *Peer) emitCancel(id message.RequestID) {
	if p.closed.Load() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.send(ctx, message.CancelID(id), false); err != nil {
			slog.Debug(fmt.Sprintf("%s - cancel for %s not delivered: %v", logPrefix, id, err))
		}
	}()
}
