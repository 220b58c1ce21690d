package peer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"peer-rpc/codec"
	"peer-rpc/message"
	"peer-rpc/protocol"
	"peer-rpc/rpcerr"
)

const dispatchLogPrefix = "peer:dispatch"

// replyTimeout bounds a single reply write.
const replyTimeout = 30 * time.Second

// recvLoop reads frames until the transport ends. Requests are handed to their
// own goroutines so that a slow handler never blocks replies behind it.
func (p *Peer) recvLoop() {
	for f := range p.tr.Recv() {
		p.handleFrame(f)
	}
	cause := rpcerr.ErrClosed
	if err := p.tr.Err(); err != nil {
		slog.Warn(fmt.Sprintf("%s - transport failed: %v", dispatchLogPrefix, err))
		cause = errors.Wrap(rpcerr.ErrClosed, err.Error())
	}
	p.cancel()
	p.finish(cause)
}

func (p *Peer) handleFrame(f protocol.Frame) {
	h, err := codec.DecodeHeader(f.Header)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - dropping frame with bad header: %v", dispatchLogPrefix, err))
		return
	}
	msg, err := p.wire.DecodeBody(h, f.Body)
	if err != nil {
		if h.Type.IsRequest() {
			req := &message.RPCMessage{Type: h.Type, Method: h.Method, OrderKey: h.OrderKey, SeqID: h.SeqID}
			go p.reply(req, message.Error(req, rpcerr.Internal(err)), h.Zip)
			return
		}
		if h.Type.IsReply() && p.tracker.Fail(h.ID(), decodeError(h, err)) {
			slog.Warn(fmt.Sprintf("%s - undecodable %s for %s: %v", dispatchLogPrefix, h.Type, h.ID(), err))
			return
		}
		slog.Warn(fmt.Sprintf("%s - dropping undecodable %s %s: %v", dispatchLogPrefix, h.Type, h.ID(), err))
		return
	}

	switch {
	case msg.Type.IsRequest():
		p.serve(msg, h.Zip)
	case msg.Type.IsReply():
		if !p.tracker.Resolve(msg) {
			slog.Warn(fmt.Sprintf("%s - dropping %s for unknown request %s", dispatchLogPrefix, msg.Type, msg.ID()))
		}
	case msg.Type == message.TypeCancel:
		p.cancelInflight(msg.ID())
	}
}

// decodeError is what the caller of a request sees when its reply cannot be
// decoded. Configuration errors keep their kind.
func decodeError(h codec.Header, err error) error {
	if errors.Is(err, rpcerr.ErrConfiguration) || errors.Is(err, rpcerr.ErrProtocol) {
		return errors.Wrapf(err, "decode %s %s", h.Type, h.ID())
	}
	return errors.Wrapf(rpcerr.ErrProtocol, "decode %s %s: %v", h.Type, h.ID(), err)
}

// serve runs the handler for one request and replies with its outcome.
func (p *Peer) serve(req *message.RPCMessage, zip bool) {
	handler, ok := p.lookup(req.Type, req.Method)
	if !ok {
		kind := "function"
		if req.Type == message.TypeStream {
			kind = "stream"
		}
		go p.reply(req, message.Error(req, rpcerr.HandlerNotFound(kind, req.Method)), zip)
		return
	}

	id := req.ID()
	ctx, cancel := context.WithCancel(p.ctx)
	entry := &inflight{cancel: cancel}

	p.inflightMu.Lock()
	if p.shutdown {
		p.inflightMu.Unlock()
		cancel()
		go p.reply(req, message.Error(req, rpcerr.Internal(errors.Wrap(rpcerr.ErrClosed, "peer is shutting down"))), zip)
		return
	}
	p.inflight[id] = entry
	p.wg.Add(1)
	p.inflightMu.Unlock()

	go func() {
		defer p.wg.Done()
		defer func() {
			p.inflightMu.Lock()
			if p.inflight[id] == entry {
				delete(p.inflight, id)
			}
			p.inflightMu.Unlock()
			cancel()
		}()

		if err := p.inbound.Acquire(ctx, 1); err != nil {
			slog.Debug(fmt.Sprintf("%s - %s cancelled before it started", dispatchLogPrefix, req))
			return
		}
		defer p.inbound.Release(1)

		v, err := handler(ctx, req)
		if entry.cancelled.Load() {
			slog.Debug(fmt.Sprintf("%s - %s cancelled by caller, not replying", dispatchLogPrefix, req))
			return
		}

		var reply *message.RPCMessage
		switch {
		case err == nil:
			reply = message.Result(req, v)
		case rpcerr.IsInternal(err):
			reply = message.Error(req, err)
		default:
			reply = message.Failure(req, err)
		}
		p.reply(req, reply, zip)
	}()
}

// reply sends msg. If that fails for a RESULT or FAILURE, an ERROR reply
// describing the fault is tried instead; after that the reply is dropped.
func (p *Peer) reply(req, msg *message.RPCMessage, zip bool) {
	compress := zip || p.opts.Compress
	ctx, cancel := context.WithTimeout(context.Background(), replyTimeout)
	defer cancel()

	err := p.send(ctx, msg, compress)
	if err == nil {
		return
	}
	if msg.Type != message.TypeError && !errors.Is(err, rpcerr.ErrClosed) {
		slog.Warn(fmt.Sprintf("%s - %s reply to %s failed, sending error: %v", dispatchLogPrefix, msg.Type, req, err))
		err = p.send(ctx, message.Error(req, rpcerr.Internal(err)), compress)
		if err == nil {
			return
		}
	}
	slog.Error(fmt.Sprintf("%s - dropping reply to %s: %v", dispatchLogPrefix, req, err))
}

// cancelInflight cancels the handler context of an inbound request. Unknown
// ids are ignored; the handler may already have finished.
func (p *Peer) cancelInflight(id message.RequestID) {
	p.inflightMu.Lock()
	entry := p.inflight[id]
	p.inflightMu.Unlock()
	if entry == nil {
		slog.Debug(fmt.Sprintf("%s - cancel for %s: nothing in flight", dispatchLogPrefix, id))
		return
	}
	entry.cancelled.Store(true)
	entry.cancel()
}
