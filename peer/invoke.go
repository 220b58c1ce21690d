package peer

import (
	"context"

	"github.com/pkg/errors"

	"peer-rpc/message"
	"peer-rpc/rpcerr"
)

// Invoke calls the remote function method with body and waits for its
// result. Errors match rpcerr.ErrTimeout, rpcerr.ErrCancelled,
// rpcerr.ErrRemoteFailure, rpcerr.ErrProtocol or rpcerr.ErrClosed.
func (p *Peer) Invoke(ctx context.Context, method string, body any, opts ...CallOption) (any, error) {
	return p.call(ctx, message.TypeFunction, method, message.FunctionMetadata{}, body, opts)
}

// InvokeStream sends one raw chunk to the remote stream handler method and
// waits for its result.
func (p *Peer) InvokeStream(ctx context.Context, method string, md message.StreamMetadata, chunk []byte, opts ...CallOption) (any, error) {
	return p.call(ctx, message.TypeStream, method, md, chunk, opts)
}

func (p *Peer) call(ctx context.Context, t message.RPCMessageType, method string, md message.Metadata, body any, opts []CallOption) (any, error) {
	co := callOptions{execTimeout: p.opts.ExecTimeout, compress: p.opts.Compress}
	for _, opt := range opts {
		opt(&co)
	}
	if p.closed.Load() {
		return nil, errors.Wrapf(rpcerr.ErrClosed, "invoke %s", method)
	}

	if err := p.acquire(ctx, method); err != nil {
		return nil, err
	}
	defer p.outbound.Release(1)

	req := &message.RPCMessage{
		Type:     t,
		Method:   method,
		OrderKey: co.orderKey,
		SeqID:    p.seq.Add(1),
		Metadata: md,
		Body:     body,
	}
	f, err := p.wire.Encode(req, co.compress)
	if err != nil {
		if !errors.Is(err, rpcerr.ErrMetadataMismatch) && !errors.Is(err, rpcerr.ErrConfiguration) && !errors.Is(err, rpcerr.ErrProtocol) {
			err = errors.Wrapf(rpcerr.ErrProtocol, "encode %s: %v", req, err)
		}
		return nil, err
	}

	// register before sending so that a fast reply always finds its entry
	call, err := p.tracker.Register(req.ID(), co.execTimeout)
	if err != nil {
		return nil, err
	}
	if p.closed.Load() {
		p.tracker.Fail(req.ID(), errors.Wrapf(rpcerr.ErrClosed, "invoke %s", req))
	} else if err := p.tr.Send(ctx, f); err != nil {
		if !errors.Is(err, rpcerr.ErrClosed) {
			err = errors.Wrapf(rpcerr.ErrProtocol, "send %s: %v", req, err)
		}
		p.tracker.Fail(req.ID(), err)
	}
	return call.Wait(ctx)
}

// acquire takes one outbound slot, waiting at most InvokeTimeout.
func (p *Peer) acquire(ctx context.Context, method string) error {
	actx := ctx
	if p.opts.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, p.opts.InvokeTimeout)
		defer cancel()
	}
	if err := p.outbound.Acquire(actx, 1); err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.Wrapf(rpcerr.ErrCancelled, "invoke %s: %v", method, ctx.Err())
		}
		return errors.Wrapf(rpcerr.ErrTimeout, "invoke %s: no free slot: %v", method, err)
	}
	return nil
}
