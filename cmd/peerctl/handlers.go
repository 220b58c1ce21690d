package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"peer-rpc/message"
	"peer-rpc/peer"
)

// ValueError is reported to callers as a FAILURE named "ValueError".
type ValueError struct{ msg string }

func (e *ValueError) Error() string { return e.msg }

type Args struct {
	A, B float64
}

type Reply struct {
	Result float64
}

// Arith is exposed as Arith.Add, Arith.Multiply and Arith.Divide.
type Arith struct{}

func (a *Arith) Add(ctx context.Context, args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Multiply(ctx context.Context, args *Args, reply *Reply) error {
	reply.Result = args.A * args.B
	return nil
}

func (a *Arith) Divide(ctx context.Context, args *Args, reply *Reply) error {
	if args.B == 0 {
		return &ValueError{msg: "divide by zero"}
	}
	reply.Result = args.A / args.B
	return nil
}

func echo(ctx context.Context, req *message.RPCMessage) (any, error) {
	return req.Body, nil
}

// add sums a JSON array of numbers.
func add(ctx context.Context, req *message.RPCMessage) (any, error) {
	xs, ok := req.Body.([]any)
	if !ok {
		return nil, &ValueError{msg: fmt.Sprintf("add expects a list of numbers, got %T", req.Body)}
	}
	var sum float64
	for _, x := range xs {
		f, ok := x.(float64)
		if !ok {
			return nil, &ValueError{msg: fmt.Sprintf("add expects numbers, got %T", x)}
		}
		sum += f
	}
	return sum, nil
}

// stat answers a STREAM request with what arrived.
func stat(ctx context.Context, req *message.RPCMessage) (any, error) {
	md, ok := req.Metadata.(message.StreamMetadata)
	if !ok {
		return nil, errors.Errorf("unexpected metadata %T", req.Metadata)
	}
	chunk, _ := req.Body.([]byte)
	return map[string]any{"resource": md.ResourceName, "length": md.Length, "received": len(chunk)}, nil
}

func installHandlers(p *peer.Peer) error {
	p.HandleFunction("echo", echo)
	p.HandleFunction("add", add)
	p.HandleStream("stat", stat)
	return p.Register(&Arith{})
}
