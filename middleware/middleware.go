// Package middleware wraps inbound request handlers.
//
// Middlewares compose in onion order: the first one passed to Chain is the
// outermost and sees the request first and the result last.
package middleware

import (
	"context"

	"peer-rpc/message"
)

// HandlerFunc serves one inbound FUNCTION or STREAM request. The returned
// value becomes the RESULT body; an error becomes a FAILURE reply, or an ERROR
// reply when rpcerr.IsInternal reports it.
type HandlerFunc func(ctx context.Context, req *message.RPCMessage) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain 将多个中间件组合成一个中间件
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
