package middleware

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"peer-rpc/message"
	"peer-rpc/rpcerr"
)

type handlerResult struct {
	value any
	err   error
}

// TimeOutMiddleware bounds handler execution. The handler keeps running in the
// background after the deadline but its result is discarded.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan handlerResult, 1)
			go func() {
				v, err := next(ctx, req)
				done <- handlerResult{v, err}
			}()

			select {
			case r := <-done:
				return r.value, r.err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return nil, rpcerr.Internal(errors.Wrapf(rpcerr.ErrTimeout, "%s exceeded %s", req, timeout))
				}
				return nil, errors.Wrapf(rpcerr.ErrCancelled, "%s", req)
			}
		}
	}
}
