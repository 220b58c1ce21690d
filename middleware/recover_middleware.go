package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/pkg/errors"

	"peer-rpc/message"
	"peer-rpc/rpcerr"
)

// RecoverMiddleware turns a handler panic into an error reply named
// "Panic" whose traceback is the panicking goroutine's stack.
func RecoverMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) (result any, err error) {
			defer func() {
				if x := recover(); x != nil {
					stack := debug.Stack()
					slog.Error(fmt.Sprintf("middleware:recover - run time panic in %s: %v", req, x))
					slog.Error(string(stack))
					result = nil
					err = rpcerr.Named("Panic", errors.Errorf("panic: %v\n%s", x, stack))
				}
			}()
			return next(ctx, req)
		}
	}
}
