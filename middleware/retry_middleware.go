package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"peer-rpc/message"
	"peer-rpc/rpcerr"
)

// temporary is implemented by errors that are worth another attempt.
type temporary interface {
	Temporary() bool
}

func retryable(err error) bool {
	if errors.Is(err, rpcerr.ErrTimeout) {
		return true
	}
	var t temporary
	return errors.As(err, &t) && t.Temporary()
}

// RetryMiddleware re-runs the handler on timeouts and temporary errors, up to
// maxRetries extra attempts with exponential backoff starting at baseDelay.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) (any, error) {
			result, err := next(ctx, req)
			for i := 0; i < maxRetries && err != nil && retryable(err); i++ {
				slog.Info(fmt.Sprintf("middleware:retry - attempt %d for %s due to error: %v", i+1, req, err))
				select {
				case <-time.After(baseDelay * time.Duration(1<<i)):
				case <-ctx.Done():
					return nil, err
				}
				result, err = next(ctx, req)
			}
			return result, err
		}
	}
}
