package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"peer-rpc/message"
)

const logPrefix = "middleware:logging"

func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) (any, error) {
			start := time.Now()
			result, err := next(ctx, req)
			duration := time.Since(start)
			if err != nil {
				slog.Warn(fmt.Sprintf("%s - %s failed after %s: %v", logPrefix, req, duration, err))
				return result, err
			}
			slog.Debug(fmt.Sprintf("%s - %s served in %s", logPrefix, req, duration))
			return result, nil
		}
	}
}
