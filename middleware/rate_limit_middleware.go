package middleware

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"peer-rpc/message"
	"peer-rpc/rpcerr"
)

// RateLimitMiddleware 创建一个基于令牌桶算法的限流中间件
//
// Rejected requests are answered with an ERROR reply.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.RPCMessage) (any, error) {
			if !limiter.Allow() {
				return nil, rpcerr.Internal(errors.Wrapf(rpcerr.ErrRateLimited, "%s", req.Method))
			}
			return next(ctx, req)
		}
	}
}
