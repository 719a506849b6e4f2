package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"wsrpc/message"
	"wsrpc/protocol"
	"wsrpc/server"
)

// RateLimit admits r requests per second with bursts of up to burst (token bucket).
// Rejected requests get a rate-limit error without reaching the handler.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *server.Response {
			if !limiter.Allow() {
				return server.Settled(protocol.ComposeError(protocol.CodeRateLimited, nil, req.ID))
			}
			return next(ctx, req)
		}
	}
}
