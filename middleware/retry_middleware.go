package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"wsrpc/message"
	"wsrpc/protocol"
	"wsrpc/server"
)

// Retry re-runs a request whose response settles with one of the retryable codes, up to
// maxRetries times with exponential backoff starting at baseDelay. Without codes, only
// execution timeouts are retried. Only install it in front of idempotent methods.
func Retry(logger *zerolog.Logger, maxRetries int, baseDelay time.Duration, codes ...int) Middleware {
	if len(codes) == 0 {
		codes = []int{protocol.CodeExecutionTimeout}
	}
	retryable := make(map[int]bool, len(codes))
	for _, code := range codes {
		retryable[code] = true
	}

	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *server.Response {
			response := next(ctx, req)
			if maxRetries <= 0 {
				return response
			}

			retried := server.NewDeferred()
			go func() {
				for attempt := 0; ; attempt++ {
					reply, err := response.Await(ctx)
					if err != nil {
						retried.Resolve(protocol.ComposeError(protocol.CodeExecutionFailed, err, req.ID))
						return
					}
					if !retryable[reply.ErrorCode] || attempt >= maxRetries {
						retried.Resolve(reply)
						return
					}

					logger.Info().
						Str("method", req.Method).
						Int("attempt", attempt+1).
						Int("code", reply.ErrorCode).
						Msg("Retrying request")

					select {
					case <-time.After(baseDelay * time.Duration(1<<attempt)):
					case <-ctx.Done():
						retried.Resolve(reply)
						return
					}
					response = next(ctx, req)
				}
			}()
			return retried
		}
	}
}
