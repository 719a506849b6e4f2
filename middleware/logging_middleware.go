package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"wsrpc/message"
	"wsrpc/server"
)

// Logging logs every request once its response settles: method, id, duration and, for
// failures, the error code.
func Logging(logger *zerolog.Logger) Middleware {
	log := logger.With().Str("component", "dispatcher").Logger()
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *server.Response {
			start := time.Now()
			return next(ctx, req).Then(func(reply *message.Message) *message.Message {
				event := log.Debug()
				if reply.IsError() {
					event = log.Info().Int("code", reply.ErrorCode)
				}
				event.Str("method", req.Method).
					Str("id", req.IDString()).
					Dur("duration", time.Since(start)).
					Msg("Handled request")
				return reply
			})
		}
	}
}
