package middleware

import (
	"context"
	"fmt"
	"time"

	"wsrpc/message"
	"wsrpc/protocol"
	"wsrpc/server"
)

// Timeout bounds the time a request may take. The handler runs with a context deadline;
// a response that has not settled by then is replaced by an execution timeout error.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *server.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)

			timed := server.NewDeferred()
			responses := make(chan *server.Response, 1)
			go func() {
				responses <- next(ctx, req)
			}()

			go func() {
				defer cancel()
				select {
				case response := <-responses:
					select {
					case <-response.Ready():
						timed.Resolve(response.Message())
						return
					case <-ctx.Done():
					}
				case <-ctx.Done():
				}

				fault := protocol.NewFault(protocol.CodeExecutionTimeout, protocol.FaultTimeout,
					fmt.Sprintf("%s did not complete within %s", req.Method, timeout))
				timed.Resolve(protocol.ComposeError(protocol.CodeExecutionTimeout, fault, req.ID))
			}()
			return timed
		}
	}
}
