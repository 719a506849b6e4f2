package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"wsrpc/message"
	"wsrpc/protocol"
	"wsrpc/server"
)

// Recover turns a panic raised by an inner middleware into an execution failure.
// Handler panics are already recovered by the dispatcher itself.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) (response *server.Response) {
			defer func() {
				if recovered := recover(); recovered != nil {
					fault := protocol.NewFault(protocol.CodeExecutionFailed, protocol.FaultPanic, fmt.Sprint(recovered))
					fault.Trace = string(debug.Stack())
					response = server.Settled(protocol.ComposeError(protocol.CodeExecutionFailed, fault, req.ID))
				}
			}()
			return next(ctx, req)
		}
	}
}
