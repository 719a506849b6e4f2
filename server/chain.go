package server

import (
	"context"

	"wsrpc/message"
)

// HandlerFunc processes one decoded message into a response.
type HandlerFunc func(ctx context.Context, req *message.Message) *Response

// Middleware wraps a HandlerFunc.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so that the first one is outermost:
//
//	Chain(A, B, C)(handler) → A(B(C(handler)))
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
