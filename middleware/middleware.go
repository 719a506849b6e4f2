// Package middleware provides dispatcher middlewares: logging, timeouts, rate limiting,
// retries, panic recovery and Prometheus metrics.
//
// A middleware wraps the dispatcher's handler and sees every decoded request together
// with the Response it produced. Responses may still be pending when they come back up
// the chain, so middlewares that need the outcome attach to it with Response.Then.
package middleware

import (
	"wsrpc/server"
)

type HandlerFunc = server.HandlerFunc

type Middleware = server.Middleware

// Chain composes middlewares into one; the first is outermost.
func Chain(middlewares ...Middleware) Middleware {
	return server.Chain(middlewares...)
}
