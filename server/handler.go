package server

import (
	"context"
)

// Reply is what a handler produces: either a value that is ready now, or a
// computation the dispatcher runs on its worker pool and settles later.
type Reply struct {
	value    any
	deferred func(ctx context.Context) (any, error)
}

// Immediate wraps a ready value.
func Immediate(value any) Reply {
	return Reply{value: value}
}

// Deferred wraps a computation whose result is sent once it completes.
func Deferred(compute func(ctx context.Context) (any, error)) Reply {
	return Reply{deferred: compute}
}

func (r Reply) IsDeferred() bool {
	return r.deferred != nil
}

// Value returns the immediate value; it is nil for deferred replies.
func (r Reply) Value() any {
	return r.value
}

// Handler serves one method. args are already coerced when the method declares a signature.
type Handler func(ctx context.Context, args []any) (Reply, error)

// Func adapts a synchronous function.
func Func(fn func(ctx context.Context, args []any) (any, error)) Handler {
	return func(ctx context.Context, args []any) (Reply, error) {
		value, err := fn(ctx, args)
		if err != nil {
			return Reply{}, err
		}
		return Immediate(value), nil
	}
}

// Async adapts a function that should run off the connection's path; its result is
// delivered as a deferred reply.
func Async(fn func(ctx context.Context, args []any) (any, error)) Handler {
	return func(ctx context.Context, args []any) (Reply, error) {
		return Deferred(func(ctx context.Context) (any, error) {
			return fn(ctx, args)
		}), nil
	}
}
