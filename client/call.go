package client

import (
	"context"
	"sync"

	"github.com/goccy/go-json"
	"github.com/nuclio/errors"

	"wsrpc/message"
)

// Call is an in-flight invocation. It settles exactly once, with the remote result or
// an error.
type Call struct {
	ID     *message.ID
	Method string
	Args   []any

	done   chan struct{}
	once   sync.Once
	result any
	err    error
}

func newCall(method string, args []any) *Call {
	return &Call{
		Method: method,
		Args:   args,
		done:   make(chan struct{}),
	}
}

// finish settles the call; only the first call has an effect.
func (call *Call) finish(result any, err error) {
	call.once.Do(func() {
		call.result = result
		call.err = err
		close(call.done)
	})
}

// Done is closed once the call settles.
func (call *Call) Done() <-chan struct{} {
	return call.done
}

// Wait blocks until the call settles or ctx is done. Giving up on the wait does not
// cancel the call.
func (call *Call) Wait(ctx context.Context) (any, error) {
	select {
	case <-call.done:
		return call.result, call.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the result of a settled call, or nil.
func (call *Call) Result() any {
	select {
	case <-call.done:
		return call.result
	default:
		return nil
	}
}

// Err returns the rejection of a settled call, or nil.
func (call *Call) Err() error {
	select {
	case <-call.done:
		return call.err
	default:
		return nil
	}
}

// Decode waits for the call and fills out from the result's JSON form.
func (call *Call) Decode(ctx context.Context, out any) error {
	result, err := call.Wait(ctx)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "Failed to encode result")
	}
	if err := json.Unmarshal(encoded, out); err != nil {
		return errors.Wrapf(err, "Failed to decode result of %s", call.Method)
	}
	return nil
}
