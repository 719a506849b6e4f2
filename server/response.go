package server

import (
	"context"
	"sync"

	"wsrpc/message"
)

// Response is the outcome of processing one message. It is either settled from the start
// or deferred until a handler's computation completes; either way it settles exactly once
// to a well-formed message.
type Response struct {
	done         chan struct{}
	once         sync.Once
	msg          *message.Message
	deferred     bool
	notification bool
}

// Settled returns a response that is already complete.
func Settled(msg *message.Message) *Response {
	r := &Response{done: make(chan struct{}), msg: msg}
	close(r.done)
	return r
}

// NewDeferred returns a response that completes on the first call to Resolve.
func NewDeferred() *Response {
	return &Response{done: make(chan struct{}), deferred: true}
}

// Resolve settles a deferred response. Only the first call has an effect; it reports
// whether this call was the one that settled it.
func (r *Response) Resolve(msg *message.Message) bool {
	resolved := false
	r.once.Do(func() {
		if r.msg == nil {
			r.msg = msg
			resolved = true
			close(r.done)
		}
	})
	return resolved
}

func (r *Response) IsDeferred() bool {
	return r.deferred
}

// Notification reports whether the request carried no id, in which case nothing is sent back.
func (r *Response) Notification() bool {
	return r.notification
}

func (r *Response) Ready() <-chan struct{} {
	return r.done
}

// Message returns the settled message, or nil while the response is still pending.
func (r *Response) Message() *message.Message {
	select {
	case <-r.done:
		return r.msg
	default:
		return nil
	}
}

// Await blocks until the response settles or ctx is done.
func (r *Response) Await(ctx context.Context) (*message.Message, error) {
	select {
	case <-r.done:
		return r.msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then returns a response settling to transform applied to r's message. A settled
// response transforms synchronously; a deferred one transforms when it settles.
func (r *Response) Then(transform func(*message.Message) *message.Message) *Response {
	if !r.deferred {
		next := Settled(transform(r.msg))
		next.notification = r.notification
		return next
	}

	next := NewDeferred()
	next.notification = r.notification
	go func() {
		<-r.done
		next.Resolve(transform(r.msg))
	}()
	return next
}
