// Package client issues calls over one connection and matches responses to them.
//
// Many calls share the connection concurrently. Each gets a unique id and a pending
// entry, registered before the request is sent; the single incoming handler routes each
// response to its call by id, in whatever order the responses arrive:
//
//	goroutine-1 ──Go(id=1)──┐
//	goroutine-2 ──Go(id=2)──┼──→ one connection ──→ peer
//	goroutine-3 ──Go(id=3)──┘
//
//	OnMessage: ←── response(id=2) → pending[2] → call 2 settles
package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nuclio/errors"
	"github.com/rs/zerolog"

	"wsrpc/codec"
	"wsrpc/logger"
	"wsrpc/message"
	"wsrpc/protocol"
	"wsrpc/transport"
)

// Client correlates calls and responses on one transport connection.
type Client struct {
	conn        transport.Conn
	codec       codec.Codec
	logger      zerolog.Logger
	callTimeout time.Duration
	onFault     func(error)

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[message.ID]*Call
	closed  bool
}

// Option configures a Client.
type Option func(*Client)

func WithCodec(c codec.Codec) Option {
	return func(client *Client) {
		client.codec = c
	}
}

func WithLogger(l *zerolog.Logger) Option {
	return func(client *Client) {
		client.logger = l.With().Str("component", "client").Logger()
	}
}

// WithCallTimeout bounds every call by d; 0 means calls wait until the connection closes.
func WithCallTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.callTimeout = d
	}
}

// WithFaultHandler receives every incoming message that could not be correlated.
func WithFaultHandler(handler func(error)) Option {
	return func(client *Client) {
		client.onFault = handler
	}
}

// New attaches a client to conn. It registers one message handler and one close handler.
func New(conn transport.Conn, options ...Option) *Client {
	c := &Client{
		conn:    conn,
		codec:   codec.Get(codec.TypeJSON),
		logger:  *logger.WithComponent("client"),
		pending: map[message.ID]*Call{},
	}
	for _, option := range options {
		option(c)
	}
	c.logger = c.logger.With().Str("conn", conn.ID()).Logger()

	conn.OnMessage(c.handleMessage)
	conn.OnClose(func(err error) {
		if err != nil {
			c.logger.Warn().Err(err).Msg("Connection lost")
		}
		c.sweep()
	})
	return c
}

// Go issues a call and returns without waiting for the response. The call is bounded by
// ctx's deadline and by the client's call timeout, whichever comes first.
func (c *Client) Go(ctx context.Context, method string, args ...any) *Call {
	call := newCall(method, args)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		call.finish(nil, ErrConnectionClosed)
		return call
	}
	id := message.NumberID(int64(c.nextID.Add(1)))
	call.ID = id
	c.pending[*id] = call
	c.mu.Unlock()

	data, err := c.codec.Encode(protocol.ComposeExecution(method, id, args))
	if err != nil {
		c.reject(id, errors.Wrapf(err, "Failed to encode call to %s", method))
		return call
	}
	if err := c.conn.Send(data); err != nil {
		c.reject(id, errors.Wrapf(err, "Failed to send call to %s", method))
		return call
	}

	c.watch(ctx, call)
	return call
}

// Call issues a call and waits for its result.
func (c *Client) Call(ctx context.Context, method string, args ...any) (any, error) {
	return c.Go(ctx, method, args...).Wait(ctx)
}

// Notify sends a request without an id. No response is expected and none is tracked.
func (c *Client) Notify(method string, args ...any) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrConnectionClosed
	}

	data, err := c.codec.Encode(protocol.ComposeExecution(method, nil, args))
	if err != nil {
		return errors.Wrapf(err, "Failed to encode notification %s", method)
	}
	if err := c.conn.Send(data); err != nil {
		return errors.Wrapf(err, "Failed to send notification %s", method)
	}
	return nil
}

// Pending returns the number of calls awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close rejects every pending call with ErrConnectionClosed and closes the connection.
func (c *Client) Close() error {
	c.sweep()
	return c.conn.Close()
}

// Conn returns the underlying connection.
func (c *Client) Conn() transport.Conn {
	return c.conn
}

func (c *Client) watch(ctx context.Context, call *Call) {
	if c.callTimeout > 0 {
		timeoutCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		go func() {
			defer cancel()
			c.expire(timeoutCtx, call)
		}()
		return
	}
	if ctx.Done() != nil {
		go c.expire(ctx, call)
	}
}

// expire rejects call when ctx ends before the call settles.
func (c *Client) expire(ctx context.Context, call *Call) {
	select {
	case <-call.done:
	case <-ctx.Done():
		err := ctx.Err()
		if err == context.DeadlineExceeded {
			err = ErrCallTimeout
		}
		c.reject(call.ID, err)
	}
}

// take removes and returns the pending call for id; only one caller gets it.
func (c *Client) take(id message.ID) (*Call, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, found := c.pending[id]
	if found {
		delete(c.pending, id)
	}
	return call, found
}

func (c *Client) reject(id *message.ID, err error) {
	if call, found := c.take(*id); found {
		call.finish(nil, err)
	}
}

func (c *Client) handleMessage(data []byte) {
	msg, err := c.codec.Decode(data)
	if err != nil {
		c.fault(&CorrelationError{Reason: ReasonUndecodable, Err: err})
		return
	}

	switch {
	case msg.Kind() == message.KindRequest:
		c.fault(&CorrelationError{Reason: ReasonUnexpectedRequest, Message: msg})
		return
	case msg.ID == nil:
		c.fault(&CorrelationError{Reason: ReasonMissingID, Message: msg})
		return
	}

	call, found := c.take(*msg.ID)
	if !found {
		c.fault(&CorrelationError{Reason: ReasonUnknownID, Message: msg})
		return
	}

	if msg.IsError() {
		call.finish(nil, newRemoteError(msg))
		return
	}
	call.finish(msg.Result, nil)
}

func (c *Client) fault(err *CorrelationError) {
	c.logger.Error().Err(err).Str("reason", err.Reason).Msg("Dropping uncorrelated message")
	if c.onFault != nil {
		c.onFault(err)
	}
}

// sweep marks the client closed and rejects everything pending.
func (c *Client) sweep() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pending := c.pending
	c.pending = map[message.ID]*Call{}
	c.mu.Unlock()

	for _, call := range pending {
		call.finish(nil, ErrConnectionClosed)
	}
	if len(pending) > 0 {
		c.logger.Debug().Int("calls", len(pending)).Msg("Rejected pending calls on close")
	}
}
