package server

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"wsrpc/codec"
	"wsrpc/coerce"
	"wsrpc/logger"
	"wsrpc/message"
	"wsrpc/protocol"
)

// Dispatcher turns raw incoming messages into responses: decode, validate, look up the
// method, coerce arguments, invoke, and build the result or error message. Every path out
// of Process is a well-formed message; handler errors and panics never escape it.
//
//	raw → Decode → middleware chain → lookup → coerce → handler → Response
type Dispatcher struct {
	methods map[string]Registration
	builder *protocol.Builder
	codec   codec.Codec
	logger  zerolog.Logger
	pool    *ants.Pool

	chainMu     sync.RWMutex
	middlewares []Middleware
	handler     HandlerFunc
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCatalog resolves error texts from catalog instead of the default catalog.
func WithCatalog(catalog *protocol.Catalog) Option {
	return func(d *Dispatcher) {
		d.builder = protocol.NewBuilder(catalog)
	}
}

func WithCodec(c codec.Codec) Option {
	return func(d *Dispatcher) {
		d.codec = c
	}
}

func WithLogger(l *zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l.With().Str("component", "dispatcher").Logger()
	}
}

// WithPool runs deferred replies on pool. Without one, each deferred reply gets a goroutine.
func WithPool(pool *ants.Pool) Option {
	return func(d *Dispatcher) {
		d.pool = pool
	}
}

func WithMiddleware(middlewares ...Middleware) Option {
	return func(d *Dispatcher) {
		d.middlewares = append(d.middlewares, middlewares...)
	}
}

// NewDispatcher builds a dispatcher over a fixed set of methods. Duplicate names are rejected.
func NewDispatcher(registrations []Registration, options ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		methods: make(map[string]Registration, len(registrations)),
		builder: protocol.NewBuilder(nil),
		codec:   codec.Get(codec.TypeJSON),
		logger:  *logger.WithComponent("dispatcher"),
	}
	for _, option := range options {
		option(d)
	}

	for _, registration := range registrations {
		if registration.Name == "" || registration.Handler == nil {
			return nil, fmt.Errorf("rpc: registration %q is incomplete", registration.Name)
		}
		if _, exists := d.methods[registration.Name]; exists {
			return nil, fmt.Errorf("rpc: method %q registered twice", registration.Name)
		}
		d.methods[registration.Name] = registration
	}

	d.rebuild()
	return d, nil
}

// Use appends a middleware. The chain is rebuilt once per call, not per request.
func (d *Dispatcher) Use(mw Middleware) {
	d.chainMu.Lock()
	d.middlewares = append(d.middlewares, mw)
	d.chainMu.Unlock()
	d.rebuild()
}

func (d *Dispatcher) rebuild() {
	d.chainMu.Lock()
	defer d.chainMu.Unlock()
	d.handler = Chain(d.middlewares...)(d.invoke)
}

// Codec returns the codec used to decode requests; responses are encoded with it too.
func (d *Dispatcher) Codec() codec.Codec {
	return d.codec
}

// Builder returns the message builder, so middleware composes errors from the same catalog.
func (d *Dispatcher) Builder() *protocol.Builder {
	return d.builder
}

// Methods returns the registered method names in sorted order.
func (d *Dispatcher) Methods() []string {
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Process decodes raw and dispatches it. A message that cannot be decoded yields a
// malformed-message error with no id.
func (d *Dispatcher) Process(ctx context.Context, raw []byte) *Response {
	msg, err := d.codec.Decode(raw)
	if err != nil {
		d.logger.Debug().Err(err).Msg("Dropping malformed message")
		return Settled(d.builder.ComposeError(protocol.CodeMalformedMessage, err, nil))
	}
	return d.ProcessMessage(ctx, msg)
}

// ProcessMessage dispatches an already decoded message.
func (d *Dispatcher) ProcessMessage(ctx context.Context, msg *message.Message) *Response {
	d.chainMu.RLock()
	handler := d.handler
	d.chainMu.RUnlock()

	response := handler(ctx, msg)
	if response == nil {
		response = Settled(d.builder.ComposeError(protocol.CodeExecutionFailed, nil, msg.ID))
	}
	response.notification = msg.Kind() == message.KindRequest && !msg.HasID()
	return response
}

// invoke is the innermost handler of the chain.
func (d *Dispatcher) invoke(ctx context.Context, msg *message.Message) *Response {
	if msg.Method == "" {
		return Settled(d.builder.ComposeError(protocol.CodeMissingMethod, nil, msg.ID))
	}

	registration, found := d.methods[msg.Method]
	if !found {
		return Settled(d.builder.ComposeError(protocol.CodeUnknownMethod, nil, msg.ID))
	}

	args := msg.GetArgs()
	if registration.HasSignature {
		coerced, err := coerce.Coerce(args, registration.Signature)
		if err != nil {
			return Settled(d.fail(msg, err))
		}
		args = coerced
	}

	reply, err := d.call(ctx, registration.Handler, args)
	if err != nil {
		return Settled(d.fail(msg, err))
	}
	if !reply.IsDeferred() {
		return Settled(d.builder.ComposeResult(reply.value, msg.ID))
	}

	response := NewDeferred()
	d.submit(func() {
		value, err := d.compute(ctx, reply.deferred)
		if err != nil {
			response.Resolve(d.fail(msg, err))
			return
		}
		response.Resolve(d.builder.ComposeResult(value, msg.ID))
	})
	return response
}

func (d *Dispatcher) call(ctx context.Context, handler Handler, args []any) (reply Reply, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = panicFault(recovered)
		}
	}()
	return handler(ctx, args)
}

func (d *Dispatcher) compute(ctx context.Context, compute func(context.Context) (any, error)) (value any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = panicFault(recovered)
		}
	}()
	return compute(ctx)
}

// fail maps a handler failure to an error message. Errors carrying a code the catalog
// knows keep it; everything else is an execution failure.
func (d *Dispatcher) fail(msg *message.Message, err error) *message.Message {
	code := protocol.CodeOf(err)
	if code == 0 || !d.builder.Catalog().Known(code) {
		code = protocol.CodeExecutionFailed
	}

	event := d.logger.Warn()
	if code == protocol.CodeInvalidArgument || code == protocol.CodeMissingArgument {
		event = d.logger.Debug()
	}
	event.Err(err).
		Str("method", msg.Method).
		Str("id", msg.IDString()).
		Int("code", code).
		Msg("Request failed")

	return d.builder.ComposeError(code, err, msg.ID)
}

// Encode encodes reply for sending. A reply the codec cannot represent, such as a NaN
// result on JSON, is replaced by an execution failure for the same id, so the caller
// still gets an answer. The error is only returned if that replacement fails too.
func (d *Dispatcher) Encode(reply *message.Message) ([]byte, error) {
	encoded, err := d.codec.Encode(reply)
	if err == nil {
		return encoded, nil
	}

	d.logger.Warn().Err(err).Str("id", reply.IDString()).Msg("Response is not encodable, replying with an execution failure")
	fallback := d.builder.ComposeError(protocol.CodeExecutionFailed, err, reply.ID)
	return d.codec.Encode(fallback)
}

func (d *Dispatcher) submit(task func()) {
	if d.pool != nil {
		if err := d.pool.Submit(task); err == nil {
			return
		}
	}
	go task()
}

func panicFault(recovered any) error {
	if err, ok := recovered.(error); ok && protocol.CodeOf(err) != 0 {
		return err
	}
	fault := protocol.NewFault(protocol.CodeExecutionFailed, protocol.FaultPanic, fmt.Sprint(recovered))
	fault.Trace = string(debug.Stack())
	return fault
}
