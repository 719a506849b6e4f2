package protocol

import (
	"github.com/nuclio/errors"

	"wsrpc/message"
)

const traceDepth = 10

// Builder constructs well-formed request, result and error messages.
// It has no side effects beyond building the message.
type Builder struct {
	catalog *Catalog
}

// NewBuilder returns a builder resolving error texts from catalog.
func NewBuilder(catalog *Catalog) *Builder {
	if catalog == nil {
		catalog = defaultCatalog
	}
	return &Builder{catalog: catalog}
}

// Catalog returns the catalog used to resolve error texts.
func (b *Builder) Catalog() *Catalog {
	return b.catalog
}

// ComposeError builds an error response. An error detail becomes a structured exception
// (name, message, trace, position); any other non-nil detail is carried verbatim.
func (b *Builder) ComposeError(code int, detail any, id *message.ID) *message.Message {
	m := &message.Message{
		ID:        id,
		ErrorCode: code,
		ErrorText: b.catalog.Text(code),
	}
	switch typed := detail.(type) {
	case nil:
	case error:
		m.Exception = ExceptionFrom(typed)
	default:
		m.Exception = &message.Exception{Detail: message.Normalize(typed)}
	}
	return m
}

// ComposeResult wraps value as a successful response to id.
func (b *Builder) ComposeResult(value any, id *message.ID) *message.Message {
	return &message.Message{ID: id, Result: message.Normalize(value)}
}

// ComposeExecution builds a request. args is normalized to a sequence: a slice keeps its
// elements, nil means no arguments and any other value becomes a single argument.
func (b *Builder) ComposeExecution(method string, id *message.ID, args any) *message.Message {
	var sequence []any
	switch normalized := message.Normalize(args).(type) {
	case nil:
		sequence = []any{}
	case []any:
		sequence = normalized
	default:
		sequence = []any{normalized}
	}
	return &message.Message{ID: id, Method: method, Args: sequence}
}

// ExceptionFrom describes err for the caller.
func ExceptionFrom(err error) *message.Exception {
	exception := &message.Exception{
		Name:    FaultName(err),
		Message: err.Error(),
	}
	if fault, ok := AsFault(err); ok {
		exception.Message = fault.Message
		if fault.Position >= 0 {
			position := fault.Position
			exception.Position = &position
		}
		exception.Trace = fault.Trace
		if exception.Trace == "" && fault.Cause != nil {
			exception.Trace = stackOf(fault.Cause)
		}
		return exception
	}
	exception.Trace = stackOf(err)
	return exception
}

// stackOf returns the wrap stack recorded by nuclio/errors, or "" for plain errors.
func stackOf(err error) string {
	stack := errors.GetErrorStackString(err, traceDepth)
	if stack == err.Error() {
		return ""
	}
	return stack
}

var defaultBuilder = NewBuilder(defaultCatalog)

// ComposeError builds an error response using the default catalog.
func ComposeError(code int, detail any, id *message.ID) *message.Message {
	return defaultBuilder.ComposeError(code, detail, id)
}

// ComposeResult builds a result response.
func ComposeResult(value any, id *message.ID) *message.Message {
	return defaultBuilder.ComposeResult(value, id)
}

// ComposeExecution builds a request.
func ComposeExecution(method string, id *message.ID, args any) *message.Message {
	return defaultBuilder.ComposeExecution(method, id, args)
}
