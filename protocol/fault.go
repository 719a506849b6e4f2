package protocol

import (
	goerrors "errors"
	"fmt"
	"strings"

	"github.com/nuclio/errors"
)

const (
	FaultValidation = "ValidationError"
	FaultPanic      = "Panic"
	FaultTimeout    = "TimeoutError"
)

// Fault is an error that carries a catalog code. Validation failures carry the
// argument position they refer to; Position is -1 otherwise.
type Fault struct {
	Code     int
	Name     string
	Message  string
	Position int
	Trace    string
	Cause    error
}

// NewFault returns a non-positional fault.
func NewFault(code int, name string, msg string) *Fault {
	return &Fault{Code: code, Name: name, Message: msg, Position: -1}
}

// WrapFault attaches code to err, keeping err's name and message.
func WrapFault(code int, err error) *Fault {
	return &Fault{Code: code, Name: FaultName(err), Message: err.Error(), Position: -1, Cause: err}
}

// InvalidArgument reports an argument that could not be converted to its declared type.
func InvalidArgument(position int, format string, args ...any) *Fault {
	return &Fault{
		Code:     CodeInvalidArgument,
		Name:     FaultValidation,
		Message:  fmt.Sprintf("argument %d: %s", position, fmt.Sprintf(format, args...)),
		Position: position,
	}
}

// MissingArgument reports a required argument that was absent and has no default.
func MissingArgument(position int) *Fault {
	return &Fault{
		Code:     CodeMissingArgument,
		Name:     FaultValidation,
		Message:  fmt.Sprintf("argument %d: missing required argument", position),
		Position: position,
	}
}

func (f *Fault) Error() string {
	return f.Name + ": " + f.Message
}

func (f *Fault) Unwrap() error {
	return f.Cause
}

// RPCCode implements Coder.
func (f *Fault) RPCCode() int {
	return f.Code
}

// Coder is implemented by application errors that want a specific catalog code
// on the wire instead of the generic execution failure.
type Coder interface {
	RPCCode() int
}

// AsFault finds the *Fault in err's chain.
func AsFault(err error) (*Fault, bool) {
	var fault *Fault
	if goerrors.As(err, &fault) {
		return fault, true
	}
	if fault, ok := errors.RootCause(err).(*Fault); ok {
		return fault, true
	}
	return nil, false
}

// CodeOf returns the catalog code carried by err, or 0 when it carries none.
func CodeOf(err error) int {
	if err == nil {
		return 0
	}
	var coder Coder
	if goerrors.As(err, &coder) {
		return coder.RPCCode()
	}
	if coder, ok := errors.RootCause(err).(Coder); ok {
		return coder.RPCCode()
	}
	return 0
}

// FaultName names err for the exception sent to the caller: the fault name for
// a *Fault, otherwise the Go type of the root cause.
func FaultName(err error) string {
	if fault, ok := AsFault(err); ok && fault.Name != "" {
		return fault.Name
	}
	root := errors.RootCause(err)
	if root == nil {
		root = err
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", root), "*")
}
