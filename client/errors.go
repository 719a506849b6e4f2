package client

import (
	"fmt"

	"github.com/nuclio/errors"

	"wsrpc/message"
)

var (
	// ErrConnectionClosed rejects calls pending when the connection closes, and calls
	// issued afterwards.
	ErrConnectionClosed = errors.New("Connection closed")

	// ErrCallTimeout rejects a call whose deadline passed before its response arrived.
	ErrCallTimeout = errors.New("Call timed out")
)

// RemoteError is the rejection of a call that the remote side answered with an error.
type RemoteError struct {
	Code      int
	Text      string
	Exception *message.Exception
	Message   *message.Message
}

func newRemoteError(msg *message.Message) *RemoteError {
	return &RemoteError{
		Code:      msg.ErrorCode,
		Text:      msg.ErrorText,
		Exception: msg.Exception,
		Message:   msg,
	}
}

func (e *RemoteError) Error() string {
	text := fmt.Sprintf("remote error %d", e.Code)
	if e.Text != "" {
		text += ": " + e.Text
	}
	if e.Exception != nil && e.Exception.Structured() {
		text += fmt.Sprintf(" (%s: %s)", e.Exception.Name, e.Exception.Message)
	}
	return text
}

// RPCCode exposes the remote code, so a server relaying a call keeps it.
func (e *RemoteError) RPCCode() int {
	return e.Code
}

const (
	ReasonUndecodable       = "undecodable message"
	ReasonMissingID         = "response without id"
	ReasonUnknownID         = "response to unknown id"
	ReasonUnexpectedRequest = "unexpected request"
)

// CorrelationError describes an incoming message that could not be matched to a pending
// call. It is logged and passed to the fault handler, never to a call.
type CorrelationError struct {
	Reason  string
	Message *message.Message // nil when the message could not be decoded
	Err     error
}

func (e *CorrelationError) Error() string {
	text := "cannot correlate message: " + e.Reason
	if e.Message != nil {
		text += " " + e.Message.String()
	}
	if e.Err != nil {
		text += ": " + e.Err.Error()
	}
	return text
}

func (e *CorrelationError) Unwrap() error {
	return e.Err
}
