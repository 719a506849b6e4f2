// Package message defines the RPC message exchanged between the calling and the serving peer.
//
// A Message is the envelope for every call. It is exactly one of:
//
//	request:         {"id": 1, "method": "echo", "args": [42]}
//	result response: {"id": 1, "result": 42}
//	error response:  {"id": 1, "errorCode": 5005, "errorText": "Error executing.", "exception": {...}}
//
// A response carries the id of the request that produced it. The id is absent only on
// protocol errors where no id could be recovered, and on fire-and-forget requests.
package message

import (
	"fmt"
)

// Kind distinguishes the three shapes a Message can take.
type Kind int

const (
	KindResult  Kind = iota // {id, result}
	KindRequest             // {id, method, args}
	KindError               // {id, errorCode, errorText, exception?}
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindError:
		return "error"
	default:
		return "result"
	}
}

// Message carries the data for a single RPC request or response.
//
//   - On request:  Method is set, Args holds the positional arguments.
//   - On response: Result holds the return value, or ErrorCode/ErrorText/Exception describe the failure.
type Message struct {
	ID        *ID        // Correlation token; nil when absent
	Method    string     // Remote method name (request only)
	Args      []any      // Positional arguments (request only)
	Result    any        // Return value (result response only); may be nil
	ErrorCode int        // Catalog code (error response only)
	ErrorText string     // Catalog description of ErrorCode
	Exception *Exception // Optional diagnostic detail on error responses
}

// Kind reports which of the three shapes m has.
func (m *Message) Kind() Kind {
	switch {
	case m.Method != "":
		return KindRequest
	case m.ErrorCode != 0 || m.ErrorText != "":
		return KindError
	default:
		return KindResult
	}
}

// Validate enforces that at most one of method, result and errorCode is populated.
func (m *Message) Validate() error {
	populated := 0
	if m.Method != "" {
		populated++
	}
	if m.Result != nil {
		populated++
	}
	if m.ErrorCode != 0 {
		populated++
	}
	if populated > 1 {
		return fmt.Errorf("message mixes request, result and error fields (method=%q, errorCode=%d, result set=%t)",
			m.Method, m.ErrorCode, m.Result != nil)
	}
	return nil
}

// HasID reports whether m carries a correlation id.
func (m *Message) HasID() bool {
	return m.ID != nil
}

// IsError reports whether m is an error response.
func (m *Message) IsError() bool {
	return m.ErrorCode != 0 || m.ErrorText != ""
}

// GetArgs returns the request arguments. Absent arguments read as an empty sequence.
func (m *Message) GetArgs() []any {
	if m.Args == nil {
		return []any{}
	}
	return m.Args
}

// GetResult returns the result value of a result response.
func (m *Message) GetResult() any {
	return m.Result
}

// IDString formats the id for logs; "-" when absent.
func (m *Message) IDString() string {
	if m.ID == nil {
		return "-"
	}
	return m.ID.String()
}

func (m *Message) String() string {
	id := m.IDString()
	switch m.Kind() {
	case KindRequest:
		return fmt.Sprintf("request(id=%s, method=%s, args=%d)", id, m.Method, len(m.Args))
	case KindError:
		return fmt.Sprintf("error(id=%s, code=%d, text=%q)", id, m.ErrorCode, m.ErrorText)
	default:
		return fmt.Sprintf("result(id=%s)", id)
	}
}
