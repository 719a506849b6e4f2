// Package codec converts messages to and from the transport's representation.
//
// Encode and Decode are exact inverses for any message built from normalized values
// (see message.Normalize). Decode failures are always reported as *MalformedMessageError,
// so callers can answer them without knowing which codec is in use.
package codec

import (
	"fmt"
	"strings"

	"github.com/nuclio/errors"

	"wsrpc/message"
)

type Type string

const (
	TypeJSON    Type = "json"    // text frames
	TypeMsgPack Type = "msgpack" // binary frames
)

type Codec interface {
	Encode(m *message.Message) ([]byte, error)
	Decode(data []byte) (*message.Message, error)
	Type() Type
}

// Binary reports whether encoded messages must travel as binary transport frames.
func (t Type) Binary() bool {
	return t == TypeMsgPack
}

// Get returns the codec for codecType, defaulting to JSON.
func Get(codecType Type) Codec {
	if codecType == TypeMsgPack {
		return &MsgPackCodec{}
	}
	return &JSONCodec{}
}

// Parse resolves a codec name such as "json" or "msgpack".
func Parse(name string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return TypeJSON, nil
	case "msgpack", "messagepack":
		return TypeMsgPack, nil
	default:
		return "", errors.New(fmt.Sprintf("Unknown codec %q", name))
	}
}

// MalformedMessageError is returned by Decode when the data is not a valid message.
type MalformedMessageError struct {
	Codec Type
	Err   error
}

func (e *MalformedMessageError) Error() string {
	return "malformed " + string(e.Codec) + " message: " + e.Err.Error()
}

func (e *MalformedMessageError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is a decode failure.
func IsMalformed(err error) bool {
	_, ok := err.(*MalformedMessageError)
	return ok
}

func checkDecoded(codecType Type, m *message.Message, err error) (*message.Message, error) {
	if err != nil {
		return nil, &MalformedMessageError{Codec: codecType, Err: err}
	}
	if err := m.Validate(); err != nil {
		return nil, &MalformedMessageError{Codec: codecType, Err: err}
	}
	return m, nil
}
