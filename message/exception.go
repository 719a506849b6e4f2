package message

import (
	"github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v4"
)

// Exception is the diagnostic detail attached to an error response.
//
// A structured exception describes a fault (name, message, trace and, for argument
// validation failures, the offending position). Any other detail is carried verbatim
// in Detail and written to the wire as the bare value.
type Exception struct {
	Name     string
	Message  string
	Trace    string
	Position *int
	Detail   any
}

type exceptionWire struct {
	Name     string `json:"name" msgpack:"name"`
	Message  string `json:"message" msgpack:"message"`
	Trace    string `json:"trace,omitempty" msgpack:"trace,omitempty"`
	Position *int   `json:"position,omitempty" msgpack:"position,omitempty"`
}

// Structured reports whether e describes a fault rather than a verbatim detail.
func (e *Exception) Structured() bool {
	return e.Name != "" || e.Detail == nil
}

func (e Exception) wire() any {
	if e.Structured() {
		return &exceptionWire{Name: e.Name, Message: e.Message, Trace: e.Trace, Position: e.Position}
	}
	return e.Detail
}

func (e *Exception) fromValue(v any) {
	*e = Exception{}
	fields, ok := v.(map[string]any)
	if !ok || !structuredFields(fields) {
		e.Detail = v
		return
	}
	e.Name = fields["name"].(string)
	e.Message, _ = fields["message"].(string)
	e.Trace, _ = fields["trace"].(string)
	if position, ok := fields["position"].(int64); ok {
		p := int(position)
		e.Position = &p
	}
}

// structuredFields reports whether fields is exactly what a structured exception writes:
// a string name plus optional message, trace and position of the right types. Any other
// object is a verbatim detail.
func structuredFields(fields map[string]any) bool {
	if _, ok := fields["name"].(string); !ok {
		return false
	}
	for key, value := range fields {
		var ok bool
		switch key {
		case "name", "message", "trace":
			_, ok = value.(string)
		case "position":
			_, ok = value.(int64)
		}
		if !ok {
			return false
		}
	}
	return true
}

// MarshalJSON implements json.Marshaler.
func (e Exception) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.wire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Exception) UnmarshalJSON(data []byte) error {
	var v any
	if err := unmarshalNumber(data, &v); err != nil {
		return err
	}
	e.fromValue(Normalize(v))
	return nil
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (e Exception) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(e.wire())
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (e *Exception) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return err
	}
	e.fromValue(Normalize(v))
	return nil
}
