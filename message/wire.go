package message

import (
	"bytes"
	"errors"

	"github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v4"
)

var errInvalidJSON = errors.New("invalid JSON document")

// Each kind has its own wire shape so that a request always carries "args" and a
// result response always carries "result", even when null.

type requestWire struct {
	ID     *ID    `json:"id,omitempty" msgpack:"id,omitempty"`
	Method string `json:"method" msgpack:"method"`
	Args   []any  `json:"args" msgpack:"args"`
}

type resultWire struct {
	ID     *ID `json:"id,omitempty" msgpack:"id,omitempty"`
	Result any `json:"result" msgpack:"result"`
}

type errorWire struct {
	ID        *ID        `json:"id,omitempty" msgpack:"id,omitempty"`
	ErrorCode int        `json:"errorCode" msgpack:"errorCode"`
	ErrorText string     `json:"errorText" msgpack:"errorText"`
	Exception *Exception `json:"exception,omitempty" msgpack:"exception,omitempty"`
}

// flatWire accepts any of the three shapes when decoding.
type flatWire struct {
	ID        *ID        `json:"id" msgpack:"id"`
	Method    string     `json:"method" msgpack:"method"`
	Args      []any      `json:"args" msgpack:"args"`
	Result    any        `json:"result" msgpack:"result"`
	ErrorCode int        `json:"errorCode" msgpack:"errorCode"`
	ErrorText string     `json:"errorText" msgpack:"errorText"`
	Exception *Exception `json:"exception" msgpack:"exception"`
}

func (m Message) wire() any {
	switch m.Kind() {
	case KindRequest:
		return &requestWire{ID: m.ID, Method: m.Method, Args: m.GetArgs()}
	case KindError:
		return &errorWire{ID: m.ID, ErrorCode: m.ErrorCode, ErrorText: m.ErrorText, Exception: m.Exception}
	default:
		return &resultWire{ID: m.ID, Result: m.Result}
	}
}

func (m *Message) fromWire(w *flatWire) {
	*m = Message{
		ID:        w.ID,
		Method:    w.Method,
		Result:    Normalize(w.Result),
		ErrorCode: w.ErrorCode,
		ErrorText: w.ErrorText,
		Exception: w.Exception,
	}
	if w.Args != nil {
		m.Args = make([]any, len(w.Args))
		for i, arg := range w.Args {
			m.Args[i] = Normalize(arg)
		}
	}
}

// MarshalJSON writes the wire shape matching m.Kind().
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.wire())
}

// UnmarshalJSON reads any of the three wire shapes. Numbers are normalized to int64 or float64.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w flatWire
	if err := unmarshalNumber(data, &w); err != nil {
		return err
	}
	m.fromWire(&w)
	return nil
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (m Message) EncodeMsgpack(enc *msgpack.Encoder) error {
	return enc.Encode(m.wire())
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (m *Message) DecodeMsgpack(dec *msgpack.Decoder) error {
	var w flatWire
	if err := dec.Decode(&w); err != nil {
		return err
	}
	m.fromWire(&w)
	return nil
}

// unmarshalNumber decodes JSON keeping numbers as json.Number so integers survive intact.
func unmarshalNumber(data []byte, v any) error {
	if !json.Valid(data) {
		// let the parser describe what is wrong
		var discard any
		if err := json.Unmarshal(data, &discard); err != nil {
			return err
		}
		return errInvalidJSON
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
