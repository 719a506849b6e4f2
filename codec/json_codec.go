package codec

import (
	"github.com/goccy/go-json"
	"github.com/nuclio/errors"

	"wsrpc/message"
)

// JSONCodec uses goccy/go-json, a drop-in encoding/json replacement.
// It is the default: human-readable, cross-language and easy to debug.
type JSONCodec struct{}

func (c *JSONCodec) Encode(m *message.Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to encode message as JSON")
	}
	return data, nil
}

func (c *JSONCodec) Decode(data []byte) (*message.Message, error) {
	m := &message.Message{}
	err := json.Unmarshal(data, m)
	return checkDecoded(TypeJSON, m, err)
}

func (c *JSONCodec) Type() Type {
	return TypeJSON
}
