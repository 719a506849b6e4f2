package codec

import (
	"bytes"

	"github.com/nuclio/errors"
	"github.com/vmihailenco/msgpack/v4"

	"wsrpc/message"
)

// MsgPackCodec encodes messages as MessagePack maps with the same keys as the JSON codec.
// Smaller and faster to parse than JSON, but needs binary transport frames.
type MsgPackCodec struct{}

func (c *MsgPackCodec) Encode(m *message.Message) ([]byte, error) {
	data, err := msgpack.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to encode message as msgpack")
	}
	return data, nil
}

func (c *MsgPackCodec) Decode(data []byte) (*message.Message, error) {
	m := &message.Message{}
	reader := bytes.NewReader(data)
	dec := msgpack.NewDecoder(reader)
	dec.UseDecodeInterfaceLoose(true)
	err := dec.Decode(m)
	if err == nil && reader.Len() > 0 {
		err = errors.New("trailing data after message")
	}
	return checkDecoded(TypeMsgPack, m, err)
}

func (c *MsgPackCodec) Type() Type {
	return TypeMsgPack
}
