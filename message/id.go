package message

import (
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v4"
)

// ID is an opaque correlation token: either an integer or a string.
// The zero value is the integer 0. IDs are comparable and can be used as map keys;
// NumberID(1) and StringID("1") are different ids.
type ID struct {
	num   int64
	str   string
	isStr bool
}

// NumberID returns an integer id.
func NumberID(n int64) *ID {
	return &ID{num: n}
}

// StringID returns a string id.
func StringID(s string) *ID {
	return &ID{str: s, isStr: true}
}

// IsString reports whether the id is a string id.
func (id ID) IsString() bool {
	return id.isStr
}

// Int returns the integer value of a numeric id.
func (id ID) Int() (int64, bool) {
	return id.num, !id.isStr
}

func (id ID) String() string {
	if id.isStr {
		return strconv.Quote(id.str)
	}
	return strconv.FormatInt(id.num, 10)
}

// MarshalJSON writes the id as a JSON number or string.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return []byte(strconv.FormatInt(id.num, 10)), nil
}

// UnmarshalJSON accepts a JSON integer or string.
func (id *ID) UnmarshalJSON(data []byte) error {
	var v any
	if err := unmarshalNumber(data, &v); err != nil {
		return err
	}
	return id.set(Normalize(v))
}

// EncodeMsgpack implements msgpack.CustomEncoder.
func (id ID) EncodeMsgpack(enc *msgpack.Encoder) error {
	if id.isStr {
		return enc.EncodeString(id.str)
	}
	return enc.EncodeInt(id.num)
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (id *ID) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInterfaceLoose()
	if err != nil {
		return err
	}
	return id.set(Normalize(v))
}

func (id *ID) set(v any) error {
	switch t := v.(type) {
	case int64:
		*id = ID{num: t}
	case string:
		*id = ID{str: t, isStr: true}
	default:
		return fmt.Errorf("id must be an integer or a string, got %T", v)
	}
	return nil
}
