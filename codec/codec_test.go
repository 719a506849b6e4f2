package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wsrpc/message"
)

func roundTripMessages() []*message.Message {
	position := 0
	return []*message.Message{
		{ID: message.NumberID(1), Method: "echo", Args: []any{int64(42)}},
		{ID: message.StringID("req-7"), Method: "checkTypes", Args: []any{
			int64(1), "5123", 1.3, false, true, "999", []any{int64(1)}, map[string]any{"foo": "bar"},
		}},
		{ID: message.NumberID(2), Method: "noArgs", Args: []any{}},
		{Method: "notify", Args: []any{nil}},
		{ID: message.NumberID(3), Result: map[string]any{"nested": []any{int64(1), 2.5, nil}}},
		{ID: message.NumberID(4)},
		{ErrorCode: 1001, ErrorText: "Invalid message. Could not parse message.",
			Exception: &message.Exception{Name: "SyntaxError", Message: "unexpected end"}},
		{ID: message.NumberID(5), ErrorCode: 1004, ErrorText: "Invalid argument.",
			Exception: &message.Exception{Name: "ValidationError", Message: "bad", Position: &position}},
		{ID: message.NumberID(6), ErrorCode: 5005, ErrorText: "Error executing.",
			Exception: &message.Exception{Detail: map[string]any{"reason": "verbatim"}}},
		{ID: message.NumberID(7), ErrorCode: 5005, ErrorText: "Error executing.",
			Exception: &message.Exception{Detail: map[string]any{"name": "quota", "limit": int64(10)}}},
		{ID: message.NumberID(8), ErrorCode: 5005, ErrorText: "Error executing.",
			Exception: &message.Exception{Detail: map[string]any{"name": "quota", "message": int64(3)}}},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, codecType := range []Type{TypeJSON, TypeMsgPack} {
		cdc := Get(codecType)
		t.Run(string(codecType), func(t *testing.T) {
			for _, original := range roundTripMessages() {
				data, err := cdc.Encode(original)
				require.NoError(t, err)

				decoded, err := cdc.Decode(data)
				require.NoError(t, err, "decoding %s", original)

				expected := *original
				if expected.Kind() == message.KindRequest && expected.Args == nil {
					expected.Args = []any{}
				}
				assert.Equal(t, &expected, decoded)
			}
		})
	}
}

func TestJSONDecodeMalformed(t *testing.T) {
	cdc := Get(TypeJSON)
	for _, raw := range []string{
		"invalid json",
		`{"id":1,"method":"echo"`,
		`{"id":1.5,"method":"echo"}`,
		`{"id":1,"method":"echo","result":3}`,
		`{"id":1,"args":5,"method":"echo"}`,
		`{"id":1} trailing`,
	} {
		_, err := cdc.Decode([]byte(raw))
		require.Error(t, err, raw)
		assert.True(t, IsMalformed(err), raw)
	}
}

func TestMsgPackDecodeMalformed(t *testing.T) {
	_, err := Get(TypeMsgPack).Decode([]byte{0xc1})
	require.Error(t, err)
	assert.True(t, IsMalformed(err))
}

func TestParse(t *testing.T) {
	codecType, err := Parse("MsgPack")
	require.NoError(t, err)
	assert.Equal(t, TypeMsgPack, codecType)
	assert.True(t, codecType.Binary())

	codecType, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, TypeJSON, codecType)

	_, err = Parse("xml")
	assert.Error(t, err)
}
