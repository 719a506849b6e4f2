package codec

import (
	"testing"

	"wsrpc/message"
)

func benchmarkCodec(b *testing.B, c Codec) {
	msg := &message.Message{ID: message.NumberID(1), Method: "add", Args: []any{int64(1), int64(2)}}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, err := c.Encode(msg)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := c.Decode(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCodecJSON(b *testing.B) {
	benchmarkCodec(b, Get(TypeJSON))
}

func BenchmarkCodecMsgPack(b *testing.B) {
	benchmarkCodec(b, Get(TypeMsgPack))
}
