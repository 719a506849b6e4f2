package message

import (
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

// number is satisfied by json.Number.
type number interface {
	Int64() (int64, error)
	Float64() (float64, error)
	String() string
}

// Normalize maps a Go value into the value space shared by both codecs:
// nil, bool, int64, float64, string, []any and map[string]any.
//
// Decoders produce many numeric kinds (json.Number, int8, uint64, float32, ...); after
// Normalize an integral value is always int64 and a fractional one float64, so that a
// decoded message compares equal to the one that was encoded. Values outside the space
// (structs, typed slices and maps) go through a JSON round trip.
func Normalize(v any) any {
	switch t := v.(type) {
	case nil, bool, string, int64, float64:
		return t
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case uint:
		return normalizeUint(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return normalizeUint(t)
	case float32:
		return float64(t)
	case number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []byte:
		return string(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for key, item := range t {
			out[key] = Normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for key, item := range t {
			out[fmt.Sprint(key)] = Normalize(item)
		}
		return out
	default:
		return normalizeViaJSON(v)
	}
}

func normalizeUint(n uint64) any {
	if n > math.MaxInt64 {
		return float64(n)
	}
	return int64(n)
}

func normalizeViaJSON(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := unmarshalNumber(data, &out); err != nil {
		return fmt.Sprint(v)
	}
	return Normalize(out)
}
