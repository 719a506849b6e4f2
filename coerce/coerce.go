// Package coerce converts positional call arguments to the types a method declares.
package coerce

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"wsrpc/message"
	"wsrpc/protocol"
)

type TypeTag string

const (
	TypeAny    TypeTag = "any"
	TypeInt    TypeTag = "int"
	TypeFloat  TypeTag = "float"
	TypeBool   TypeTag = "bool"
	TypeString TypeTag = "string"
	TypeArray  TypeTag = "array"
	TypeObject TypeTag = "object"
)

var tagAliases = map[string]TypeTag{
	"":        TypeAny,
	"any":     TypeAny,
	"int":     TypeInt,
	"integer": TypeInt,
	"float":   TypeFloat,
	"number":  TypeFloat,
	"bool":    TypeBool,
	"boolean": TypeBool,
	"string":  TypeString,
	"array":   TypeArray,
	"object":  TypeObject,
}

// ParseTag resolves aliases ("integer", "boolean") to their canonical tag.
// Unknown names are kept verbatim and fail when an argument is coerced to them.
func ParseTag(name string) TypeTag {
	if tag, found := tagAliases[strings.ToLower(strings.TrimSpace(name))]; found {
		return tag
	}
	return TypeTag(name)
}

// Known reports whether values can be coerced to t.
func (t TypeTag) Known() bool {
	_, found := tagAliases[string(t)]
	return found
}

// Param declares one positional argument.
type Param struct {
	Tag        TypeTag
	Default    any
	HasDefault bool
}

// Arg declares a required argument of type tag.
func Arg(tag TypeTag) Param {
	return Param{Tag: tag}
}

// ArgDefault declares an argument that falls back to value when absent.
func ArgDefault(tag TypeTag, value any) Param {
	return Param{Tag: tag, Default: message.Normalize(value), HasDefault: true}
}

func (p Param) String() string {
	if p.HasDefault {
		return fmt.Sprintf("%s=%v", p.Tag, p.Default)
	}
	return string(p.Tag)
}

// Signature is the ordered list of declared parameters of a method.
type Signature []Param

// ParseSignature reads the declarative form used in method tables: each entry is a
// tag name ("int") or a [tag, default] pair (["int", 5]).
func ParseSignature(entries []any) (Signature, error) {
	signature := make(Signature, 0, len(entries))
	for position, entry := range entries {
		switch typed := entry.(type) {
		case string:
			signature = append(signature, Arg(ParseTag(typed)))
		case TypeTag:
			signature = append(signature, Arg(typed))
		case Param:
			signature = append(signature, typed)
		case []any:
			if len(typed) != 2 {
				return nil, fmt.Errorf("parameter %d: expected [type, default], got %d elements", position, len(typed))
			}
			name, ok := typed[0].(string)
			if !ok {
				return nil, fmt.Errorf("parameter %d: type must be a string, got %T", position, typed[0])
			}
			signature = append(signature, ArgDefault(ParseTag(name), typed[1]))
		default:
			return nil, fmt.Errorf("parameter %d: unsupported declaration %T", position, entry)
		}
	}
	return signature, nil
}

// Coerce returns a new argument list of len(signature) where every declared
// argument has been converted to its declared type, or replaced by its default
// when absent. Arguments beyond the signature are passed through unchanged.
// The input slice is never modified.
//
// Failures are *protocol.Fault values carrying code 1004 or 1005 and the offending position.
func Coerce(args []any, signature Signature) ([]any, error) {
	size := len(signature)
	if len(args) > size {
		size = len(args)
	}
	coerced := make([]any, size)
	copy(coerced, args)

	for position, param := range signature {
		var value any
		if position < len(args) {
			value = args[position]
		}

		if value == nil {
			if !param.HasDefault {
				return nil, protocol.MissingArgument(position)
			}
			coerced[position] = param.Default
			continue
		}

		converted, err := convert(param.Tag, value)
		if err != nil {
			return nil, protocol.InvalidArgument(position, "%s", err.Error())
		}
		coerced[position] = converted
	}

	return coerced, nil
}

func convert(tag TypeTag, value any) (any, error) {
	switch tag {
	case TypeAny:
		return value, nil
	case TypeInt:
		return toInt(value)
	case TypeFloat:
		return toFloat(value)
	case TypeBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
		return nil, fmt.Errorf("cannot convert %T to bool", value)
	case TypeString:
		return toString(value), nil
	case TypeArray:
		if slice, ok := value.([]any); ok {
			return slice, nil
		}
		return nil, fmt.Errorf("cannot convert %T to array", value)
	case TypeObject:
		if object, ok := value.(map[string]any); ok {
			return object, nil
		}
		return nil, fmt.Errorf("cannot convert %T to object", value)
	default:
		return nil, fmt.Errorf("unsupported declared type %q", string(tag))
	}
}

func toInt(value any) (int64, error) {
	switch typed := message.Normalize(value).(type) {
	case int64:
		return typed, nil
	case float64:
		return truncate(typed)
	case string:
		text := strings.TrimSpace(typed)
		if n, err := strconv.ParseInt(text, 10, 64); err == nil {
			return n, nil
		}
		f, err := parseDecimal(text)
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to int", typed)
		}
		return truncate(f)
	default:
		return 0, fmt.Errorf("cannot convert %T to int", value)
	}
}

func truncate(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("cannot convert %v to int", f)
	}
	return int64(f), nil
}

func toFloat(value any) (float64, error) {
	switch typed := message.Normalize(value).(type) {
	case int64:
		return float64(typed), nil
	case float64:
		if !finite(typed) {
			return 0, fmt.Errorf("cannot convert %v to float", typed)
		}
		return typed, nil
	case string:
		f, err := parseDecimal(strings.TrimSpace(typed))
		if err != nil {
			return 0, fmt.Errorf("cannot convert %q to float", typed)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float", value)
	}
}

// parseDecimal parses a finite decimal literal. strconv also accepts "NaN", "Inf" and
// hex floats, none of which is a number on the wire.
func parseDecimal(text string) (float64, error) {
	if strings.ContainsAny(text, "xX") {
		return 0, fmt.Errorf("not a decimal number: %q", text)
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, err
	}
	if !finite(f) {
		return 0, fmt.Errorf("not a finite number: %q", text)
	}
	return f, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func toString(value any) string {
	switch typed := message.Normalize(value).(type) {
	case string:
		return typed
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return formatFloat(typed)
	case bool:
		return strconv.FormatBool(typed)
	default:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	}
}

// formatFloat renders f the way the number would print in a JavaScript peer: plain
// decimals, switching to exponent form from 1e21 up and below 1e-6.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}

	abs := math.Abs(f)
	if abs == 0 || (abs < 1e21 && abs >= 1e-6) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	mantissa, exponent, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	return mantissa + "e" + exponent[:1] + strings.TrimLeft(exponent[1:], "0")
}
