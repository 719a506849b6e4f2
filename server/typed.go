package server

import (
	"context"
	"fmt"
	"reflect"

	"github.com/goccy/go-json"

	"wsrpc/coerce"
	"wsrpc/protocol"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

type typedFunc struct {
	fn         reflect.Value
	typ        reflect.Type
	hasContext bool
	params     []reflect.Type
	hasResult  bool
	hasError   bool
}

// Typed turns an ordinary Go function into a Handler and the signature derived from its
// parameter types. Accepted shapes:
//
//	func([ctx context.Context,] params...) [(result)] [error]
//
// Parameters map to declared types by kind: integers to int, floats to float, and so on;
// slices are arrays, and maps and structs are objects. Variadic functions are rejected.
func Typed(fn any) (Handler, coerce.Signature, error) {
	typed, err := newTypedFunc(fn)
	if err != nil {
		return nil, nil, err
	}
	return typed.call, typed.signature(), nil
}

func newTypedFunc(fn any) (*typedFunc, error) {
	value := reflect.ValueOf(fn)
	if value.Kind() != reflect.Func || value.IsNil() {
		return nil, fmt.Errorf("rpc: handler must be a function, got %T", fn)
	}
	typ := value.Type()
	if typ.IsVariadic() {
		return nil, fmt.Errorf("rpc: variadic handler %s is not supported", typ)
	}

	typed := &typedFunc{fn: value, typ: typ}
	for i := 0; i < typ.NumIn(); i++ {
		in := typ.In(i)
		if i == 0 && in == contextType {
			typed.hasContext = true
			continue
		}
		if _, err := tagOf(in); err != nil {
			return nil, fmt.Errorf("rpc: parameter %d of %s: %w", len(typed.params), typ, err)
		}
		typed.params = append(typed.params, in)
	}

	switch typ.NumOut() {
	case 0:
	case 1:
		if typ.Out(0) == errorType {
			typed.hasError = true
		} else {
			typed.hasResult = true
		}
	case 2:
		if typ.Out(1) != errorType {
			return nil, fmt.Errorf("rpc: second result of %s must be error", typ)
		}
		typed.hasResult = true
		typed.hasError = true
	default:
		return nil, fmt.Errorf("rpc: %s returns too many values", typ)
	}
	return typed, nil
}

func tagOf(typ reflect.Type) (coerce.TypeTag, error) {
	switch typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return coerce.TypeInt, nil
	case reflect.Float32, reflect.Float64:
		return coerce.TypeFloat, nil
	case reflect.Bool:
		return coerce.TypeBool, nil
	case reflect.String:
		return coerce.TypeString, nil
	case reflect.Slice, reflect.Array:
		return coerce.TypeArray, nil
	case reflect.Map, reflect.Struct:
		return coerce.TypeObject, nil
	case reflect.Ptr:
		if typ.Elem().Kind() == reflect.Struct {
			return coerce.TypeObject, nil
		}
	case reflect.Interface:
		if typ.NumMethod() == 0 {
			return coerce.TypeAny, nil
		}
	}
	return "", fmt.Errorf("unsupported parameter type %s", typ)
}

func (t *typedFunc) signature() coerce.Signature {
	signature := make(coerce.Signature, len(t.params))
	for i, param := range t.params {
		tag, _ := tagOf(param)
		signature[i] = coerce.Arg(tag)
	}
	return signature
}

func (t *typedFunc) call(ctx context.Context, args []any) (Reply, error) {
	in := make([]reflect.Value, 0, t.typ.NumIn())
	if t.hasContext {
		in = append(in, reflect.ValueOf(ctx))
	}
	for position, param := range t.params {
		var arg any
		if position < len(args) {
			arg = args[position]
		}
		value, err := convertArg(position, arg, param)
		if err != nil {
			return Reply{}, err
		}
		in = append(in, value)
	}

	out := t.fn.Call(in)

	if t.hasError {
		if errValue := out[len(out)-1]; !errValue.IsNil() {
			return Reply{}, errValue.Interface().(error)
		}
	}
	if t.hasResult {
		return Immediate(out[0].Interface()), nil
	}
	return Immediate(nil), nil
}

func convertArg(position int, arg any, typ reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(typ), nil
	}

	value := reflect.ValueOf(arg)
	switch typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, ok := arg.(int64)
		if !ok || reflect.Zero(typ).OverflowInt(n) {
			return reflect.Value{}, protocol.InvalidArgument(position, "%v does not fit %s", arg, typ)
		}
		return value.Convert(typ), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, ok := arg.(int64)
		if !ok || n < 0 || reflect.Zero(typ).OverflowUint(uint64(n)) {
			return reflect.Value{}, protocol.InvalidArgument(position, "%v does not fit %s", arg, typ)
		}
		return reflect.ValueOf(uint64(n)).Convert(typ), nil
	case reflect.Float32, reflect.Float64:
		f, ok := arg.(float64)
		if !ok {
			return reflect.Value{}, protocol.InvalidArgument(position, "%T is not a float", arg)
		}
		return reflect.ValueOf(f).Convert(typ), nil
	case reflect.Bool, reflect.String:
		if value.Kind() != typ.Kind() {
			return reflect.Value{}, protocol.InvalidArgument(position, "%T is not a %s", arg, typ)
		}
		return value.Convert(typ), nil
	case reflect.Interface:
		return value, nil
	}

	if value.Type().AssignableTo(typ) {
		return value, nil
	}

	// composite parameters are filled through their JSON form
	encoded, err := json.Marshal(arg)
	if err != nil {
		return reflect.Value{}, protocol.InvalidArgument(position, "%s", err.Error())
	}
	target := reflect.New(typ)
	if err := json.Unmarshal(encoded, target.Interface()); err != nil {
		return reflect.Value{}, protocol.InvalidArgument(position, "cannot convert to %s: %s", typ, err.Error())
	}
	return target.Elem(), nil
}
