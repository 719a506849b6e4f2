package server

import (
	"context"
	"fmt"
	"reflect"

	"wsrpc/coerce"
)

// Registration binds a method name to its handler and, optionally, the declared signature
// its arguments are coerced to before the handler runs.
type Registration struct {
	Name         string
	Handler      Handler
	Signature    coerce.Signature
	HasSignature bool
}

// Register builds a registration. Passing no params registers an untyped method whose
// arguments reach the handler as sent.
func Register(name string, handler Handler, params ...coerce.Param) Registration {
	return Registration{
		Name:         name,
		Handler:      handler,
		Signature:    params,
		HasSignature: len(params) > 0,
	}
}

// Normalize turns a method definition into a Registration. def may be:
//
//   - a Handler, or a func(context.Context, []any) (Reply, error)
//   - a func(context.Context, []any) (any, error), served synchronously
//   - any other function, served through Typed with the signature its parameters imply
//   - a Registration
//   - a two-element []any holding one callable and one signature, in either order; a
//     signature is a coerce.Signature, []coerce.Param, []string or the []any form read by
//     coerce.ParseSignature
//
// Ambiguous definitions are rejected here rather than at call time.
func Normalize(name string, def any) (Registration, error) {
	if name == "" {
		return Registration{}, fmt.Errorf("rpc: method name must not be empty")
	}

	switch typed := def.(type) {
	case nil:
		return Registration{}, fmt.Errorf("rpc: method %q has no definition", name)
	case Registration:
		if typed.Handler == nil {
			return Registration{}, fmt.Errorf("rpc: method %q has no handler", name)
		}
		typed.Name = name
		return typed, nil
	case []any:
		return normalizePair(name, typed)
	}

	handler, derived, ok, err := asCallable(def)
	if err != nil {
		return Registration{}, fmt.Errorf("rpc: method %q: %w", name, err)
	}
	if !ok {
		return Registration{}, fmt.Errorf("rpc: method %q: unsupported definition %T", name, def)
	}
	return Registration{Name: name, Handler: handler, Signature: derived, HasSignature: derived != nil}, nil
}

func normalizePair(name string, pair []any) (Registration, error) {
	if len(pair) != 2 {
		return Registration{}, fmt.Errorf("rpc: method %q: expected [callable, signature], got %d elements", name, len(pair))
	}

	var (
		handler      Handler
		signature    coerce.Signature
		hasSignature bool
		callables    int
	)
	for _, element := range pair {
		candidate, derived, ok, err := asCallable(element)
		if err != nil {
			return Registration{}, fmt.Errorf("rpc: method %q: %w", name, err)
		}
		if ok {
			callables++
			handler = candidate
			if !hasSignature {
				signature = derived
			}
			continue
		}

		parsed, err := asSignature(element)
		if err != nil {
			return Registration{}, fmt.Errorf("rpc: method %q: %w", name, err)
		}
		signature = parsed
		hasSignature = true
	}

	switch callables {
	case 0:
		return Registration{}, fmt.Errorf("rpc: method %q: definition holds no callable", name)
	case 2:
		return Registration{}, fmt.Errorf("rpc: method %q: definition holds two callables", name)
	}
	return Registration{Name: name, Handler: handler, Signature: signature, HasSignature: true}, nil
}

// asCallable reports whether v is something the dispatcher can invoke. Typed functions
// also yield the signature derived from their parameters.
func asCallable(v any) (Handler, coerce.Signature, bool, error) {
	switch fn := v.(type) {
	case Handler:
		return fn, nil, fn != nil, nil
	case func(context.Context, []any) (Reply, error):
		return fn, nil, fn != nil, nil
	case func(context.Context, []any) (any, error):
		return Func(fn), nil, fn != nil, nil
	}

	if v == nil || reflect.TypeOf(v).Kind() != reflect.Func {
		return nil, nil, false, nil
	}
	handler, signature, err := Typed(v)
	if err != nil {
		return nil, nil, false, err
	}
	return handler, signature, true, nil
}

func asSignature(v any) (coerce.Signature, error) {
	switch typed := v.(type) {
	case coerce.Signature:
		return typed, nil
	case []coerce.Param:
		return typed, nil
	case []string:
		entries := make([]any, len(typed))
		for i, tag := range typed {
			entries[i] = tag
		}
		return coerce.ParseSignature(entries)
	case []any:
		return coerce.ParseSignature(typed)
	default:
		return nil, fmt.Errorf("unsupported signature %T", v)
	}
}
